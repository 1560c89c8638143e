// Package observability provides EventSink implementations that turn node
// events into Prometheus metrics and route them to external sinks.
//
// Every event reaches the Metrics sink; only events of nodes flagged with
// send_event reach external sinks (see Fanout).
package observability
