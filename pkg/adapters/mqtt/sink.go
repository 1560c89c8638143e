// Package mqtt publishes node events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/aretw0/menuflow/pkg/domain"
)

// PublishTimeout bounds the wait for a broker acknowledgement.
const PublishTimeout = 10 * time.Second

// Publisher is the part of paho.Client used by the sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Sink is a ports.EventSink publishing JSON node events at QoS 1.
// Events go to <topic>/<node_type>.
type Sink struct {
	publisher Publisher
	topic     string

	mu     sync.Mutex
	client paho.Client // set when the sink owns the connection
}

// NewSink wraps an existing publisher (usually a connected paho.Client).
func NewSink(publisher Publisher, topic string) *Sink {
	return &Sink{publisher: publisher, topic: topic}
}

// Dial connects to the broker and returns a sink owning the connection.
func Dial(broker, clientID, topic string) (*Sink, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, &ConnectTimeoutError{Broker: broker}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}

	s := NewSink(client, topic)
	s.client = client
	return s, nil
}

// Publish implements ports.EventSink.
func (s *Sink) Publish(ctx context.Context, evt domain.NodeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := s.publisher.Publish(s.topic+"/"+string(evt.NodeType), 1, false, payload)

	timeout := PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return &PublishTimeoutError{Topic: s.topic}
	}
	return token.Error()
}

// Close disconnects the owned connection, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(1000)
		s.client = nil
	}
	return nil
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	Broker string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.Broker
}

// PublishTimeoutError indicates the broker did not acknowledge in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}
