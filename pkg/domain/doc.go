/*
Package domain contains the core domain models of the Menuflow engine.

It defines the immutable flow definition (Flow, NodeDefinition), the mutable per-conversation
record (Conversation) and the events and messages exchanged with the outside world. This package
is kept pure and free of I/O so that stores, transports and sinks can be swapped freely.

# Key Entities

  - Flow: The loaded graph of NodeDefinitions with their outcome edges ("cases").
  - Conversation: Room or Route state (current node, lifecycle state, variables).
  - Message / Content: Inbound chat events and outbound message payloads.
  - NodeEvent: Lifecycle notification emitted after every node execution.
*/
package domain
