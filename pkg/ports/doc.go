/*
Package ports defines the driven ports (interfaces) for the Menuflow engine.

These interfaces decouple the interpreter from external collaborators, allowing
the engine to work with various storage backends, chat transports and event sinks.

# Key Interfaces

  - StateStore: Persists Room and Route conversation state, independently.
  - ClientStore / UserStore: Read the client credentials and identity mapping rows.
  - Transport: Sends messages and uploads media through the chat protocol client.
  - EmailSender: Delivers outbound email through a configured server.
  - EventSink: Receives fire-and-forget node lifecycle notifications.
  - DistributedLocker: Serializes conversation steps across replicas.
*/
package ports
