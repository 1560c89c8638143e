/*
Package session serializes access to conversation state.

The Manager guarantees at most one in-flight step per conversation key: a second trigger for
the same conversation waits on the conversation's lock instead of interleaving with the first.
Locks are reference counted and garbage collected once released, and an optional
DistributedLocker extends the guarantee across replicas sharing one store.
*/
package session
