/*
Package session serializes access to conversation sessions.

The Manager guarantees at most one concurrent holder per session ID, in-process via
reference-counted semaphores and across replicas via an optional DistributedLocker.
Overlapping callers either queue or are rejected, depending on the OverlapPolicy.
*/
package session
