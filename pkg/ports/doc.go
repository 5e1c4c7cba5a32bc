/*
Package ports defines the driven ports (interfaces) of the Waypoint runtime.

These interfaces decouple the decision engine from external implementations, so the
same agent can run against different LLM backends and storage systems.

# Key Interfaces

  - LLM: produces a raw structured decision for one step.
  - SessionStore: persists and loads Session snapshots.
  - DistributedLocker: provides distributed locking for concurrent session access.
*/
package ports
