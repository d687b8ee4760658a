/*
Package ports defines the driven ports (interfaces) for the Sluice engine.

These interfaces decouple the execution core from external
implementations, allowing the engine to run against different persistence
backends and locking strategies without change.

# Key Interfaces

  - Store: durable record of process instances, tokens and task
    instances, sufficient to rebuild engine state after a restart.
  - DistributedLocker: optional cross-process serialization of
    per-instance mutation for multi-replica deployments.

RunStoreContract is the shared conformance suite every Store adapter runs
in its own tests.
*/
package ports
