// Package grid defines the contract of the partitioned key-value store the lock
// manager is built on. The store itself is external to the lock manager: this
// package only describes what the lock manager consumes from it.
//
// The package focuses on:
//   - A partitioned cache interface (IPartitionedCache) offering per-entry atomic
//     mutation through entry processors
//   - An entry processor interface (IEntryProcessor) with a process-wide registry so
//     processors can be shipped as bytes to a replicated store
//   - A membership interface (IMembership) delivering member and partition-transfer
//     events of one partitioned service
//   - Partition sets and key-to-partition hashing shared by all implementations
//
// Key Components:
//
//   - IEntryProcessor: A mutation function executed beside the data. The store
//     guarantees that no two processors run against the same partition at the same
//     time, so processors never need their own synchronisation. A processor may only
//     touch the single entry it is given.
//
//   - PartitionSet: A bitset sized for the partition count of a service. Used to
//     address AsyncInvokeAll and to report partition ownership.
//
//   - Future: The result handle of an asynchronous invocation. Callers may wait on it,
//     register a completion callback, or ignore it entirely.
//
//   - EventBus: A small subscription registry used by IMembership implementations to
//     fan out member and partition events to their listeners.
//
// Implementations:
//
//   - Local Grid (lgrid): An in-process grid simulating a cluster of members sharing
//     partitioned caches. Each partition is mutated by exactly one goroutine.
//     Available in the "github.com/ValentinKolb/dGrid/lib/grid/lgrid" package.
//
//   - Distributed Grid (dgrid): A grid replicated with the Dragonboat RAFT library.
//     Processors are proposed as raft commands and applied by every replica.
//     Available in the "github.com/ValentinKolb/dGrid/lib/grid/dgrid" package.
package grid
