// Package lgrid implements an in-process partitioned grid on top of the grid
// interfaces. Several members of one Cluster live in the same process and share
// the caches of the cluster, which makes it the grid used by single node servers
// and by the lock manager tests.
//
// Ownership: partitions are assigned round robin to the storage enabled members
// sorted by id. Every Join, Leave and Crash rebalances the cluster. A partition
// that moves from one member to another fires PartitionArrived on the new owner.
// The first assignment of a partition is not a transfer and fires no event.
//
// Events: Join fires MemberJoined on every member including the joining one.
// Leave fires MemberLeaving on every member, then removes the member. After the
// removal the arrivals of the rebalance are fired, followed by MemberLeft on the
// remaining members. Crash skips the MemberLeaving notice. Handlers run on the
// goroutine calling Join, Leave or Crash.
//
// Serialization: each partition of a cache is served by one worker goroutine fed
// by a task queue. Invoke and AsyncInvokeAll enqueue tasks, so no two mutations
// of the same partition overlap while different partitions run in parallel.
//
// Usage Example:
//
//	cluster := lgrid.NewCluster("locks", 257)
//	defer cluster.Close()
//
//	m1, _ := cluster.Join(1, true)
//	m2, _ := cluster.Join(2, true)
//
//	cache := m1.Cache("my-cache")
//	res, err := cache.Invoke("key", processor)
//
//	cluster.Crash(m2.LocalMemberID())
package lgrid
