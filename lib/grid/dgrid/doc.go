// Package dgrid implements a distributed grid service replicated with the
// Dragonboat RAFT consensus library. One raft shard carries one grid service
// with all its caches and partitions.
//
// Architecture:
//
//   - Cache Client: implements grid.IPartitionedCache. Entry processors are
//     serialized through the processor registry of the grid package and proposed
//     to the shard. Reads use SyncRead. Operations rejected with ErrSystemBusy
//     are retried.
//
//   - State Machine: a Dragonboat IConcurrentStateMachine holding the entries of
//     every cache per partition. Processors are applied inside Update, which the
//     raft log serializes, so no two processors overlap on any entry.
//
//   - Membership: implements grid.IMembership on top of the shard membership.
//     The leader owns all partitions, a new leader receives every partition as
//     arrived.
//
// Membership Reads:
//
//	Processors reading the member ids (grid.IMembershipReader) must see the same
//	set on every replica. The cache client resolves the shard membership before
//	proposing and embeds it in the command.
//
// Usage Example:
//
//	membership := dgrid.NewMembership("locks", shardID, replicaID, 257, time.Second, 5*time.Second)
//	nhConfig.RaftEventListener = membership
//	nh, _ := dragonboat.NewNodeHost(nhConfig)
//	_ = nh.StartConcurrentReplica(members, false, dgrid.CreateStateMachineFactory(257), rc)
//	membership.Start(nh)
//
//	cache := dgrid.NewCache(nh, shardID, "my-cache", 257, 5*time.Second)
//	res, err := cache.Invoke("key", processor)
package dgrid
