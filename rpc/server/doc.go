// Package server implements the RPC server of the distributed lock manager.
// Every shard served by a server is a lock manager on its own grid, together
// with the cleaner releasing the locks of departed cluster members.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a
//     lockmgr.ILockManager.
//
//   - NewLockManagerServerAdapter: Translates RPC requests to lock manager calls.
//     Owners of rpc requests are client owners.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalLockManager},
//	  },
//	  PartitionCount: 257,
//	  Endpoint:       "0.0.0.0:8080",
//	  TimeoutSecond:  5,
//	  LogLevel:       "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports two types of shards, which can be mixed within a single server:
//
//   - ShardTypeLocalLockManager: Locks live in an in-process grid (lgrid) with this
//     server as its only member. Suitable for single-node deployments.
//
//   - ShardTypeRemoteLockManager: Locks live in a grid replicated with raft (dgrid).
//     RAFT configuration (RTTMillisecond, SnapshotEntries, CompactionOverhead,
//     DataDir, ReplicaID, and ClusterMembers) must be properly configured.
//     Replicas removed from the shard are detected by polling the membership and
//     their locks are released.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests.
//	Serve and Stop must be called only once.
package server
