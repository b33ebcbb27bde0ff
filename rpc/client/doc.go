// Package client implements the RPC client of the distributed lock manager.
// It provides an implementation of the lockmgr.ILockManager interface that
// forwards every operation to a remote server.
//
// Key Components:
//
//   - NewRPCLockMgr: Factory function that creates a client implementing the
//     lockmgr.ILockManager interface. The client is bound to one shard.
//
//   - NewOwner: Creates a client owner with a random connection id (uuid). Locks
//     of client owners are kept when cluster members leave, they are only released
//     by their owner.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"http://localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	locks, _ := client.NewRPCLockMgr(200, config, http.NewHttpClientTransport(), serializer.NewBinarySerializer())
//	owner := client.NewOwner()
//	if ok, _ := locks.Lock("orders/4711", owner); ok {
//	  defer locks.Unlock("orders/4711", owner)
//	}
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
