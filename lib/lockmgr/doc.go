// Package lockmgr implements exclusive and read/write locks whose state lives as
// ordinary entries in the caches of a partitioned grid (see the grid package).
//
// The lock manager keeps no state of its own. Every lock operation is shipped as
// an entry processor to the holder of the key and applied by the grid, which runs
// all processors of a partition one after another. The holder types therefore
// need no synchronization: ExclusiveLockHolder and ReadWriteLockHolder are plain
// values with pure mutation methods.
//
// Core Functionality:
//   - Exclusive locks, reentrant for the same owner
//   - Read/write locks: concurrent readers, one writer, the writer may also read
//   - Cleanup of locks held by members that left the cluster (LockHolderCleaner)
//
// Owners:
//
//	A LockOwner is a (member id, thread or connection id) pair. Owners created for
//	remote clients carry the Client flag. Client locks are not released by the
//	membership validation, their liveness is tracked through their connection.
//
// Storage Format:
//
//	Holders are stored in binary form (see MarshalBinary of the holder types).
//	The first byte tags the holder kind, which lets the release processor work
//	on both caches. A holder without locks is never stored, the entry is removed.
//
// Membership Cleanup:
//
//	The LockHolderCleaner listens to the membership events of the grid service:
//
//	- MemberLeft releases the locks of the departed member at once, in all
//	  partitions owned by the local member.
//	- PartitionArrived events are batched for a debounce window (1s default).
//	  After the window one validation pass releases every lock held by a member
//	  that is no longer part of the service.
//
//	Cleanup is eventually consistent. A caller may briefly see a lock attributed
//	to a member that already left.
//
// Usage Example:
//
//	exclusive := member.Cache(lockmgr.ExclusiveLocksCache)
//	readWrite := member.Cache(lockmgr.ReadWriteLocksCache)
//
//	mgr := lockmgr.NewLockManager(exclusive, readWrite)
//	cleaner := lockmgr.NewLockHolderCleaner(member, exclusive, readWrite)
//	cleaner.Start()
//	defer cleaner.Stop()
//
//	owner := lockmgr.NewLockOwner(member.LocalMemberID(), "worker-1")
//	if ok, err := mgr.Lock("resource:123", owner); err == nil && ok {
//	    // use the resource
//	    _, _ = mgr.Unlock("resource:123", owner)
//	}
package lockmgr
