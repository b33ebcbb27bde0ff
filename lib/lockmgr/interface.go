package lockmgr

// Names of the caches holding the lock state.
const (
	ExclusiveLocksCache = "locks-exclusive"
	ReadWriteLocksCache = "locks-read-write"
)

// ILockManager defines the interface for a lock provider.
// Contention is not an error: a lock that could not be acquired or released
// returns false with a nil error, the caller decides whether to retry.
type ILockManager interface {
	// Lock acquires the exclusive lock of key for owner. Locking again as the
	// current owner succeeds.
	Lock(key string, owner LockOwner) (ok bool, err error)

	// Unlock releases the exclusive lock of key. It returns false if owner does not hold the lock.
	Unlock(key string, owner LockOwner) (ok bool, err error)

	// LockRead acquires a read lock of key. It fails if another owner holds the write lock.
	LockRead(key string, owner LockOwner) (ok bool, err error)

	// UnlockRead releases the read lock owner holds on key.
	UnlockRead(key string, owner LockOwner) (ok bool, err error)

	// LockWrite acquires the write lock of key. It fails if another owner holds any lock on key.
	LockWrite(key string, owner LockOwner) (ok bool, err error)

	// UnlockWrite releases the write lock owner holds on key.
	UnlockWrite(key string, owner LockOwner) (ok bool, err error)

	// IsLocked returns whether the exclusive lock of key is held.
	IsLocked(key string) (bool, error)

	// IsLockedBy returns whether the exclusive lock of key is held by owner.
	IsLockedBy(key string, owner LockOwner) (bool, error)

	// GetLockOwner returns the owner of the exclusive lock of key.
	// The boolean is false if the lock is not held.
	GetLockOwner(key string) (owner LockOwner, ok bool, err error)

	// IsWriteLocked returns whether the write lock of key is held.
	IsWriteLocked(key string) (bool, error)

	// GetReadLockCount returns the number of read locks held on key.
	GetReadLockCount(key string) (int, error)
}
