package lockmgr

import (
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/grid"
)

type lockMgrImpl struct {
	exclusive grid.IPartitionedCache
	readWrite grid.IPartitionedCache
}

// NewLockManager creates a lock manager storing exclusive locks in one cache and
// read/write locks in another. It keeps no state besides the caches, so any
// number of managers may be created for the same caches.
func NewLockManager(exclusive, readWrite grid.IPartitionedCache) ILockManager {
	return &lockMgrImpl{
		exclusive: exclusive,
		readWrite: readWrite,
	}
}

// invoke ships a lock operation to the holder of key and decodes the boolean result.
func (m *lockMgrImpl) invoke(cache grid.IPartitionedCache, key string, op LockOp, owner LockOwner) (bool, error) {
	res, err := cache.Invoke(key, newLockProcessor(op, owner))
	if err != nil {
		return false, fmt.Errorf("%s on %q failed: %w", op, key, err)
	}
	return len(res) == 1 && res[0] == 1, nil
}

func (m *lockMgrImpl) exclusiveHolder(key string) (*ExclusiveLockHolder, error) {
	data, _, err := m.exclusive.Get(key)
	if err != nil {
		return nil, err
	}
	h := &ExclusiveLockHolder{}
	return h, h.UnmarshalBinary(data)
}

func (m *lockMgrImpl) readWriteHolder(key string) (*ReadWriteLockHolder, error) {
	data, _, err := m.readWrite.Get(key)
	if err != nil {
		return nil, err
	}
	h := &ReadWriteLockHolder{}
	return h, h.UnmarshalBinary(data)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (m *lockMgrImpl) Lock(key string, owner LockOwner) (bool, error) {
	return m.invoke(m.exclusive, key, OpLock, owner)
}

func (m *lockMgrImpl) Unlock(key string, owner LockOwner) (bool, error) {
	return m.invoke(m.exclusive, key, OpUnlock, owner)
}

func (m *lockMgrImpl) LockRead(key string, owner LockOwner) (bool, error) {
	return m.invoke(m.readWrite, key, OpLockRead, owner)
}

func (m *lockMgrImpl) UnlockRead(key string, owner LockOwner) (bool, error) {
	return m.invoke(m.readWrite, key, OpUnlockRead, owner)
}

func (m *lockMgrImpl) LockWrite(key string, owner LockOwner) (bool, error) {
	return m.invoke(m.readWrite, key, OpLockWrite, owner)
}

func (m *lockMgrImpl) UnlockWrite(key string, owner LockOwner) (bool, error) {
	return m.invoke(m.readWrite, key, OpUnlockWrite, owner)
}

func (m *lockMgrImpl) IsLocked(key string) (bool, error) {
	h, err := m.exclusiveHolder(key)
	if err != nil {
		return false, err
	}
	return h.IsLocked(), nil
}

func (m *lockMgrImpl) IsLockedBy(key string, owner LockOwner) (bool, error) {
	h, err := m.exclusiveHolder(key)
	if err != nil {
		return false, err
	}
	return h.IsLockedBy(owner), nil
}

func (m *lockMgrImpl) GetLockOwner(key string) (LockOwner, bool, error) {
	h, err := m.exclusiveHolder(key)
	if err != nil {
		return LockOwner{}, false, err
	}
	owner, ok := h.Owner()
	return owner, ok, nil
}

func (m *lockMgrImpl) IsWriteLocked(key string) (bool, error) {
	h, err := m.readWriteHolder(key)
	if err != nil {
		return false, err
	}
	return h.IsWriteLocked(), nil
}

func (m *lockMgrImpl) GetReadLockCount(key string) (int, error) {
	h, err := m.readWriteHolder(key)
	if err != nil {
		return 0, err
	}
	return h.ReadLockCount(), nil
}
