package lockmgr

import (
	"fmt"
)

// ExclusiveLockHolder is the stored state of an exclusive lock: at most one owner.
// The zero value is an unlocked holder.
//
// Thread-safety: A holder is not thread-safe. It is only mutated inside an entry
// processor, which the grid runs serialized per partition.
type ExclusiveLockHolder struct {
	owner  LockOwner
	locked bool
}

func (h *ExclusiveLockHolder) IsLocked() bool {
	return h.locked
}

func (h *ExclusiveLockHolder) IsLockedBy(owner LockOwner) bool {
	return h.locked && h.owner.Equal(owner)
}

func (h *ExclusiveLockHolder) IsLockedByMember(memberID uint64) bool {
	return h.locked && h.owner.MemberID == memberID
}

func (h *ExclusiveLockHolder) IsLockedByClient() bool {
	return h.locked && h.owner.Client
}

// Owner returns the current owner. The boolean is false if the lock is not held.
func (h *ExclusiveLockHolder) Owner() (LockOwner, bool) {
	return h.owner, h.locked
}

// Lock acquires the lock for owner. Locking again as the current owner succeeds
// without a change, a lock held by another owner is not touched.
func (h *ExclusiveLockHolder) Lock(owner LockOwner) bool {
	if h.locked {
		return h.owner.Equal(owner)
	}
	h.owner = owner
	h.locked = true
	return true
}

// Unlock releases the lock if it is held by owner.
func (h *ExclusiveLockHolder) Unlock(owner LockOwner) bool {
	if !h.IsLockedBy(owner) {
		return false
	}
	h.clear()
	return true
}

// RemoveLocksFor releases the lock if any requester of the member holds it.
// It returns whether the holder was modified.
func (h *ExclusiveLockHolder) RemoveLocksFor(memberID uint64) bool {
	if !h.IsLockedByMember(memberID) {
		return false
	}
	h.clear()
	return true
}

// RetainLocksFor releases the lock if it is held by a non client owner whose
// member is not in valid. It returns whether the holder was modified.
func (h *ExclusiveLockHolder) RetainLocksFor(valid MemberSet) bool {
	if !h.locked || keepOwner(h.owner, valid) {
		return false
	}
	h.clear()
	return true
}

// IsEmpty returns true if the holder carries no lock and may be removed from the grid.
func (h *ExclusiveLockHolder) IsEmpty() bool {
	return !h.locked
}

func (h *ExclusiveLockHolder) clear() {
	h.owner = LockOwner{}
	h.locked = false
}

func (h *ExclusiveLockHolder) String() string {
	if !h.locked {
		return "ExclusiveLockHolder{unlocked}"
	}
	return fmt.Sprintf("ExclusiveLockHolder{owner=%s}", h.owner)
}

// MarshalBinary serializes the holder with the format:
// 1 byte for the holder kind,
// N bytes for the owner (see appendOwner)
//
// An unlocked holder encodes to nil.
func (h *ExclusiveLockHolder) MarshalBinary() ([]byte, error) {
	if !h.locked {
		return nil, nil
	}
	return appendOwner([]byte{byte(kindExclusive)}, h.owner), nil
}

// UnmarshalBinary restores a holder encoded with MarshalBinary. Empty data is an unlocked holder.
func (h *ExclusiveLockHolder) UnmarshalBinary(data []byte) error {
	h.clear()
	if len(data) == 0 {
		return nil
	}
	if holderKind(data[0]) != kindExclusive {
		return fmt.Errorf("not an exclusive lock holder (kind %d)", data[0])
	}
	owner, rest, err := readOwner(data[1:])
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("trailing bytes after exclusive lock holder")
	}
	h.owner = owner
	h.locked = true
	return nil
}
