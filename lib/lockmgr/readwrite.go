package lockmgr

import (
	"encoding/binary"
	"fmt"
)

// ReadWriteLockHolder is the stored state of a read/write lock: an optional
// write owner and a set of read owners. Distinct owners may read concurrently
// while no one writes. The write owner may read as well.
// There is no upgrade from read to write: a reader must release its read lock
// before another owner can write. An owner that is the only reader may still
// acquire the write lock.
//
// Thread-safety: see ExclusiveLockHolder.
type ReadWriteLockHolder struct {
	writer    LockOwner
	hasWriter bool
	readers   map[ownerKey]LockOwner
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

func (h *ReadWriteLockHolder) IsWriteLocked() bool {
	return h.hasWriter
}

func (h *ReadWriteLockHolder) IsReadLocked() bool {
	return len(h.readers) > 0
}

func (h *ReadWriteLockHolder) IsLocked() bool {
	return h.IsWriteLocked() || h.IsReadLocked()
}

func (h *ReadWriteLockHolder) IsWriteLockedBy(owner LockOwner) bool {
	return h.hasWriter && h.writer.Equal(owner)
}

func (h *ReadWriteLockHolder) IsReadLockedBy(owner LockOwner) bool {
	_, ok := h.readers[owner.key()]
	return ok
}

func (h *ReadWriteLockHolder) IsLockedBy(owner LockOwner) bool {
	return h.IsWriteLockedBy(owner) || h.IsReadLockedBy(owner)
}

func (h *ReadWriteLockHolder) IsWriteLockedByMember(memberID uint64) bool {
	return h.hasWriter && h.writer.MemberID == memberID
}

func (h *ReadWriteLockHolder) IsReadLockedByMember(memberID uint64) bool {
	for k := range h.readers {
		if k.member == memberID {
			return true
		}
	}
	return false
}

func (h *ReadWriteLockHolder) IsLockedByMember(memberID uint64) bool {
	return h.IsWriteLockedByMember(memberID) || h.IsReadLockedByMember(memberID)
}

// WriteOwner returns the write owner. The boolean is false if no write lock is held.
func (h *ReadWriteLockHolder) WriteOwner() (LockOwner, bool) {
	return h.writer, h.hasWriter
}

// ReadLockCount returns the number of distinct read owners.
func (h *ReadWriteLockHolder) ReadLockCount() int {
	return len(h.readers)
}

// ReadOwners returns the read owners sorted by member and id.
func (h *ReadWriteLockHolder) ReadOwners() []LockOwner {
	out := make([]LockOwner, 0, len(h.readers))
	for _, o := range h.readers {
		out = append(out, o)
	}
	sortOwners(out)
	return out
}

// ----------------------------------------------------------------------------
// Mutations
// ----------------------------------------------------------------------------

// LockWrite acquires the write lock. It fails if another owner holds the write
// lock or any read lock.
func (h *ReadWriteLockHolder) LockWrite(owner LockOwner) bool {
	if h.hasWriter {
		return h.writer.Equal(owner)
	}
	for k := range h.readers {
		if k != owner.key() {
			return false
		}
	}
	h.writer = owner
	h.hasWriter = true
	return true
}

// UnlockWrite releases the write lock if it is held by owner.
func (h *ReadWriteLockHolder) UnlockWrite(owner LockOwner) bool {
	if !h.IsWriteLockedBy(owner) {
		return false
	}
	h.clearWriter()
	return true
}

// LockRead acquires a read lock. It fails only if another owner holds the write lock.
func (h *ReadWriteLockHolder) LockRead(owner LockOwner) bool {
	if h.hasWriter && !h.writer.Equal(owner) {
		return false
	}
	if h.readers == nil {
		h.readers = make(map[ownerKey]LockOwner)
	}
	h.readers[owner.key()] = owner
	return true
}

// UnlockRead releases the read lock of owner.
func (h *ReadWriteLockHolder) UnlockRead(owner LockOwner) bool {
	if !h.IsReadLockedBy(owner) {
		return false
	}
	delete(h.readers, owner.key())
	return true
}

// RemoveLocksFor releases the write lock and all read locks held by requesters of the member.
// It returns whether the holder was modified.
func (h *ReadWriteLockHolder) RemoveLocksFor(memberID uint64) bool {
	changed := false
	if h.IsWriteLockedByMember(memberID) {
		h.clearWriter()
		changed = true
	}
	for k := range h.readers {
		if k.member == memberID {
			delete(h.readers, k)
			changed = true
		}
	}
	return changed
}

// RetainLocksFor releases every non client lock whose member is not in valid.
// Write and read locks are checked independently. It returns whether the holder was modified.
func (h *ReadWriteLockHolder) RetainLocksFor(valid MemberSet) bool {
	changed := false
	if h.hasWriter && !keepOwner(h.writer, valid) {
		h.clearWriter()
		changed = true
	}
	for k, o := range h.readers {
		if !keepOwner(o, valid) {
			delete(h.readers, k)
			changed = true
		}
	}
	return changed
}

// IsEmpty returns true if the holder carries no lock and may be removed from the grid.
func (h *ReadWriteLockHolder) IsEmpty() bool {
	return !h.IsLocked()
}

func (h *ReadWriteLockHolder) clearWriter() {
	h.writer = LockOwner{}
	h.hasWriter = false
}

func (h *ReadWriteLockHolder) String() string {
	writer := "none"
	if h.hasWriter {
		writer = h.writer.String()
	}
	return fmt.Sprintf("ReadWriteLockHolder{writer=%s, readers=%v}", writer, h.ReadOwners())
}

// ----------------------------------------------------------------------------
// Encoding
// ----------------------------------------------------------------------------

// MarshalBinary serializes the holder with the format:
// 1 byte for the holder kind,
// 1 byte write flag, followed by the write owner if set,
// 4 bytes for the number of read owners,
// N read owners sorted by member and id
//
// A holder without locks encodes to nil.
func (h *ReadWriteLockHolder) MarshalBinary() ([]byte, error) {
	if h.IsEmpty() {
		return nil, nil
	}
	buf := []byte{byte(kindReadWrite)}
	if h.hasWriter {
		buf = append(buf, 1)
		buf = appendOwner(buf, h.writer)
	} else {
		buf = append(buf, 0)
	}
	readers := h.ReadOwners()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(readers)))
	for _, o := range readers {
		buf = appendOwner(buf, o)
	}
	return buf, nil
}

// UnmarshalBinary restores a holder encoded with MarshalBinary. Empty data is an unlocked holder.
func (h *ReadWriteLockHolder) UnmarshalBinary(data []byte) error {
	h.clearWriter()
	h.readers = nil
	if len(data) == 0 {
		return nil
	}
	if len(data) < 2 || holderKind(data[0]) != kindReadWrite {
		return fmt.Errorf("not a read/write lock holder")
	}

	rest := data[2:]
	if data[1] == 1 {
		owner, r, err := readOwner(rest)
		if err != nil {
			return err
		}
		h.writer, h.hasWriter, rest = owner, true, r
	}

	if len(rest) < 4 {
		return fmt.Errorf("data too short for read owner count")
	}
	count := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if count > 0 {
		h.readers = make(map[ownerKey]LockOwner, count)
	}
	for i := uint32(0); i < count; i++ {
		owner, r, err := readOwner(rest)
		if err != nil {
			return err
		}
		h.readers[owner.key()] = owner
		rest = r
	}
	if len(rest) != 0 {
		return fmt.Errorf("trailing bytes after read/write lock holder")
	}
	return nil
}
