package lockmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/grid"
)

// Processor types registered by this package.
const (
	ProcessorLockOp      grid.ProcessorType = 1
	ProcessorRemoveLocks grid.ProcessorType = 2
)

func init() {
	grid.RegisterProcessor(ProcessorLockOp, decodeLockProcessor)
	grid.RegisterProcessor(ProcessorRemoveLocks, decodeRemoveLocks)
}

// writeBack stores the holder in the entry, or removes the entry if the holder is empty.
func writeBack(e grid.IEntry, h lockHolder) error {
	if h.IsEmpty() {
		e.Remove()
		return nil
	}
	data, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	e.SetValue(data)
	return nil
}

// --------------------------------------------------------------------------
// Lock operations
// --------------------------------------------------------------------------

// LockOp selects the holder method applied by a lock processor.
type LockOp uint8

const (
	OpLock LockOp = iota + 1
	OpUnlock
	OpLockRead
	OpUnlockRead
	OpLockWrite
	OpUnlockWrite
)

func (op LockOp) String() string {
	switch op {
	case OpLock:
		return "lock"
	case OpUnlock:
		return "unlock"
	case OpLockRead:
		return "lockRead"
	case OpUnlockRead:
		return "unlockRead"
	case OpLockWrite:
		return "lockWrite"
	case OpUnlockWrite:
		return "unlockWrite"
	default:
		return fmt.Sprintf("LockOp(%d)", uint8(op))
	}
}

func (op LockOp) exclusive() bool {
	return op == OpLock || op == OpUnlock
}

// lockProcessor applies one lock operation for an owner to the holder of a key.
// The result is a single byte, 1 if the operation succeeded.
type lockProcessor struct {
	op    LockOp
	owner LockOwner
}

func newLockProcessor(op LockOp, owner LockOwner) *lockProcessor {
	return &lockProcessor{op: op, owner: owner}
}

func (p *lockProcessor) Type() grid.ProcessorType {
	return ProcessorLockOp
}

func (p *lockProcessor) Process(e grid.IEntry) ([]byte, error) {
	before := e.Value()

	var h lockHolder
	var ok bool
	if p.op.exclusive() {
		eh := &ExclusiveLockHolder{}
		if err := eh.UnmarshalBinary(before); err != nil {
			return nil, err
		}
		if p.op == OpLock {
			ok = eh.Lock(p.owner)
		} else {
			ok = eh.Unlock(p.owner)
		}
		h = eh
	} else {
		rh := &ReadWriteLockHolder{}
		if err := rh.UnmarshalBinary(before); err != nil {
			return nil, err
		}
		switch p.op {
		case OpLockRead:
			ok = rh.LockRead(p.owner)
		case OpUnlockRead:
			ok = rh.UnlockRead(p.owner)
		case OpLockWrite:
			ok = rh.LockWrite(p.owner)
		case OpUnlockWrite:
			ok = rh.UnlockWrite(p.owner)
		default:
			return nil, fmt.Errorf("unknown lock operation %d", p.op)
		}
		h = rh
	}

	// only write if the holder actually changed, reentrant locks are a no-op
	after, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(before, after) {
		if err := writeBack(e, h); err != nil {
			return nil, err
		}
	}

	if ok {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// MarshalBinary serializes the processor with the format:
// 1 byte for the operation,
// N bytes for the owner (see appendOwner)
func (p *lockProcessor) MarshalBinary() ([]byte, error) {
	return appendOwner([]byte{byte(p.op)}, p.owner), nil
}

func decodeLockProcessor(data []byte) (grid.IEntryProcessor, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("data too short for lock processor")
	}
	owner, _, err := readOwner(data[1:])
	if err != nil {
		return nil, err
	}
	return newLockProcessor(LockOp(data[0]), owner), nil
}

// --------------------------------------------------------------------------
// Lock release
// --------------------------------------------------------------------------

// RemoveLocks releases the locks of departed members from the holder of an entry.
// It is built either for one member (NewRemoveLocks) or to validate all owners
// against the current members of the service (NewValidateLocks).
// The entry is only written if the holder changed. Absent entries are skipped.
type RemoveLocks struct {
	memberID uint64
	all      bool
}

var (
	_ grid.IEntryProcessor   = (*RemoveLocks)(nil)
	_ grid.IMembershipReader = (*RemoveLocks)(nil)
)

// NewRemoveLocks creates a processor releasing every lock held by requesters of memberID.
func NewRemoveLocks(memberID uint64) *RemoveLocks {
	return &RemoveLocks{memberID: memberID}
}

// NewValidateLocks creates a processor releasing every non client lock whose
// member is no longer part of the service.
func NewValidateLocks() *RemoveLocks {
	return &RemoveLocks{all: true}
}

// MemberID returns the member whose locks are released. The boolean is false for a validating processor.
func (p *RemoveLocks) MemberID() (uint64, bool) {
	return p.memberID, !p.all
}

func (p *RemoveLocks) Type() grid.ProcessorType {
	return ProcessorRemoveLocks
}

func (p *RemoveLocks) ReadsMembership() bool {
	return p.all
}

func (p *RemoveLocks) Process(e grid.IEntry) ([]byte, error) {
	if !e.Present() {
		return nil, nil
	}
	h, err := decodeHolder(e.Value())
	if err != nil {
		return nil, err
	}

	var changed bool
	if p.all {
		ids, err := e.MemberIDs()
		if err != nil {
			return nil, fmt.Errorf("failed to read members: %w", err)
		}
		changed = h.RetainLocksFor(NewMemberSet(ids...))
	} else {
		changed = h.RemoveLocksFor(p.memberID)
	}

	if !changed {
		return nil, nil
	}
	return nil, writeBack(e, h)
}

// MarshalBinary serializes the processor as one optional member id:
// no bytes for "validate all", else 8 bytes for the member id
func (p *RemoveLocks) MarshalBinary() ([]byte, error) {
	if p.all {
		return nil, nil
	}
	return binary.BigEndian.AppendUint64(nil, p.memberID), nil
}

func (p *RemoveLocks) String() string {
	if p.all {
		return "RemoveLocks{validate all}"
	}
	return fmt.Sprintf("RemoveLocks{member=%d}", p.memberID)
}

func decodeRemoveLocks(data []byte) (grid.IEntryProcessor, error) {
	switch len(data) {
	case 0:
		return NewValidateLocks(), nil
	case 8:
		return NewRemoveLocks(binary.BigEndian.Uint64(data)), nil
	default:
		return nil, fmt.Errorf("invalid remove locks processor of %d bytes", len(data))
	}
}
