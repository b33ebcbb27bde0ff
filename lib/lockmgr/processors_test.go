package lockmgr

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/grid"
)

// testEntry is an in-memory grid.IEntry recording writes.
type testEntry struct {
	key     string
	value   []byte
	present bool
	members []uint64
	err     error
	writes  int
	removed bool
}

func (e *testEntry) Key() string                   { return e.key }
func (e *testEntry) Value() []byte                 { return e.value }
func (e *testEntry) Present() bool                 { return e.present }
func (e *testEntry) PartitionID() grid.PartitionID { return 0 }
func (e *testEntry) MemberIDs() ([]uint64, error)  { return e.members, e.err }
func (e *testEntry) SetValue(v []byte) {
	e.value, e.present = v, true
	e.writes++
}
func (e *testEntry) Remove() {
	e.value, e.present = nil, false
	e.removed = true
}

func entryWith(t *testing.T, h lockHolder) *testEntry {
	t.Helper()
	data, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error: %v", err)
	}
	return &testEntry{key: "k", value: data, present: data != nil}
}

func process(t *testing.T, p grid.IEntryProcessor, e *testEntry) bool {
	t.Helper()
	res, err := p.Process(e)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	return len(res) == 1 && res[0] == 1
}

// TestLockProcessorWritesOnlyChanges tests that reentrant and failed operations do not write
func TestLockProcessorWritesOnlyChanges(t *testing.T) {
	e := &testEntry{key: "k"}

	if !process(t, newLockProcessor(OpLock, ownerA1), e) || e.writes != 1 {
		t.Fatalf("first lock should succeed with one write, writes=%d", e.writes)
	}
	if !process(t, newLockProcessor(OpLock, ownerA1), e) || e.writes != 1 {
		t.Errorf("reentrant lock should succeed without a write, writes=%d", e.writes)
	}
	if process(t, newLockProcessor(OpLock, ownerB1), e) || e.writes != 1 {
		t.Errorf("contended lock should fail without a write, writes=%d", e.writes)
	}
	if process(t, newLockProcessor(OpUnlock, ownerB1), e) || e.removed {
		t.Errorf("unlock by non owner should fail")
	}
	if !process(t, newLockProcessor(OpUnlock, ownerA1), e) || !e.removed || e.present {
		t.Errorf("unlock should remove the entry")
	}
}

// TestLockProcessorReadWrite tests the read/write operations through the processor
func TestLockProcessorReadWrite(t *testing.T) {
	e := &testEntry{key: "k"}

	steps := []struct {
		op    LockOp
		owner LockOwner
		want  bool
	}{
		{OpLockRead, ownerA1, true},
		{OpLockRead, ownerB1, true},
		{OpLockWrite, ownerC1, false},
		{OpUnlockRead, ownerA1, true},
		{OpUnlockRead, ownerA1, false},
		{OpUnlockRead, ownerB1, true},
		{OpLockWrite, ownerC1, true},
		{OpLockRead, ownerA1, false},
		{OpUnlockWrite, ownerA1, false},
		{OpUnlockWrite, ownerC1, true},
	}
	for _, s := range steps {
		if got := process(t, newLockProcessor(s.op, s.owner), e); got != s.want {
			t.Errorf("%s by %s = %t, want %t", s.op, s.owner, got, s.want)
		}
	}
	if e.present {
		t.Errorf("entry should be removed once all locks are released")
	}

	if _, err := newLockProcessor(OpLock, ownerA1).Process(entryWith(t, func() lockHolder {
		h := &ReadWriteLockHolder{}
		h.LockRead(ownerA1)
		return h
	}())); err == nil {
		t.Errorf("an exclusive operation on a read/write holder should fail")
	}
}

// TestRemoveLocks tests the release processor for a single member and for validation
func TestRemoveLocks(t *testing.T) {
	t.Run("member", func(t *testing.T) {
		h := &ReadWriteLockHolder{}
		h.LockRead(ownerA1)
		h.LockRead(ownerB1)
		e := entryWith(t, h)

		if _, err := NewRemoveLocks(1).Process(e); err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		decoded := &ReadWriteLockHolder{}
		_ = decoded.UnmarshalBinary(e.value)
		if e.writes != 1 || decoded.ReadLockCount() != 1 || !decoded.IsReadLockedBy(ownerB1) {
			t.Errorf("member 1 should be removed with one write: %s", decoded)
		}

		if _, err := NewRemoveLocks(1).Process(e); err != nil || e.writes != 1 {
			t.Errorf("unchanged holder must not be written, writes=%d", e.writes)
		}

		_, _ = NewRemoveLocks(2).Process(e)
		if !e.removed {
			t.Errorf("empty holder should be removed")
		}
	})

	t.Run("validate all", func(t *testing.T) {
		h := &ExclusiveLockHolder{}
		h.Lock(NewLockOwner(99, "t"))
		e := entryWith(t, h)
		e.members = []uint64{1, 2}

		if _, err := NewValidateLocks().Process(e); err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		if !e.removed {
			t.Errorf("lock of member 99 should be released")
		}

		h = &ExclusiveLockHolder{}
		h.Lock(ownerB1)
		e = entryWith(t, h)
		e.members = []uint64{1, 2}
		_, _ = NewValidateLocks().Process(e)
		if e.writes != 0 || e.removed {
			t.Errorf("lock of a current member must stay untouched")
		}
	})

	t.Run("membership failure", func(t *testing.T) {
		h := &ExclusiveLockHolder{}
		h.Lock(ownerA1)
		e := entryWith(t, h)
		e.err = errors.New("unavailable")
		if _, err := NewValidateLocks().Process(e); err == nil {
			t.Errorf("membership errors should fail the processor")
		}
	})

	t.Run("absent entry", func(t *testing.T) {
		e := &testEntry{key: "k"}
		if _, err := NewValidateLocks().Process(e); err != nil || e.writes != 0 || e.removed {
			t.Errorf("absent entries should be skipped")
		}
	})
}

// TestProcessorWireFormat tests that processors survive the grid registry
func TestProcessorWireFormat(t *testing.T) {
	tests := []struct {
		name      string
		processor grid.IEntryProcessor
		size      int
	}{
		{"validate all", NewValidateLocks(), 1},
		{"member", NewRemoveLocks(7), 9},
		{"lock op", newLockProcessor(OpLockWrite, clientX), 2 + 13 + len(clientX.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := grid.EncodeProcessor(tt.processor)
			if err != nil {
				t.Fatalf("EncodeProcessor() error: %v", err)
			}
			if len(data) != tt.size {
				t.Errorf("encoded size = %d, want %d", len(data), tt.size)
			}
			decoded, err := grid.DecodeProcessor(data)
			if err != nil {
				t.Fatalf("DecodeProcessor() error: %v", err)
			}
			if decoded.Type() != tt.processor.Type() {
				t.Errorf("decoded type = %d", decoded.Type())
			}
			if grid.ReadsMembership(decoded) != grid.ReadsMembership(tt.processor) {
				t.Errorf("ReadsMembership() changed after decoding")
			}
		})
	}

	p, _ := grid.DecodeProcessor([]byte{byte(ProcessorRemoveLocks), 0, 0, 0, 0, 0, 0, 0, 7})
	if id, ok := p.(*RemoveLocks).MemberID(); !ok || id != 7 {
		t.Errorf("MemberID() = %d, %t", id, ok)
	}
	if _, err := grid.DecodeProcessor([]byte{byte(ProcessorRemoveLocks), 1}); err == nil {
		t.Errorf("expected error for malformed processor")
	}
}
