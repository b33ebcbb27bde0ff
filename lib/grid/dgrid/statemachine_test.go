package dgrid

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/dgrid/internal"
	"github.com/lni/dragonboat/v4/raftio"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// Test processors
// --------------------------------------------------------------------------

// appendProcessor appends its payload to the value, an empty payload removes the entry.
type appendProcessor struct{ payload []byte }

// memberCountProcessor stores the number of members as value and fails if they are unknown.
type memberCountProcessor struct{}

const (
	appendType grid.ProcessorType = 220 + iota
	memberCountType
)

func init() {
	grid.RegisterProcessor(appendType, func(data []byte) (grid.IEntryProcessor, error) {
		return &appendProcessor{payload: bytes.Clone(data)}, nil
	})
	grid.RegisterProcessor(memberCountType, func([]byte) (grid.IEntryProcessor, error) {
		return memberCountProcessor{}, nil
	})
}

func (p *appendProcessor) Type() grid.ProcessorType       { return appendType }
func (p *appendProcessor) MarshalBinary() ([]byte, error) { return p.payload, nil }
func (p *appendProcessor) Process(e grid.IEntry) ([]byte, error) {
	if len(p.payload) == 0 {
		e.Remove()
		return nil, nil
	}
	e.SetValue(append(bytes.Clone(e.Value()), p.payload...))
	return e.Value(), nil
}

func (memberCountProcessor) Type() grid.ProcessorType       { return memberCountType }
func (memberCountProcessor) MarshalBinary() ([]byte, error) { return nil, nil }
func (memberCountProcessor) ReadsMembership() bool          { return true }
func (memberCountProcessor) Process(e grid.IEntry) ([]byte, error) {
	ids, err := e.MemberIDs()
	if err != nil {
		return nil, err
	}
	e.SetValue([]byte{byte(len(ids))})
	return nil, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func invokeCmd(t *testing.T, cache, key string, p grid.IEntryProcessor, members []uint64) []byte {
	t.Helper()
	data, err := grid.EncodeProcessor(p)
	if err != nil {
		t.Fatalf("EncodeProcessor() error: %v", err)
	}
	cmd := internal.Command{Type: internal.CommandTInvoke, Cache: cache, Key: key, Processor: data, Members: members}
	return cmd.Serialize()
}

func invokeAllCmd(t *testing.T, cache string, set grid.PartitionSet, p grid.IEntryProcessor, members []uint64) []byte {
	t.Helper()
	data, err := grid.EncodeProcessor(p)
	if err != nil {
		t.Fatalf("EncodeProcessor() error: %v", err)
	}
	parts, err := set.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error: %v", err)
	}
	cmd := internal.Command{Type: internal.CommandTInvokeAll, Cache: cache, Partitions: parts, Processor: data, Members: members}
	return cmd.Serialize()
}

func update(t *testing.T, fsm *GridStateMachine, cmds ...[]byte) []sm.Result {
	t.Helper()
	entries := make([]sm.Entry, len(cmds))
	for i, c := range cmds {
		entries[i] = sm.Entry{Index: uint64(i + 1), Cmd: c}
	}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	results := make([]sm.Result, len(out))
	for i, e := range out {
		results[i] = e.Result
	}
	return results
}

func get(t *testing.T, fsm *GridStateMachine, cache, key string) ([]byte, bool) {
	t.Helper()
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Cache: cache, Key: key})
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	r := res.(internal.QueryResult)
	return r.Value, r.Ok
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestStateMachineInvoke tests single key commands
func TestStateMachineInvoke(t *testing.T) {
	fsm := newStateMachine(1, 1, 8)

	tests := []struct {
		name      string
		cmd       []byte
		wantCode  grid.RetCode
		wantValue string
		wantFound bool
	}{
		{"create", invokeCmd(t, "c", "k", &appendProcessor{payload: []byte("a")}, nil), grid.RetCSuccess, "a", true},
		{"append", invokeCmd(t, "c", "k", &appendProcessor{payload: []byte("b")}, nil), grid.RetCSuccess, "ab", true},
		{"members not resolved", invokeCmd(t, "c", "k", memberCountProcessor{}, nil), grid.RetCInvalidOperation, "ab", true},
		{"members resolved", invokeCmd(t, "c", "k", memberCountProcessor{}, []uint64{1, 2, 3}), grid.RetCSuccess, "\x03", true},
		{"remove", invokeCmd(t, "c", "k", &appendProcessor{}, nil), grid.RetCSuccess, "", false},
		{"empty command", nil, grid.RetCInvalidOperation, "", false},
		{"unknown processor", (&internal.Command{Type: internal.CommandTInvoke, Cache: "c", Key: "k", Processor: []byte{255}}).Serialize(), grid.RetCUnknownProcessor, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := update(t, fsm, tt.cmd)[0]
			if grid.RetCode(res.Value) != tt.wantCode {
				t.Errorf("result code = %s (%s), want %s", grid.RetCode(res.Value), res.Data, tt.wantCode)
			}
			v, ok := get(t, fsm, "c", "k")
			if ok != tt.wantFound || string(v) != tt.wantValue {
				t.Errorf("value = %q, %t; want %q, %t", v, ok, tt.wantValue, tt.wantFound)
			}
		})
	}

	if _, ok := get(t, fsm, "unknown-cache", "k"); ok {
		t.Errorf("unknown cache should not contain entries")
	}
	if _, err := fsm.Lookup("invalid"); err == nil {
		t.Errorf("invalid query type should fail")
	}
}

// TestStateMachineInvokeAll tests partition scoped commands and their statistics
func TestStateMachineInvokeAll(t *testing.T) {
	fsm := newStateMachine(1, 1, 8)
	keys := []string{"a", "b", "c", "d", "e", "f"}
	for _, k := range keys {
		update(t, fsm, invokeCmd(t, "c", k, &appendProcessor{payload: []byte("x")}, nil))
	}

	set := grid.PartitionSetOf(8, grid.PartitionFor("a", 8), grid.PartitionFor("d", 8))
	expected := 0
	for _, k := range keys {
		if set.Contains(grid.PartitionFor(k, 8)) {
			expected++
		}
	}

	res := update(t, fsm, invokeAllCmd(t, "c", set, &appendProcessor{payload: []byte("y")}, nil))[0]
	if grid.RetCode(res.Value) != grid.RetCSuccess {
		t.Fatalf("InvokeAll failed: %s", res.Data)
	}
	parts, processed, changed, err := internal.DecodeStats(res.Data)
	if err != nil || parts != set.Len() || processed != expected || changed != expected {
		t.Errorf("stats = %d %d %d %v; want %d %d %d", parts, processed, changed, err, set.Len(), expected, expected)
	}

	for _, k := range keys {
		v, _ := get(t, fsm, "c", k)
		want := "x"
		if set.Contains(grid.PartitionFor(k, 8)) {
			want = "xy"
		}
		if string(v) != want {
			t.Errorf("%s = %q, want %q", k, v, want)
		}
	}

	res = update(t, fsm, invokeAllCmd(t, "c", grid.FullPartitionSet(8), memberCountProcessor{}, nil))[0]
	if grid.RetCode(res.Value) != grid.RetCInvalidOperation {
		t.Errorf("unresolved members should fail the command, got %s", grid.RetCode(res.Value))
	}
}

// TestStateMachineSnapshot tests that a snapshot restores all caches
func TestStateMachineSnapshot(t *testing.T) {
	fsm := newStateMachine(1, 1, 4)
	update(t, fsm,
		invokeCmd(t, "one", "k1", &appendProcessor{payload: []byte("v1")}, nil),
		invokeCmd(t, "one", "k2", &appendProcessor{payload: []byte("v2")}, nil),
		invokeCmd(t, "two", "k1", &appendProcessor{payload: []byte("w1")}, nil),
	)

	ctx, err := fsm.PrepareSnapshot()
	if err != nil {
		t.Fatalf("PrepareSnapshot() error: %v", err)
	}
	// updates after prepare are not part of the snapshot
	update(t, fsm, invokeCmd(t, "one", "k3", &appendProcessor{payload: []byte("v3")}, nil))

	var buf bytes.Buffer
	if err := fsm.SaveSnapshot(ctx, &buf, nil, make(chan struct{})); err != nil {
		t.Fatalf("SaveSnapshot() error: %v", err)
	}

	restored := newStateMachine(1, 2, 4)
	if err := restored.RecoverFromSnapshot(bytes.NewReader(buf.Bytes()), nil, make(chan struct{})); err != nil {
		t.Fatalf("RecoverFromSnapshot() error: %v", err)
	}

	checks := []struct {
		cache, key, want string
		found            bool
	}{
		{"one", "k1", "v1", true},
		{"one", "k2", "v2", true},
		{"two", "k1", "w1", true},
		{"one", "k3", "", false},
	}
	for _, c := range checks {
		v, ok := get(t, restored, c.cache, c.key)
		if ok != c.found || string(v) != c.want {
			t.Errorf("%s/%s = %q, %t; want %q, %t", c.cache, c.key, v, ok, c.want, c.found)
		}
	}

	mismatch := newStateMachine(1, 3, 8)
	if err := mismatch.RecoverFromSnapshot(bytes.NewReader(buf.Bytes()), nil, make(chan struct{})); err == nil {
		t.Errorf("snapshot with a different partition count should be rejected")
	}

	stopped := make(chan struct{})
	close(stopped)
	if err := fsm.SaveSnapshot(ctx, &bytes.Buffer{}, nil, stopped); !errors.Is(err, sm.ErrSnapshotStopped) {
		t.Errorf("SaveSnapshot() on stopped channel = %v", err)
	}
}

// TestMembershipDiff tests the detection of joined and left replicas
func TestMembershipDiff(t *testing.T) {
	joined, left := diffMembers(nil, []uint64{3, 1})
	if len(joined) != 2 || joined[0] != 1 || joined[1] != 3 || len(left) != 0 {
		t.Errorf("first poll: joined %v, left %v", joined, left)
	}

	prev := map[uint64]struct{}{1: {}, 2: {}, 3: {}}
	joined, left = diffMembers(prev, []uint64{1, 3, 4})
	if len(joined) != 1 || joined[0] != 4 || len(left) != 1 || left[0] != 2 {
		t.Errorf("joined %v, left %v; want [4], [2]", joined, left)
	}
}

// TestMembershipLeaderUpdated tests that a new leader receives all partitions
func TestMembershipLeaderUpdated(t *testing.T) {
	m := NewMembership("locks", 10, 2, 4, 0, 0)
	var arrived []grid.PartitionID
	m.OnPartitionArrived(func(p grid.PartitionID, count uint32) {
		if count != 4 {
			t.Errorf("partition count = %d", count)
		}
		arrived = append(arrived, p)
	})

	m.LeaderUpdated(raftio.LeaderInfo{ShardID: 99, ReplicaID: 2, LeaderID: 2}) // other shard
	m.LeaderUpdated(raftio.LeaderInfo{ShardID: 10, ReplicaID: 2, LeaderID: 1}) // other leader
	if len(arrived) != 0 || m.IsLeader() {
		t.Fatalf("no partitions should arrive, got %v", arrived)
	}

	m.LeaderUpdated(raftio.LeaderInfo{ShardID: 10, ReplicaID: 2, LeaderID: 2, Term: 3})
	m.LeaderUpdated(raftio.LeaderInfo{ShardID: 10, ReplicaID: 2, LeaderID: 2, Term: 3})
	if len(arrived) != 4 || !m.IsLeader() {
		t.Errorf("arrived = %v, want all 4 partitions once", arrived)
	}

	if !m.OwnedPartitions(2).IsEmpty() {
		t.Errorf("a membership without node host owns no partitions")
	}
	if _, err := m.CurrentMemberIDs(); err == nil {
		t.Errorf("CurrentMemberIDs() before Start should fail")
	}
}
