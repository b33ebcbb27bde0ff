package lockmgr

import (
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type testMembership struct {
	*grid.EventBus
	local   uint64
	storage bool
	members []uint64
	owned   grid.PartitionSet
}

func newTestMembership(local uint64, storage bool, members ...uint64) *testMembership {
	return &testMembership{
		EventBus: grid.NewEventBus(),
		local:    local,
		storage:  storage,
		members:  members,
		owned:    grid.NewPartitionSet(8),
	}
}

func (m *testMembership) ServiceName() string                      { return "test" }
func (m *testMembership) LocalMemberID() uint64                    { return m.local }
func (m *testMembership) LocalStorageEnabled() bool                { return m.storage }
func (m *testMembership) CurrentMemberIDs() ([]uint64, error)      { return m.members, nil }
func (m *testMembership) OwnedPartitions(uint64) grid.PartitionSet { return m.owned }
func (m *testMembership) PartitionCount() uint32                   { return 8 }

type invocation struct {
	cache      string
	partitions []grid.PartitionID
	processor  *RemoveLocks
}

// recordingCache records AsyncInvokeAll calls.
type recordingCache struct {
	name  string
	calls chan invocation
}

func (c *recordingCache) Name() string           { return c.name }
func (c *recordingCache) PartitionCount() uint32 { return 8 }
func (c *recordingCache) Get(string) ([]byte, bool, error) {
	return nil, false, grid.NewError(grid.RetCUnsupportedOperation, "not supported")
}
func (c *recordingCache) Invoke(string, grid.IEntryProcessor) ([]byte, error) {
	return nil, grid.NewError(grid.RetCUnsupportedOperation, "not supported")
}
func (c *recordingCache) AsyncInvokeAll(partitions grid.PartitionSet, p grid.IEntryProcessor) *grid.Future {
	c.calls <- invocation{cache: c.name, partitions: partitions.Slice(), processor: p.(*RemoveLocks)}
	return grid.CompletedFuture(grid.InvokeStats{Partitions: partitions.Len()}, nil)
}

func newTestCleaner(m grid.IMembership, opts ...CleanerOption) (*LockHolderCleaner, chan invocation) {
	calls := make(chan invocation, 32)
	ex := &recordingCache{name: ExclusiveLocksCache, calls: calls}
	rw := &recordingCache{name: ReadWriteLocksCache, calls: calls}
	return NewLockHolderCleaner(m, ex, rw, opts...), calls
}

// expectDispatch reads the calls of one dispatch, one per lock cache.
func expectDispatch(t *testing.T, calls chan invocation, timeout time.Duration) []invocation {
	t.Helper()
	var out []invocation
	for len(out) < 2 {
		select {
		case inv := <-calls:
			out = append(out, inv)
		case <-time.After(timeout):
			t.Fatalf("timeout waiting for dispatch, got %d of 2 calls", len(out))
		}
	}
	if out[0].cache == out[1].cache {
		t.Errorf("dispatch should cover both lock caches, got %s twice", out[0].cache)
	}
	return out
}

func expectNoDispatch(t *testing.T, calls chan invocation, wait time.Duration) {
	t.Helper()
	select {
	case inv := <-calls:
		t.Errorf("unexpected dispatch %+v", inv)
	case <-time.After(wait):
	}
}

func waitForState(t *testing.T, c *LockHolderCleaner, want CleanerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestCleanerDebounce tests that a burst of arrivals produces exactly one validation pass
func TestCleanerDebounce(t *testing.T) {
	m := newTestMembership(1, true, 1)
	c, calls := newTestCleaner(m, WithDebounce(100*time.Millisecond))
	c.Start()
	defer c.Stop()

	if c.State() != StateIdle {
		t.Fatalf("initial state = %s", c.State())
	}

	m.FirePartitionArrived(1, 8)
	m.FirePartitionArrived(2, 8)
	m.FirePartitionArrived(3, 8)
	if c.State() != StatePending {
		t.Errorf("state after arrivals = %s, want pending", c.State())
	}

	for _, inv := range expectDispatch(t, calls, 2*time.Second) {
		if !reflect.DeepEqual(inv.partitions, []grid.PartitionID{1, 2, 3}) {
			t.Errorf("%s: partitions = %v, want [1 2 3]", inv.cache, inv.partitions)
		}
		if _, ok := inv.processor.MemberID(); ok {
			t.Errorf("%s: expected a validating processor, got %s", inv.cache, inv.processor)
		}
	}
	expectNoDispatch(t, calls, 200*time.Millisecond)
	waitForState(t, c, StateIdle)

	// a later arrival starts a new cycle
	m.FirePartitionArrived(4, 8)
	for _, inv := range expectDispatch(t, calls, 2*time.Second) {
		if !reflect.DeepEqual(inv.partitions, []grid.PartitionID{4}) {
			t.Errorf("%s: partitions = %v, want [4]", inv.cache, inv.partitions)
		}
	}
}

// TestCleanerDefaultDebounce tests the default window of one second
func TestCleanerDefaultDebounce(t *testing.T) {
	m := newTestMembership(1, true, 1)
	c, calls := newTestCleaner(m)
	c.Start()
	defer c.Stop()

	if c.debounce != time.Second {
		t.Fatalf("default debounce = %s", c.debounce)
	}

	start := time.Now()
	c.Enqueue(1, 8)
	c.Enqueue(2, 8)
	c.Enqueue(3, 8)
	inv := expectDispatch(t, calls, 3*time.Second)
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("dispatch after %s, before the debounce window", elapsed)
	}
	if !reflect.DeepEqual(inv[0].partitions, []grid.PartitionID{1, 2, 3}) {
		t.Errorf("partitions = %v", inv[0].partitions)
	}
}

// TestCleanerMemberLeft tests the immediate release of a departed member's locks
func TestCleanerMemberLeft(t *testing.T) {
	m := newTestMembership(1, true, 1, 2)
	m.owned = grid.PartitionSetOf(8, 0, 2, 5)
	c, calls := newTestCleaner(m, WithDebounce(time.Hour))
	c.Start()
	defer c.Stop()

	m.FireMemberLeaving(7)
	expectNoDispatch(t, calls, 50*time.Millisecond)

	m.FireMemberLeft(7)
	for _, inv := range expectDispatch(t, calls, time.Second) {
		if id, ok := inv.processor.MemberID(); !ok || id != 7 {
			t.Errorf("%s: processor = %s, want member 7", inv.cache, inv.processor)
		}
		if !reflect.DeepEqual(inv.partitions, []grid.PartitionID{0, 2, 5}) {
			t.Errorf("%s: partitions = %v, want owned partitions", inv.cache, inv.partitions)
		}
	}
	if c.State() != StateIdle {
		t.Errorf("member left must not start a debounce cycle, state = %s", c.State())
	}
}

// TestCleanerStorageDisabled tests that members without storage do not clean up
func TestCleanerStorageDisabled(t *testing.T) {
	m := newTestMembership(1, false, 1)
	m.owned = grid.PartitionSetOf(8, 1)
	c, calls := newTestCleaner(m)
	c.Start()
	defer c.Stop()

	m.FireMemberJoined(1)
	m.FirePartitionArrived(1, 8)
	m.FireMemberLeft(7)
	expectNoDispatch(t, calls, 50*time.Millisecond)
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

// TestCleanerSubscribesOnLocalJoin tests the arrival subscription on the local join event
func TestCleanerSubscribesOnLocalJoin(t *testing.T) {
	m := newTestMembership(1, true) // not joined yet
	c, _ := newTestCleaner(m, WithDebounce(time.Hour))
	c.Start()
	defer c.Stop()

	m.FirePartitionArrived(1, 8)
	if c.State() != StateIdle {
		t.Fatalf("arrivals before the local join must be ignored")
	}

	m.FireMemberJoined(2) // another member
	m.FirePartitionArrived(1, 8)
	if c.State() != StateIdle {
		t.Fatalf("joins of other members must not subscribe")
	}

	m.FireMemberJoined(1)
	m.FireMemberJoined(1)
	c.mu.Lock()
	subscribed := c.arrivals != nil
	c.mu.Unlock()
	if !subscribed {
		t.Fatalf("local join should subscribe to arrivals")
	}

	m.FirePartitionArrived(1, 8)
	if c.State() != StatePending {
		t.Errorf("state = %s, want pending", c.State())
	}
}

// TestCleanerStop tests that Stop drops pending partitions and ignores further events
func TestCleanerStop(t *testing.T) {
	m := newTestMembership(1, true, 1)
	m.owned = grid.PartitionSetOf(8, 1)
	c, calls := newTestCleaner(m, WithDebounce(50*time.Millisecond))
	c.Start()

	c.Enqueue(1, 8)
	c.Stop()
	c.Stop()

	m.FireMemberLeft(7)
	m.FirePartitionArrived(2, 8)
	c.Enqueue(3, 8)
	expectNoDispatch(t, calls, 150*time.Millisecond)
}
