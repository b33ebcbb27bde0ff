package lockmgr

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

// DefaultDebounce is the time partition arrivals are collected before one validation pass is dispatched.
const DefaultDebounce = time.Second

// CleanerState is the state of the debounce cycle of a LockHolderCleaner.
type CleanerState int

const (
	StateIdle     CleanerState = iota // no partitions pending
	StatePending                      // partitions collected, debounce timer running
	StateDraining                     // timer fired, validation pass being dispatched
)

func (s CleanerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("CleanerState(%d)", int(s))
	}
}

const (
	cleanupMemberLeft   = "member_left"
	cleanupValidateAll  = "validate_all"
	cleanupPartitionsMx = "dgrid_lock_cleanup_partitions"
)

// CleanerOption configures a LockHolderCleaner.
type CleanerOption func(*LockHolderCleaner)

// WithDebounce sets the debounce window for partition arrivals.
func WithDebounce(d time.Duration) CleanerOption {
	return func(c *LockHolderCleaner) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// LockHolderCleaner keeps the lock caches consistent with the membership of the service.
//
//   - MemberLeft: the locks of the departed member are released at once in all
//     partitions owned by the local member (storage enabled members only).
//   - PartitionArrived: arrived partitions are collected for the debounce window,
//     then one validation pass releases every lock of a member that is no longer
//     part of the service. Arrivals during a running window join that window,
//     arrivals after the window closed start a new one.
//   - MemberLeaving: ignored, only confirmed departures trigger a cleanup.
//
// Dispatches are fire and forget. Failures are logged and healed by the next
// membership event, there is no retry.
//
// Thread-safety: All methods are thread-safe.
type LockHolderCleaner struct {
	membership grid.IMembership
	caches     []grid.IPartitionedCache
	debounce   time.Duration

	mu          sync.Mutex
	pending     grid.PartitionSet
	hasPending  bool // a debounce worker owns the pending set
	dispatching int
	subs        []func()
	arrivals    func() // unsubscribe of the arrival subscription, nil until subscribed
	started     bool
	stopped     bool
	stop        chan struct{}
	workers     sync.WaitGroup
}

// NewLockHolderCleaner creates a cleaner for the lock caches of one service.
// Events are not processed before Start is called.
func NewLockHolderCleaner(membership grid.IMembership, exclusive, readWrite grid.IPartitionedCache, opts ...CleanerOption) *LockHolderCleaner {
	c := &LockHolderCleaner{
		membership: membership,
		caches:     []grid.IPartitionedCache{exclusive, readWrite},
		debounce:   DefaultDebounce,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the membership events. If the local member already joined
// with storage enabled the arrival subscription is made at once.
func (c *LockHolderCleaner) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	subs := []func(){
		c.membership.OnMemberJoined(c.onMemberJoined),
		c.membership.OnMemberLeaving(c.onMemberLeaving),
		c.membership.OnMemberLeft(c.onMemberLeft),
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		for _, unsubscribe := range subs {
			unsubscribe()
		}
		return
	}
	c.subs = append(c.subs, subs...)
	c.mu.Unlock()

	if c.membership.LocalStorageEnabled() {
		ids, err := c.membership.CurrentMemberIDs()
		if err != nil {
			log.Warningf("failed to read members of service %s: %v", c.membership.ServiceName(), err)
			return
		}
		if slices.Contains(ids, c.membership.LocalMemberID()) {
			c.subscribeArrivals()
		}
	}
}

// Stop removes all subscriptions and waits for a debounce worker. Partitions
// still pending are dropped.
func (c *LockHolderCleaner) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	subs := c.subs
	if c.arrivals != nil {
		subs = append(subs, c.arrivals)
	}
	c.subs, c.arrivals = nil, nil
	c.pending, c.hasPending = grid.PartitionSet{}, false
	close(c.stop)
	c.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	c.workers.Wait()
}

// State returns the current state of the debounce cycle.
func (c *LockHolderCleaner) State() CleanerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.hasPending:
		return StatePending
	case c.dispatching > 0:
		return StateDraining
	default:
		return StateIdle
	}
}

// --------------------------------------------------------------------------
// Event handlers
// --------------------------------------------------------------------------

func (c *LockHolderCleaner) onMemberJoined(memberID uint64) {
	if memberID == c.membership.LocalMemberID() && c.membership.LocalStorageEnabled() {
		c.subscribeArrivals()
	}
}

func (c *LockHolderCleaner) onMemberLeaving(memberID uint64) {
	log.Debugf("member %d is leaving service %s, waiting for its departure", memberID, c.membership.ServiceName())
}

func (c *LockHolderCleaner) onMemberLeft(memberID uint64) {
	if !c.membership.LocalStorageEnabled() {
		return
	}
	owned := c.membership.OwnedPartitions(c.membership.LocalMemberID())
	if owned.IsEmpty() {
		return
	}
	log.Infof("member %d left service %s, releasing its locks in %d partitions", memberID, c.membership.ServiceName(), owned.Len())
	c.dispatch(NewRemoveLocks(memberID), owned, cleanupMemberLeft)
}

// subscribeArrivals subscribes to partition arrivals once.
func (c *LockHolderCleaner) subscribeArrivals() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arrivals != nil || c.stopped {
		return
	}
	c.arrivals = c.membership.OnPartitionArrived(c.Enqueue)
}

// --------------------------------------------------------------------------
// Debounce cycle
// --------------------------------------------------------------------------

// Enqueue adds an arrived partition to the pending set. The first partition of a
// cycle allocates the set and starts the debounce worker.
func (c *LockHolderCleaner) Enqueue(partitionID grid.PartitionID, partitionCount uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if !c.hasPending {
		c.pending = grid.NewPartitionSet(partitionCount)
		c.hasPending = true
		c.workers.Add(1)
		go c.drainAfterDebounce()
	}
	c.pending.Add(partitionID)
}

// drainAfterDebounce waits for the debounce window, takes the pending set and
// dispatches one validation pass for it.
func (c *LockHolderCleaner) drainAfterDebounce() {
	defer c.workers.Done()

	timer := time.NewTimer(c.debounce)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.stop:
		return
	}

	c.mu.Lock()
	partitions := c.pending
	c.pending = grid.PartitionSet{}
	c.hasPending = false
	c.dispatching++
	c.mu.Unlock()

	log.Debugf("validating locks of arrived partitions %s", partitions)
	c.dispatch(NewValidateLocks(), partitions, cleanupValidateAll)

	c.mu.Lock()
	c.dispatching--
	c.mu.Unlock()
}

// dispatch applies the processor to the partitions of both lock caches without waiting.
func (c *LockHolderCleaner) dispatch(p *RemoveLocks, partitions grid.PartitionSet, kind string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dgrid_lock_cleanup_total{kind=%q}`, kind)).Inc()
	metrics.GetOrCreateHistogram(cleanupPartitionsMx).Update(float64(partitions.Len()))

	for _, cache := range c.caches {
		name := cache.Name()
		cache.AsyncInvokeAll(partitions, p).OnComplete(func(stats grid.InvokeStats, err error) {
			if err != nil {
				log.Warningf("%s on cache %s failed: %v", p, name, err)
				return
			}
			log.Debugf("%s on cache %s: %d partitions, %d entries, %d changed", p, name, stats.Partitions, stats.Processed, stats.Changed)
		})
	}
}
