package dgrid

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/raftio"
)

const (
	// DefaultPollInterval is the interval in which the shard membership is polled.
	DefaultPollInterval = time.Second
	// DefaultTimeout bounds a single membership read.
	DefaultTimeout = 5 * time.Second
)

// Membership is the grid.IMembership of a raft replicated grid service.
//
// Members are the replicas of the shard. The leader owns all partitions, so
// cleanups run once on the leader and are replicated from there. When the local
// replica becomes leader every partition arrives at the local member.
//
// Membership changes are detected by polling the shard membership. The first
// successful poll reports every replica as joined, the local one included.
//
// The Membership must be registered as RaftEventListener of the NodeHost
// config and be started with the created NodeHost.
//
// Thread-safety: All methods are thread-safe.
type Membership struct {
	serviceName    string
	shardID        uint64
	replicaID      uint64
	partitionCount uint32
	pollInterval   time.Duration
	timeout        time.Duration

	bus *grid.EventBus

	mu      sync.Mutex
	nh      *dragonboat.NodeHost
	known   map[uint64]struct{} // members seen by the last poll, nil before the first
	leader  bool
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

var (
	_ grid.IMembership          = (*Membership)(nil)
	_ raftio.IRaftEventListener = (*Membership)(nil)
)

// NewMembership creates the membership view of the local replica of a grid service.
func NewMembership(serviceName string, shardID, replicaID uint64, partitionCount uint32, pollInterval, timeout time.Duration) *Membership {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Membership{
		serviceName:    serviceName,
		shardID:        shardID,
		replicaID:      replicaID,
		partitionCount: partitionCount,
		pollInterval:   pollInterval,
		timeout:        timeout,
		bus:            grid.NewEventBus(),
		stop:           make(chan struct{}),
	}
}

// Start attaches the NodeHost and starts polling the shard membership.
func (m *Membership) Start(nh *dragonboat.NodeHost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nh != nil || m.stopped {
		return
	}
	m.nh = nh
	m.wg.Add(1)
	go m.poll()
}

// Stop stops polling. Subscriptions stay registered but receive no further events.
func (m *Membership) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Membership) poll() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.refresh()
		select {
		case <-ticker.C:
		case <-m.stop:
			return
		}
	}
}

// refresh reads the shard membership and fires the differences to the last poll.
func (m *Membership) refresh() {
	ids, err := m.CurrentMemberIDs()
	if err != nil {
		log.Debugf("failed to poll members of shard %d: %v", m.shardID, err)
		return
	}

	m.mu.Lock()
	joined, left := diffMembers(m.known, ids)
	m.known = make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		m.known[id] = struct{}{}
	}
	m.mu.Unlock()

	for _, id := range joined {
		log.Infof("replica %d joined service %s", id, m.serviceName)
		m.bus.FireMemberJoined(id)
	}
	for _, id := range left {
		log.Infof("replica %d left service %s", id, m.serviceName)
		m.bus.FireMemberLeft(id)
	}
}

// diffMembers returns the sorted ids present in next but not in prev, and the other way round.
func diffMembers(prev map[uint64]struct{}, next []uint64) (joined, left []uint64) {
	current := make(map[uint64]struct{}, len(next))
	for _, id := range next {
		current[id] = struct{}{}
		if _, ok := prev[id]; !ok {
			joined = append(joined, id)
		}
	}
	for id := range prev {
		if _, ok := current[id]; !ok {
			left = append(left, id)
		}
	}
	slices.Sort(joined)
	slices.Sort(left)
	return joined, left
}

// LeaderUpdated implements raftio.IRaftEventListener. It is called by dragonboat
// whenever the leader of a shard on this node host changes.
func (m *Membership) LeaderUpdated(info raftio.LeaderInfo) {
	if info.ShardID != m.shardID {
		return
	}
	m.mu.Lock()
	wasLeader := m.leader
	m.leader = info.LeaderID == m.replicaID
	becameLeader := m.leader && !wasLeader
	m.mu.Unlock()

	if !becameLeader {
		return
	}
	log.Infof("replica %d became leader of service %s (term %d)", m.replicaID, m.serviceName, info.Term)
	for p := uint32(0); p < m.partitionCount; p++ {
		m.bus.FirePartitionArrived(grid.PartitionID(p), m.partitionCount)
	}
}

// IsLeader returns whether the local replica is the leader of the shard.
func (m *Membership) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader
}

// --------------------------------------------------------------------------
// Interface Methods (docu see grid/interface.go)
// --------------------------------------------------------------------------

func (m *Membership) ServiceName() string {
	return m.serviceName
}

func (m *Membership) LocalMemberID() uint64 {
	return m.replicaID
}

// LocalStorageEnabled is always true, every replica stores the whole service.
func (m *Membership) LocalStorageEnabled() bool {
	return true
}

func (m *Membership) CurrentMemberIDs() ([]uint64, error) {
	m.mu.Lock()
	nh := m.nh
	m.mu.Unlock()
	if nh == nil {
		return nil, grid.NewError(grid.RetCInternalError, "membership not started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return shardMembers(ctx, nh, m.shardID)
}

func (m *Membership) OwnedPartitions(memberID uint64) grid.PartitionSet {
	m.mu.Lock()
	nh := m.nh
	m.mu.Unlock()
	if nh == nil {
		return grid.NewPartitionSet(m.partitionCount)
	}
	leaderID, _, valid, err := nh.GetLeaderID(m.shardID)
	if err != nil || !valid || leaderID != memberID {
		return grid.NewPartitionSet(m.partitionCount)
	}
	return grid.FullPartitionSet(m.partitionCount)
}

func (m *Membership) PartitionCount() uint32 {
	return m.partitionCount
}

func (m *Membership) OnMemberJoined(handler grid.MemberHandler) func() {
	return m.bus.OnMemberJoined(handler)
}

// OnMemberLeaving never fires, replicas are removed without notice.
func (m *Membership) OnMemberLeaving(handler grid.MemberHandler) func() {
	return m.bus.OnMemberLeaving(handler)
}

func (m *Membership) OnMemberLeft(handler grid.MemberHandler) func() {
	return m.bus.OnMemberLeft(handler)
}

func (m *Membership) OnPartitionArrived(handler grid.PartitionHandler) func() {
	return m.bus.OnPartitionArrived(handler)
}
