package lgrid

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("grid")

// Cluster is one partitioned service shared by the members that joined it.
//
// Thread-safety: All methods are thread-safe.
type Cluster struct {
	name           string
	partitionCount uint32

	mu      sync.Mutex
	members map[uint64]*Member
	owners  []uint64 // partition -> owning member id, 0 if unowned
	closed  bool

	caches *xsync.MapOf[string, *cache]
}

// NewCluster creates an empty cluster for a service with the given number of partitions.
func NewCluster(serviceName string, partitionCount uint32) *Cluster {
	if partitionCount == 0 {
		partitionCount = 1
	}
	return &Cluster{
		name:           serviceName,
		partitionCount: partitionCount,
		members:        make(map[uint64]*Member),
		owners:         make([]uint64, partitionCount),
		caches:         xsync.NewMapOf[string, *cache](),
	}
}

// transfer is a partition that changed its owner during a rebalance.
type transfer struct {
	partition grid.PartitionID
	to        *Member
}

// Join adds a member to the cluster. Member ids must be unique and non-zero.
func (c *Cluster) Join(memberID uint64, storageEnabled bool) (*Member, error) {
	if memberID == 0 {
		return nil, grid.NewError(grid.RetCInvalidOperation, "member id 0 is reserved")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, grid.ErrClosed
	}
	if _, ok := c.members[memberID]; ok {
		c.mu.Unlock()
		return nil, grid.NewError(grid.RetCInvalidOperation, fmt.Sprintf("member %d already joined", memberID))
	}
	m := &Member{
		cluster: c,
		id:      memberID,
		storage: storageEnabled,
		bus:     grid.NewEventBus(),
	}
	c.members[memberID] = m
	listeners := c.memberList()
	moved := c.rebalance()
	c.mu.Unlock()

	log.Infof("member %d joined service %s (storage: %t)", memberID, c.name, storageEnabled)

	for _, l := range listeners {
		l.bus.FireMemberJoined(memberID)
	}
	c.fireArrivals(moved)
	return m, nil
}

// Leave removes a member gracefully: the MemberLeaving notice is delivered
// before the member is removed.
func (c *Cluster) Leave(memberID uint64) error {
	c.mu.Lock()
	if _, ok := c.members[memberID]; !ok {
		c.mu.Unlock()
		return grid.NewError(grid.RetCInvalidOperation, fmt.Sprintf("member %d is not part of the cluster", memberID))
	}
	listeners := c.memberList()
	c.mu.Unlock()

	for _, l := range listeners {
		l.bus.FireMemberLeaving(memberID)
	}
	return c.remove(memberID)
}

// Crash removes a member without the MemberLeaving notice.
func (c *Cluster) Crash(memberID uint64) error {
	return c.remove(memberID)
}

func (c *Cluster) remove(memberID uint64) error {
	c.mu.Lock()
	if _, ok := c.members[memberID]; !ok {
		c.mu.Unlock()
		return grid.NewError(grid.RetCInvalidOperation, fmt.Sprintf("member %d is not part of the cluster", memberID))
	}
	delete(c.members, memberID)
	listeners := c.memberList()
	moved := c.rebalance()
	c.mu.Unlock()

	log.Infof("member %d left service %s", memberID, c.name)

	c.fireArrivals(moved)
	for _, l := range listeners {
		l.bus.FireMemberLeft(memberID)
	}
	return nil
}

// rebalance assigns the partitions round robin to the storage enabled members
// and returns the partitions that moved between two members.
// The caller must hold c.mu.
func (c *Cluster) rebalance() []transfer {
	var storage []uint64
	for id, m := range c.members {
		if m.storage {
			storage = append(storage, id)
		}
	}
	slices.Sort(storage)

	var moved []transfer
	for p := range c.owners {
		var owner uint64
		if len(storage) > 0 {
			owner = storage[p%len(storage)]
		}
		prev := c.owners[p]
		c.owners[p] = owner
		if prev != 0 && owner != 0 && prev != owner {
			moved = append(moved, transfer{partition: grid.PartitionID(p), to: c.members[owner]})
		}
	}
	return moved
}

func (c *Cluster) fireArrivals(moved []transfer) {
	for _, t := range moved {
		t.to.bus.FirePartitionArrived(t.partition, c.partitionCount)
	}
}

// memberList returns the current members sorted by id. The caller must hold c.mu.
func (c *Cluster) memberList() []*Member {
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Member) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// MemberIDs returns the sorted ids of the current members.
func (c *Cluster) MemberIDs() ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, grid.ErrClosed
	}
	ids := make([]uint64, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// OwnedPartitions returns the partitions currently owned by a member.
func (c *Cluster) OwnedPartitions(memberID uint64) grid.PartitionSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := grid.NewPartitionSet(c.partitionCount)
	for p, owner := range c.owners {
		if owner == memberID {
			set.Add(grid.PartitionID(p))
		}
	}
	return set
}

// Owner returns the member owning a partition, 0 if the partition is unowned.
func (c *Cluster) Owner(p grid.PartitionID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint32(p) >= c.partitionCount {
		return 0
	}
	return c.owners[p]
}

// ServiceName returns the name of the service.
func (c *Cluster) ServiceName() string {
	return c.name
}

// PartitionCount returns the number of partitions of the service.
func (c *Cluster) PartitionCount() uint32 {
	return c.partitionCount
}

// Cache returns the cache with the given name, creating it on first use.
func (c *Cluster) Cache(name string) grid.IPartitionedCache {
	cc, _ := c.caches.LoadOrCompute(name, func() *cache {
		return newCache(c, name)
	})
	if c.isClosed() {
		// caches created after Close must not keep workers alive
		cc.close()
	}
	return cc
}

func (c *Cluster) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Stats returns the statistics of a cache. The boolean is false if the cache was never used.
func (c *Cluster) Stats(name string) (CacheStats, bool) {
	cc, ok := c.caches.Load(name)
	if !ok {
		return CacheStats{}, false
	}
	return cc.stats(), true
}

// Close stops the partition workers of all caches. Queued tasks are still executed.
func (c *Cluster) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.caches.Range(func(_ string, cc *cache) bool {
		cc.close()
		return true
	})
}
