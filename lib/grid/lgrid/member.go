package lgrid

import (
	"slices"

	"github.com/ValentinKolb/dGrid/lib/grid"
)

// Member is the view of the cluster from one of its members.
type Member struct {
	cluster *Cluster
	id      uint64
	storage bool
	bus     *grid.EventBus
}

var _ grid.IMembership = (*Member)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see grid/interface.go)
// --------------------------------------------------------------------------

func (m *Member) ServiceName() string {
	return m.cluster.name
}

func (m *Member) LocalMemberID() uint64 {
	return m.id
}

func (m *Member) LocalStorageEnabled() bool {
	return m.storage
}

func (m *Member) CurrentMemberIDs() ([]uint64, error) {
	return m.cluster.MemberIDs()
}

func (m *Member) OwnedPartitions(memberID uint64) grid.PartitionSet {
	return m.cluster.OwnedPartitions(memberID)
}

func (m *Member) PartitionCount() uint32 {
	return m.cluster.partitionCount
}

func (m *Member) OnMemberJoined(handler grid.MemberHandler) func() {
	return m.bus.OnMemberJoined(handler)
}

func (m *Member) OnMemberLeaving(handler grid.MemberHandler) func() {
	return m.bus.OnMemberLeaving(handler)
}

func (m *Member) OnMemberLeft(handler grid.MemberHandler) func() {
	return m.bus.OnMemberLeft(handler)
}

func (m *Member) OnPartitionArrived(handler grid.PartitionHandler) func() {
	return m.bus.OnPartitionArrived(handler)
}

// --------------------------------------------------------------------------
// Member specific methods
// --------------------------------------------------------------------------

// Cache returns the shared cache with the given name.
func (m *Member) Cache(name string) grid.IPartitionedCache {
	return m.cluster.Cache(name)
}

// IsMember returns whether the member is still part of the cluster.
func (m *Member) IsMember() bool {
	ids, err := m.cluster.MemberIDs()
	return err == nil && slices.Contains(ids, m.id)
}

// Leave removes the member gracefully from its cluster.
func (m *Member) Leave() error {
	return m.cluster.Leave(m.id)
}
