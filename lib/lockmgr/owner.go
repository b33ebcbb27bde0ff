package lockmgr

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// LockOwner identifies a distinct lock requester: a (member, thread or connection) pair.
// Owners are compared by MemberID and ID only, the Client flag does not take part.
type LockOwner struct {
	MemberID uint64 `json:"member_id"` // id of the cluster member the requester runs on
	ID       string `json:"id"`        // thread or connection id, unique per member
	Client   bool   `json:"client"`    // true if the requester is a remote client
}

// NewLockOwner creates an owner for a requester running on a cluster member.
func NewLockOwner(memberID uint64, id string) LockOwner {
	return LockOwner{MemberID: memberID, ID: id}
}

// NewClientOwner creates an owner for a remote client connected through a member.
func NewClientOwner(memberID uint64, id string) LockOwner {
	return LockOwner{MemberID: memberID, ID: id, Client: true}
}

// Equal returns whether two owners identify the same requester.
func (o LockOwner) Equal(other LockOwner) bool {
	return o.MemberID == other.MemberID && o.ID == other.ID
}

func (o LockOwner) String() string {
	if o.Client {
		return fmt.Sprintf("client(%d/%s)", o.MemberID, o.ID)
	}
	return fmt.Sprintf("member(%d/%s)", o.MemberID, o.ID)
}

// ownerKey is the comparable identity of an owner, used as map key.
type ownerKey struct {
	member uint64
	id     string
}

func (o LockOwner) key() ownerKey {
	return ownerKey{member: o.MemberID, id: o.ID}
}

// sortOwners orders owners by member id, then id.
func sortOwners(owners []LockOwner) {
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].MemberID != owners[j].MemberID {
			return owners[i].MemberID < owners[j].MemberID
		}
		return owners[i].ID < owners[j].ID
	})
}

// --------------------------------------------------------------------------
// Member Set
// --------------------------------------------------------------------------

// MemberSet is a set of member ids, the argument of RetainLocksFor.
type MemberSet map[uint64]struct{}

// NewMemberSet creates a set containing the given ids.
func NewMemberSet(ids ...uint64) MemberSet {
	s := make(MemberSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains returns whether the id is in the set.
func (s MemberSet) Contains(id uint64) bool {
	_, ok := s[id]
	return ok
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// appendOwner serializes an owner with the format:
// 8 bytes for the member id,
// 1 byte for the client flag,
// 4 bytes for the id length,
// N bytes for the id
func appendOwner(buf []byte, o LockOwner) []byte {
	buf = binary.BigEndian.AppendUint64(buf, o.MemberID)
	if o.Client {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(o.ID)))
	return append(buf, o.ID...)
}

// readOwner reads an owner written by appendOwner and returns the remaining bytes.
func readOwner(data []byte) (LockOwner, []byte, error) {
	if len(data) < 13 {
		return LockOwner{}, nil, fmt.Errorf("data too short for lock owner")
	}
	o := LockOwner{
		MemberID: binary.BigEndian.Uint64(data[0:8]),
		Client:   data[8] == 1,
	}
	idLen := binary.BigEndian.Uint32(data[9:13])
	data = data[13:]
	if uint32(len(data)) < idLen {
		return LockOwner{}, nil, fmt.Errorf("data too short for lock owner id")
	}
	o.ID = string(data[:idLen])
	return o, data[idLen:], nil
}
