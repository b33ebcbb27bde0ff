package lockmgr

import (
	"fmt"
)

// holderKind is the first byte of an encoded lock holder.
type holderKind byte

const (
	kindExclusive holderKind = 1
	kindReadWrite holderKind = 2
)

// lockHolder is the part of both holder types used by the processors.
type lockHolder interface {
	RemoveLocksFor(memberID uint64) bool
	RetainLocksFor(valid MemberSet) bool
	IsEmpty() bool
	MarshalBinary() ([]byte, error)
}

var (
	_ lockHolder = (*ExclusiveLockHolder)(nil)
	_ lockHolder = (*ReadWriteLockHolder)(nil)
)

// decodeHolder restores a holder of either kind from its stored value.
func decodeHolder(data []byte) (lockHolder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty lock holder")
	}
	switch holderKind(data[0]) {
	case kindExclusive:
		h := &ExclusiveLockHolder{}
		return h, h.UnmarshalBinary(data)
	case kindReadWrite:
		h := &ReadWriteLockHolder{}
		return h, h.UnmarshalBinary(data)
	default:
		return nil, fmt.Errorf("unknown lock holder kind %d", data[0])
	}
}

// keepOwner reports whether an owner survives RetainLocksFor.
// Client owners are never cleared by member validation, their liveness is
// tracked through their connection.
func keepOwner(o LockOwner, valid MemberSet) bool {
	return o.Client || valid.Contains(o.MemberID)
}
