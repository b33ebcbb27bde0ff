package grid

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// PartitionID identifies a partition of a partitioned service.
type PartitionID uint32

// PartitionFor returns the partition a key belongs to.
// The hash is deterministic across processes, so every member maps a key to the same partition.
func PartitionFor(key string, partitionCount uint32) PartitionID {
	if partitionCount == 0 {
		return 0
	}
	return PartitionID(xxhash.Sum64String(key) % uint64(partitionCount))
}

// --------------------------------------------------------------------------
// Partition Set
// --------------------------------------------------------------------------

// PartitionSet is a set of partition ids sized for the partition count of a service.
// The zero value is an empty set of size 0.
//
// Thread-safety: A PartitionSet is not thread-safe. Sets handed to AsyncInvokeAll
// must not be modified afterward.
type PartitionSet struct {
	count uint32
	bits  *bitset.BitSet
}

// NewPartitionSet creates an empty set for a service with partitionCount partitions.
func NewPartitionSet(partitionCount uint32) PartitionSet {
	return PartitionSet{
		count: partitionCount,
		bits:  bitset.New(uint(partitionCount)),
	}
}

// FullPartitionSet creates a set containing every partition of the service.
func FullPartitionSet(partitionCount uint32) PartitionSet {
	s := NewPartitionSet(partitionCount)
	for p := uint32(0); p < partitionCount; p++ {
		s.bits.Set(uint(p))
	}
	return s
}

// PartitionSetOf creates a set containing the given partitions.
func PartitionSetOf(partitionCount uint32, partitions ...PartitionID) PartitionSet {
	s := NewPartitionSet(partitionCount)
	for _, p := range partitions {
		s.Add(p)
	}
	return s
}

// PartitionCount returns the partition count the set was sized for.
func (s PartitionSet) PartitionCount() uint32 {
	return s.count
}

// Add adds a partition to the set. Ids outside the partition count are ignored.
func (s PartitionSet) Add(p PartitionID) {
	if s.bits == nil || uint32(p) >= s.count {
		return
	}
	s.bits.Set(uint(p))
}

// Contains returns whether the partition is in the set.
func (s PartitionSet) Contains(p PartitionID) bool {
	if s.bits == nil {
		return false
	}
	return s.bits.Test(uint(p))
}

// Len returns the number of partitions in the set.
func (s PartitionSet) Len() int {
	if s.bits == nil {
		return 0
	}
	return int(s.bits.Count())
}

// IsEmpty returns whether the set contains no partitions.
func (s PartitionSet) IsEmpty() bool {
	return s.Len() == 0
}

// Slice returns the partitions of the set in ascending order.
func (s PartitionSet) Slice() []PartitionID {
	if s.bits == nil {
		return nil
	}
	out := make([]PartitionID, 0, s.bits.Count())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		out = append(out, PartitionID(i))
	}
	return out
}

// Clone returns an independent copy of the set.
func (s PartitionSet) Clone() PartitionSet {
	if s.bits == nil {
		return PartitionSet{count: s.count}
	}
	return PartitionSet{count: s.count, bits: s.bits.Clone()}
}

// Union returns a new set containing the partitions of both sets.
func (s PartitionSet) Union(other PartitionSet) PartitionSet {
	out := s.Clone()
	if out.bits == nil {
		out = NewPartitionSet(max(s.count, other.count))
	}
	if other.bits != nil {
		out.bits.InPlaceUnion(other.bits)
	}
	out.count = max(s.count, other.count)
	return out
}

// MarshalBinary encodes the set as partition count followed by the bitset.
func (s PartitionSet) MarshalBinary() ([]byte, error) {
	bits := s.bits
	if bits == nil {
		bits = bitset.New(uint(s.count))
	}
	data, err := bits.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(data))
	out[0] = byte(s.count >> 24)
	out[1] = byte(s.count >> 16)
	out[2] = byte(s.count >> 8)
	out[3] = byte(s.count)
	copy(out[4:], data)
	return out, nil
}

// UnmarshalBinary decodes a set encoded with MarshalBinary.
func (s *PartitionSet) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("data too short for partition set")
	}
	count := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(data[4:]); err != nil {
		return err
	}
	s.count = count
	s.bits = bits
	return nil
}

// String returns the partitions as a compact list, e.g. "[1,2,3]".
func (s PartitionSet) String() string {
	parts := s.Slice()
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprintf("%d", p)
	}
	return "[" + strings.Join(strs, ",") + "]"
}
