package grid

import (
	"reflect"
	"testing"
)

// TestPartitionFor tests that keys map to a stable partition inside the partition count
func TestPartitionFor(t *testing.T) {
	const count = 257
	for _, key := range []string{"", "a", "lock:1", "some/longer/resource/key"} {
		p := PartitionFor(key, count)
		if uint32(p) >= count {
			t.Errorf("PartitionFor(%q) = %d, outside of %d partitions", key, p, count)
		}
		if again := PartitionFor(key, count); again != p {
			t.Errorf("PartitionFor(%q) not stable: %d != %d", key, p, again)
		}
	}

	if p := PartitionFor("a", 0); p != 0 {
		t.Errorf("PartitionFor with zero partitions = %d, want 0", p)
	}
}

// TestPartitionSet tests the basic set operations
func TestPartitionSet(t *testing.T) {
	s := NewPartitionSet(16)
	if !s.IsEmpty() {
		t.Fatalf("new set should be empty")
	}

	s.Add(3)
	s.Add(1)
	s.Add(3)
	s.Add(99) // outside partition count, ignored

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if !s.Contains(1) || !s.Contains(3) || s.Contains(2) {
		t.Errorf("unexpected membership: %s", s)
	}
	if got := s.Slice(); !reflect.DeepEqual(got, []PartitionID{1, 3}) {
		t.Errorf("Slice() = %v, want [1 3]", got)
	}
	if s.String() != "[1,3]" {
		t.Errorf("String() = %s, want [1,3]", s.String())
	}

	c := s.Clone()
	c.Add(5)
	if s.Contains(5) {
		t.Errorf("modifying a clone changed the original set")
	}

	u := s.Union(PartitionSetOf(16, 7, 1))
	if got := u.Slice(); !reflect.DeepEqual(got, []PartitionID{1, 3, 7}) {
		t.Errorf("Union() = %v, want [1 3 7]", got)
	}

	if full := FullPartitionSet(8); full.Len() != 8 {
		t.Errorf("FullPartitionSet(8).Len() = %d", full.Len())
	}

	var zero PartitionSet
	if zero.Len() != 0 || zero.Contains(0) || zero.Slice() != nil {
		t.Errorf("zero value should behave as an empty set")
	}
}

// TestPartitionSetBinary tests that a set survives encoding
func TestPartitionSetBinary(t *testing.T) {
	s := PartitionSetOf(100, 0, 42, 99)
	data, err := s.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error: %v", err)
	}

	var decoded PartitionSet
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error: %v", err)
	}
	if decoded.PartitionCount() != 100 {
		t.Errorf("PartitionCount() = %d, want 100", decoded.PartitionCount())
	}
	if !reflect.DeepEqual(decoded.Slice(), s.Slice()) {
		t.Errorf("decoded set %s != %s", decoded, s)
	}

	if err := decoded.UnmarshalBinary([]byte{1}); err == nil {
		t.Errorf("expected error for truncated data")
	}
}
