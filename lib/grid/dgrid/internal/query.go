package internal

import (
	"encoding/binary"
	"fmt"
)

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet QueryType = iota // Retrieve an entry by key.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead
type Query struct {
	Type  QueryType // The type of Query to perform.
	Cache string    // The cache the query refers to.
	Key   string    // The key for the Query.
}

// QueryResult is the result of a QueryTGet operation.
type QueryResult struct {
	Ok    bool
	Value []byte
}

// EncodeStats serializes the statistics of an InvokeAll command as three
// big endian uint32 values: partitions, processed, changed.
func EncodeStats(partitions, processed, changed int) []byte {
	buf := make([]byte, 0, 12)
	buf = binary.BigEndian.AppendUint32(buf, uint32(partitions))
	buf = binary.BigEndian.AppendUint32(buf, uint32(processed))
	return binary.BigEndian.AppendUint32(buf, uint32(changed))
}

// DecodeStats restores statistics encoded with EncodeStats.
func DecodeStats(data []byte) (partitions, processed, changed int, err error) {
	if len(data) != 12 {
		return 0, 0, 0, fmt.Errorf("invalid stats of %d bytes", len(data))
	}
	return int(binary.BigEndian.Uint32(data[0:4])),
		int(binary.BigEndian.Uint32(data[4:8])),
		int(binary.BigEndian.Uint32(data[8:12])),
		nil
}
