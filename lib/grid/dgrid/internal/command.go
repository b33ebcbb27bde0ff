package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTInvoke    CommandType = iota // Apply a processor to the entry of one key.
	CommandTInvokeAll                    // Apply a processor to all present entries of a partition set.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTInvoke:
		return "Invoke"
	case CommandTInvokeAll:
		return "InvokeAll"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type       CommandType
	Cache      string
	Key        string
	Partitions []byte   // encoded grid.PartitionSet
	Members    []uint64 // nil if not resolved
	Processor  []byte   // encoded grid.IEntryProcessor
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (c *Command) SizeBytes() int {
	return 1 + 4 + len(c.Cache) + 4 + len(c.Key) + 4 + len(c.Partitions) + 1 + 4 + 8*len(c.Members) + len(c.Processor)
}

// Serialize serializes a command into a byte array (format see package doc).
func (c *Command) Serialize() []byte {
	buf := make([]byte, 0, c.SizeBytes())
	buf = append(buf, byte(c.Type))
	buf = appendBytes(buf, []byte(c.Cache))
	buf = appendBytes(buf, []byte(c.Key))
	buf = appendBytes(buf, c.Partitions)
	if c.Members != nil {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Members)))
	for _, id := range c.Members {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return append(buf, c.Processor...)
}

// Deserialize extracts all Command fields from a byte array.
func (c *Command) Deserialize(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("data too short for command")
	}
	c.Type = CommandType(data[0])
	rest := data[1:]

	var field []byte
	var err error
	if field, rest, err = readBytes(rest, "cache"); err != nil {
		return err
	}
	c.Cache = string(field)
	if field, rest, err = readBytes(rest, "key"); err != nil {
		return err
	}
	c.Key = string(field)
	if field, rest, err = readBytes(rest, "partitions"); err != nil {
		return err
	}
	c.Partitions = nil
	if len(field) > 0 {
		c.Partitions = append([]byte(nil), field...)
	}

	if len(rest) < 5 {
		return fmt.Errorf("data too short for members")
	}
	resolved := rest[0] == 1
	count := binary.BigEndian.Uint32(rest[1:5])
	rest = rest[5:]
	if uint64(len(rest)) < 8*uint64(count) {
		return fmt.Errorf("data too short for %d members", count)
	}
	c.Members = nil
	if resolved {
		c.Members = make([]uint64, count)
		for i := range c.Members {
			c.Members[i] = binary.BigEndian.Uint64(rest[8*i:])
		}
	}
	rest = rest[8*count:]

	c.Processor = append([]byte(nil), rest...)
	return nil
}

// appendBytes appends a 4 byte length (big endian) followed by the data.
func appendBytes(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// readBytes reads a field written by appendBytes and returns the remaining bytes.
func readBytes(data []byte, name string) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("data too short for %s length", name)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("data too short for %s of length %d", name, n)
	}
	return data[:n], data[n:], nil
}
