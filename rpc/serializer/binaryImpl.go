package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey         byte = 1 << 0
	hasOwnerMember byte = 1 << 1
	hasOwnerID     byte = 1 << 2
	hasOwnerClient byte = 1 << 3
	hasCount       byte = 1 << 4
	hasOk          byte = 1 << 5
	hasErr         byte = 1 << 6
	hasMeta        byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, 2, b.sizeBytes(msg))

	// Write message type, the flags byte is set once all fields are known
	result[0] = byte(msg.MsgType)
	var flags byte

	if msg.Key != "" {
		flags |= hasKey
		result = appendString(result, msg.Key)
	}
	if msg.OwnerMember > 0 {
		flags |= hasOwnerMember
		result = binary.BigEndian.AppendUint64(result, msg.OwnerMember)
	}
	if msg.OwnerID != "" {
		flags |= hasOwnerID
		result = appendString(result, msg.OwnerID)
	}
	// boolean fields are encoded by their flag only
	if msg.OwnerClient {
		flags |= hasOwnerClient
	}
	if msg.Count > 0 {
		flags |= hasCount
		result = binary.BigEndian.AppendUint64(result, msg.Count)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		result = appendString(result, msg.Err)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Meta)))
		result = append(result, msg.Meta...)
	}

	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := data[1]
	r := reader{data: data, pos: 2}

	if flags&hasKey != 0 {
		msg.Key = string(r.bytes("key"))
	}
	if flags&hasOwnerMember != 0 {
		msg.OwnerMember = r.uint64("owner member")
	}
	if flags&hasOwnerID != 0 {
		msg.OwnerID = string(r.bytes("owner id"))
	}
	msg.OwnerClient = flags&hasOwnerClient != 0
	if flags&hasCount != 0 {
		msg.Count = r.uint64("count")
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasErr != 0 {
		msg.Err = string(r.bytes("error"))
	}
	if flags&hasMeta != 0 {
		// Create an empty slice (not nil) if length is 0
		if meta := r.bytes("meta"); meta != nil {
			msg.Meta = append(make([]byte, 0, len(meta)), meta...)
		}
	}
	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.Key != "" {
		size += 4 + len(msg.Key) // 4 bytes for length + key string
	}
	if msg.OwnerMember > 0 {
		size += 8 // uint64
	}
	if msg.OwnerID != "" {
		size += 4 + len(msg.OwnerID)
	}
	if msg.Count > 0 {
		size += 8 // uint64
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta) // 4 bytes for length + meta bytes
	}

	return size
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// reader reads length prefixed fields and keeps the first error.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) uint64(field string) uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// bytes returns a non nil slice of the underlying data, or nil on error.
func (r *reader) bytes(field string) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+4 > len(r.data) {
		r.err = fmt.Errorf("data too short for %s length", field)
		return nil
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s data", field)
		return nil
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b
}
