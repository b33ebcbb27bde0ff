package grid

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ProcessorType identifies a registered entry processor implementation.
type ProcessorType uint8

// ProcessorFactory decodes a processor from the bytes produced by its MarshalBinary method.
type ProcessorFactory func(data []byte) (IEntryProcessor, error)

var processors = xsync.NewMapOf[ProcessorType, ProcessorFactory]()

// RegisterProcessor registers the factory for a processor type.
// Packages defining processors call this from an init function.
// Registering the same type twice panics.
func RegisterProcessor(t ProcessorType, factory ProcessorFactory) {
	if _, loaded := processors.LoadOrStore(t, factory); loaded {
		panic(fmt.Sprintf("grid: processor type %d registered twice", t))
	}
}

// EncodeProcessor serializes a processor with the format:
// 1 byte for the processor type,
// N bytes for the processor payload
func EncodeProcessor(p IEntryProcessor) ([]byte, error) {
	payload, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(payload))
	out[0] = byte(p.Type())
	copy(out[1:], payload)
	return out, nil
}

// DecodeProcessor restores a processor serialized with EncodeProcessor.
func DecodeProcessor(data []byte) (IEntryProcessor, error) {
	if len(data) < 1 {
		return nil, NewError(RetCInvalidOperation, "empty processor")
	}
	factory, ok := processors.Load(ProcessorType(data[0]))
	if !ok {
		return nil, NewError(RetCUnknownProcessor, fmt.Sprintf("unknown processor type %d", data[0]))
	}
	return factory(data[1:])
}

// ReadsMembership returns whether a processor reads the member ids of its service.
func ReadsMembership(p IEntryProcessor) bool {
	r, ok := p.(IMembershipReader)
	return ok && r.ReadsMembership()
}
