package grid

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IEntry is the view of a single stored entry handed to an IEntryProcessor.
// Changes made through SetValue or Remove are applied by the store after the
// processor returns without error. If neither is called the stored entry is left
// untouched (no write, no change event).
type IEntry interface {
	// Key returns the key of the entry.
	Key() string
	// Value returns the current value, nil if the entry is not present.
	Value() []byte
	// Present returns whether a value is stored for the key.
	Present() bool
	// SetValue replaces the value of the entry.
	SetValue(value []byte)
	// Remove deletes the entry.
	Remove()
	// PartitionID returns the partition the entry belongs to.
	PartitionID() PartitionID
	// MemberIDs returns the ids of the current members of the service owning the entry.
	MemberIDs() ([]uint64, error)
}

// IEntryProcessor is a mutation function shipped to and executed beside the data.
// Implementations must not carry state beyond their constructor parameters and
// must not reach across entries.
type IEntryProcessor interface {
	// Type returns the registered processor type (see RegisterProcessor).
	Type() ProcessorType
	// Process applies the processor to one entry and returns an optional result.
	Process(entry IEntry) (result []byte, err error)
	// MarshalBinary encodes the constructor parameters of the processor.
	MarshalBinary() ([]byte, error)
}

// IMembershipReader is implemented by processors that read the member ids of
// the service (IEntry.MemberIDs). Replicated stores use it to decide whether the
// member set has to be resolved before the processor is shipped.
type IMembershipReader interface {
	ReadsMembership() bool
}

// IPartitionedCache is a named cache whose key space is split into partitions.
// All write operations go through entry processors.
type IPartitionedCache interface {
	// Name returns the name of the cache.
	Name() string
	// PartitionCount returns the number of partitions of the owning service.
	PartitionCount() uint32
	// Get returns the value for a key. The boolean indicates whether a value was found.
	Get(key string) (value []byte, ok bool, err error)
	// Invoke applies a processor to the entry of a key and returns its result.
	// The call blocks until the processor was applied.
	Invoke(key string, processor IEntryProcessor) (result []byte, err error)
	// AsyncInvokeAll applies a processor to every present entry of the given partitions.
	// The call does not block. Failures are reported through the returned Future.
	AsyncInvokeAll(partitions PartitionSet, processor IEntryProcessor) *Future
}

// MemberHandler is called with the id of the member an event refers to.
type MemberHandler func(memberID uint64)

// PartitionHandler is called with the id of a partition that arrived at the local
// member and the total partition count of the service.
type PartitionHandler func(partitionID PartitionID, partitionCount uint32)

// IMembership describes one partitioned service from the viewpoint of the local member.
type IMembership interface {
	// ServiceName returns the name of the partitioned service.
	ServiceName() string
	// LocalMemberID returns the id of the local member.
	LocalMemberID() uint64
	// LocalStorageEnabled returns whether the local member stores partitions.
	LocalStorageEnabled() bool
	// CurrentMemberIDs returns the ids of all current members of the service.
	CurrentMemberIDs() ([]uint64, error)
	// OwnedPartitions returns the partitions currently owned by a member.
	OwnedPartitions(memberID uint64) PartitionSet
	// PartitionCount returns the number of partitions of the service.
	PartitionCount() uint32

	// OnMemberJoined subscribes to member joined events. The returned function unsubscribes.
	OnMemberJoined(handler MemberHandler) (unsubscribe func())
	// OnMemberLeaving subscribes to pre-departure notices.
	OnMemberLeaving(handler MemberHandler) (unsubscribe func())
	// OnMemberLeft subscribes to confirmed departures.
	OnMemberLeft(handler MemberHandler) (unsubscribe func())
	// OnPartitionArrived subscribes to partitions transferred to the local member.
	OnPartitionArrived(handler PartitionHandler) (unsubscribe func())
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// ErrClosed is returned by operations on a grid that was closed.
var ErrClosed = errors.New("grid: closed")

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("GridError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new grid error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the grid.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCUnknownProcessor                    // 4: Processor type is not registered.
	RetCProcessorFailed                     // 5: The processor returned an error.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCUnknownProcessor:
		return "UnknownProcessor"
	case RetCProcessorFailed:
		return "ProcessorFailed"
	default:
		return "Unknown"
	}
}
