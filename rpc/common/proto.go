package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key string `json:"key,omitempty"` // Used for: all lock operations and queries

	// Owner fields, used for: lock operations (request), IsLockedBy (request), GetLockOwner (response)
	OwnerMember uint64 `json:"ownerMember,omitempty"`
	OwnerID     string `json:"ownerId,omitempty"`
	OwnerClient bool   `json:"ownerClient,omitempty"`

	// Response only fields
	Count uint64 `json:"count,omitempty"` // Used for: ReadLockCount responses
	Ok    bool   `json:"ok,omitempty"`    // Used for: lock operations and boolean queries
	Err   string `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewOwnerRequest creates a request for a lock operation or query carrying an owner
func NewOwnerRequest(t MessageType, key string, memberID uint64, ownerID string) *Message {
	return &Message{
		MsgType:     t,
		Key:         key,
		OwnerMember: memberID,
		OwnerID:     ownerID,
	}
}

// NewKeyRequest creates a query request that only needs the key
func NewKeyRequest(t MessageType, key string) *Message {
	return &Message{
		MsgType: t,
		Key:     key,
	}
}

// NewBoolResponse creates the response of a lock operation or a boolean query
func NewBoolResponse(t MessageType, ok bool, err error) *Message {
	msg := &Message{
		MsgType: t,
		Ok:      ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewOwnerResponse creates a GetLockOwner response
func NewOwnerResponse(memberID uint64, ownerID string, client, ok bool, err error) *Message {
	msg := &Message{
		MsgType:     MsgTGetLockOwner,
		OwnerMember: memberID,
		OwnerID:     ownerID,
		OwnerClient: client,
		Ok:          ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewCountResponse creates a ReadLockCount response
func NewCountResponse(count int, err error) *Message {
	msg := &Message{
		MsgType: MsgTReadLockCount,
		Count:   uint64(count),
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:       "success",
	MsgTError:         "error",
	MsgTLock:          "lock",
	MsgTUnlock:        "unlock",
	MsgTLockRead:      "lockRead",
	MsgTUnlockRead:    "unlockRead",
	MsgTLockWrite:     "lockWrite",
	MsgTUnlockWrite:   "unlockWrite",
	MsgTIsLocked:      "isLocked",
	MsgTIsLockedBy:    "isLockedBy",
	MsgTGetLockOwner:  "getLockOwner",
	MsgTIsWriteLocked: "isWriteLocked",
	MsgTReadLockCount: "readLockCount",
	MsgTCustom:        "custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// ILockManager operations

	MsgTLock          // Acquire an exclusive lock
	MsgTUnlock        // Release an exclusive lock
	MsgTLockRead      // Acquire a read lock
	MsgTUnlockRead    // Release a read lock
	MsgTLockWrite     // Acquire a write lock
	MsgTUnlockWrite   // Release a write lock
	MsgTIsLocked      // Check if the exclusive lock is held
	MsgTIsLockedBy    // Check if the exclusive lock is held by an owner
	MsgTGetLockOwner  // Get the owner of the exclusive lock
	MsgTIsWriteLocked // Check if the write lock is held
	MsgTReadLockCount // Count the read locks

	// Custom operations

	MsgTCustom // Custom operation type
)
