// Package internal provides the communication protocol structures and serialization
// logic for the dgrid package. It defines the wire format of the operations proposed
// to the raft shard of a grid service and the queries answered by its state machine.
//
// This package is intended for internal use by the dgrid implementation and should
// not be imported directly by external code.
//
//   - Command System: write operations (Invoke, InvokeAll) carrying a serialized entry
//     processor. Commands are proposed to the raft shard and applied by every replica.
//   - Query System: read operations (Get) executed locally on the state machine,
//     queries are not serialized.
//
// Command Format:
//
//   - 1 byte: Command type (Invoke, InvokeAll)
//   - 4 bytes + N bytes: cache name
//   - 4 bytes + N bytes: key (empty for InvokeAll)
//   - 4 bytes + N bytes: partition set (empty for Invoke)
//   - 1 byte: members flag, 1 if the member ids were resolved by the proposer
//   - 4 bytes + 8 bytes per member: member ids
//   - M bytes: processor (grid.EncodeProcessor), the rest of the command
//
// Determinism:
//
//	Processors that read the member ids of the service get them from the command,
//	never from the replica. All replicas therefore evaluate a processor against
//	the same member set.
package internal
