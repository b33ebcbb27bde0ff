// Package rpc provides remote access to the distributed lock manager.
// It acts as the communication layer between clients and servers.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions, implemented over HTTP.
//
//   - serializer: Message serialization with two format options (Binary, JSON)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC client implementing the lock manager interface.
//
//   - server: RPC server hosting one lock manager per shard.
package rpc
