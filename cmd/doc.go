// Package cmd implements the command-line interface of the dGrid lock manager.
// It provides operations for running the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - lock: Commands for lock operations (acquire, release, read and write locks, status)
//   - serve: Commands for starting and configuring the dGrid server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dgrid -help for a list of all commands.
package cmd
