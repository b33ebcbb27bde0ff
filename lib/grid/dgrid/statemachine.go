package dgrid

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/dgrid/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// partitionData holds the entries of one partition.
type partitionData map[string][]byte

// GridStateMachine is the Dragonboat state machine of one grid service.
// It holds all caches of the service split into partitions and applies entry
// processors proposed through the raft log.
type GridStateMachine struct {
	replicaID      uint64
	shardID        uint64
	partitionCount uint32

	mu     sync.RWMutex
	caches map[string][]partitionData
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create the state machine
// of a grid service with the given partition count.
func CreateStateMachineFactory(partitionCount uint32) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return newStateMachine(shardID, replicaID, partitionCount)
	}
}

func newStateMachine(shardID, replicaID uint64, partitionCount uint32) *GridStateMachine {
	if partitionCount == 0 {
		partitionCount = 1
	}
	return &GridStateMachine{
		replicaID:      replicaID,
		shardID:        shardID,
		partitionCount: partitionCount,
		caches:         make(map[string][]partitionData),
	}
}

// partitions returns the partitions of a cache, creating them on first use.
// The caller must hold the write lock.
func (fsm *GridStateMachine) partitions(cache string) []partitionData {
	parts, ok := fsm.caches[cache]
	if !ok {
		parts = make([]partitionData, fsm.partitionCount)
		for i := range parts {
			parts[i] = make(partitionData)
		}
		fsm.caches[cache] = parts
	}
	return parts
}

// Lookup handles read-only queries.
func (fsm *GridStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, grid.NewError(grid.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	parts := fsm.caches[q.Cache]

	switch q.Type {
	case internal.QueryTGet:
		if parts == nil {
			return internal.QueryResult{}, nil
		}
		val, ok := parts[grid.PartitionFor(q.Key, fsm.partitionCount)][q.Key]
		return internal.QueryResult{
			Value: slices.Clone(val),
			Ok:    ok,
		}, nil
	default:
		return nil, grid.NewError(grid.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update applies the processors of the proposed commands.
// All replicas apply the same commands in the same order and reach the same state.
func (fsm *GridStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes one command. The caller must hold the write lock.
func (fsm *GridStateMachine) apply(data []byte) sm.Result {
	if len(data) == 0 {
		return sm.Result{Value: uint64(grid.RetCInvalidOperation), Data: []byte("empty command ignored")}
	}
	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return sm.Result{Value: uint64(grid.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
	}
	processor, err := grid.DecodeProcessor(cmd.Processor)
	if err != nil {
		return errorResult(err)
	}

	members := func() ([]uint64, error) {
		if cmd.Members == nil {
			return nil, grid.NewError(grid.RetCInvalidOperation, "member ids were not resolved by the proposer")
		}
		return cmd.Members, nil
	}
	parts := fsm.partitions(cmd.Cache)

	switch cmd.Type {
	case internal.CommandTInvoke:
		p := grid.PartitionFor(cmd.Key, fsm.partitionCount)
		res, _, err := applyProcessor(parts[p], p, cmd.Key, processor, members, true)
		if err != nil {
			return errorResult(err)
		}
		return sm.Result{Value: uint64(grid.RetCSuccess), Data: res}

	case internal.CommandTInvokeAll:
		var set grid.PartitionSet
		if err := set.UnmarshalBinary(cmd.Partitions); err != nil {
			return sm.Result{Value: uint64(grid.RetCInvalidOperation), Data: []byte(fmt.Sprintf("invalid partition set: %v", err))}
		}
		var stats grid.InvokeStats
		var firstErr error
		for _, p := range set.Slice() {
			if uint32(p) >= fsm.partitionCount {
				continue
			}
			stats.Partitions++
			// sorted keys keep a failing partition deterministic across replicas
			keys := make([]string, 0, len(parts[p]))
			for k := range parts[p] {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				_, changed, err := applyProcessor(parts[p], p, k, processor, members, false)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					break
				}
				stats.Processed++
				if changed {
					stats.Changed++
				}
			}
		}
		if firstErr != nil {
			return errorResult(firstErr)
		}
		return sm.Result{
			Value: uint64(grid.RetCSuccess),
			Data:  internal.EncodeStats(stats.Partitions, stats.Processed, stats.Changed),
		}

	default:
		return sm.Result{Value: uint64(grid.RetCInvalidOperation), Data: []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type))}
	}
}

func errorResult(err error) sm.Result {
	var gridErr *grid.Error
	if !errors.As(err, &gridErr) {
		gridErr = grid.NewError(grid.RetCProcessorFailed, err.Error())
	}
	return sm.Result{Value: uint64(gridErr.Code), Data: []byte(gridErr.Msg)}
}

// applyProcessor runs a processor against one entry and writes back its changes.
func applyProcessor(part partitionData, p grid.PartitionID, key string, processor grid.IEntryProcessor, members func() ([]uint64, error), allowAbsent bool) ([]byte, bool, error) {
	value, present := part[key]
	if !present && !allowAbsent {
		return nil, false, nil
	}
	e := &entry{key: key, value: value, present: present, partition: p, members: members}
	res, err := processor.Process(e)
	if err != nil {
		return nil, false, err
	}
	switch {
	case e.removed:
		if present {
			delete(part, key)
			return res, true, nil
		}
	case e.dirty:
		part[key] = e.value
		return res, true, nil
	}
	return res, false, nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// PrepareSnapshot copies the state, so updates can continue while the snapshot is written.
func (fsm *GridStateMachine) PrepareSnapshot() (interface{}, error) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	snapshot := make(map[string][]partitionData, len(fsm.caches))
	for name, parts := range fsm.caches {
		copied := make([]partitionData, len(parts))
		for i, p := range parts {
			copied[i] = make(partitionData, len(p))
			for k, v := range p {
				copied[i][k] = v // values are never mutated in place
			}
		}
		snapshot[name] = copied
	}
	return snapshot, nil
}

// SaveSnapshot writes the prepared state with the format:
// 4 bytes partition count, 4 bytes cache count, then per cache (sorted by name):
// name, and per partition the entry count followed by length prefixed keys and values.
func (fsm *GridStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, done <-chan struct{}) error {
	caches, ok := ctx.(map[string][]partitionData)
	if !ok {
		return fmt.Errorf("invalid snapshot context %T", ctx)
	}

	w := bufio.NewWriter(writer)
	var u32 [4]byte
	writeU32 := func(v uint32) error {
		binary.BigEndian.PutUint32(u32[:], v)
		_, err := w.Write(u32[:])
		return err
	}
	writeBytes := func(b []byte) error {
		if err := writeU32(uint32(len(b))); err != nil {
			return err
		}
		_, err := w.Write(b)
		return err
	}

	if err := writeU32(fsm.partitionCount); err != nil {
		return err
	}
	if err := writeU32(uint32(len(caches))); err != nil {
		return err
	}
	names := make([]string, 0, len(caches))
	for name := range caches {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		if err := writeBytes([]byte(name)); err != nil {
			return err
		}
		for _, p := range caches[name] {
			if err := writeU32(uint32(len(p))); err != nil {
				return err
			}
			for k, v := range p {
				if err := writeBytes([]byte(k)); err != nil {
					return err
				}
				if err := writeBytes(v); err != nil {
					return err
				}
			}
		}
	}
	return w.Flush()
}

// RecoverFromSnapshot replaces the state with a snapshot written by SaveSnapshot.
func (fsm *GridStateMachine) RecoverFromSnapshot(reader io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	r := bufio.NewReader(reader)
	var u32 [4]byte
	readU32 := func() (uint32, error) {
		if _, err := io.ReadFull(r, u32[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint32(u32[:]), nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		_, err = io.ReadFull(r, b)
		return b, err
	}

	partitionCount, err := readU32()
	if err != nil {
		return err
	}
	if partitionCount != fsm.partitionCount {
		return fmt.Errorf("snapshot has %d partitions, state machine %d", partitionCount, fsm.partitionCount)
	}
	cacheCount, err := readU32()
	if err != nil {
		return err
	}

	caches := make(map[string][]partitionData, cacheCount)
	for c := uint32(0); c < cacheCount; c++ {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		name, err := readBytes()
		if err != nil {
			return err
		}
		parts := make([]partitionData, partitionCount)
		for i := range parts {
			n, err := readU32()
			if err != nil {
				return err
			}
			parts[i] = make(partitionData, n)
			for j := uint32(0); j < n; j++ {
				k, err := readBytes()
				if err != nil {
					return err
				}
				v, err := readBytes()
				if err != nil {
					return err
				}
				parts[i][string(k)] = v
			}
		}
		caches[string(name)] = parts
	}

	fsm.mu.Lock()
	fsm.caches = caches
	fsm.mu.Unlock()
	return nil
}

// Close performs any necessary cleanup.
func (fsm *GridStateMachine) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// entry implements grid.IEntry for one processor application on a replica.
type entry struct {
	key       string
	value     []byte
	present   bool
	partition grid.PartitionID
	members   func() ([]uint64, error)
	dirty     bool
	removed   bool
}

func (e *entry) Key() string                   { return e.key }
func (e *entry) Value() []byte                 { return e.value }
func (e *entry) Present() bool                 { return e.present }
func (e *entry) PartitionID() grid.PartitionID { return e.partition }
func (e *entry) MemberIDs() ([]uint64, error)  { return e.members() }

func (e *entry) SetValue(value []byte) {
	e.value = slices.Clone(value)
	e.present, e.dirty, e.removed = true, true, false
}

func (e *entry) Remove() {
	e.value = nil
	e.present, e.dirty, e.removed = false, false, true
}
