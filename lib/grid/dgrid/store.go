package dgrid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/dgrid/internal"
	"github.com/avast/retry-go/v5"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries uint = 5
	log          = logger.GetLogger("grid")
)

// cacheImpl is the concrete implementation of grid.IPartitionedCache for a raft shard.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type cacheImpl struct {
	nh             *dragonboat.NodeHost
	shardID        uint64
	cs             *client.Session
	name           string
	partitionCount uint32
	timeout        time.Duration
}

// NewCache returns the cache with the given name of the grid service replicated by a raft shard.
// The partition count must match the one the state machine of the shard was created with.
func NewCache(nh *dragonboat.NodeHost, shardID uint64, name string, partitionCount uint32, timeout time.Duration) grid.IPartitionedCache {
	return &cacheImpl{
		nh:             nh,
		shardID:        shardID,
		cs:             nh.GetNoOPSession(shardID),
		name:           name,
		partitionCount: partitionCount,
		timeout:        timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

func isBusy(err error) bool {
	return errors.Is(err, dragonboat.ErrSystemBusy)
}

// retryOptions retries operations rejected because the node host is busy.
func (s *cacheImpl) retryOptions(op string) []retry.Option {
	return []retry.Option{
		retry.Attempts(retries),
		retry.Delay(s.timeout / 10),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isBusy),
		retry.OnRetry(func(n uint, err error) {
			log.Infof("%s: System busy, retrying (%d/%d)...", op, n+1, retries)
		}),
	}
}

// write proposes a command and converts a failed result into a *grid.Error.
func (s *cacheImpl) write(cmd internal.Command) ([]byte, error) {
	data := cmd.Serialize()
	res, err := retry.NewWithData[sm.Result](s.retryOptions("SyncPropose")...).Do(func() (sm.Result, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return s.nh.SyncPropose(ctx, s.cs, data)
	})
	if err != nil {
		return nil, grid.NewError(grid.RetCInternalError, err.Error())
	}
	if res.Value != uint64(grid.RetCSuccess) {
		return nil, grid.NewError(grid.RetCode(res.Value), string(res.Data))
	}
	return res.Data, nil
}

// read queries the state machine with SyncRead and converts the response into the expected type R.
func read[R any](s *cacheImpl, q internal.Query) (R, error) {
	var zero R
	res, err := retry.NewWithData[interface{}](s.retryOptions("SyncRead")...).Do(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return s.nh.SyncRead(ctx, s.shardID, q)
	})
	if err != nil {
		var gridErr *grid.Error
		if errors.As(err, &gridErr) {
			return zero, gridErr
		}
		return zero, grid.NewError(grid.RetCInternalError, err.Error())
	}
	casted, ok := res.(R)
	if !ok {
		return zero, grid.NewError(grid.RetCInternalError, fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
	}
	return casted, nil
}

// resolveMembers returns the member ids embedded in a command. Only processors
// reading the membership need them, all others get nil.
func (s *cacheImpl) resolveMembers(p grid.IEntryProcessor) ([]uint64, error) {
	if !grid.ReadsMembership(p) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return shardMembers(ctx, s.nh, s.shardID)
}

func (s *cacheImpl) command(t internal.CommandType, p grid.IEntryProcessor) (internal.Command, error) {
	processor, err := grid.EncodeProcessor(p)
	if err != nil {
		return internal.Command{}, grid.NewError(grid.RetCInvalidOperation, err.Error())
	}
	members, err := s.resolveMembers(p)
	if err != nil {
		return internal.Command{}, grid.NewError(grid.RetCInternalError, fmt.Sprintf("failed to resolve members: %v", err))
	}
	return internal.Command{
		Type:      t,
		Cache:     s.name,
		Members:   members,
		Processor: processor,
	}, nil
}

// shardMembers returns the sorted replica ids of a shard.
func shardMembers(ctx context.Context, nh *dragonboat.NodeHost, shardID uint64) ([]uint64, error) {
	membership, err := nh.SyncGetShardMembership(ctx, shardID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(membership.Nodes))
	for id := range membership.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see grid/interface.go)
// --------------------------------------------------------------------------

func (s *cacheImpl) Name() string {
	return s.name
}

func (s *cacheImpl) PartitionCount() uint32 {
	return s.partitionCount
}

func (s *cacheImpl) Get(key string) ([]byte, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type:  internal.QueryTGet,
		Cache: s.name,
		Key:   key,
	})
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *cacheImpl) Invoke(key string, p grid.IEntryProcessor) ([]byte, error) {
	cmd, err := s.command(internal.CommandTInvoke, p)
	if err != nil {
		return nil, err
	}
	cmd.Key = key
	return s.write(cmd)
}

func (s *cacheImpl) AsyncInvokeAll(partitions grid.PartitionSet, p grid.IEntryProcessor) *grid.Future {
	if partitions.IsEmpty() {
		return grid.CompletedFuture(grid.InvokeStats{}, nil)
	}
	future := grid.NewFuture()

	go func() {
		cmd, err := s.command(internal.CommandTInvokeAll, p)
		if err != nil {
			future.Complete(grid.InvokeStats{}, err)
			return
		}
		if cmd.Partitions, err = partitions.MarshalBinary(); err != nil {
			future.Complete(grid.InvokeStats{}, grid.NewError(grid.RetCInvalidOperation, err.Error()))
			return
		}

		data, err := s.write(cmd)
		if err != nil {
			future.Complete(grid.InvokeStats{}, err)
			return
		}
		parts, processed, changed, err := internal.DecodeStats(data)
		if err != nil {
			future.Complete(grid.InvokeStats{}, grid.NewError(grid.RetCInternalError, err.Error()))
			return
		}
		future.Complete(grid.InvokeStats{Partitions: parts, Processed: processed, Changed: changed}, nil)
	}()

	return future
}
