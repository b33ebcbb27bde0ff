package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/dgrid"
	"github.com/ValentinKolb/dGrid/lib/grid/lgrid"
	"github.com/ValentinKolb/dGrid/lib/lockmgr"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/lni/dragonboat/v4/raftio"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the lock manager it encapsulates, the adapter that handles
// requests for it and the cleaner releasing the locks of departed members
type serverShard struct {
	Locks   lockmgr.ILockManager
	Adapter IRPCServerAdapter
	cleaner *lockmgr.LockHolderCleaner
	close   func()
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := rpc.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())

	return &rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	nodeHost   *dragonboat.NodeHost
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		shard, ok := s.shards.Load(shardId)
		if !ok {
			respMsg = *common.NewErrorResponse("shard not found")
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = *common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			respMsg = *shard.Adapter.Handle(&msg, shard.Locks)
		}

		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// leaderListeners forwards the leader changes of the node host to the membership of every remote shard
type leaderListeners []raftio.IRaftEventListener

func (l leaderListeners) LeaderUpdated(info raftio.LeaderInfo) {
	for _, listener := range l {
		listener.LeaderUpdated(info)
	}
}

// localMemberID is the id of this server in local grids
func (s *rpcServer) localMemberID() uint64 {
	if s.config.ReplicaID != 0 {
		return s.config.ReplicaID
	}
	return 1
}

// newShard creates the lock manager of a shard and starts its cleaner
func (s *rpcServer) newShard(membership grid.IMembership, exclusive, readWrite grid.IPartitionedCache, closeGrid func()) serverShard {
	cleaner := lockmgr.NewLockHolderCleaner(membership, exclusive, readWrite, lockmgr.WithDebounce(s.config.CleanupDebounce()))
	cleaner.Start()
	return serverShard{
		Locks:   lockmgr.NewLockManager(exclusive, readWrite),
		Adapter: NewLockManagerServerAdapter(),
		cleaner: cleaner,
		close:   closeGrid,
	}
}

func (s *rpcServer) init() error {
	common.InitLoggers(s.config)

	if s.config.PartitionCount == 0 {
		return fmt.Errorf("partition count must be positive")
	}

	/*
		Note: A single RPC Server can serve any number of local and remote shards.
		Remote shards need their membership before the node host is created, since
		it is registered as raft event listener of the node host.
	*/

	memberships := make(map[uint64]*dgrid.Membership)
	var listeners leaderListeners
	for _, shardConfig := range s.config.Shards {
		if shardConfig.Type != common.ShardTypeRemoteLockManager {
			continue
		}
		m := dgrid.NewMembership(
			fmt.Sprintf("locks-%d", shardConfig.ShardID),
			shardConfig.ShardID,
			s.config.ReplicaID,
			s.config.PartitionCount,
			s.config.MembershipPollInterval(),
			s.config.Timeout(),
		)
		memberships[shardConfig.ShardID] = m
		listeners = append(listeners, m)
	}

	if len(memberships) > 0 {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig(listeners))
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	for _, shardConfig := range s.config.Shards {
		shardID := shardConfig.ShardID
		switch shardConfig.Type {
		case common.ShardTypeLocalLockManager:
			cluster := lgrid.NewCluster(fmt.Sprintf("locks-%d", shardID), s.config.PartitionCount)
			member, err := cluster.Join(s.localMemberID(), true)
			if err != nil {
				cluster.Close()
				return fmt.Errorf("failed to join local grid of shard %d: %w", shardID, err)
			}
			s.shards.Store(shardID, s.newShard(member,
				member.Cache(lockmgr.ExclusiveLocksCache),
				member.Cache(lockmgr.ReadWriteLocksCache),
				cluster.Close,
			))
			Logger.Infof("created local lock manager for shard %d", shardID)

		case common.ShardTypeRemoteLockManager:
			// the cleaner subscribes before the replica starts, so the first leader election is observed
			m := memberships[shardID]
			s.shards.Store(shardID, s.newShard(m,
				dgrid.NewCache(s.nodeHost, shardID, lockmgr.ExclusiveLocksCache, s.config.PartitionCount, s.config.Timeout()),
				dgrid.NewCache(s.nodeHost, shardID, lockmgr.ReadWriteLocksCache, s.config.PartitionCount, s.config.Timeout()),
				m.Stop,
			))
			m.Start(s.nodeHost)
			factory := dgrid.CreateStateMachineFactory(s.config.PartitionCount)
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, factory, s.config.ToDragonboatConfig(shardID)); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardID, err)
			}
			Logger.Infof("created remote lock manager for shard %d", shardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}

	Logger.Infof("dGrid setup completed successfully")

	s.registerTransportHandler()
	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		s.Stop()
		return err
	}
	return s.transport.Listen(s.config)
}

// Stop stops the cleaners and grids of all shards and closes the node host
func (s *rpcServer) Stop() {
	var wg sync.WaitGroup
	s.shards.Range(func(id uint64, shard serverShard) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shard.cleaner.Stop()
			shard.close()
		}()
		s.shards.Delete(id)
		return true
	})
	wg.Wait()
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
}
