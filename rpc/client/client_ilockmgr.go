package client

import (
	"github.com/ValentinKolb/dGrid/lib/lockmgr"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/google/uuid"
)

// NewRPCLockMgr creates a new RPC ILockManager
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a lockmgr.ILockManager and an error
func NewRPCLockMgr(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &rpcLockMgr{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// NewOwner creates a client owner with a random connection id. The server
// treats every owner of an rpc request as client owner.
func NewOwner() lockmgr.LockOwner {
	return lockmgr.NewClientOwner(0, uuid.NewString())
}

type rpcLockMgr struct {
	rpcClientAdapter
}

func (i *rpcLockMgr) ownerOp(t common.MessageType, key string, owner lockmgr.LockOwner) (bool, error) {
	req := common.NewOwnerRequest(t, key, owner.MemberID, owner.ID)
	resp, err := invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcLockMgr) keyQuery(t common.MessageType, key string) (*common.Message, error) {
	return invokeRPCRequest(i.shardId, common.NewKeyRequest(t, key), i.transport, i.serializer)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcLockMgr) Lock(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTLock, key, owner)
}

func (i *rpcLockMgr) Unlock(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTUnlock, key, owner)
}

func (i *rpcLockMgr) LockRead(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTLockRead, key, owner)
}

func (i *rpcLockMgr) UnlockRead(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTUnlockRead, key, owner)
}

func (i *rpcLockMgr) LockWrite(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTLockWrite, key, owner)
}

func (i *rpcLockMgr) UnlockWrite(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTUnlockWrite, key, owner)
}

func (i *rpcLockMgr) IsLocked(key string) (bool, error) {
	resp, err := i.keyQuery(common.MsgTIsLocked, key)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcLockMgr) IsLockedBy(key string, owner lockmgr.LockOwner) (bool, error) {
	return i.ownerOp(common.MsgTIsLockedBy, key, owner)
}

func (i *rpcLockMgr) GetLockOwner(key string) (lockmgr.LockOwner, bool, error) {
	resp, err := i.keyQuery(common.MsgTGetLockOwner, key)
	if err != nil || !resp.Ok {
		return lockmgr.LockOwner{}, false, err
	}
	return lockmgr.LockOwner{MemberID: resp.OwnerMember, ID: resp.OwnerID, Client: resp.OwnerClient}, true, nil
}

func (i *rpcLockMgr) IsWriteLocked(key string) (bool, error) {
	resp, err := i.keyQuery(common.MsgTIsWriteLocked, key)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcLockMgr) GetReadLockCount(key string) (int, error) {
	resp, err := i.keyQuery(common.MsgTReadLockCount, key)
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}
