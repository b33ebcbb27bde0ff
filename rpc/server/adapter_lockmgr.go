package server

import (
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/lockmgr"
	"github.com/ValentinKolb/dGrid/rpc/common"
)

func NewLockManagerServerAdapter() IRPCServerAdapter {
	return &lockMgrServerAdapter{}
}

type lockMgrServerAdapter struct{}

// owner converts the owner of a request. Requests arriving through the rpc api
// always act for client owners, these survive the departure of cluster members.
func owner(req *common.Message) (lockmgr.LockOwner, error) {
	if req.OwnerID == "" {
		return lockmgr.LockOwner{}, fmt.Errorf("%s request without owner id", req.MsgType)
	}
	return lockmgr.NewClientOwner(req.OwnerMember, req.OwnerID), nil
}

func (adapter *lockMgrServerAdapter) Handle(req *common.Message, locks lockmgr.ILockManager) (resp *common.Message) {
	// Check for nil lock manager
	if locks == nil {
		return common.NewErrorResponse("handler: lock manager is nil")
	}

	// operations acting for an owner
	var op func(string, lockmgr.LockOwner) (bool, error)
	switch req.MsgType {
	case common.MsgTLock:
		op = locks.Lock
	case common.MsgTUnlock:
		op = locks.Unlock
	case common.MsgTLockRead:
		op = locks.LockRead
	case common.MsgTUnlockRead:
		op = locks.UnlockRead
	case common.MsgTLockWrite:
		op = locks.LockWrite
	case common.MsgTUnlockWrite:
		op = locks.UnlockWrite
	case common.MsgTIsLockedBy:
		op = locks.IsLockedBy
	}
	if op != nil {
		o, err := owner(req)
		if err != nil {
			return common.NewErrorResponse(err.Error())
		}
		ok, err := op(req.Key, o)
		return common.NewBoolResponse(req.MsgType, ok, err)
	}

	// queries
	switch req.MsgType {
	case common.MsgTIsLocked:
		ok, err := locks.IsLocked(req.Key)
		return common.NewBoolResponse(req.MsgType, ok, err)
	case common.MsgTIsWriteLocked:
		ok, err := locks.IsWriteLocked(req.Key)
		return common.NewBoolResponse(req.MsgType, ok, err)
	case common.MsgTGetLockOwner:
		o, ok, err := locks.GetLockOwner(req.Key)
		return common.NewOwnerResponse(o.MemberID, o.ID, o.Client, ok, err)
	case common.MsgTReadLockCount:
		count, err := locks.GetReadLockCount(req.Key)
		return common.NewCountResponse(count, err)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockManagerAdapter - Unsupported message type: %s", req.MsgType))
	}
}
