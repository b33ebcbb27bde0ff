package client

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/lockmgr"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/server"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// loopbackTransport connects a client directly to the handler of a server
type loopbackTransport struct {
	handler transport.ServerHandleFunc
}

func (l *loopbackTransport) RegisterHandler(handler transport.ServerHandleFunc) { l.handler = handler }
func (l *loopbackTransport) Listen(common.ServerConfig) error                   { return nil }
func (l *loopbackTransport) Connect(common.ClientConfig) error {
	if l.handler == nil {
		return fmt.Errorf("server not started")
	}
	return nil
}
func (l *loopbackTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	return l.handler(shardId, req), nil
}
func (l *loopbackTransport) Close() error { return nil }

func newTestLockMgr(t *testing.T, s serializer.IRPCSerializer) lockmgr.ILockManager {
	t.Helper()
	lt := &loopbackTransport{}
	srv := server.NewRPCServer(common.ServerConfig{
		Shards:         []common.ServerShard{{ShardID: 5, Type: common.ShardTypeLocalLockManager}},
		PartitionCount: 8,
		LogLevel:       "error",
	}, lt, s)
	if err := srv.Serve(); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	t.Cleanup(srv.Stop)

	locks, err := NewRPCLockMgr(5, common.ClientConfig{}, lt, s)
	if err != nil {
		t.Fatalf("NewRPCLockMgr() error: %v", err)
	}
	return locks
}

// TestRPCLockMgr tests the client against a server for both serializers
func TestRPCLockMgr(t *testing.T) {
	for name, s := range map[string]serializer.IRPCSerializer{
		"JSON":   serializer.NewJSONSerializer(),
		"Binary": serializer.NewBinarySerializer(),
	} {
		t.Run(name, func(t *testing.T) {
			locks := newTestLockMgr(t, s)
			alice, bob := NewOwner(), NewOwner()
			if alice.Equal(bob) || !alice.Client {
				t.Fatalf("NewOwner() must create distinct client owners")
			}

			// exclusive locks
			expect(t, true)(locks.Lock("k", alice))
			expect(t, false)(locks.Lock("k", bob))
			expect(t, true)(locks.IsLocked("k"))
			expect(t, true)(locks.IsLockedBy("k", alice))
			expect(t, false)(locks.IsLockedBy("k", bob))

			owner, ok, err := locks.GetLockOwner("k")
			if err != nil || !ok || !owner.Equal(alice) || !owner.Client {
				t.Errorf("GetLockOwner() = %v, %t, %v; want %v", owner, ok, err, alice)
			}
			expect(t, true)(locks.Unlock("k", alice))
			if _, ok, _ := locks.GetLockOwner("k"); ok {
				t.Errorf("GetLockOwner() after Unlock should report no owner")
			}

			// read/write locks
			expect(t, true)(locks.LockRead("rw", alice))
			expect(t, true)(locks.LockRead("rw", bob))
			if n, err := locks.GetReadLockCount("rw"); err != nil || n != 2 {
				t.Errorf("GetReadLockCount() = %d, %v; want 2", n, err)
			}
			expect(t, false)(locks.LockWrite("rw", alice))
			expect(t, true)(locks.UnlockRead("rw", bob))
			expect(t, true)(locks.LockWrite("rw", alice))
			expect(t, true)(locks.IsWriteLocked("rw"))
			expect(t, true)(locks.UnlockWrite("rw", alice))
			expect(t, false)(locks.IsWriteLocked("rw"))
		})
	}
}

// expect returns a check for the result of a boolean lock operation
func expect(t *testing.T, want bool) func(bool, error) {
	return func(got bool, err error) {
		t.Helper()
		if err != nil || got != want {
			t.Fatalf("got %t, %v; want %t", got, err, want)
		}
	}
}

// TestRPCLockMgrErrors tests that server side errors are returned as errors
func TestRPCLockMgrErrors(t *testing.T) {
	locks := newTestLockMgr(t, serializer.NewBinarySerializer())

	if _, err := locks.Lock("k", lockmgr.LockOwner{}); err == nil {
		t.Errorf("Lock() without owner id should fail")
	}

	lt := &loopbackTransport{}
	if _, err := NewRPCLockMgr(1, common.ClientConfig{}, lt, serializer.NewBinarySerializer()); err == nil {
		t.Errorf("NewRPCLockMgr() should fail if the transport cannot connect")
	}
}
