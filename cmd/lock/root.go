package lock

import (
	"fmt"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/lockmgr"
	"github.com/ValentinKolb/dGrid/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcLockMgr lockmgr.ILockManager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations",
		Long:              "Perform lock operations. Every process invoking these commands is a client owner identified by --owner, locks are kept until released by the same owner.",
		PersistentPreRunE: setupLockClient,
	}
)

// ownerOp describes a lock command acting for the owner given by --owner
type ownerOp struct {
	use   string
	short string
	call  func(lockmgr.ILockManager, string, lockmgr.LockOwner) (bool, error)
}

var ownerOps = []ownerOp{
	{"acquire", "Acquire an exclusive lock", lockmgr.ILockManager.Lock},
	{"release", "Release an exclusive lock", lockmgr.ILockManager.Unlock},
	{"read-acquire", "Acquire a read lock", lockmgr.ILockManager.LockRead},
	{"read-release", "Release a read lock", lockmgr.ILockManager.UnlockRead},
	{"write-acquire", "Acquire a write lock", lockmgr.ILockManager.LockWrite},
	{"write-release", "Release a write lock", lockmgr.ILockManager.UnlockWrite},
}

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	for _, op := range ownerOps {
		LockCommands.AddCommand(&cobra.Command{
			Use:   op.use + " [key]",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				owner := currentOwner()
				ok, err := op.call(rpcLockMgr, args[0], owner)
				if err != nil {
					return fmt.Errorf("%s failed: %w", op.use, err)
				}
				fmt.Printf("ok=%t owner=%s\n", ok, owner.ID)
				return nil
			},
		})
	}
	LockCommands.AddCommand(&cobra.Command{
		Use:   "status [key]",
		Short: "Show the exclusive and read/write lock state of a key",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	})

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	LockCommands.PersistentFlags().Uint64("shard", 200, util.WrapString("ID of the shard to connect to"))
	LockCommands.PersistentFlags().String("owner", "", util.WrapString("Owner id used for lock operations. A random id is generated and printed if empty"))
}

// currentOwner returns the client owner given by --owner, or a new one
func currentOwner() lockmgr.LockOwner {
	if id := viper.GetString("owner"); id != "" {
		return lockmgr.NewClientOwner(0, id)
	}
	return client.NewOwner()
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	rpcLockMgr, err = client.NewRPCLockMgr(util.GetShardID(), *util.GetClientConfig(), t, s)
	return err
}

// runStatus prints the lock state of a key
func runStatus(_ *cobra.Command, args []string) error {
	key := args[0]

	owner, locked, err := rpcLockMgr.GetLockOwner(key)
	if err != nil {
		return fmt.Errorf("failed to read exclusive lock: %w", err)
	}
	writeLocked, err := rpcLockMgr.IsWriteLocked(key)
	if err != nil {
		return fmt.Errorf("failed to read write lock: %w", err)
	}
	readers, err := rpcLockMgr.GetReadLockCount(key)
	if err != nil {
		return fmt.Errorf("failed to read read locks: %w", err)
	}

	if locked {
		fmt.Printf("locked=true owner=%s\n", owner)
	} else {
		fmt.Printf("locked=false\n")
	}
	fmt.Printf("writeLocked=%t readLocks=%d\n", writeLocked, readers)
	return nil
}
