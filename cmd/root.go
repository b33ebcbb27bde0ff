package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dGrid/cmd/lock"
	"github.com/ValentinKolb/dGrid/cmd/serve"
	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dgrid",
		Short: "distributed lock manager",
		Long: fmt.Sprintf(`dGrid (v%s)

A distributed lock manager written in Go. Exclusive and read/write locks
live in a partitioned grid, locks of departed cluster members are
released automatically.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dGrid",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dGrid v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
