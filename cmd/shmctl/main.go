// Command shmctl is the control-plane CLI for the shared-memory IPC
// fabric (spec.md §6): an external collaborator that lists and removes
// segments, never touching the core's internals beyond the contracts it
// exposes (segment.IsManagedName, segment.Open, Handle.Connect,
// Handle.DisconnectAndUnlink).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logger *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:   "shmctl",
	Short: "Inspect and reclaim shared-memory IPC segments",
}

func main() {
	l, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shmctl: logger init: %v\n", err)
		os.Exit(1)
	}
	logger = l.Sugar()
	defer logger.Sync()

	rootCmd.AddCommand(listCmd, removeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
