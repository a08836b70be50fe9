package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AlephTX/shmipc/segment"
)

var removeCmd = &cobra.Command{
	Use:   "remove <logical-name>",
	Short: "Disconnect and unlink a segment by its logical name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if err := removeSegment(name); err != nil {
			logger.Errorw("remove failed", "name", name, "error", err)
			fmt.Fprintf(os.Stderr, "shmctl: %v\n", err)
			os.Exit(1)
		}
		logger.Infow("segment removed", "name", name)
	},
}

// removeSegment opens the named segment read-write (without creating it),
// maps it at its existing size, and invokes DisconnectAndUnlink — the same
// "disconnect and unlink" contract spec.md §6 assigns to `remove`.
func removeSegment(name string) error {
	h, err := segment.Open(name, segment.ReadWriteOpen, segment.DefaultPerm)
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	if err := h.Connect(0); err != nil {
		_ = h.Disconnect()
		return fmt.Errorf("connect %q: %w", name, err)
	}
	if err := h.DisconnectAndUnlink(); err != nil {
		return fmt.Errorf("unlink %q: %w", name, err)
	}
	return nil
}
