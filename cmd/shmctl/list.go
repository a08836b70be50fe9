package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AlephTX/shmipc/segment"
)

const shmDir = "/dev/shm"

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Enumerate shmipc segments under /dev/shm",
	Run: func(cmd *cobra.Command, args []string) {
		names, err := listSegments()
		if err != nil {
			logger.Errorw("list failed", "error", err)
			fmt.Fprintf(os.Stderr, "shmctl: %v\n", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
	},
}

// listSegments enumerates /dev/shm entries matching segment.IsManagedName
// and returns their names with the "shm_" prefix stripped. A '/' that
// segment.CanonicalBaseName turned into '_' is not restored.
func listSegments() ([]string, error) {
	entries, err := os.ReadDir(shmDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", shmDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !segment.IsManagedName(e.Name()) {
			continue
		}
		names = append(names, strings.TrimPrefix(e.Name(), "shm_"))
	}
	sort.Strings(names)
	return names, nil
}
