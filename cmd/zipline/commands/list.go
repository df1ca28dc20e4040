package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zipline/zipline-go/internal/config"
	"github.com/zipline/zipline-go/pkg/db"
	"github.com/zipline/zipline-go/pkg/errors"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached modules and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories("", cfg.CacheDBPath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.CacheDBPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	entries, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(entries) == 0 {
		fmt.Println("No cache entries found")
		return nil
	}

	var total int64
	fmt.Printf("%-64s %-12s %12s %-25s\n", "DIGEST", "STATE", "SIZE", "LAST ACCESS")
	fmt.Println("-----------------------------------------------------------------------------------------------------------------")

	for _, e := range entries {
		fmt.Printf("%-64s %-12s %12d %-25s\n",
			e.Digest, e.State, e.SizeBytes, formatLastAccess(e.LastAccessMS))
		if e.State == db.StateReady {
			total += e.SizeBytes
		}
	}
	fmt.Printf("\nTotal ready size: %d bytes\n", total)

	return nil
}
