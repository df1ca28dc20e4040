package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zipline/zipline-go/internal/config"
	"github.com/zipline/zipline-go/pkg/db"
	"github.com/zipline/zipline-go/pkg/errors"
)

var (
	cleanupAll      bool
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up cache resources (blob files, metadata rows)",
	Long: `Clean up content cache resources:
  --all              Remove every cache entry and its blob file
  --orphaned         Remove blobs without a ready row and rows without a blob`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove all cache entries")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove orphaned files and rows")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	repo, err := db.NewRepository(cfg.CacheDBPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	switch {
	case cleanupAll:
		return cleanupAllEntries(repo, cfg)
	case cleanupOrphaned:
		return cleanupOrphanedResources(repo, cfg)
	default:
		return fmt.Errorf("must specify --all or --orphaned")
	}
}

func cleanupAllEntries(repo *db.Repository, cfg *config.Config) error {
	entries, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Printf("Cleaning up %d cache entries...\n", len(entries))

	for _, e := range entries {
		blobPath := filepath.Join(cfg.CacheDir, e.Digest)
		if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Failed to remove blob %s: %v\n", e.Digest, err)
			continue
		}
		if err := repo.Delete(e.Digest); err != nil {
			fmt.Printf("Failed to remove row %s: %v\n", e.Digest, err)
			continue
		}
		fmt.Printf("Cleaned: %s\n", e.Digest)
	}

	return nil
}

func cleanupOrphanedResources(repo *db.Repository, cfg *config.Config) error {
	fmt.Println("Scanning for orphaned cache resources...")

	entries, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}
	byDigest := make(map[string]*db.Entry, len(entries))
	for _, e := range entries {
		byDigest[e.Digest] = e
	}

	orphanCount := 0

	// 1. Blob files with no ready row behind them
	if files, err := os.ReadDir(cfg.CacheDir); err == nil {
		for _, f := range files {
			if f.IsDir() || !isHexDigestName(f.Name()) {
				continue
			}
			entry, tracked := byDigest[f.Name()]
			if tracked && entry.State == db.StateReady {
				continue
			}
			orphanPath := filepath.Join(cfg.CacheDir, f.Name())
			if err := os.Remove(orphanPath); err != nil {
				fmt.Printf("Failed to remove orphaned blob %s: %v\n", f.Name(), err)
				continue
			}
			fmt.Printf("Removed orphaned blob: %s\n", f.Name())
			orphanCount++
		}
	}

	// 2. Ready rows whose blob file is gone, and stale downloading rows
	for _, e := range entries {
		blobPath := filepath.Join(cfg.CacheDir, e.Digest)
		_, statErr := os.Stat(blobPath)
		if e.State == db.StateReady && statErr == nil {
			continue
		}
		if err := repo.Delete(e.Digest); err != nil {
			fmt.Printf("Failed to remove orphaned row %s: %v\n", e.Digest, err)
			continue
		}
		fmt.Printf("Removed orphaned row: %s (%s)\n", e.Digest, e.State)
		orphanCount++
	}

	fmt.Printf("Removed %d orphaned resources\n", orphanCount)
	return nil
}

// isHexDigestName reports whether name looks like a 64-hex blob filename,
// which keeps temp files and the metadata DB out of the sweep.
func isHexDigestName(name string) bool {
	if len(name) != 64 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}
