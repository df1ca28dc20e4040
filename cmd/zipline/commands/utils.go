package commands

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zipline/zipline-go/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(cacheDir, cacheDBPath, fsmDBPath, downloadDir string) error {
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create cache directory")
		}
	}

	if cacheDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cacheDBPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create database directory")
		}
	}

	// FSM database directory (only needed for the download command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if downloadDir != "" {
		if err := os.MkdirAll(downloadDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create download directory")
		}
	}

	return nil
}

// formatLastAccess renders an epoch-millis timestamp for table output.
func formatLastAccess(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
