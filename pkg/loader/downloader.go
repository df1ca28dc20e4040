package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	zerrors "github.com/zipline/zipline-go/pkg/errors"
	"github.com/zipline/zipline-go/pkg/fetch"
	"github.com/zipline/zipline-go/pkg/manifest"
	"github.com/zipline/zipline-go/pkg/ziplinefile"
)

// Download materializes the manifest at manifestURL into downloadDir: one
// file per module named by its hex digest, plus the manifest JSON itself.
// Modules resolve through the same tiered pipeline as Load. File sinks are
// independent, so no dependency barrier applies.
func (l *Loader) Download(ctx context.Context, downloadDir, manifestURL string) error {
	man, base, err := l.pipeline.FetchManifest(ctx, manifestURL)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return zerrors.Wrap(err, "failed to create download directory")
	}

	slog.Info("download_all_start",
		"app", l.appName,
		"manifest_url", manifestURL,
		"download_dir", downloadDir,
		"module_count", man.Len())

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range man.ModuleIDs() {
		mod, _ := man.Module(id)
		g.Go(func() error {
			data, err := l.pipeline.ModuleBytes(gctx, base, mod)
			if err != nil {
				l.listener.LoadFailed(l.appName, id, err)
				return err
			}
			if _, err := ziplinefile.Decode(data); err != nil {
				l.listener.LoadFailed(l.appName, id, err)
				return fmt.Errorf("module %s: %w", id, err)
			}
			return writeFileAtomic(filepath.Join(downloadDir, mod.SHA256.Hex()), data)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	manifestBytes, err := manifest.Serialize(man)
	if err != nil {
		return zerrors.Wrap(err, "failed to serialize manifest")
	}
	if err := writeFileAtomic(filepath.Join(downloadDir, fetch.EmbeddedManifestName), manifestBytes); err != nil {
		return err
	}

	slog.Info("download_all_complete", "app", l.appName, "module_count", man.Len())
	return nil
}

// writeFileAtomic stages data in a temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "dl-*")
	if err != nil {
		return zerrors.Wrap(err, "failed to create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return zerrors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return zerrors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return zerrors.Wrap(err, "failed to rename into place")
	}
	return nil
}
