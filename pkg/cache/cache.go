// Package cache implements a bounded content-addressed blob store over a
// filesystem directory and a SQLite metadata database. Blobs are keyed by
// their SHA-256 digest and evicted least-recently-used.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zipline/zipline-go/pkg/db"
	zerrors "github.com/zipline/zipline-go/pkg/errors"
	"github.com/zipline/zipline-go/pkg/manifest"
)

var (
	// ErrIntegrityMismatch reports produced bytes whose SHA-256 disagrees
	// with the requested digest. Nothing is cached.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrCorruptEntry reports a cached blob whose hash disagrees with its
	// key. The entry is evicted and the fetch retried once.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// Producer fetches the bytes for a digest on a cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// Cache is a content-addressed store bounded by maxSizeBytes. Safe for
// concurrent use; at most one producer runs per digest at a time.
type Cache struct {
	dir          string
	repo         *db.Repository
	maxSizeBytes int64
	nowMS        func() int64

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New creates a Cache rooted at dir, backed by repo, holding at most
// maxSizeBytes of ready blobs. nowMS supplies the clock; pass nil for wall
// time.
func New(dir string, repo *db.Repository, maxSizeBytes int64, nowMS func() int64) (*Cache, error) {
	if maxSizeBytes < 0 {
		return nil, fmt.Errorf("max cache size must be non-negative, got %d", maxSizeBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, zerrors.Wrap(err, "failed to create cache directory")
	}
	if nowMS == nil {
		nowMS = func() int64 { return time.Now().UnixMilli() }
	}
	return &Cache{
		dir:          dir,
		repo:         repo,
		maxSizeBytes: maxSizeBytes,
		nowMS:        nowMS,
		inflight:     make(map[string]chan struct{}),
	}, nil
}

// GetOrPut returns the bytes for digest, serving from disk when a verified
// ready entry exists and otherwise invoking producer, verifying the result,
// and persisting it. Concurrent calls for the same digest share a single
// producer invocation; a corrupt on-disk entry is evicted and refetched
// once.
func (c *Cache) GetOrPut(ctx context.Context, digest manifest.Digest, producer Producer) ([]byte, error) {
	hexDigest := digest.Hex()
	retried := false
	for {
		c.mu.Lock()
		if done, ok := c.inflight[hexDigest]; ok {
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[hexDigest] = done
		c.mu.Unlock()

		data, retry, err := c.resolve(ctx, digest, producer)

		c.mu.Lock()
		delete(c.inflight, hexDigest)
		c.mu.Unlock()
		close(done)

		if retry && !retried {
			retried = true
			continue
		}
		return data, err
	}
}

// resolve performs one lookup-or-fetch attempt. A true retry return means
// a corrupt entry was evicted and the caller should try again as a miss.
func (c *Cache) resolve(ctx context.Context, digest manifest.Digest, producer Producer) ([]byte, bool, error) {
	hexDigest := digest.Hex()

	entry, err := c.repo.Get(hexDigest)
	if err != nil {
		return nil, false, err
	}
	if entry != nil && entry.State == db.StateReady {
		data, err := os.ReadFile(c.blobPath(hexDigest))
		if err != nil {
			slog.Error("cache_blob_missing", "digest", hexDigest, "error", err)
			c.evict(hexDigest)
			return nil, true, fmt.Errorf("%w: blob unreadable for %s", ErrCorruptEntry, hexDigest)
		}
		if manifest.DigestOf(data) != digest {
			slog.Error("cache_entry_corrupt", "digest", hexDigest, "size", len(data))
			c.evict(hexDigest)
			return nil, true, fmt.Errorf("%w: %s", ErrCorruptEntry, hexDigest)
		}
		if err := c.repo.Touch(hexDigest, c.nowMS()); err != nil {
			return nil, false, err
		}
		return data, false, nil
	}

	if err := c.repo.PutDownloading(hexDigest, c.nowMS()); err != nil {
		return nil, false, err
	}

	data, err := producer(ctx)
	if err != nil {
		c.repo.Delete(hexDigest)
		return nil, false, err
	}
	if manifest.DigestOf(data) != digest {
		slog.Error("cache_integrity_mismatch",
			"digest", hexDigest,
			"actual", manifest.DigestOf(data).Hex(),
			"size", len(data))
		c.repo.Delete(hexDigest)
		return nil, false, fmt.Errorf("%w: expected %s, got %s", ErrIntegrityMismatch, hexDigest, manifest.DigestOf(data).Hex())
	}

	if err := c.writeBlob(hexDigest, data); err != nil {
		c.repo.Delete(hexDigest)
		return nil, false, err
	}
	if err := c.repo.MarkReady(hexDigest, int64(len(data)), c.nowMS()); err != nil {
		os.Remove(c.blobPath(hexDigest))
		return nil, false, err
	}
	slog.Info("cache_blob_written", "digest", hexDigest, "size", len(data))

	if err := c.Prune(); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// Prune evicts least-recently-accessed ready entries until the total ready
// size fits within the cache bound. Ties break by ascending digest.
func (c *Cache) Prune() error {
	for {
		total, err := c.repo.TotalReadySize()
		if err != nil {
			return err
		}
		if total <= c.maxSizeBytes {
			return nil
		}
		victim, err := c.repo.OldestReady()
		if err != nil {
			return err
		}
		if victim == nil {
			return nil
		}
		c.evict(victim.Digest)
		slog.Info("cache_entry_evicted",
			"digest", victim.Digest,
			"size", victim.SizeBytes,
			"last_access_ms", victim.LastAccessMS)
	}
}

// evict removes the blob file and metadata row for a digest, best effort.
func (c *Cache) evict(hexDigest string) {
	if err := os.Remove(c.blobPath(hexDigest)); err != nil && !os.IsNotExist(err) {
		slog.Error("cache_blob_remove_failed", "digest", hexDigest, "error", err)
	}
	if err := c.repo.Delete(hexDigest); err != nil {
		slog.Error("cache_row_delete_failed", "digest", hexDigest, "error", err)
	}
}

// writeBlob stages data in a temp file and renames it into place so readers
// never observe a partial blob.
func (c *Cache) writeBlob(hexDigest string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "blob-*")
	if err != nil {
		return zerrors.Wrap(err, "failed to create temp blob")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return zerrors.Wrap(err, "failed to write temp blob")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return zerrors.Wrap(err, "failed to close temp blob")
	}
	if err := os.Rename(tmp.Name(), c.blobPath(hexDigest)); err != nil {
		os.Remove(tmp.Name())
		return zerrors.Wrap(err, "failed to rename blob into place")
	}
	return nil
}

func (c *Cache) blobPath(hexDigest string) string {
	return filepath.Join(c.dir, hexDigest)
}
