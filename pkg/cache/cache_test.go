package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zipline/zipline-go/pkg/db"
	"github.com/zipline/zipline-go/pkg/manifest"
)

// fakeClock hands out strictly increasing millisecond timestamps.
type fakeClock struct {
	ms atomic.Int64
}

func (c *fakeClock) now() int64 {
	return c.ms.Add(1)
}

func newTestCache(t *testing.T, maxSize int64) (*Cache, *db.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := db.NewRepository(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	blobDir := filepath.Join(dir, "blobs")
	clock := &fakeClock{}
	c, err := New(blobDir, repo, maxSize, clock.now)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c, repo, blobDir
}

func fixedProducer(data []byte, calls *atomic.Int32) Producer {
	return func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return data, nil
	}
}

func TestGetOrPut_HitAfterMiss(t *testing.T) {
	c, repo, blobDir := newTestCache(t, 1<<20)
	data := []byte("0123456789")
	digest := manifest.DigestOf(data)

	var calls atomic.Int32
	producer := fixedProducer(data, &calls)

	got, err := c.GetOrPut(context.Background(), digest, producer)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("bytes mismatch: got %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 producer call, got %d", calls.Load())
	}

	first, _ := repo.Get(digest.Hex())
	if first == nil || first.State != db.StateReady {
		t.Fatalf("expected ready row, got %+v", first)
	}

	got, err = c.GetOrPut(context.Background(), digest, producer)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("bytes mismatch on hit: got %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("hit must not invoke producer, got %d calls", calls.Load())
	}

	second, _ := repo.Get(digest.Hex())
	if second.LastAccessMS <= first.LastAccessMS {
		t.Errorf("hit must refresh last access: %d -> %d", first.LastAccessMS, second.LastAccessMS)
	}
	if _, err := os.Stat(filepath.Join(blobDir, digest.Hex())); err != nil {
		t.Errorf("blob file missing: %v", err)
	}
}

func TestGetOrPut_IntegrityMismatch(t *testing.T) {
	c, repo, blobDir := newTestCache(t, 1<<20)
	digest := manifest.DigestOf([]byte("expected"))

	var calls atomic.Int32
	_, err := c.GetOrPut(context.Background(), digest, fixedProducer([]byte("tampered"), &calls))
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("expected ErrIntegrityMismatch, got %v", err)
	}

	row, _ := repo.Get(digest.Hex())
	if row != nil {
		t.Errorf("no row should persist after mismatch, got %+v", row)
	}
	if _, err := os.Stat(filepath.Join(blobDir, digest.Hex())); !os.IsNotExist(err) {
		t.Errorf("no blob file should persist after mismatch")
	}
}

func TestGetOrPut_ProducerErrorLeavesNoRow(t *testing.T) {
	c, repo, _ := newTestCache(t, 1<<20)
	digest := manifest.DigestOf([]byte("never arrives"))
	boom := errors.New("origin down")

	_, err := c.GetOrPut(context.Background(), digest, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
	row, _ := repo.Get(digest.Hex())
	if row != nil {
		t.Errorf("no row should persist after producer failure, got %+v", row)
	}
}

func TestGetOrPut_CorruptEntryEvictedAndRefetched(t *testing.T) {
	c, repo, blobDir := newTestCache(t, 1<<20)
	data := []byte("good bytes")
	digest := manifest.DigestOf(data)

	var calls atomic.Int32
	producer := fixedProducer(data, &calls)

	if _, err := c.GetOrPut(context.Background(), digest, producer); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Corrupt the blob behind the cache's back.
	if err := os.WriteFile(filepath.Join(blobDir, digest.Hex()), []byte("bit rot"), 0644); err != nil {
		t.Fatalf("failed to corrupt blob: %v", err)
	}

	got, err := c.GetOrPut(context.Background(), digest, producer)
	if err != nil {
		t.Fatalf("expected recovery via refetch, got %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("bytes mismatch after recovery: got %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected producer re-invoked once, got %d calls", calls.Load())
	}

	row, _ := repo.Get(digest.Hex())
	if row == nil || row.State != db.StateReady {
		t.Errorf("expected ready row after recovery, got %+v", row)
	}
}

func TestGetOrPut_LRUEviction(t *testing.T) {
	c, repo, blobDir := newTestCache(t, 100)

	blobs := [][]byte{
		make([]byte, 60),
		make([]byte, 30),
		make([]byte, 20),
	}
	for i, b := range blobs {
		for j := range b {
			b[j] = byte(i + 1)
		}
		digest := manifest.DigestOf(b)
		var calls atomic.Int32
		if _, err := c.GetOrPut(context.Background(), digest, fixedProducer(b, &calls)); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	d1 := manifest.DigestOf(blobs[0])
	d2 := manifest.DigestOf(blobs[1])
	d3 := manifest.DigestOf(blobs[2])

	if row, _ := repo.Get(d1.Hex()); row != nil {
		t.Errorf("oldest entry should be evicted, got %+v", row)
	}
	if _, err := os.Stat(filepath.Join(blobDir, d1.Hex())); !os.IsNotExist(err) {
		t.Errorf("evicted blob file should be removed")
	}
	for _, d := range []manifest.Digest{d2, d3} {
		if row, _ := repo.Get(d.Hex()); row == nil || row.State != db.StateReady {
			t.Errorf("entry %s should survive eviction", d.Hex())
		}
	}
	total, _ := repo.TotalReadySize()
	if total != 50 {
		t.Errorf("expected total 50 after eviction, got %d", total)
	}
}

func TestGetOrPut_ZeroMaxSizeStoresNothing(t *testing.T) {
	c, repo, _ := newTestCache(t, 0)
	data := []byte("ephemeral")
	digest := manifest.DigestOf(data)

	var calls atomic.Int32
	producer := fixedProducer(data, &calls)

	for i := 0; i < 2; i++ {
		got, err := c.GetOrPut(context.Background(), digest, producer)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if string(got) != string(data) {
			t.Errorf("bytes mismatch: got %q", got)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("zero-size cache must re-invoke producer, got %d calls", calls.Load())
	}
	row, _ := repo.Get(digest.Hex())
	if row != nil {
		t.Errorf("zero-size cache must not keep rows, got %+v", row)
	}
}

func TestGetOrPut_ConcurrentSameDigestSingleProducer(t *testing.T) {
	c, _, _ := newTestCache(t, 1<<20)
	data := []byte("shared payload")
	digest := manifest.DigestOf(data)

	var calls atomic.Int32
	gate := make(chan struct{})
	producer := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-gate
		return data, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrPut(context.Background(), digest, producer)
		}(i)
	}

	close(gate)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected exactly one producer invocation, got %d", calls.Load())
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d failed: %v", i, errs[i])
		}
		if string(results[i]) != string(data) {
			t.Errorf("worker %d bytes mismatch", i)
		}
	}
}

func TestGetOrPut_CancelledWhileWaiting(t *testing.T) {
	c, _, _ := newTestCache(t, 1<<20)
	data := []byte("slow payload")
	digest := manifest.DigestOf(data)

	started := make(chan struct{})
	gate := make(chan struct{})
	go func() {
		c.GetOrPut(context.Background(), digest, func(ctx context.Context) ([]byte, error) {
			close(started)
			<-gate
			return data, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrPut(ctx, digest, func(ctx context.Context) ([]byte, error) {
		t.Error("waiter must not invoke producer")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(gate)
}
