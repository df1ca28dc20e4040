package db

import (
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_PutAndGet(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.PutDownloading("d1", 100); err != nil {
		t.Fatalf("failed to insert entry: %v", err)
	}

	e, err := repo.Get("d1")
	if err != nil {
		t.Fatalf("failed to get entry: %v", err)
	}
	if e == nil || e.State != StateDownloading || e.LastAccessMS != 100 {
		t.Errorf("unexpected entry: %+v", e)
	}

	missing, err := repo.Get("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing digest, got %+v", missing)
	}
}

func TestRepository_MarkReady(t *testing.T) {
	repo := newTestRepo(t)

	repo.PutDownloading("d1", 100)
	if err := repo.MarkReady("d1", 42, 200); err != nil {
		t.Fatalf("failed to mark ready: %v", err)
	}

	e, _ := repo.Get("d1")
	if e.State != StateReady || e.SizeBytes != 42 || e.LastAccessMS != 200 {
		t.Errorf("unexpected entry after mark ready: %+v", e)
	}

	if err := repo.MarkReady("ghost", 1, 1); err == nil {
		t.Error("expected error marking unknown digest ready")
	}
}

func TestRepository_TotalReadySize(t *testing.T) {
	repo := newTestRepo(t)

	repo.PutDownloading("d1", 1)
	repo.MarkReady("d1", 60, 1)
	repo.PutDownloading("d2", 2)
	repo.MarkReady("d2", 30, 2)
	repo.PutDownloading("d3", 3) // still downloading, excluded

	total, err := repo.TotalReadySize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 90 {
		t.Errorf("expected total 90, got %d", total)
	}
}

func TestRepository_OldestReady(t *testing.T) {
	repo := newTestRepo(t)

	oldest, err := repo.OldestReady()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldest != nil {
		t.Errorf("expected nil on empty cache, got %+v", oldest)
	}

	repo.PutDownloading("bb", 1)
	repo.MarkReady("bb", 10, 5)
	repo.PutDownloading("aa", 1)
	repo.MarkReady("aa", 10, 5)
	repo.PutDownloading("cc", 1)
	repo.MarkReady("cc", 10, 9)

	oldest, err = repo.OldestReady()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldest.Digest != "aa" {
		t.Errorf("ties should break by ascending digest: got %s", oldest.Digest)
	}
}

func TestRepository_Touch(t *testing.T) {
	repo := newTestRepo(t)

	repo.PutDownloading("d1", 1)
	repo.MarkReady("d1", 10, 1)

	if err := repo.Touch("d1", 99); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	e, _ := repo.Get("d1")
	if e.LastAccessMS != 99 {
		t.Errorf("expected last_access_ms 99, got %d", e.LastAccessMS)
	}
}

func TestRepository_Delete(t *testing.T) {
	repo := newTestRepo(t)

	repo.PutDownloading("d1", 1)
	if err := repo.Delete("d1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	e, _ := repo.Get("d1")
	if e != nil {
		t.Errorf("expected entry gone, got %+v", e)
	}
}
