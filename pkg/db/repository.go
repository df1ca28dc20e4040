// Package db persists content-cache metadata in SQLite.
package db

import (
	"database/sql"
	"log/slog"

	"github.com/zipline/zipline-go/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for cache entries
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite admits one writer at a time; a single pooled connection
	// serializes concurrent cache operations instead of failing them with
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Get retrieves an entry by digest. Returns nil without error when absent.
func (r *Repository) Get(digest string) (*Entry, error) {
	query := `
		SELECT digest, size_bytes, last_access_ms, state
		FROM cache_entry WHERE digest = ?
	`
	var e Entry
	err := r.db.QueryRow(query, digest).Scan(&e.Digest, &e.SizeBytes, &e.LastAccessMS, &e.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "digest", digest, "error", err)
		return nil, errors.Wrap(err, "failed to query cache entry")
	}
	return &e, nil
}

// PutDownloading inserts or resets the row for digest to the downloading
// state, marking that a producer owns the fetch.
func (r *Repository) PutDownloading(digest string, nowMS int64) error {
	query := `
		INSERT INTO cache_entry (digest, size_bytes, last_access_ms, state)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET size_bytes = 0, last_access_ms = ?, state = ?
	`
	_, err := r.db.Exec(query, digest, nowMS, StateDownloading, nowMS, StateDownloading)
	if err != nil {
		slog.Error("database_insert_failed", "digest", digest, "error", err)
		return errors.Wrap(err, "failed to insert downloading entry")
	}
	return nil
}

// MarkReady transitions the row for digest to ready with its final size.
func (r *Repository) MarkReady(digest string, sizeBytes, nowMS int64) error {
	query := `
		UPDATE cache_entry
		SET size_bytes = ?, last_access_ms = ?, state = ?
		WHERE digest = ?
	`
	result, err := r.db.Exec(query, sizeBytes, nowMS, StateReady, digest)
	if err != nil {
		slog.Error("database_update_failed", "digest", digest, "error", err)
		return errors.Wrap(err, "failed to mark entry ready")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_entry_not_found_for_update", "digest", digest)
		return errors.Wrapf(sql.ErrNoRows, "cache entry %s", digest)
	}
	return nil
}

// Touch updates last_access_ms for digest.
func (r *Repository) Touch(digest string, nowMS int64) error {
	query := `UPDATE cache_entry SET last_access_ms = ? WHERE digest = ?`
	if _, err := r.db.Exec(query, nowMS, digest); err != nil {
		slog.Error("database_touch_failed", "digest", digest, "error", err)
		return errors.Wrap(err, "failed to touch cache entry")
	}
	return nil
}

// Delete deletes the entry for digest.
func (r *Repository) Delete(digest string) error {
	query := `DELETE FROM cache_entry WHERE digest = ?`
	if _, err := r.db.Exec(query, digest); err != nil {
		slog.Error("database_delete_failed", "digest", digest, "error", err)
		return errors.Wrap(err, "failed to delete cache entry")
	}
	return nil
}

// TotalReadySize returns the summed size of all ready entries.
func (r *Repository) TotalReadySize() (int64, error) {
	query := `SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entry WHERE state = ?`
	var total int64
	if err := r.db.QueryRow(query, StateReady).Scan(&total); err != nil {
		slog.Error("database_sum_failed", "error", err)
		return 0, errors.Wrap(err, "failed to sum ready sizes")
	}
	return total, nil
}

// OldestReady returns the least-recently-accessed ready entry, breaking
// ties by ascending digest. Returns nil without error when the cache holds
// no ready entries.
func (r *Repository) OldestReady() (*Entry, error) {
	query := `
		SELECT digest, size_bytes, last_access_ms, state
		FROM cache_entry WHERE state = ?
		ORDER BY last_access_ms ASC, digest ASC
		LIMIT 1
	`
	var e Entry
	err := r.db.QueryRow(query, StateReady).Scan(&e.Digest, &e.SizeBytes, &e.LastAccessMS, &e.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to query oldest ready entry")
	}
	return &e, nil
}

// List retrieves all entries ordered by most recent access
func (r *Repository) List() ([]*Entry, error) {
	query := `
		SELECT digest, size_bytes, last_access_ms, state
		FROM cache_entry ORDER BY last_access_ms DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list cache entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Digest, &e.SizeBytes, &e.LastAccessMS, &e.State); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return entries, nil
}
