// Package metadata implements the embedded SQL metadata store: event
// rows, the deduplicating blob index with reference counting, chunk
// rows, and the transactional purge that keeps the two in sync.
//
// Grounded on the teacher's sqlite-backed key-value store
// (schema versioning, PRAGMA journal_mode=WAL, prepared statements over
// database/sql) generalized from a generic key/value table into the
// events/blob_index/chunks schema this daemon needs.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by GetEvent when no event with the given id
// exists, and by GetBlobIndex semantics are instead modeled as (nil,
// nil) since absence of a blob index row is not itself an error.
var ErrNotFound = errors.New("metadata: not found")

// Store wraps a single *sql.DB, opened with a single-connection pool so
// all reads and writes serialize through one handle — the embedded
// engine has one process-wide writer, and purge's multi-statement
// transaction must not interleave with other callers.
type Store struct {
	db       *sql.DB
	blobRoot string
}

// Open creates (if needed) the parent directory of dbPath, opens the
// sqlite database there, enables foreign keys and WAL, and initializes
// the schema if it is missing. blobRoot must be the same root the
// caller's blobstore.Store was constructed with (normally
// filepath.Join(cfg.DataDir, "blobs")), since blobPathFor derives the
// path recorded in blob_index from it — a mismatch here would point
// the index at files blobstore never writes or reads.
func Open(dbPath, blobRoot string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("metadata: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("metadata: open: %w", err)
	}
	// The embedded engine does not tolerate concurrent writers across
	// connections; pin the pool to one connection so every caller
	// serializes through the same session, matching the single
	// exclusive-writer model the design calls for.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: enable WAL: %w", err)
	}
	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("metadata: init schema: %w", err)
		}
	}
	return &Store{db: db, blobRoot: blobRoot}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// blobPathFor returns the deterministic blob path for hash dated today
// (UTC), rooted at s.blobRoot — the same root blobstore.Store was
// constructed with, so blob_index.blob_path always names a real file.
func (s *Store) blobPathFor(hash string) string {
	now := time.Now().UTC()
	return filepath.Join(s.blobRoot, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())), fmt.Sprintf("%02d", now.Day()), hash+".zst.enc")
}

// upsertBlobIndex increments ref_count for an existing blob_index row,
// or creates one with ref_count=1 at today's deterministic path. It
// returns the blob_path in effect after the call. Must be run inside
// the caller's transaction (or the Store's ambient single connection)
// so it composes atomically with the event insert that follows it.
func (s *Store) upsertBlobIndex(ctx context.Context, tx *sql.Tx, contentHash string) (string, error) {
	var path string
	var refCount int64
	err := tx.QueryRowContext(ctx, `SELECT blob_path, ref_count FROM blob_index WHERE blob_hash = ?`, contentHash).Scan(&path, &refCount)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE blob_index SET ref_count = ? WHERE blob_hash = ?`, refCount+1, contentHash); err != nil {
			return "", err
		}
		return path, nil
	case errors.Is(err, sql.ErrNoRows):
		path = s.blobPathFor(contentHash)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return "", fmt.Errorf("create blob dir: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO blob_index (blob_hash, blob_path, ref_count) VALUES (?, ?, 1)`, contentHash, path); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", err
	}
}

// InsertEvent upserts the blob_index row for env.ContentHash (creating
// it at today's deterministic path or incrementing its ref_count), then
// inserts the event row. When env.ContentPointer is empty or
// whitespace, the blob_index path is substituted as the stored
// content_pointer. This maintains Invariant 2 (ref_count equals the
// count of referencing events) as long as InsertEvent and PurgeEvents
// are the only writers of blob_index.
func (s *Store) InsertEvent(ctx context.Context, env Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback()

	blobPath, err := s.upsertBlobIndex(ctx, tx, env.ContentHash)
	if err != nil {
		return fmt.Errorf("metadata: upsert blob index: %w", err)
	}

	pointer := env.ContentPointer
	if strings.TrimSpace(pointer) == "" {
		pointer = blobPath
	}

	tagsJSON, err := json.Marshal(env.Tags)
	if err != nil {
		return fmt.Errorf("metadata: marshal tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO events (
		event_id, timestamp, source, app, content_pointer, content_hash,
		size_bytes, tags, privacy_flag
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.EventID, env.Timestamp, env.Source, env.App, pointer, env.ContentHash,
		int64(env.SizeBytes), string(tagsJSON), string(env.PrivacyFlag),
	)
	if err != nil {
		return fmt.Errorf("metadata: insert event: %w", err)
	}

	return tx.Commit()
}

// InsertChunks inserts each row with INSERT OR IGNORE keyed on
// chunk_id, making replays idempotent. It returns the number of rows
// attempted, not the number actually inserted (a row skipped by the
// conflict clause still counts as attempted).
func (s *Store) InsertChunks(ctx context.Context, rows []ChunkRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chunks (
			chunk_id, event_id, start_offset, end_offset, content_type
		) VALUES (?, ?, ?, ?, ?)`, r.ChunkID, r.EventID, r.StartOffset, r.EndOffset, r.ContentType); err != nil {
			return 0, fmt.Errorf("metadata: insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func scanEnvelope(scan func(dest ...any) error) (Envelope, error) {
	var e Envelope
	var tagsJSON string
	var privacy string
	if err := scan(&e.EventID, &e.Timestamp, &e.Source, &e.App, &e.ContentPointer, &e.ContentHash, &e.SizeBytes, &tagsJSON, &privacy); err != nil {
		return Envelope{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		e.Tags = nil
	}
	e.PrivacyFlag = PrivacyFlag(privacy)
	return e, nil
}

const eventColumns = `event_id, timestamp, source, app, content_pointer, content_hash, size_bytes, tags, privacy_flag`

// GetEvent returns the event row for id, or ErrNotFound if none exists.
func (s *Store) GetEvent(ctx context.Context, id string) (Envelope, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?`, id)
	env, err := scanEnvelope(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Envelope{}, ErrNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("metadata: get event: %w", err)
	}
	return env, nil
}

// GetBlobIndex returns the blob_index row for hash. A nil entry with a
// nil error means no such row exists — absence is a typed condition,
// not an error, for the retrieval API.
func (s *Store) GetBlobIndex(ctx context.Context, hash string) (*BlobIndexEntry, error) {
	var entry BlobIndexEntry
	err := s.db.QueryRowContext(ctx, `SELECT blob_path, ref_count FROM blob_index WHERE blob_hash = ?`, hash).Scan(&entry.BlobPath, &entry.RefCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: get blob index: %w", err)
	}
	return &entry, nil
}

// QueryEventsByTimerange returns events with timestamp in [start, end],
// ordered ascending.
func (s *Store) QueryEventsByTimerange(ctx context.Context, start, end string) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("metadata: query by timerange: %w", err)
	}
	defer rows.Close()
	return collectEnvelopes(rows)
}

// QueryEventsByAppSource returns events matching app and/or source
// (either may be empty to mean "don't filter on this"), ordered
// ascending by timestamp.
func (s *Store) QueryEventsByAppSource(ctx context.Context, app, source string) ([]Envelope, error) {
	var clauses []string
	var args []any
	if app != "" {
		clauses = append(clauses, "app = ?")
		args = append(args, app)
	}
	if source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, source)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: query by app/source: %w", err)
	}
	defer rows.Close()
	return collectEnvelopes(rows)
}

// ListRecentEvents returns up to limit events ordered by created_at
// descending. It is not exposed over HTTP; it exists as a read-only
// startup smoke-test seam confirming the schema is reachable.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("metadata: list recent events: %w", err)
	}
	defer rows.Close()
	return collectEnvelopes(rows)
}

func collectEnvelopes(rows *sql.Rows) ([]Envelope, error) {
	var out []Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("metadata: scan event row: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
