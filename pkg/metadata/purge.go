package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// whereClause builds the conjunction of predicates in c as a SQL WHERE
// fragment (without the "WHERE" keyword) plus its positional args. An
// empty PurgeCriteria yields an empty fragment.
func whereClause(c PurgeCriteria) (string, []any) {
	var clauses []string
	var args []any

	if len(c.EventIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.EventIDs)), ",")
		clauses = append(clauses, fmt.Sprintf("event_id IN (%s)", placeholders))
		for _, id := range c.EventIDs {
			args = append(args, id)
		}
	}
	switch {
	case c.Start != "" && c.End != "":
		clauses = append(clauses, "timestamp BETWEEN ? AND ?")
		args = append(args, c.Start, c.End)
	case c.Start != "":
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, c.Start)
	case c.End != "":
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, c.End)
	}
	if c.App != "" {
		clauses = append(clauses, "app = ?")
		args = append(args, c.App)
	}
	if c.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, c.Source)
	}
	if c.PrivacyFlag != "" {
		clauses = append(clauses, "privacy_flag = ?")
		args = append(args, string(c.PrivacyFlag))
	}
	return strings.Join(clauses, " AND "), args
}

type preImage struct {
	hash     string
	blobPath string
	refCount int64
	existed  bool
}

// snapshotBlobIndex records the pre-purge blob_index state for each
// hash in hashes.
func snapshotBlobIndex(ctx context.Context, tx *sql.Tx, hashes []string) ([]preImage, error) {
	pre := make([]preImage, 0, len(hashes))
	for _, h := range hashes {
		var img preImage
		img.hash = h
		err := tx.QueryRowContext(ctx, `SELECT blob_path, ref_count FROM blob_index WHERE blob_hash = ?`, h).Scan(&img.blobPath, &img.refCount)
		switch {
		case err == nil:
			img.existed = true
		case err == sql.ErrNoRows:
			img.existed = false
		default:
			return nil, err
		}
		pre = append(pre, img)
	}
	return pre, nil
}

func distinctHashes(ctx context.Context, tx *sql.Tx, where string, args []any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT content_hash FROM events WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func remainingCount(ctx context.Context, tx *sql.Tx, hash string) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE content_hash = ?`, hash).Scan(&n)
	return n, err
}

// PurgeEvents deletes events matching criteria within one transaction,
// recomputing blob_index ref counts for every impacted content hash
// and garbage-collecting any that drop to zero references. If criteria
// is empty, it is a no-op returning (0, 0).
//
// Two tie-break behaviors are preserved exactly as specified rather
// than "fixed": when criteria.EventIDs is non-empty, deleted_events is
// always len(criteria.EventIDs) (the requested count, not the count of
// rows actually deleted) and deleted_blobs is the number of distinct
// hashes impacted (not the number of files physically removed).
// Criterion-based purges (no EventIDs) instead return the true deleted
// row count and the true count of blob files removed. This divergence
// is a known quirk of the reference behavior, not an implementation
// bug; see the design notes.
func (s *Store) PurgeEvents(ctx context.Context, c PurgeCriteria) (deletedEvents, deletedBlobs int64, err error) {
	if c.IsEmpty() {
		return 0, 0, nil
	}

	where, args := whereClause(c)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback()

	hashes, err := distinctHashes(ctx, tx, where, args)
	if err != nil {
		return 0, 0, fmt.Errorf("metadata: select impacted hashes: %w", err)
	}
	pre, err := snapshotBlobIndex(ctx, tx, hashes)
	if err != nil {
		return 0, 0, fmt.Errorf("metadata: snapshot blob index: %w", err)
	}

	if len(c.EventIDs) > 0 {
		for _, id := range c.EventIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE event_id = ?`, id); err != nil {
				return 0, 0, fmt.Errorf("metadata: delete event %s: %w", id, err)
			}
		}
		deletedEvents = int64(len(c.EventIDs))

		for _, img := range pre {
			remaining, err := remainingCount(ctx, tx, img.hash)
			if err != nil {
				return 0, 0, fmt.Errorf("metadata: remaining count for %s: %w", img.hash, err)
			}
			if !img.existed {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE blob_index SET ref_count = ? WHERE blob_hash = ?`, remaining, img.hash); err != nil {
				return 0, 0, fmt.Errorf("metadata: update ref_count for %s: %w", img.hash, err)
			}
			if remaining <= 0 {
				os.Remove(img.blobPath) // best-effort; orphan on disk is acceptable
				if _, err := tx.ExecContext(ctx, `DELETE FROM blob_index WHERE blob_hash = ?`, img.hash); err != nil {
					return 0, 0, fmt.Errorf("metadata: delete blob index for %s: %w", img.hash, err)
				}
			}
		}
		deletedBlobs = int64(len(hashes))

		if err := tx.Commit(); err != nil {
			return 0, 0, fmt.Errorf("metadata: commit: %w", err)
		}
		return deletedEvents, deletedBlobs, nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE `+where, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("metadata: delete events: %w", err)
	}
	deletedEvents, err = res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("metadata: rows affected: %w", err)
	}

	for _, img := range pre {
		remaining, err := remainingCount(ctx, tx, img.hash)
		if err != nil {
			return 0, 0, fmt.Errorf("metadata: remaining count for %s: %w", img.hash, err)
		}
		switch {
		case img.existed:
			if _, err := tx.ExecContext(ctx, `UPDATE blob_index SET ref_count = ? WHERE blob_hash = ?`, remaining, img.hash); err != nil {
				return 0, 0, fmt.Errorf("metadata: update ref_count for %s: %w", img.hash, err)
			}
			if remaining <= 0 && img.refCount > 0 {
				os.Remove(img.blobPath)
				if _, err := tx.ExecContext(ctx, `DELETE FROM blob_index WHERE blob_hash = ?`, img.hash); err != nil {
					return 0, 0, fmt.Errorf("metadata: delete blob index for %s: %w", img.hash, err)
				}
				deletedBlobs++
			}
		case remaining <= 0:
			// No index row existed, but nothing references this hash
			// anymore either: count it as a logical orphan cleanup.
			deletedBlobs++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("metadata: commit: %w", err)
	}
	return deletedEvents, deletedBlobs, nil
}
