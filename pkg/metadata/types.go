package metadata

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PrivacyFlag controls how an event's content bytes are handled by the
// ingest worker.
type PrivacyFlag string

const (
	PrivacyDefault    PrivacyFlag = "default"
	PrivacySensitive  PrivacyFlag = "sensitive"
	PrivacyNeverStore PrivacyFlag = "never_store"
)

// validPrivacyFlags is used for envelope validation. A purge request's
// privacy_flag criterion is not checked against it.
var validPrivacyFlags = map[PrivacyFlag]bool{
	PrivacyDefault:    true,
	PrivacySensitive:  true,
	PrivacyNeverStore: true,
}

// Envelope is the immutable event record submitted by clients and
// persisted verbatim. JSON field names are snake_case, matching the
// database column names.
type Envelope struct {
	EventID        string      `json:"event_id"`
	Timestamp      string      `json:"timestamp"`
	Source         string      `json:"source"`
	App            string      `json:"app"`
	ContentPointer string      `json:"content_pointer"`
	ContentHash    string      `json:"content_hash"`
	SizeBytes      uint64      `json:"size_bytes"`
	Tags           []string    `json:"tags"`
	PrivacyFlag    PrivacyFlag `json:"privacy_flag"`
}

// BlobIndexEntry is the blob_index row keyed by content hash.
type BlobIndexEntry struct {
	BlobPath string `json:"path"`
	RefCount int64  `json:"ref_count"`
}

// ChunkRow is one row of enrichment output attached to an event.
type ChunkRow struct {
	ChunkID     string `json:"id"`
	EventID     string `json:"event_id"`
	StartOffset int64  `json:"start"`
	EndOffset   int64  `json:"end"`
	ContentType string `json:"type"`
}

// PurgeCriteria is a conjunction of optional predicates for
// Store.PurgeEvents. Absent fields (nil slices, empty strings) are
// ignored; if every field is absent, PurgeEvents is a no-op.
type PurgeCriteria struct {
	EventIDs    []string
	Start       string
	End         string
	App         string
	Source      string
	PrivacyFlag PrivacyFlag
}

// IsEmpty reports whether c carries no predicate at all, in which case
// PurgeEvents must be a no-op.
func (c PurgeCriteria) IsEmpty() bool {
	return len(c.EventIDs) == 0 && c.Start == "" && c.End == "" &&
		c.App == "" && c.Source == "" && c.PrivacyFlag == ""
}

// IsUUIDv4 reports whether s parses as a version-4 UUID.
func IsUUIDv4(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4
}

// IsHexSHA256 reports whether s is exactly 64 lowercase hex characters.
func IsHexSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	if strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Validate checks Envelope against the invariants in the data model:
// event_id is a UUID v4, content_hash is 64 lowercase hex characters,
// source/app are non-empty, content_pointer is at most 4096 characters,
// and privacy_flag is one of the three known values.
func (e Envelope) Validate() error {
	if !IsUUIDv4(e.EventID) {
		return errors.New("event_id must be a valid uuid v4")
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return errors.New("timestamp must be RFC3339")
	}
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("source must be non-empty")
	}
	if strings.TrimSpace(e.App) == "" {
		return errors.New("app must be non-empty")
	}
	if !IsHexSHA256(e.ContentHash) {
		return errors.New("content_hash must be 64 lowercase hex characters")
	}
	if len(e.ContentPointer) > 4096 {
		return errors.New("content_pointer must be at most 4096 characters")
	}
	if !validPrivacyFlags[e.PrivacyFlag] {
		return errors.New("privacy_flag must be one of default, sensitive, never_store")
	}
	return nil
}
