package metadata

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vyaso.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEnvelope(t *testing.T, hash string) Envelope {
	t.Helper()
	return Envelope{
		EventID:        uuid.New().String(),
		Timestamp:      "2026-07-31T00:00:00Z",
		Source:         "test-source",
		App:            "test-app",
		ContentPointer: "",
		ContentHash:    hash,
		SizeBytes:      5,
		Tags:           []string{"a", "b"},
		PrivacyFlag:    PrivacyDefault,
	}
}

func TestInsertEventCreatesBlobIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "aa11223344556677889900aabbccddeeff00112233445566778899aabbccdd"
	env := testEnvelope(t, hash)

	if err := s.InsertEvent(ctx, env); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	got, err := s.GetEvent(ctx, env.EventID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.EventID != env.EventID {
		t.Fatalf("got event_id %q want %q", got.EventID, env.EventID)
	}
	if got.ContentPointer == "" {
		t.Fatal("expected content_pointer to be substituted with blob index path")
	}

	idx, err := s.GetBlobIndex(ctx, hash)
	if err != nil {
		t.Fatalf("GetBlobIndex: %v", err)
	}
	if idx == nil || idx.RefCount != 1 {
		t.Fatalf("expected ref_count 1, got %+v", idx)
	}
}

func TestInsertEventDedupIncrementsRefCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "bb11223344556677889900aabbccddeeff00112233445566778899aabbccdd"

	var ids []string
	for i := 0; i < 3; i++ {
		env := testEnvelope(t, hash)
		ids = append(ids, env.EventID)
		if err := s.InsertEvent(ctx, env); err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
	}

	idx, err := s.GetBlobIndex(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if idx.RefCount != 3 {
		t.Fatalf("expected ref_count 3, got %d", idx.RefCount)
	}
}

func TestPurgeEmptyCriteriaIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	de, db, err := s.PurgeEvents(ctx, PurgeCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if de != 0 || db != 0 {
		t.Fatalf("expected (0,0), got (%d,%d)", de, db)
	}
}

func TestPurgeByIDsToZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "cc11223344556677889900aabbccddeeff00112233445566778899aabbccdd"

	var ids []string
	for i := 0; i < 3; i++ {
		env := testEnvelope(t, hash)
		ids = append(ids, env.EventID)
		if err := s.InsertEvent(ctx, env); err != nil {
			t.Fatal(err)
		}
	}

	de, db, err := s.PurgeEvents(ctx, PurgeCriteria{EventIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	if de != 3 {
		t.Fatalf("deleted_events = %d, want 3", de)
	}
	if db != 1 {
		t.Fatalf("deleted_blobs = %d, want 1", db)
	}
	idx, err := s.GetBlobIndex(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if idx != nil {
		t.Fatalf("expected blob index row gone, got %+v", idx)
	}
}

func TestPurgePartialKeepsRefCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "dd11223344556677889900aabbccddeeff00112233445566778899aabbccdd"

	env1 := testEnvelope(t, hash)
	env2 := testEnvelope(t, hash)
	if err := s.InsertEvent(ctx, env1); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEvent(ctx, env2); err != nil {
		t.Fatal(err)
	}

	de, db, err := s.PurgeEvents(ctx, PurgeCriteria{EventIDs: []string{env1.EventID}})
	if err != nil {
		t.Fatal(err)
	}
	if de != 1 {
		t.Fatalf("deleted_events = %d, want 1", de)
	}
	if db != 1 {
		t.Fatalf("deleted_blobs = %d, want 1 (known quirk: impacted-hash count)", db)
	}

	idx, err := s.GetBlobIndex(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if idx == nil || idx.RefCount != 1 {
		t.Fatalf("expected ref_count 1 remaining, got %+v", idx)
	}
}

func TestPurgeByCriteriaCountsPhysicalRemovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "ee11223344556677889900aabbccddeeff00112233445566778899aabbccdd"
	env := testEnvelope(t, hash)
	env.App = "purge-me"
	if err := s.InsertEvent(ctx, env); err != nil {
		t.Fatal(err)
	}

	de, db, err := s.PurgeEvents(ctx, PurgeCriteria{App: "purge-me"})
	if err != nil {
		t.Fatal(err)
	}
	if de != 1 {
		t.Fatalf("deleted_events = %d, want 1", de)
	}
	if db != 1 {
		t.Fatalf("deleted_blobs = %d, want 1", db)
	}
}

func TestInsertChunksIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := "ff11223344556677889900aabbccddeeff00112233445566778899aabbccdd"
	env := testEnvelope(t, hash)
	if err := s.InsertEvent(ctx, env); err != nil {
		t.Fatal(err)
	}

	rows := []ChunkRow{{ChunkID: "c1", EventID: env.EventID, StartOffset: 0, EndOffset: 5, ContentType: "prose"}}
	n, err := s.InsertChunks(ctx, rows)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
	// Replay is a no-op thanks to INSERT OR IGNORE.
	n, err = s.InsertChunks(ctx, rows)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1 (attempted count even on ignore)", n)
	}
}

func TestQueryEventsByAppSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		env := testEnvelope(t, fmt.Sprintf("a1%062d", i))
		env.App = "myapp"
		if err := s.InsertEvent(ctx, env); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.QueryEventsByAppSource(ctx, "myapp", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
}
