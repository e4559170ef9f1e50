package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vyasoai.dev/daemon/internal/config"
	"vyasoai.dev/daemon/pkg/blobstore"
	"vyasoai.dev/daemon/pkg/ingest"
	"vyasoai.dev/daemon/pkg/intake"
	"vyasoai.dev/daemon/pkg/metadata"
	"vyasoai.dev/daemon/pkg/vyasocrypto"
)

// harness wires the same components main() wires, against an
// httptest.Server, so the end-to-end scenarios from the design's
// testable-properties section can run without a real socket/process.
type harness struct {
	server *httptest.Server
	store  *metadata.Store
	queue  chan metadata.Envelope
	done   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := metadata.Open(filepath.Join(dir, "vyaso.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	keyer, err := vyasocrypto.NewDevKeyer()
	if err != nil {
		t.Fatal(err)
	}
	blobs := blobstore.New(filepath.Join(dir, "blobs"), keyer)

	cfg := config.Config{DataDir: dir, EnrichCmd: "python3", TestMode: true}
	queue := make(chan metadata.Envelope, queueCapacity)
	processor := &ingest.Processor{Blobs: blobs, Store: store, Config: cfg, Log: zap.NewNop().Sugar()}
	worker := ingest.NewWorker(queue, processor, zap.NewNop().Sugar())

	enqueue := func(env metadata.Envelope) error {
		select {
		case queue <- env:
			return nil
		default:
			return context.DeadlineExceeded
		}
	}
	srv := intake.New(store, enqueue, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()

	t.Cleanup(func() {
		ts.Close()
		close(queue)
		<-done
		store.Close()
	})

	return &harness{server: ts, store: store, queue: queue, done: done}
}

func (h *harness) post(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Vyaso-Local-Client", "vscode")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Vyaso-Local-Client", "vscode")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// TestScenarioS1IngestAndRetrieve exercises: POST /v1/events, wait for
// the micro-batching worker to flush, then GET /v1/mem/:id.
func TestScenarioS1IngestAndRetrieve(t *testing.T) {
	h := newHarness(t)

	tmpFile := filepath.Join(t.TempDir(), "content.txt")
	if err := os.WriteFile(tmpFile, []byte("alpha"), 0o600); err != nil {
		t.Fatal(err)
	}
	id := uuid.New().String()
	env := metadata.Envelope{
		EventID:        id,
		Timestamp:      "2026-07-31T00:00:00Z",
		Source:         "s",
		App:            "a",
		ContentPointer: tmpFile,
		ContentHash:    "8ed3f6ad685b959ead7022518e1af76cd816f8e8ec7ccdda1ed4018e8f2223f8", // sha256("alpha")
		SizeBytes:      5,
		PrivacyFlag:    metadata.PrivacyDefault,
	}
	body, _ := json.Marshal(env)
	resp := h.post(t, "/v1/events", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/events status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(1 * time.Second)
	var getResp *http.Response
	for time.Now().Before(deadline) {
		getResp = h.get(t, "/v1/mem/"+id)
		if getResp.StatusCode == http.StatusOK {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/mem/:id status = %d", getResp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(getResp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	blob := out["blob"].(map[string]any)
	if blob["ref_count"].(float64) != 1 {
		t.Fatalf("expected ref_count 1, got %v", blob["ref_count"])
	}
}

// TestScenarioS6Unauthorized exercises the client-header allowlist.
func TestScenarioS6Unauthorized(t *testing.T) {
	h := newHarness(t)

	req, _ := http.NewRequest(http.MethodPost, h.server.URL+"/v1/events", bytes.NewReader([]byte(`{}`)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPost, h.server.URL+"/v1/events", bytes.NewReader([]byte(`{}`)))
	req2.Header.Set("X-Vyaso-Local-Client", "unknown")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown client status = %d, want 403", resp2.StatusCode)
	}
}

// TestScenarioS3PurgeToZero exercises purge by ids down to ref_count 0.
func TestScenarioS3PurgeToZero(t *testing.T) {
	h := newHarness(t)
	hash := "3b11223344556677889900aabbccddeeff00112233445566778899aabbcc33"
	var ids []string
	for i := 0; i < 3; i++ {
		env := metadata.Envelope{
			EventID:     uuid.New().String(),
			Timestamp:   "2026-07-31T00:00:00Z",
			Source:      "s",
			App:         "a",
			ContentHash: hash,
			SizeBytes:   5,
			PrivacyFlag: metadata.PrivacyDefault,
		}
		ids = append(ids, env.EventID)
		if err := h.store.InsertEvent(context.Background(), env); err != nil {
			t.Fatal(err)
		}
	}

	reqBody, _ := json.Marshal(map[string]any{"event_ids": ids})
	resp := h.post(t, "/v1/purge", reqBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purge status = %d", resp.StatusCode)
	}
	var out map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["deleted_events"] != 3 {
		t.Fatalf("deleted_events = %v, want 3", out["deleted_events"])
	}
	if out["deleted_blobs"] != 1 {
		t.Fatalf("deleted_blobs = %v, want 1", out["deleted_blobs"])
	}
}
