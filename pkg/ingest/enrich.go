package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"vyasoai.dev/daemon/internal/config"
)

// enrichInput is the JSON object written to data/intel/in/<job_id>.json,
// matching the enrichment subprocess contract.
type enrichInput struct {
	JobID       string         `json:"job_id"`
	EventID     string         `json:"event_id"`
	BlobPath    string         `json:"blob_path"`
	ContentType string         `json:"content_type"`
	Source      string         `json:"source"`
	Params      map[string]any `json:"params"`
	CreatedAt   string         `json:"created_at"`
}

// enrichOutput is the expected shape at data/intel/out/<job_id>.json.
// Any other shape is ignored — no chunks are recorded for it.
type enrichOutput struct {
	Status  string          `json:"status"`
	EventID string          `json:"event_id"`
	Chunks  []enrichedChunk `json:"chunks"`
}

type enrichedChunk struct {
	ID    string `json:"id"`
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
	Type  string `json:"type"`
}

// intelDirs are the three directories the enrichment handoff writes
// into, rooted at dataDir.
type intelDirs struct {
	in, out, logs string
}

func resolveIntelDirs(dataDir string) intelDirs {
	root := filepath.Join(dataDir, "intel")
	return intelDirs{
		in:   filepath.Join(root, "in"),
		out:  filepath.Join(root, "out"),
		logs: filepath.Join(root, "logs"),
	}
}

func (d intelDirs) ensure() error {
	for _, dir := range []string{d.in, d.out, d.logs} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("ingest: create intel dir %s: %w", dir, err)
		}
	}
	return nil
}

// runEnrichment writes the input envelope, spawns the enrichment
// subprocess (command and arg vector per the §6 contract), retries on
// non-zero exit up to cfg.EnrichMaxRetries, and on eventual success
// parses data/intel/out/<job_id>.json into chunk rows. Failure after
// exhausting retries is reported but never fatal to the caller: the
// event itself was already recorded.
func runEnrichment(ctx context.Context, cfg config.Config, dirs intelDirs, jobID, eventID, blobPath, source string) ([]enrichedChunk, error) {
	in := enrichInput{
		JobID:       jobID,
		EventID:     eventID,
		BlobPath:    blobPath,
		ContentType: "prose",
		Source:      source,
		Params:      map[string]any{"backend": "mock"},
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	inPath := filepath.Join(dirs.in, jobID+".json")
	outPath := filepath.Join(dirs.out, jobID+".json")
	logPath := filepath.Join(dirs.logs, jobID+".log")

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("ingest: marshal enrichment input: %w", err)
	}
	if err := os.WriteFile(inPath, payload, 0o600); err != nil {
		return nil, fmt.Errorf("ingest: write enrichment input: %w", err)
	}

	attempt := func() error {
		return invokeOnce(ctx, cfg, eventID, jobID, inPath, outPath, logPath)
	}

	// max_retries is the total attempt budget, not "initial + retries":
	// 3 in production means 3 attempts total, 0 in test mode means the
	// attempt loop runs zero times — no subprocess is ever invoked.
	// retry.Do always runs its body at least once, so a zero budget is
	// handled before ever calling it.
	maxRetries := cfg.EnrichMaxRetries()
	if maxRetries == 0 {
		return nil, fmt.Errorf("ingest: enrichment skipped (max_retries=0)")
	}

	err = retry.Do(
		attempt,
		retry.Attempts(uint(maxRetries)),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: enrichment subprocess failed: %w", err)
	}

	return parseOutput(outPath, eventID)
}

// invokeOnce runs the enrichment subprocess once under cfg's timeout,
// writing stderr to logPath when non-empty.
func invokeOnce(ctx context.Context, cfg config.Config, eventID, jobID, inPath, outPath, logPath string) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.EnrichTimeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.EnrichCmd,
		"-m", "intelligence.cli", "process", eventID,
		"--job", jobID, "--infile", inPath, "--outfile", outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if stderr.Len() > 0 {
		_ = os.WriteFile(logPath, stderr.Bytes(), 0o600) // best-effort
	}
	if runErr != nil {
		return fmt.Errorf("enrichment subprocess: %w", runErr)
	}
	return nil
}

// parseOutput reads and validates the enrichment output file. Invalid
// chunk entries (missing id/type or nil start/end) are silently
// skipped; a malformed or status!="ok" file yields zero chunks rather
// than an error, matching the "any other shape is ignored" contract.
func parseOutput(outPath, eventID string) ([]enrichedChunk, error) {
	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: read enrichment output: %w", err)
	}
	var out enrichOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	if out.Status != "ok" || out.EventID == "" {
		return nil, nil
	}
	valid := make([]enrichedChunk, 0, len(out.Chunks))
	for _, c := range out.Chunks {
		if c.ID == "" || c.Type == "" || c.Start == nil || c.End == nil {
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}
