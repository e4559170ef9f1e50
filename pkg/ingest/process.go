package ingest

import (
	"context"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vyasoai.dev/daemon/internal/config"
	"vyasoai.dev/daemon/pkg/blobstore"
	"vyasoai.dev/daemon/pkg/metadata"
)

// Processor holds the dependencies process_event needs: the blob
// store, the metadata store, the enrichment handoff configuration, and
// a logger. One Processor is shared by the worker across its lifetime.
type Processor struct {
	Blobs  *blobstore.Store
	Store  *metadata.Store
	Config config.Config
	Log    *zap.SugaredLogger
}

// ProcessBatch runs processEvent for every envelope in order. Per-event
// errors are logged and do not abort the batch — a bad event never
// blocks its batch-mates.
func (p *Processor) ProcessBatch(ctx context.Context, batch []metadata.Envelope) {
	for _, env := range batch {
		if err := p.processEvent(ctx, env); err != nil {
			p.Log.Errorw("process_event failed", "event_id", env.EventID, "error", err)
		}
	}
}

// processEvent implements spec §4.5's seven steps. Blob-save,
// blob-index lookup and enrichment failures are logged here and not
// returned; an InsertEvent failure is returned to ProcessBatch, which
// logs it. Nothing reaches the HTTP client — the handler that accepted
// this envelope has already returned 202.
func (p *Processor) processEvent(ctx context.Context, env metadata.Envelope) error {
	if env.PrivacyFlag == metadata.PrivacyNeverStore {
		return p.Store.InsertEvent(ctx, env)
	}

	if env.ContentPointer != "" {
		if raw, err := os.ReadFile(env.ContentPointer); err == nil {
			if _, saveErr := p.Blobs.Save(raw, env.ContentHash); saveErr != nil {
				p.Log.Errorw("blob save failed", "event_id", env.EventID, "content_hash", env.ContentHash, "error", saveErr)
			}
		}
		// A missing source file is non-fatal: the event is still
		// recorded, possibly pointing at a blob already on disk from an
		// earlier dedup hit.
	}

	if err := p.Store.InsertEvent(ctx, env); err != nil {
		return err
	}

	idx, err := p.Store.GetBlobIndex(ctx, env.ContentHash)
	if err != nil {
		p.Log.Errorw("blob index lookup failed", "event_id", env.EventID, "error", err)
	}
	blobPath := env.ContentPointer
	if idx != nil {
		blobPath = idx.BlobPath
	}

	jobID := uuid.New().String()
	dirs := resolveIntelDirs(p.Config.DataDir)
	if err := dirs.ensure(); err != nil {
		p.Log.Errorw("intel dirs unavailable", "event_id", env.EventID, "error", err)
		return nil
	}

	chunks, err := runEnrichment(ctx, p.Config, dirs, jobID, env.EventID, blobPath, env.Source)
	if err != nil {
		p.Log.Infow("enrichment did not complete", "event_id", env.EventID, "job_id", jobID, "error", err)
		return nil
	}

	rows := make([]metadata.ChunkRow, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, metadata.ChunkRow{
			ChunkID:     c.ID,
			EventID:     env.EventID,
			StartOffset: *c.Start,
			EndOffset:   *c.End,
			ContentType: c.Type,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := p.Store.InsertChunks(ctx, rows); err != nil {
		p.Log.Errorw("insert chunks failed", "event_id", env.EventID, "job_id", jobID, "error", err)
	}
	return nil
}
