// Package ingest implements the bounded-channel intake consumer: a
// single-consumer micro-batching loop that hands accumulated envelopes
// off to blocking per-event processing (blob write, metadata insert,
// enrichment handoff), and the subprocess enrichment handoff itself.
//
// Grounded on internal/chanworker's buffered-channel-plus-pump idiom
// (take the buffer at flush time rather than draining it item-by-item,
// so nothing is held across an await point) generalized from an
// N-worker fan-out into the single-consumer, absolute-deadline batcher
// the design calls for.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vyasoai.dev/daemon/pkg/metadata"
)

// BatchSize is the micro-batch size threshold: a batch flushes as soon
// as it reaches this many buffered envelopes, regardless of the flush
// timer.
const BatchSize = 64

// FlushInterval is the micro-batching timer. It is an absolute
// deadline (last flush + FlushInterval), not a per-iteration sleep, so
// a steady trickle of events still produces one flush per interval
// rather than one flush per event.
const FlushInterval = 100 * time.Millisecond

// batchProcessor is the seam Worker flushes batches through. Processor
// satisfies it; tests substitute a recording stub.
type batchProcessor interface {
	ProcessBatch(ctx context.Context, batch []metadata.Envelope)
}

// Worker consumes envelopes from a bounded channel and flushes them in
// micro-batches to a batchProcessor.
type Worker struct {
	in        <-chan metadata.Envelope
	processor batchProcessor
	log       *zap.SugaredLogger
}

// NewWorker builds a Worker reading from in and processing each
// envelope with processor.
func NewWorker(in <-chan metadata.Envelope, processor batchProcessor, log *zap.SugaredLogger) *Worker {
	return &Worker{in: in, processor: processor, log: log}
}

// Run drives the micro-batching loop until in is closed, flushing any
// remaining buffered envelopes before returning. It is meant to run in
// its own goroutine; callers drain its completion by waiting on the
// channel this call is invoked from, or via an errgroup.
func (w *Worker) Run(ctx context.Context) {
	buf := make([]metadata.Envelope, 0, BatchSize)
	nextFlush := time.Now().Add(FlushInterval)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		batch := buf
		buf = make([]metadata.Envelope, 0, BatchSize)
		w.processor.ProcessBatch(ctx, batch)
	}

	timer := time.NewTimer(time.Until(nextFlush))
	defer timer.Stop()

	for {
		select {
		case env, ok := <-w.in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, env)
			if len(buf) >= BatchSize {
				flush()
				nextFlush = time.Now().Add(FlushInterval)
				resetTimer(timer, time.Until(nextFlush))
			}
		case <-timer.C:
			flush()
			nextFlush = time.Now().Add(FlushInterval)
			resetTimer(timer, time.Until(nextFlush))
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
