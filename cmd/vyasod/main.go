// Command vyasod is the VyasoAI local daemon: it wires together the
// blob store, the metadata store, the bounded intake channel and its
// ingest worker, and the HTTP intake API, then serves until a shutdown
// signal arrives and drains cleanly.
//
// Grounded on camlistored.go's startup sequence (flag parse, storage
// root check, mux construction, listen) generalized with
// golang.org/x/sync/errgroup to supervise the HTTP listener and the
// ingest worker as one unit.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vyasoai.dev/daemon/internal/auxindex"
	"vyasoai.dev/daemon/internal/config"
	"vyasoai.dev/daemon/pkg/blobstore"
	"vyasoai.dev/daemon/pkg/ingest"
	"vyasoai.dev/daemon/pkg/intake"
	"vyasoai.dev/daemon/pkg/metadata"
	"vyasoai.dev/daemon/pkg/vyasocrypto"
)

// queueCapacity is the bounded intake channel's buffer size.
const queueCapacity = 1024

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "vyasod:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar().With("component", "vyasod")

	blobRoot := filepath.Join(cfg.DataDir, "blobs")
	store, err := metadata.Open(filepath.Join(cfg.DataDir, "vyaso.db"), blobRoot)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	// Smoke-test the schema is reachable before accepting traffic.
	if _, err := store.ListRecentEvents(context.Background(), 1); err != nil {
		return fmt.Errorf("metadata store unreachable: %w", err)
	}

	keyer, err := vyasocrypto.NewDevKeyer()
	if err != nil {
		return fmt.Errorf("derive dev key: %w", err)
	}
	blobs := blobstore.New(blobRoot, keyer)
	if err := blobs.EnsureBase(); err != nil {
		return fmt.Errorf("ensure blob base: %w", err)
	}
	if _, err := blobs.EnsureTodayDir(); err != nil {
		return fmt.Errorf("ensure today's blob dir: %w", err)
	}

	queue := make(chan metadata.Envelope, queueCapacity)
	enqueue := func(env metadata.Envelope) error {
		select {
		case queue <- env:
			return nil
		default:
			return fmt.Errorf("intake queue full")
		}
	}

	processor := &ingest.Processor{
		Blobs:  blobs,
		Store:  store,
		Config: cfg,
		Log:    logger.Sugar().With("component", "ingest"),
	}
	worker := ingest.NewWorker(queue, processor, logger.Sugar().With("component", "ingest"))

	ln, addr, err := bind(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	log.Infow("listening", "addr", addr)

	srv := intake.New(store, enqueue, logger.Sugar().With("component", "intake"))
	httpServer := &http.Server{Handler: srv}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Deliberately uncancelable: worker.Run must keep processing
		// whatever is already buffered or still arriving on queue until
		// close(queue) below, not abort mid-batch the instant a shutdown
		// signal cancels gctx. The original daemon has the same shape —
		// it drops the channel sender and lets the worker finish on its
		// own, uncoupled from the shutdown signal.
		worker.Run(context.Background())
		return nil
	})
	g.Go(func() error {
		err := httpServer.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutdown signal received")
		// Shutdown waits for in-flight handlers to return, so none can
		// still be sending on queue when it is closed below.
		err := httpServer.Shutdown(context.Background())
		// The worker only stops once its input channel closes; closing
		// it here (rather than relying on ctx cancellation alone)
		// guarantees every already-enqueued envelope is drained before
		// the process exits, and unblocks worker.Run so g.Wait() below
		// can return.
		close(queue)
		return err
	})

	serveErr := g.Wait()

	if err := auxindex.Flush(log); err != nil {
		log.Errorw("auxindex flush failed", "error", err)
	}

	log.Infow("server stopped; worker drained")
	return serveErr
}
