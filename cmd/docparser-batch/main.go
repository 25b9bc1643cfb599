package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/app"
	"github.com/joseph-ayodele/survey-docparser/internal/async"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/entity"
	"github.com/joseph-ayodele/survey-docparser/internal/export"
	"github.com/joseph-ayodele/survey-docparser/internal/ingest"
	"github.com/joseph-ayodele/survey-docparser/internal/pipeline"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

type tally struct {
	mu        sync.Mutex
	runs      int
	done      int
	failed    int
	skipped   int
	reconcile int
}

func (t *tally) record(_ async.Job, res *pipeline.RunResult, _ error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	if res == nil {
		t.failed++
		return
	}
	switch res.Run.Status {
	case constants.RunStatusDone:
		t.done++
	case constants.RunStatusSkipped:
		t.skipped++
	default:
		t.failed++
	}
	if res.Run.NeedsReconciliation {
		t.reconcile++
	}
}

func main() {
	// Parse CLI flags
	var (
		root    = flag.String("root", "", "storage root holding uploads/ and processed/ (overrides STORAGE_ROOT)")
		inmem   = flag.Bool("inmem", false, "use an in-memory SQLite ledger")
		out     = flag.String("out", "", "output XLSX path (defaults to <root>/runs.xlsx)")
		workers = flag.Int("workers", 0, "worker count (overrides QUEUE_WORKERS)")
	)
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if *inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = ":memory:"
	}
	if *workers > 0 {
		cfg.Queue.Workers = *workers
	}
	if *out == "" {
		*out = filepath.Join(cfg.Storage.Root, "runs.xlsx")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	t := &tally{}
	queue := async.NewProcessorQueue(a.Orchestrator, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Pipeline.RunTimeout),
		async.WithResultHook(t.record),
	)

	_, stats, err := ingest.ScanUploads(ctx, a.Store, queue, logger)
	if err != nil {
		logger.Error("failed to scan uploads", "error", err)
		os.Exit(1)
	}

	// Shutdown drains everything the scan queued; ctx cancels in-flight runs.
	queue.Shutdown(ctx)

	logger.Info("exporting to XLSX", "output", *out)
	xlsx, err := export.NewService(a.Runs, logger).ExportRunsXLSX(context.WithoutCancel(ctx), entity.RunFilter{})
	if err != nil {
		logger.Error("failed to export runs", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	logger.Info("batch processing complete",
		"enqueued", stats.Enqueued,
		"runs", t.runs,
		"done", t.done,
		"failed", t.failed,
		"skipped", t.skipped,
		"needs_reconciliation", t.reconcile,
		"output_file", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files enqueued: %d\n", stats.Enqueued)
	fmt.Printf("- Done: %d\n", t.done)
	fmt.Printf("- Failed: %d\n", t.failed)
	fmt.Printf("- Skipped: %d\n", t.skipped)
	fmt.Printf("- Needs reconciliation: %d\n", t.reconcile)
	fmt.Printf("- Output: %s\n", *out)

	if t.failed > 0 || t.reconcile > 0 {
		_ = a.Close()
		os.Exit(1)
	}
}
