package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/app"
	"github.com/joseph-ayodele/survey-docparser/internal/async"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/export"
	"github.com/joseph-ayodele/survey-docparser/internal/ingest"
	"github.com/joseph-ayodele/survey-docparser/internal/pipeline"
	"github.com/joseph-ayodele/survey-docparser/internal/server"
)

func main() {
	// Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("config.load.failed", "error", err)
		os.Exit(2)
	}

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("app.build.failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	queue := async.NewProcessorQueue(a.Orchestrator, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Pipeline.RunTimeout),
		async.WithResultHook(logResult(logger)),
	)

	// Watch uploads; the initial scan goes through the queue like any event.
	events, watchErrs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Dir:      a.Store.Dir(constants.ContainerUploads),
		Debounce: cfg.Pipeline.WatchDebounce,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("watcher.start.failed", "error", err)
		os.Exit(1)
	}
	go ingest.Dispatch(ctx, events, queue, logger)
	go func() {
		for err := range watchErrs {
			logger.Warn("watcher.error", "error", err)
		}
	}()
	if cfg.Pipeline.InitialScan {
		go func() {
			if _, _, err := ingest.ScanUploads(ctx, a.Store, queue, logger); err != nil {
				logger.Error("scan.failed", "error", err)
			}
		}()
	}

	// Admin HTTP API
	router := server.NewRouter(&server.Container{
		Queue:    queue,
		Runs:     a.Runs,
		Store:    a.Store,
		Exporter: export.NewService(a.Runs, logger),
		Checks:   a.Checks,
		Logger:   logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http.serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http.serve.failed", "error", err)
			stop()
		}
	}()

	// gRPC health
	grpcServer, hs := server.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("grpc.listen.failed", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go server.WatchHealth(ctx, hs, a.Checks, 15*time.Second, logger)
	go func() {
		logger.Info("grpc.serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc.serve.failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http.shutdown.failed", "error", err)
	}
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func logResult(logger *slog.Logger) async.ResultHook {
	return func(job async.Job, res *pipeline.RunResult, err error) {
		if res == nil {
			return
		}
		logger.Info("run.finished",
			"file_name", job.FileName,
			"run_id", res.Run.ID,
			"status", res.Run.Status,
			"documents", res.Run.Documents,
			"submitted", res.Run.Submitted,
			"needs_reconciliation", res.Run.NeedsReconciliation,
			"trace_id", job.TraceID,
			"error_kind", pipeline.ErrorKind(err),
		)
	}
}

func logLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
