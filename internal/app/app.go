// Package app wires the pipeline from configuration. Both the daemon and the
// batch command build through here.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/analysis"
	"github.com/joseph-ayodele/survey-docparser/internal/blob"
	"github.com/joseph-ayodele/survey-docparser/internal/catalog"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/httpclient"
	"github.com/joseph-ayodele/survey-docparser/internal/lock"
	"github.com/joseph-ayodele/survey-docparser/internal/pipeline"
	"github.com/joseph-ayodele/survey-docparser/internal/rawstore"
	"github.com/joseph-ayodele/survey-docparser/internal/repository"
	"github.com/joseph-ayodele/survey-docparser/internal/server"
	"github.com/joseph-ayodele/survey-docparser/internal/submission"
)

const connectTimeout = 5 * time.Second

// App holds the wired collaborators. Call Close when done.
type App struct {
	Config       *common.Config
	Store        *blob.FSStore
	Runs         repository.RunRepository
	Orchestrator *pipeline.Orchestrator
	Checks       map[string]server.Checker

	closers []func() error
	logger  *slog.Logger
}

// Build opens every backing service named by cfg. Redis and Mongo are
// optional; without them claims and raw results stay in process.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Checks: map[string]server.Checker{}, logger: logger}

	store, err := blob.NewFSStore(cfg.Storage.Root, cfg.Storage.PublicBaseURL, logger,
		constants.ContainerUploads, constants.ContainerProcessed)
	if err != nil {
		return nil, err
	}
	a.Store = store

	runs, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.Runs = runs
	a.closers = append(a.closers, runs.Close)
	a.Checks["database"] = runs.Ping

	locker, err := a.locker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	raw, err := a.rawStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	analyzer := analysis.NewClient(analysis.Config{
		Endpoint:     cfg.Analysis.Endpoint,
		APIKey:       cfg.Analysis.APIKey,
		APIVersion:   cfg.Analysis.APIVersion,
		PollInterval: cfg.Analysis.PollInterval,
		Timeout:      cfg.Analysis.Timeout,
		Retry:        retryPolicy(cfg.Analysis.Retry),
	}, nil, logger)
	catalogClient := catalog.NewClient(catalog.Config{
		BaseURL: cfg.Catalog.BaseURL,
		Timeout: cfg.Catalog.Timeout,
		Retry:   retryPolicy(cfg.Catalog.Retry),
	}, nil, logger)
	submitter := submission.NewClient(submission.Config{
		BaseURL: cfg.Submission.BaseURL,
		Timeout: cfg.Submission.Timeout,
		Retry:   retryPolicy(cfg.Submission.Retry),
	}, nil, logger)

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Analyzer:  analyzer,
		Catalog:   catalogClient,
		Submitter: submitter,
		Archiver:  blob.NewArchiver(store, logger),
		Store:     store,
		Locker:    locker,
		Runs:      runs,
		Raw:       raw,
	}, pipeline.Options{
		ModelID:        cfg.Analysis.ModelID,
		ArchiveTimeout: cfg.Pipeline.ArchiveTimeout,
	}, logger)

	logger.Info("app.ready",
		"db_driver", cfg.Database.Driver,
		"storage_root", cfg.Storage.Root,
		"redis", cfg.Redis.Addr != "",
		"mongo", cfg.Mongo.URI != "",
		"model_id", cfg.Analysis.ModelID,
	)
	return a, nil
}

func (a *App) locker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Redis.Addr == "" {
		return lock.NewMemoryLocker(a.Config.Redis.LockTTL), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, common.NewAppError("REDIS_UNAVAILABLE", a.Config.Redis.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return lock.NewRedisLocker(client, a.Config.Redis.LockTTL, a.logger), nil
}

func (a *App) rawStore(ctx context.Context) (rawstore.Store, error) {
	if a.Config.Mongo.URI == "" {
		return rawstore.NewMemoryStore(), nil
	}
	client, err := rawstore.Connect(ctx, a.Config.Mongo.URI, connectTimeout)
	if err != nil {
		return nil, common.NewAppError("MONGO_UNAVAILABLE", "raw result store", err)
	}
	a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
	a.Checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	coll := client.Database(a.Config.Mongo.Database).Collection(a.Config.Mongo.Collection)
	return rawstore.NewMongoStore(ctx, coll, a.logger), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("app.close.failed", "error", err)
		return err
	}
	return nil
}

func retryPolicy(r common.RetryConfig) httpclient.RetryPolicy {
	return httpclient.RetryPolicy{MaxRetries: r.MaxRetries, MinBackoff: r.MinBackoff, MaxBackoff: r.MaxBackoff}
}
