package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = common.NewAppError("QUEUE_CLOSED", "queue is shutting down", common.ErrConflict)

// ResultHook observes every finished job.
type ResultHook func(job Job, res *pipeline.RunResult, err error)

type ProcessorQueue struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration
	hook    ResultHook

	ch   chan Job
	stop chan struct{} // closed when Shutdown starts; unblocks waiting senders
	wg   sync.WaitGroup
	once sync.Once

	// sendMu is held shared by senders and exclusively while ch is closed.
	sendMu sync.RWMutex

	mu       sync.Mutex
	closed   bool
	seq      uint64
	inflight map[string]map[uint64]context.CancelFunc // file name -> run seq -> cancel
	dropped  map[string]struct{}
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithProcessTimeout bounds a single run, analysis polling included.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithResultHook(h ResultHook) Option {
	return func(q *ProcessorQueue) {
		q.hook = h
	}
}

func NewProcessorQueue(runner Runner, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		runner:   runner,
		logger:   logger,
		workers:  4,
		timeout:  15 * time.Minute,
		ch:       make(chan Job, 256),
		stop:     make(chan struct{}),
		inflight: make(map[string]map[uint64]context.CancelFunc),
		dropped:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}

	q.mu.Lock()
	if _, ok := q.dropped[job.FileName]; ok {
		delete(q.dropped, job.FileName)
		q.mu.Unlock()
		q.logger.Info("job dropped before start", "worker_id", workerID, "file_name", job.FileName)
		return
	}
	q.seq++
	id := q.seq
	if q.inflight[job.FileName] == nil {
		q.inflight[job.FileName] = make(map[uint64]context.CancelFunc)
	}
	q.inflight[job.FileName][id] = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.inflight[job.FileName], id)
		if len(q.inflight[job.FileName]) == 0 {
			delete(q.inflight, job.FileName)
		}
		q.mu.Unlock()
	}()

	start := time.Now()
	var (
		res *pipeline.RunResult
		err error
	)
	if job.ReplayOf != uuid.Nil {
		res, err = q.runner.Replay(ctx, job.ReplayOf)
	} else {
		res, err = q.runner.Process(ctx, job.FileName)
	}

	attrs := []any{
		"worker_id", workerID,
		"file_name", job.FileName,
		"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if res != nil {
		attrs = append(attrs, "run_id", res.Run.ID, "status", res.Run.Status)
	}
	switch {
	case errors.Is(err, context.Canceled):
		q.logger.Warn("processing canceled", attrs...)
	case err != nil:
		q.logger.Error("processing failed", append(attrs, "error", err)...)
	default:
		q.logger.Info("processed file successfully", attrs...)
	}
	if q.hook != nil {
		q.hook(job, res, err)
	}
}

// Enqueue blocks while the queue is full until there is room, ctx is done
// or Shutdown starts.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "file_name", job.FileName)
		return ErrQueueClosed
	}
	delete(q.dropped, job.FileName)
	q.mu.Unlock()

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- job:
		q.logger.Info("queued file for processing", "file_name", job.FileName, "replay_of", job.ReplayOf)
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "file_name", job.FileName)
	select {
	case q.ch <- job:
		q.logger.Info("queued file for processing", "file_name", job.FileName, "replay_of", job.ReplayOf)
		return nil
	case <-q.stop:
		q.logger.Warn("cannot enqueue: queue is shutting down", "file_name", job.FileName)
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels every in-flight run for fileName. When none is in flight
// the next queued job for that name is dropped instead, and false is returned.
func (q *ProcessorQueue) Cancel(fileName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if runs := q.inflight[fileName]; len(runs) > 0 {
		for _, cancel := range runs {
			cancel()
		}
		q.logger.Info("run canceled", "file_name", fileName, "runs", len(runs))
		return true
	}
	q.dropped[fileName] = struct{}{}
	return false
}

// Shutdown stops accepting jobs, lets workers drain what is queued and, if
// ctx ends first, cancels the runs still in flight.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()

	q.sendMu.Lock()
	close(q.ch)
	q.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.mu.Lock()
		for name, runs := range q.inflight {
			q.logger.Warn("canceling in-flight run", "file_name", name)
			for _, cancel := range runs {
				cancel()
			}
		}
		q.mu.Unlock()
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
