package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/async"
	"github.com/joseph-ayodele/survey-docparser/internal/blob"
)

// ScanUploads enqueues every eligible object already in the uploads
// container. Per-file enqueue failures are reported in the results and do
// not stop the scan.
func ScanUploads(ctx context.Context, store blob.Store, q Enqueuer, logger *slog.Logger) ([]ScanResult, DirStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	objects, err := store.List(ctx, constants.ContainerUploads)
	if err != nil {
		return nil, DirStats{}, fmt.Errorf("list uploads: %w", err)
	}

	var results []ScanResult
	var stats DirStats
	for _, obj := range objects {
		stats.Scanned++
		if !Eligible(obj.Name) {
			continue
		}
		stats.Matched++

		res := ScanResult{Name: obj.Name, Size: obj.Size}
		job := async.Job{FileName: obj.Name, SubmittedAt: time.Now(), TraceID: uuid.NewString()}
		if err := q.Enqueue(ctx, job); err != nil {
			res.Err = err.Error()
			stats.Failed++
			logger.Warn("ingest.scan.enqueue_failed", "file_name", obj.Name, "error", err)
		} else {
			stats.Enqueued++
		}
		results = append(results, res)
	}

	logger.Info("ingest.scan.done",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"enqueued", stats.Enqueued,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

// Dispatch feeds watcher events to the queue until events is closed or ctx
// ends. Created uploads are enqueued; removed uploads cancel their run.
func Dispatch(ctx context.Context, events <-chan Event, q Enqueuer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventCreated:
				job := async.Job{FileName: ev.Name, SubmittedAt: time.Now(), TraceID: uuid.NewString()}
				if err := q.Enqueue(ctx, job); err != nil {
					logger.Warn("ingest.dispatch.enqueue_failed", "file_name", ev.Name, "error", err)
				}
			case EventRemoved:
				if q.Cancel(ev.Name) {
					logger.Info("ingest.dispatch.canceled", "file_name", ev.Name, "reason", "upload removed")
				}
			}
		}
	}
}
