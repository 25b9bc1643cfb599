// Package ingest discovers uploads and hands them to the worker queue.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/survey-docparser/internal/async"
)

// EventKind is what happened to an upload.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventRemoved EventKind = "removed"
)

// Event names an upload by its blob name inside the uploads container.
type Event struct {
	Kind EventKind
	Name string
}

// Enqueuer is the part of the worker queue ingest depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
	Cancel(fileName string) bool
}

// ScanResult is the per-file outcome of a directory scan.
type ScanResult struct {
	Name string
	Size int64
	Err  string
}

// DirStats summarizes a scan.
type DirStats struct {
	Scanned  uint32
	Matched  uint32
	Enqueued uint32
	Failed   uint32
}
