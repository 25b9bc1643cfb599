package blob

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/survey-docparser/constants"
	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

// Archiver moves a processed upload out of the uploads container.
type Archiver struct {
	store  Store
	logger *slog.Logger
}

func NewArchiver(store Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger}
}

// Archive copies uploads/name to processed/name, then deletes the original.
// Either step failing yields ErrArchivalFailure; after a failed delete the
// processed copy is left in place.
func (a *Archiver) Archive(ctx context.Context, name string) error {
	if err := a.store.Copy(ctx, constants.ContainerUploads, constants.ContainerProcessed, name); err != nil {
		a.logger.Error("archive.copy.failed", "file_name", name, "error", err)
		return &common.PipelineError{Kind: common.ErrArchivalFailure, Stage: "archive_copy", FileName: name, Cause: err}
	}
	if err := a.store.Delete(ctx, constants.ContainerUploads, name); err != nil {
		a.logger.Error("archive.delete.failed", "file_name", name, "error", err)
		return &common.PipelineError{Kind: common.ErrArchivalFailure, Stage: "archive_delete", FileName: name, Cause: err}
	}
	a.logger.Info("archive.ok", "file_name", name)
	return nil
}
