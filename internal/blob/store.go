// Package blob abstracts the object containers uploads are read from and
// archived into.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Object describes a stored blob.
type Object struct {
	Container string
	Name      string
	Size      int64
	ModTime   time.Time
}

// Store is the storage collaborator used by the pipeline.
type Store interface {
	Exists(ctx context.Context, container, name string) (bool, error)
	Stat(ctx context.Context, container, name string) (Object, error)
	Open(ctx context.Context, container, name string) (io.ReadCloser, error)
	// URL is the address handed to the analysis service.
	URL(container, name string) string
	Copy(ctx context.Context, srcContainer, dstContainer, name string) error
	Delete(ctx context.Context, container, name string) error
	List(ctx context.Context, container string) ([]Object, error)
}

// Checksum returns the hex SHA-256 of a blob.
func Checksum(ctx context.Context, s Store, container, name string) (string, error) {
	rc, err := s.Open(ctx, container, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("hash %s/%s: %w", container, name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
