package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

// FSStore keeps each container as a directory under root.
type FSStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewFSStore creates root/<container> for every container named.
func NewFSStore(root, publicBaseURL string, logger *slog.Logger, containers ...string) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	for _, c := range containers {
		if err := os.MkdirAll(filepath.Join(abs, c), 0o755); err != nil {
			return nil, fmt.Errorf("create container %s: %w", c, err)
		}
	}
	return &FSStore{root: abs, baseURL: strings.TrimRight(publicBaseURL, "/"), logger: logger}, nil
}

// Dir returns the directory backing container.
func (s *FSStore) Dir(container string) string {
	return filepath.Join(s.root, container)
}

func (s *FSStore) path(container, name string) (string, error) {
	if v := common.NewValidator().Field("name", name, common.BlobName); v.HasErrors() {
		return "", v.Err("BLOB_ERROR")
	}
	return filepath.Join(s.root, container, name), nil
}

func (s *FSStore) Exists(_ context.Context, container, name string) (bool, error) {
	p, err := s.path(container, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) Stat(_ context.Context, container, name string) (Object, error) {
	p, err := s.path(container, name)
	if err != nil {
		return Object{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Object{}, notFound(err, container, name)
	}
	return Object{Container: container, Name: name, Size: fi.Size(), ModTime: fi.ModTime().UTC()}, nil
}

func (s *FSStore) Open(_ context.Context, container, name string) (io.ReadCloser, error) {
	p, err := s.path(container, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, notFound(err, container, name)
	}
	return f, nil
}

func (s *FSStore) URL(container, name string) string {
	return s.baseURL + "/" + url.PathEscape(container) + "/" + url.PathEscape(name)
}

// Copy writes to a temp file in the destination container and renames it into
// place, so readers never see a partial blob.
func (s *FSStore) Copy(ctx context.Context, srcContainer, dstContainer, name string) error {
	src, err := s.Open(ctx, srcContainer, name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := s.path(dstContainer, name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy %s/%s: %w", srcContainer, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename into %s: %w", dstContainer, err)
	}
	s.logger.Debug("blob.copy.ok", "src", srcContainer, "dst", dstContainer, "name", name)
	return nil
}

func (s *FSStore) Delete(_ context.Context, container, name string) error {
	p, err := s.path(container, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return notFound(err, container, name)
	}
	return nil
}

// List returns the regular, non-hidden files of container sorted by name.
func (s *FSStore) List(_ context.Context, container string) ([]Object, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, container))
	if err != nil {
		return nil, notFound(err, container, "")
	}
	out := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Object{Container: container, Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func notFound(err error, container, name string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return common.NewAppError("BLOB_NOT_FOUND", container+"/"+name, common.ErrNotFound)
	}
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
