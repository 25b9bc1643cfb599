package catalog

import (
	"context"
	"sync"

	"github.com/joseph-ayodele/survey-docparser/internal/survey"
)

// Fetcher loads a catalog by survey type label.
type Fetcher interface {
	Fetch(ctx context.Context, label string) (survey.Catalog, error)
}

// Memo caches successful fetches for the lifetime of one pipeline run.
// Create one per run; never share it between runs.
type Memo struct {
	fetcher Fetcher

	mu      sync.Mutex
	entries map[string]survey.Catalog
}

func NewMemo(f Fetcher) *Memo {
	return &Memo{fetcher: f, entries: make(map[string]survey.Catalog)}
}

// Fetch returns the cached catalog for label or fetches it. Failures are not cached.
func (m *Memo) Fetch(ctx context.Context, label string) (survey.Catalog, error) {
	m.mu.Lock()
	if c, ok := m.entries[label]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	c, err := m.fetcher.Fetch(ctx, label)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[label] = c
	m.mu.Unlock()
	return c, nil
}
