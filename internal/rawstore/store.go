// Package rawstore keeps the raw analysis payload of each run so a failed run
// can be replayed without analysing the document again.
package rawstore

import (
	"context"
	"sync"
	"time"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

// Record is one stored analysis payload.
type Record struct {
	RunID    string    `bson:"run_id"`
	FileName string    `bson:"file_name"`
	ModelID  string    `bson:"model_id"`
	Payload  []byte    `bson:"payload"` // exact bytes returned by the service
	StoredAt time.Time `bson:"stored_at"`
}

// Store persists raw payloads by run id.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, runID string) (*Record, error)
}

// MemoryStore is the in-process Store used when no Mongo URI is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	if r.StoredAt.IsZero() {
		r.StoredAt = time.Now().UTC()
	}
	r.Payload = append([]byte(nil), rec.Payload...)
	s.records[rec.RunID] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[runID]
	if !ok {
		return nil, common.NewAppError("RAW_NOT_FOUND", runID, common.ErrNotFound)
	}
	return &r, nil
}
