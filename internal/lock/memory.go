package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	claims map[string]Claim
}

func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryLocker{ttl: ttl, now: time.Now, claims: make(map[string]Claim)}
}

func (l *MemoryLocker) Claim(_ context.Context, key string) (*Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if c, ok := l.claims[key]; ok && now.Before(c.ExpiresAt) {
		return nil, ErrAlreadyClaimed
	}
	c := Claim{Key: key, Token: uuid.New().String(), ExpiresAt: now.Add(l.ttl)}
	l.claims[key] = c
	return &c, nil
}

func (l *MemoryLocker) Release(_ context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.claims[c.Key]; ok && cur.Token == c.Token {
		delete(l.claims, c.Key)
	}
	return nil
}
