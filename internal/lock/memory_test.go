package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(time.Minute)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	c1, err := l.Claim(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := l.Claim(ctx, "a.pdf"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := l.Claim(ctx, "b.pdf"); err != nil {
		t.Fatalf("independent key: %v", err)
	}

	// a stale token must not release a newer claim
	now = now.Add(2 * time.Minute)
	c2, err := l.Claim(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	_ = l.Release(ctx, c1)
	if _, err := l.Claim(ctx, "a.pdf"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatal("stale release dropped the live claim")
	}
	_ = l.Release(ctx, c2)
	if _, err := l.Claim(ctx, "a.pdf"); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}
