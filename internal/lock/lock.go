// Package lock claims an upload for exactly one pipeline instance at a time.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyClaimed is returned when another holder owns the key.
var ErrAlreadyClaimed = errors.New("already claimed")

// Claim is a held lock.
type Claim struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker hands out expiring, token-checked claims.
type Locker interface {
	Claim(ctx context.Context, key string) (*Claim, error)
	Release(ctx context.Context, c *Claim) error
}
