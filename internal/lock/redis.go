package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares claims between instances through SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "docparser:claim:", ttl: ttl, logger: logger}
}

func (l *RedisLocker) key(k string) string {
	return l.prefix + k
}

func (l *RedisLocker) Claim(ctx context.Context, key string) (*Claim, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		l.logger.Info("lock.claim.held_elsewhere", "key", key)
		return nil, ErrAlreadyClaimed
	}
	return &Claim{Key: key, Token: token, ExpiresAt: time.Now().Add(l.ttl)}, nil
}

func (l *RedisLocker) Release(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(c.Key)}, c.Token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", c.Key, err)
	}
	if n == 0 {
		l.logger.Warn("lock.release.expired", "key", c.Key)
	}
	return nil
}
