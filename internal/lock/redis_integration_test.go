//go:build integration

package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}
	return client
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)

	a := NewRedisLocker(client, time.Minute, nil)
	b := NewRedisLocker(client, time.Minute, nil)

	claim, err := a.Claim(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := b.Claim(ctx, "a.pdf"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second instance should be refused, got %v", err)
	}

	forged := &Claim{Key: "a.pdf", Token: "not-mine"}
	if err := b.Release(ctx, forged); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := b.Claim(ctx, "a.pdf"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatal("foreign token released the claim")
	}

	if err := a.Release(ctx, claim); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := b.Claim(ctx, "a.pdf"); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}
