package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
	"github.com/joseph-ayodele/survey-docparser/internal/rawstore"
	repo "github.com/joseph-ayodele/survey-docparser/internal/repository"
)

// dbhealth checks every backing store named by the configuration and exits
// non-zero if any is unreachable.
func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := false
	check := func(name string, fn func() error) {
		if err := fn(); err != nil {
			log.Printf("%s health: FAIL (%v)", name, err)
			failed = true
			return
		}
		log.Printf("%s health: OK", name)
	}

	check("ledger ("+cfg.Database.Driver+")", func() error {
		runs, err := repo.Open(ctx, cfg.Database, nil)
		if err != nil {
			return err
		}
		defer runs.Close()
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return runs.Ping(pingCtx)
	})

	if cfg.Redis.Addr != "" {
		check("redis", func() error {
			client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer client.Close()
			pingCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return client.Ping(pingCtx).Err()
		})
	}

	if cfg.Mongo.URI != "" {
		check("mongo", func() error {
			client, err := rawstore.Connect(ctx, cfg.Mongo.URI, 3*time.Second)
			if err != nil {
				return err
			}
			return client.Disconnect(context.Background())
		})
	}

	if failed {
		os.Exit(1)
	}
}
