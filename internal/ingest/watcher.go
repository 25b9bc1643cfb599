package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Dir         string        // uploads container directory, watched non-recursively
	InitialScan bool          // if true, emit existing files as created
	Debounce    time.Duration // coalesce rapid create/write bursts
	Logger      *slog.Logger
}

// StartWatcher emits created and removed upload events for cfg.Dir until
// ctx is done. Both channels are closed when the watcher stops.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan Event, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		logger.Error("watcher start failed: no directory provided")
		return nil, nil, errors.New("no directory provided")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}
	if err := w.Add(cfg.Dir); err != nil {
		logger.Error("failed to watch directory", "dir", cfg.Dir, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	evCh := make(chan Event, 256)
	errCh := make(chan error, 1)

	if cfg.InitialScan {
		entries, err := os.ReadDir(cfg.Dir)
		if err != nil {
			_ = w.Close()
			return nil, nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && Eligible(e.Name()) {
				select {
				case evCh <- Event{Kind: EventCreated, Name: e.Name()}:
				default:
					logger.Warn("watcher buffer full, initial file dropped", "file_name", e.Name())
				}
			}
		}
	}

	go func() {
		var (
			mu      sync.Mutex
			timer   *time.Timer
			stopped bool
			pending = map[string]struct{}{}
		)
		send := func(ev Event) {
			select {
			case evCh <- ev:
			default:
				logger.Warn("watcher buffer full, event dropped", "file_name", ev.Name, "kind", ev.Kind)
			}
		}
		flush := func() {
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				return
			}
			for name := range pending {
				send(Event{Kind: EventCreated, Name: name})
				delete(pending, name)
			}
		}

		defer func() {
			mu.Lock()
			stopped = true
			if timer != nil {
				timer.Stop()
			}
			close(evCh)
			close(errCh)
			mu.Unlock()
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(e.Name)
				if !Eligible(name) {
					continue
				}
				switch {
				case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					mu.Lock()
					delete(pending, name)
					send(Event{Kind: EventRemoved, Name: name})
					mu.Unlock()
				case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
					mu.Lock()
					pending[name] = struct{}{}
					if cfg.Debounce > 0 {
						if timer != nil {
							timer.Stop()
						}
						timer = time.AfterFunc(cfg.Debounce, flush)
						mu.Unlock()
					} else {
						mu.Unlock()
						flush()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
