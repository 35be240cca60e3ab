package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/coach-labs/internal/metrics"
)

// Retention finds and deletes durable sessions that have not been updated
// within ttl. DeleteExpiredSession re-checks the age and reports whether the
// session was deleted.
type Retention interface {
	ExpiredSessionIDs(ctx context.Context, ttl time.Duration) ([]string, error)
	DeleteExpiredSession(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// SweeperConfig controls the idle sweeper.
type SweeperConfig struct {
	Interval time.Duration
	// IdleTTL evicts cached sessions untouched for this long.
	IdleTTL time.Duration
	// Retention deletes persisted sessions older than this. Zero disables it.
	Retention time.Duration
	// Locker is the lock turns hold on a session. Each purge takes it so a
	// session is never deleted under a running turn.
	Locker *Locker
}

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions from the cache and, when retention is configured, deletes stale
// persisted sessions. It stops when ctx is cancelled; the returned channel is
// closed once the goroutine has exited.
func StartSweeper(ctx context.Context, cache *Cache, repo Retention, cfg SweeperConfig, m *metrics.Metrics) <-chan struct{} {
	done := make(chan struct{})
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "idle_ttl", cfg.IdleTTL, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, cache, repo, cfg, m)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, cache *Cache, repo Retention, cfg SweeperConfig, m *metrics.Metrics) {
	if evicted := cache.EvictIdle(cfg.IdleTTL); evicted > 0 {
		slog.Info("Session sweeper evicted idle sessions", "count", evicted)
		if m != nil {
			m.SessionsEvicted.Add(float64(evicted))
		}
	}
	if m != nil {
		m.CachedSessions.Set(float64(cache.Len()))
	}

	if repo == nil || cfg.Retention <= 0 {
		return
	}
	ids, err := repo.ExpiredSessionIDs(ctx, cfg.Retention)
	if err != nil {
		slog.Error("Session sweeper failed to list stale sessions", "error", err)
		return
	}
	deleted := 0
	for _, id := range ids {
		ok, err := purge(ctx, cache, repo, cfg, id)
		if err != nil {
			slog.Error("Session sweeper failed to delete stale session", "session_id", id, "error", err)
			continue
		}
		if ok {
			deleted++
		}
	}
	if deleted > 0 {
		slog.Info("Session sweeper deleted stale sessions", "count", deleted)
	}
}

// purge deletes one stale session and its cached copy under the session lock.
// A session updated since it was listed is kept.
func purge(ctx context.Context, cache *Cache, repo Retention, cfg SweeperConfig, id string) (bool, error) {
	if cfg.Locker != nil {
		unlock, err := cfg.Locker.Lock(ctx, id)
		if err != nil {
			return false, err
		}
		defer unlock()
	}
	ok, err := repo.DeleteExpiredSession(ctx, id, cfg.Retention)
	if err != nil || !ok {
		return false, err
	}
	cache.Evict(id)
	return true, nil
}
