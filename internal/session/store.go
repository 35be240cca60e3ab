// Package session provides the session store abstraction, an LRU cache in
// front of durable storage, and per-session locking.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/coach-labs/internal/domain"
)

// Store persists coaching sessions. Get returns (nil, nil) for an unknown id.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Put(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
}

// Backend is durable session storage behind the cache.
type Backend interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpsertSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, id string) error
}

type entry struct {
	sess    *domain.Session
	touched time.Time
}

// Cache is a Store holding recently used sessions in memory and writing
// through to an optional Backend. Without a backend the cache is the only
// copy of a session, so idle sweeps never evict from it.
type Cache struct {
	entries *lru.Cache[string, *entry]
	backend Backend
	group   singleflight.Group
	logger  *slog.Logger

	mu  sync.Mutex // guards touched timestamps
	now func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates a cache of at most size sessions.
func NewCache(size int, backend Backend, opts ...CacheOption) (*Cache, error) {
	c := &Cache{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := lru.NewWithEvict(size, func(id string, _ *entry) {
		if c.backend == nil {
			c.logger.Warn("Session evicted from memory-only cache", "session_id", id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Get returns a copy of the session, loading it from the backend on a miss.
// Concurrent misses for the same id share one backend read.
func (c *Cache) Get(ctx context.Context, id string) (*domain.Session, error) {
	if e, ok := c.entries.Get(id); ok {
		c.touch(e)
		return e.sess.Clone(), nil
	}
	if c.backend == nil {
		return nil, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		s, err := c.backend.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return (*domain.Session)(nil), nil
		}
		// A Put that landed during the read is newer than s.
		if prev, ok, _ := c.entries.PeekOrAdd(id, &entry{sess: s, touched: c.now()}); ok {
			c.touch(prev)
			return prev.sess, nil
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	s := v.(*domain.Session)
	if s == nil {
		return nil, nil
	}
	return s.Clone(), nil
}

// Put caches a copy of the session and writes it through to the backend.
// The cached copy is kept even when the backend write fails, so callers can
// report the error without losing conversational progress.
func (c *Cache) Put(ctx context.Context, s *domain.Session) error {
	c.entries.Add(s.ID, &entry{sess: s.Clone(), touched: c.now()})
	if c.backend != nil {
		if err := c.backend.UpsertSession(ctx, s); err != nil {
			return fmt.Errorf("store session %s: %w", s.ID, err)
		}
	}
	return nil
}

// Delete removes the session from the backend and the cache.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if c.backend != nil {
		if err := c.backend.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	c.entries.Remove(id)
	return nil
}

// Evict drops the cached copy of a session, leaving the backend untouched.
func (c *Cache) Evict(id string) {
	c.entries.Remove(id)
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int { return c.entries.Len() }

// EvictIdle drops cached sessions untouched for longer than ttl and returns
// how many were dropped. Evicted sessions remain in the backend.
func (c *Cache) EvictIdle(ttl time.Duration) int {
	if c.backend == nil || ttl <= 0 {
		return 0
	}
	cutoff := c.now().Add(-ttl)
	evicted := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if !ok {
			continue
		}
		c.mu.Lock()
		idle := e.touched.Before(cutoff)
		c.mu.Unlock()
		if idle && c.entries.Remove(id) {
			evicted++
		}
	}
	return evicted
}

func (c *Cache) touch(e *entry) {
	c.mu.Lock()
	e.touched = c.now()
	c.mu.Unlock()
}
