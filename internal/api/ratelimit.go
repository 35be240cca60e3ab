package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter implements a per-user token bucket.
// The key is userID only, not userID:sessionID, so clients cannot bypass
// throttling by rotating session IDs.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	every   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows limit requests per window for each key and starts the
// background eviction goroutine. A non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	every := rate.Inf
	burst := 1
	if limit > 0 {
		every = rate.Every(window / time.Duration(limit))
		burst = limit
	}
	rl := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		every:   every,
		burst:   burst,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.every, r.burst)}
		r.entries[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.stopped
}

// evict drops keys idle for longer than the window; their buckets are full again.
func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for key, e := range r.entries {
		if e.seen.Before(cutoff) {
			delete(r.entries, key)
		}
	}
}

// startEviction runs a background goroutine that periodically removes idle
// keys, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		defer close(r.stopped)
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evict()
			case <-r.stop:
				return
			}
		}
	}()
}
