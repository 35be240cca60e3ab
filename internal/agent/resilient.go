package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/domain"
)

// PermanentError marks a generator failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Resilient rate limits and retries calls to an underlying Generator.
type Resilient struct {
	next        Generator
	limiter     *rate.Limiter
	maxAttempts uint
	initial     time.Duration
	logger      *slog.Logger
}

// NewResilient wraps next. A non-positive RequestsPerSecond disables rate
// limiting.
func NewResilient(next Generator, cfg Config, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	initial := cfg.RetryInitialInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	return &Resilient{
		next:        next,
		limiter:     rate.NewLimiter(limit, burst),
		maxAttempts: attempts,
		initial:     initial,
		logger:      logger,
	}
}

// Generate implements coach.TextGenerator.
func (r *Resilient) Generate(ctx context.Context, instructions string, history []domain.Message) (coach.Reply, error) {
	return retry(ctx, r, "reply", func(ctx context.Context) (coach.Reply, error) {
		return r.next.Generate(ctx, instructions, history)
	})
}

// GenerateStructured implements coach.StructuredGenerator.
func (r *Resilient) GenerateStructured(ctx context.Context, instructions string, schema []byte) (json.RawMessage, error) {
	return retry(ctx, r, "structured", func(ctx context.Context) (json.RawMessage, error) {
		return r.next.GenerateStructured(ctx, instructions, schema)
	})
}

// Close closes the wrapped generator.
func (r *Resilient) Close() { r.next.Close() }

func retry[T any](ctx context.Context, r *Resilient, op string, call func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial

	return backoff.Retry(ctx, func() (T, error) {
		var zero T
		if err := r.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(err error, delay time.Duration) {
			r.logger.Warn("Generator call failed, retrying", "op", op, "delay", delay, "error", err)
		}),
	)
}
