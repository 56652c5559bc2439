// Package retry runs fallible fetch work under a bounded-attempt policy with a
// fixed delay, escalating to premium fetch mode after a failed attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Policy bounds one logical call.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Escalate switches the call to premium mode after any failed non-final attempt.
	Escalate bool
}

// DefaultPolicy returns three attempts, three seconds apart, with escalation.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 3 * time.Second, Escalate: true}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be >= 1")
	}
	if p.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	return nil
}

// Work is one attempt. It receives the mode in effect for that attempt.
type Work[T any] func(ctx context.Context, mode crawler.FetchMode) (T, error)

// Retrier applies a Policy. It is safe for concurrent use; each Run call
// carries its own mode.
type Retrier struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Retrier.
func New(policy Policy, logger *zap.Logger) (*Retrier, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("validate retry policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: policy, logger: logger, sleep: sleepCtx}, nil
}

// Policy returns the configured policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Run invokes work until it succeeds or the policy is exhausted. The mode
// starts as given and, once escalated, stays premium for the rest of the call.
// On exhaustion the returned error wraps both crawler.ErrRetryExhausted and
// the last attempt's error.
func Run[T any](
	ctx context.Context,
	r *Retrier,
	op string,
	mode crawler.FetchMode,
	work Work[T],
	fields ...zap.Field,
) (T, error) {
	var zero T
	maxAttempts := r.policy.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		result, err := work(ctx, mode)
		metrics.ObserveAttempt(op, err)
		if err == nil {
			return result, nil
		}
		lastErr = err

		logFields := append([]zap.Field{
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		}, fields...)
		r.logger.Error("attempt failed", append(logFields, zap.Error(err))...)

		if attempt == maxAttempts {
			break
		}

		r.logger.Info("retrying",
			append(logFields, zap.Duration("delay", r.policy.Delay))...)
		if r.policy.Escalate && mode.Escalate() {
			metrics.ObserveEscalation(op)
			r.logger.Info("escalating to premium fetch mode", logFields...)
		}
		if err := r.sleep(ctx, r.policy.Delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}

	metrics.ObserveExhausted(op)
	r.logger.Error("retry attempts exhausted",
		append([]zap.Field{
			zap.String("operation", op),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(lastErr),
		}, fields...)...)
	return zero, fmt.Errorf("%s: %w: %w", op, crawler.ErrRetryExhausted, lastErr)
}

// RunOr is Run with failure converted to fallback. It never returns an error.
func RunOr[T any](
	ctx context.Context,
	r *Retrier,
	op string,
	mode crawler.FetchMode,
	fallback T,
	work Work[T],
	fields ...zap.Field,
) T {
	result, err := Run(ctx, r, op, mode, work, fields...)
	if err != nil {
		return fallback
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
