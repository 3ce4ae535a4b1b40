package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/hupe1980/meshflow/core"
)

// RetryPolicy configures exponential backoff for model calls.
type RetryPolicy struct {
	MaxRetries   int           // 0 disables retries
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // upper bound for a single delay
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // randomize delays by ±25%
	// RetryAll retries every service error, not only those marked retryable.
	RetryAll bool
	OnRetry  func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns a policy suited to hosted LLM APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

type retryModel struct {
	next   Model
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps next so failed calls are retried according to policy.
// Context errors and non-service errors are never retried.
func WithRetry(next Model, policy RetryPolicy, logger *zap.Logger) Model {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}

	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}

	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &retryModel{next: next, policy: policy, logger: logger}
}

func (r *retryModel) Info() Info { return r.next.Info() }

func (r *retryModel) Generate(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)

			r.logger.Debug("retrying model call",
				zap.String("model", r.next.Info().Name),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Response{}, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := r.next.Generate(ctx, req)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("model call succeeded after retry", zap.Int("attempt", attempt))
			}
			return resp, nil
		}

		lastErr = err

		if !r.retryable(err) {
			return Response{}, err
		}
	}

	r.logger.Warn("model retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return Response{}, fmt.Errorf("model call failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

func (r *retryModel) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *core.ServiceError
	if !errors.As(err, &se) {
		return false
	}

	return se.Retryable || r.policy.RetryAll
}

func (r *retryModel) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}

	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}

	return time.Duration(d)
}
