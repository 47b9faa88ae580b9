package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts counts the first try. 1 disables retries. Default: 3.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry. Default: 300ms.
	InitialBackoff time.Duration
	// MaxBackoff caps a single delay. Default: 5s.
	MaxBackoff time.Duration
	// JitterFraction spreads each delay by ±fraction. Default: 0.2.
	JitterFraction float64
	// ShouldRetry overrides IsTransient.
	ShouldRetry func(err error) bool
	// Name labels retry log lines.
	Name string
}

// DefaultPolicy suits interactive calls to third-party APIs.
func DefaultPolicy(name string) Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 300 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.2,
		Name:           name,
	}
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 300 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	return p
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalize()
	delay := float64(p.InitialBackoff) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.JitterFraction
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !p.ShouldRetry(err) || attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("operation", p.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
