package fetcher

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Clock abstracts wall-clock time so the poll loop is testable without real
// waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewRealClock returns the wall-clock implementation used in production.
func NewRealClock() Clock { return realClock{} }

// BackoffPolicy is the exponential-backoff schedule for report polling and
// rate-limit retries.
type BackoffPolicy struct {
	BaseDelay            time.Duration // first wait (default 15s)
	MaxDelay             time.Duration // per-wait cap (default 5m)
	Factor               float64       // growth multiplier (default 2)
	Timeout              time.Duration // overall poll deadline (default 20m)
	RateLimitMaxAttempts int           // attempts before RATE_LIMITED surfaces (default 8)
	Jitter               bool
}

// DefaultBackoffPolicy matches the documented report behavior: reports
// typically finish in 2-5 minutes, so the 20 minute deadline clears the
// typical case by a wide margin.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:            15 * time.Second,
		MaxDelay:             5 * time.Minute,
		Factor:               2,
		Timeout:              20 * time.Minute,
		RateLimitMaxAttempts: 8,
		Jitter:               true,
	}
}

// Delay returns the wait before poll attempt n (0-based): base * factor^n,
// capped, with equal jitter when enabled.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(d)
	}
	half := d / 2
	return time.Duration(half + rand.Float64()*half)
}
