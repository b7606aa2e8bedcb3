// Package ratelimit paces outbound requests to rate-limited upstreams.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrContextCancelled is returned when the context is cancelled while pacing.
var ErrContextCancelled = errors.New("context cancelled while pacing requests")

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewSharedLimiter returns a limiter that several pacers can share to cap the
// combined request rate. It returns nil when rps is not positive.
func NewSharedLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Pacer enforces a fixed delay after every request of a serial loop and,
// optionally, a process-wide rate shared with other pacers.
type Pacer struct {
	delay  time.Duration
	shared *rate.Limiter
	sleep  SleepFunc

	mu        sync.Mutex
	pauses    int
	totalWait time.Duration
}

// PacerConfig holds configuration for a Pacer.
type PacerConfig struct {
	// Delay is applied after every request, successful or not.
	Delay time.Duration

	// Shared is an optional limiter consulted before every request.
	Shared *rate.Limiter

	// Sleep defaults to SleepContext. Tests inject a recording fake.
	Sleep SleepFunc
}

// PacerStats is a snapshot of a pacer's activity
type PacerStats struct {
	Pauses    int           `json:"pauses"`
	TotalWait time.Duration `json:"total_wait"`
}

// NewPacer creates a pacer
func NewPacer(cfg PacerConfig) *Pacer {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	delay := cfg.Delay
	if delay < 0 {
		delay = 0
	}

	return &Pacer{
		delay:  delay,
		shared: cfg.Shared,
		sleep:  sleep,
	}
}

// Acquire waits for the shared limiter, if any, before a request is issued.
// The limiter also refuses a wait that would outlast ctx's deadline; that
// error is returned wrapped while ctx itself is still live.
func (p *Pacer) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrContextCancelled
	}
	if p.shared == nil {
		return nil
	}
	if err := p.shared.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrContextCancelled
		}
		return fmt.Errorf("shared rate limiter: %w", err)
	}
	return nil
}

// Pause waits the configured delay after a request.
func (p *Pacer) Pause(ctx context.Context) error {
	p.mu.Lock()
	p.pauses++
	p.totalWait += p.delay
	p.mu.Unlock()

	if err := p.sleep(ctx, p.delay); err != nil {
		return ErrContextCancelled
	}
	return nil
}

// Delay returns the configured per-request delay
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// Stats returns the pacer's counters
func (p *Pacer) Stats() PacerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PacerStats{Pauses: p.pauses, TotalWait: p.totalWait}
}
