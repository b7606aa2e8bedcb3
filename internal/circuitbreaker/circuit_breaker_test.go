package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wallet-inspector/internal/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Name:             "explorer",
		MaxFailures:      2,
		FailureThreshold: 0.5,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
		Logger:           logging.Discard(),
		Now:              clock.now,
	})
}

func fail(ctx context.Context) error    { return errors.New("502 bad gateway") }
func succeed(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.GetState())
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())

	clock.advance(2 * time.Minute)
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Minute)

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_CancelledCallDoesNotCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
	}

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
}
