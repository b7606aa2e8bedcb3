package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wallet-inspector/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the service has recovered
	StateHalfOpen State = "half_open"
)

// CircuitBreaker stops calling a flaky upstream after repeated failures
type CircuitBreaker struct {
	name             string
	maxFailures      int           // Minimum calls before the failure rate is considered
	failureThreshold float64       // Failure rate that opens the circuit (0.0-1.0)
	timeout          time.Duration // Time to wait before attempting half-open
	halfOpenMaxCalls int           // Calls allowed in half-open state
	logger           *logging.Logger
	now              func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	totalCalls       int
	consecutiveFails int
	lastStateChange  time.Time
}

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int
	FailureThreshold float64
	Timeout          time.Duration
	HalfOpenMaxCalls int
	Logger           *logging.Logger
	Now              func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		FailureThreshold: 0.5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	halfOpen := config.HalfOpenMaxCalls
	if halfOpen < 1 {
		halfOpen = 1
	}

	return &CircuitBreaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		failureThreshold: config.FailureThreshold,
		timeout:          config.Timeout,
		halfOpenMaxCalls: halfOpen,
		logger:           logger.WithField("circuitBreaker", config.Name),
		now:              now,
		state:            StateClosed,
		lastStateChange:  now(),
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many requests are made in half-open state
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)

	// A cancelled caller says nothing about upstream health.
	if err != nil && ctx.Err() != nil {
		cb.release()
		return err
	}

	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.reset()
		cb.logger.WithField("state", StateHalfOpen).Info("Circuit breaker transitioning to half-open")
		cb.totalCalls++
		return nil

	case StateHalfOpen:
		if cb.totalCalls >= cb.halfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.totalCalls++
		return nil

	default:
		cb.totalCalls++
		return nil
	}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.totalCalls > 0 {
		cb.totalCalls--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.halfOpenMaxCalls {
		cb.setState(StateClosed)
		cb.reset()
		cb.logger.WithField("state", StateClosed).Info("Circuit breaker closed after successful recovery")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.setState(StateOpen)
			cb.logger.WithFields(map[string]interface{}{
				"state":            StateOpen,
				"failures":         cb.failures,
				"totalCalls":       cb.totalCalls,
				"failureRate":      cb.failureRate(),
				"consecutiveFails": cb.consecutiveFails,
			}).Warn("Circuit breaker opened due to failures")
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.WithField("state", StateOpen).Warn("Circuit breaker reopened after failure in half-open state")
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFails >= cb.maxFailures {
		return true
	}
	if cb.totalCalls < cb.maxFailures {
		return false
	}
	return cb.failureRate() >= cb.failureThreshold
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.totalCalls == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.totalCalls)
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = cb.now()
}

func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.successes = 0
	cb.totalCalls = 0
	cb.consecutiveFails = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.reset()
}
