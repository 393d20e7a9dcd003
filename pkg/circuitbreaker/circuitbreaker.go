// Package circuitbreaker wraps sony/gobreaker for outbound processor calls.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call without executing it.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker settings
type Config struct {
	// ConsecutiveFailures trips the breaker once reached
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// MaxRequests allowed through while half-open
	MaxRequests uint32
}

// DefaultConfig returns settings suited to a polled external API.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		Timeout:             60 * time.Second,
		MaxRequests:         1,
	}
}

// CircuitBreaker guards an external dependency from sustained failure
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a named circuit breaker with the given config
func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	})}
}

// Execute runs fn through the breaker, honoring context cancellation
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current breaker state as a string
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
