package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures a Breaker
type BreakerSettings struct {
	Name string
	// MaxRequests is the number of trial calls allowed while half-open
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset
	Interval time.Duration
	// Timeout is how long the breaker stays open
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
}

// Breaker implements CircuitBreaker on top of gobreaker
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewBreaker creates a new circuit breaker
func NewBreaker(settings BreakerSettings, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}

	b := &Breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Info("circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Deliberate short-circuits say nothing about the operation's health
			return err == nil || IsShortCircuit(err)
		},
	})
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns the current breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the request counts of the current window
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Execute implements CircuitBreaker
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}
