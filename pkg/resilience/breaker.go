package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerFailures uint32        = 5
	defaultBreakerTimeout  time.Duration = 30 * time.Second
	defaultBreakerInterval time.Duration = 60 * time.Second
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig configures a provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Interval clears failure counts while closed. Zero keeps the default.
	Interval time.Duration
	// OnStateChange is called after the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// Breaker guards calls to a single provider. Caller cancellation never
// counts as a provider failure.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

func NewBreaker[T any](name string, cfg BreakerConfig, logger *slog.Logger) *Breaker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultBreakerInterval
	}
	hook := cfg.OnStateChange
	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit_breaker_state_change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if hook != nil {
				hook(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker[T]{name: name, cb: cb}
}

// Execute runs fn through the breaker. Rejections wrap ErrCircuitOpen.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return out, err
}

func (b *Breaker[T]) Name() string { return b.name }

// State returns the current breaker state for monitoring.
func (b *Breaker[T]) State() gobreaker.State { return b.cb.State() }

// Counts returns the current failure and success counts.
func (b *Breaker[T]) Counts() gobreaker.Counts { return b.cb.Counts() }
