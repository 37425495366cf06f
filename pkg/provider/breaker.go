package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/observability"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker in front of a provider.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`

	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration `yaml:"timeout"`

	// Interval clears failure counts while closed. Zero keeps counts until the
	// circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// Breaker wraps a Provider with a circuit breaker. While the circuit is open,
// Complete fails fast with an error wrapping gobreaker.ErrOpenState; the
// retry executor sees that as an ordinary transient failure.
type Breaker struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[*Response]
}

var _ Provider = (*Breaker)(nil)

// NewBreaker wraps inner. Zero-valued config fields take defaults.
func NewBreaker(inner Provider, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "provider:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BreakerStateChangesTotal.WithLabelValues(name, to.String()).Inc()
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A rejected request says nothing about the service's health.
		IsSuccessful: func(err error) bool {
			return err == nil || api.IsType(err, api.ErrorTypeInvalidRequest) || errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

// Name returns the wrapped provider's name.
func (b *Breaker) Name() string { return b.inner.Name() }

// Complete routes the call through the circuit breaker.
func (b *Breaker) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := b.breaker.Execute(func() (*Response, error) {
		return b.inner.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("provider %q circuit open: %w", b.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// Close closes the wrapped provider.
func (b *Breaker) Close() error { return b.inner.Close() }

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.breaker.State() }

// Counts returns the current failure and success counts.
func (b *Breaker) Counts() gobreaker.Counts { return b.breaker.Counts() }
