// Package enrichment attaches external commentary to detected anomalies.
//
// Commentary is optional: a Commentator failing, timing out or being
// switched off by its circuit breaker never affects the analysis itself.
package enrichment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/errors"

	"github.com/sony/gobreaker"
)

// Commentator produces a free-text commentary for an anomaly
type Commentator interface {
	Comment(ctx context.Context, anomaly *models.Anomaly) (string, error)
}

// Config holds the resilience parameters of a commentary call
type Config struct {
	// Timeout bounds one Comment call, retries included
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// BreakerFailures is the number of consecutive failures that opens the breaker
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// DefaultConfig returns a 5 second timeout, two retries and a breaker
// opening after three consecutive failures
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		InitialBackoff:  200 * time.Millisecond,
		BreakerFailures: 3,
		BreakerCooldown: 30 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("enrichment timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("enrichment retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.MaxRetries > 0 && c.InitialBackoff <= 0 {
		return fmt.Errorf("enrichment backoff must be positive when retrying")
	}
	if c.BreakerFailures == 0 {
		return fmt.Errorf("breaker failure count must be positive")
	}
	return nil
}

// Resilient wraps a Commentator with a timeout, retries with exponential
// backoff and a circuit breaker
type Resilient struct {
	next    Commentator
	config  Config
	breaker *gobreaker.CircuitBreaker
}

// NewResilient wraps next
func NewResilient(name string, next Commentator, config Config) (*Resilient, error) {
	if next == nil {
		return nil, fmt.Errorf("commentator is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
	})

	return &Resilient{next: next, config: config, breaker: breaker}, nil
}

// State returns the circuit breaker state
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

// Comment calls the wrapped commentator. Failures are returned as
// enrichment errors; an open breaker fails fast.
func (r *Resilient) Comment(ctx context.Context, anomaly *models.Anomaly) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		var text string
		err := retryWithBackoff(ctx, r.config, func() error {
			var callErr error
			text, callErr = r.next.Comment(ctx, anomaly)
			return callErr
		})
		return text, err
	})
	if err != nil {
		code := errors.CodeEnrichmentUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			code = errors.CodeEnrichmentTimeout
		}
		return "", errors.EnrichmentError(code, r.breaker.Name(), err)
	}

	return result.(string), nil
}

// retryWithBackoff runs fn until it succeeds, the retries are exhausted or
// ctx is done. The wait doubles on every attempt with up to 50% jitter.
func retryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			wait := backoff
			if half := int64(backoff / 2); half > 0 {
				wait += time.Duration(rand.Int63n(half))
			}

			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
