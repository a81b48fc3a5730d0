package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/scheduler"
)

// RetryConfig configures exponential backoff for feedback provider calls.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 1s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 5s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         time.Second,
		MaxElapsedTime:      5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the circuit breaker around the provider.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Failures that open the circuit (default 5)
	OpenTimeout         time.Duration // Time spent open before probing (default 30s)
	HalfOpenRequests    uint32        // Probes allowed while half-open (default 1)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// guardedProvider wraps a FeedbackProvider with retry and a circuit breaker.
// A provider that keeps failing is skipped until the breaker closes again,
// so outcomes fall back to the learning adjustment.
type guardedProvider struct {
	provider FeedbackProvider
	breaker  *gobreaker.CircuitBreaker
	retry    RetryConfig
	timeout  time.Duration
}

func newGuardedProvider(p FeedbackProvider, cfg FeedbackConfig, logger *slog.Logger) *guardedProvider {
	bc := cfg.Breaker
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feedback-provider",
		MaxRequests: bc.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation by the caller is not a provider failure
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	})

	retry := cfg.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}

	return &guardedProvider{
		provider: p,
		breaker:  cb,
		retry:    retry,
		timeout:  cfg.ProviderTimeout,
	}
}

// Feedback consults the provider with retry and breaker protection.
func (g *guardedProvider) Feedback(ctx context.Context, task scheduler.Task, outcome Outcome) (priority.Signal, bool, error) {
	var (
		sig     priority.Signal
		engaged bool
	)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx := ctx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			s, ok, err := g.provider.Feedback(callCtx, task, outcome)
			if err != nil {
				return nil, err
			}
			sig, engaged = s, ok
			return nil, nil
		})
		if err != nil {
			// Circuit is open - don't retry
			if isBreakerOpen(err) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.retry.InitialInterval
	policy.MaxInterval = g.retry.MaxInterval
	policy.MaxElapsedTime = g.retry.MaxElapsedTime
	policy.Multiplier = g.retry.Multiplier
	policy.RandomizationFactor = g.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return priority.Signal{}, false, err
	}
	return sig, engaged, nil
}

// State reports the breaker state for diagnostics.
func (g *guardedProvider) State() gobreaker.State {
	return g.breaker.State()
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
