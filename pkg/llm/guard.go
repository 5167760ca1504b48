package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/cpunion/adsim/pkg/logging"
)

// GuardConfig configures retries and the circuit breaker around a backend.
type GuardConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	FailureRatio float64       // Fraction of failed calls that opens the breaker
	MinRequests  uint          // Window size for FailureRatio
	OpenDelay    time.Duration // Time the breaker stays open
	Logger       *logrus.Logger
}

// DefaultGuardConfig returns conservative settings for remote backends.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRetries:   2,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
		OpenDelay:    30 * time.Second,
	}
}

// Guard wraps a ContentGenerator with retry and circuit breaking. Transport
// failures are retried; empty responses are not.
type Guard struct {
	next     ContentGenerator
	executor failsafe.Executor[string]
}

// NewGuard wraps next.
func NewGuard(next ContentGenerator, cfg GuardConfig) *Guard {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 30 * time.Second
	}
	logger := logging.OrDiscard(cfg.Logger)

	retry := retrypolicy.NewBuilder[string]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ string, err error) bool {
			return isRetryable(err)
		}).
		Build()

	failureThreshold := uint(float64(cfg.MinRequests) * cfg.FailureRatio)
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	breaker := circuitbreaker.NewBuilder[string]().
		WithFailureThresholdRatio(failureThreshold, cfg.MinRequests).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(1).
		HandleIf(func(_ string, err error) bool {
			return errors.Is(err, ErrTransport)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logrus.Fields{
				"model":      next.Model(),
				"from_state": stateName(event.OldState),
				"to_state":   stateName(event.NewState),
			}).Warn("generator circuit breaker state change")
		}).
		Build()

	return &Guard{
		next:     next,
		executor: failsafe.With(retry, breaker),
	}
}

// Generate implements ContentGenerator.
func (g *Guard) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := g.executor.WithContext(ctx).Get(func() (string, error) {
		return g.next.Generate(ctx, prompt)
	})
	if err == nil {
		return text, nil
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrEmptyResponse) {
		return "", err
	}
	return "", fmt.Errorf("%w: %v", ErrTransport, err)
}

// Model returns the wrapped model name.
func (g *Guard) Model() string {
	return g.next.Model()
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return errors.Is(err, ErrTransport)
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
