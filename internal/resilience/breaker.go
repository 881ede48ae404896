package resilience

import (
	"errors"

	"oneiric/internal/config"
	"oneiric/pkg/logging"

	"github.com/sony/gobreaker"
)

// NewBreaker builds a circuit breaker for the given policy: the breaker
// opens after MaxFailures consecutive failures and allows a probe request
// after ResetTimeout.
func NewBreaker(name string, policy config.BreakerPolicy) *gobreaker.CircuitBreaker {
	maxFailures := policy.MaxFailures
	if maxFailures < 1 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: policy.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Breaker", "Circuit %s transitioned %s -> %s", name, from, to)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// IsBreakerOpen reports whether err came from an open or half-open-full
// breaker rather than the wrapped operation.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
