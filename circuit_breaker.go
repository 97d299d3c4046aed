package kvcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards the exchanges with one server.
type CircuitBreaker = gobreaker.CircuitBreaker[bool]

// NewCircuitBreakerConfig returns a function that creates circuit breakers for servers.
// A breaker opens after at least 3 requests with a failure ratio of 60% or more.
// Caller cancellations do not count as failures.
// State changes are logged with the given logger, or slog.Default() when nil.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string, *slog.Logger) *CircuitBreaker {
	return func(serverAddr string, logger *slog.Logger) *CircuitBreaker {
		if logger == nil {
			logger = slog.Default()
		}
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("kvcache: circuit breaker state changed", "server", name, "from", from.String(), "to", to.String())
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
