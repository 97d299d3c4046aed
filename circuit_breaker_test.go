package kvcache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/pior/kvcache/internal/memcachetest"
)

func TestCircuitBreakerOpens(t *testing.T) {
	ctx := context.Background()
	srv := memcachetest.NewServer(t)
	addr := srv.Addr()
	srv.Close()

	var logs bytes.Buffer
	client, err := NewClient(Config{
		Endpoints:         []string{addr},
		Retry:             &RetryPolicy{},
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
		Logger:            slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	defer client.Close()

	for range 3 {
		_, err := client.Get(ctx, "key")
		var dialErr *DialError
		require.ErrorAs(t, err, &dialErr)
	}

	stats := client.PoolStats()
	require.Len(t, stats, 1)
	require.Equal(t, gobreaker.StateOpen, stats[0].CircuitBreakerState)
	require.Contains(t, logs.String(), "kvcache: circuit breaker state changed")
	require.Contains(t, logs.String(), "to=open")

	_, err = client.Get(ctx, "key")
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerStaysClosed(t *testing.T) {
	ctx := context.Background()
	srv := memcachetest.NewServer(t)
	client := newTestClient(t, srv, func(c *Config) {
		c.NewCircuitBreaker = NewCircuitBreakerConfig(1, time.Minute, time.Minute)
	})

	for range 5 {
		require.NoError(t, client.Set(ctx, "key", []byte("value"), NoTTL))
	}

	stats := client.PoolStats()
	require.Equal(t, gobreaker.StateClosed, stats[0].CircuitBreakerState)
	require.EqualValues(t, 5, stats[0].CircuitBreakerCounts.TotalSuccesses)
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	srv := memcachetest.NewServer(t)
	srv.SetDelay(time.Second)
	client := newTestClient(t, srv, func(c *Config) {
		c.NewCircuitBreaker = NewCircuitBreakerConfig(1, time.Minute, time.Minute)
	})

	for range 3 {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := client.Get(ctx, "key")
		require.ErrorIs(t, err, context.Canceled)
		cancel()
	}

	stats := client.PoolStats()
	require.Equal(t, gobreaker.StateClosed, stats[0].CircuitBreakerState)
	require.Zero(t, stats[0].CircuitBreakerCounts.TotalFailures)
}
