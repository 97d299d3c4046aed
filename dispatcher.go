package kvcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// dispatcher runs exchanges against one server: it owns the server pool
// and its circuit breaker, and applies the retry policy.
type dispatcher struct {
	addr           string
	pool           Pool
	breaker        *CircuitBreaker // nil if not configured
	acquireTimeout time.Duration
	retry          RetryPolicy
	logger         *slog.Logger
	stats          *clientStatsCollector
}

// ServerStats contains stats for a single server.
type ServerStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (d *dispatcher) Stats() ServerStats {
	stats := ServerStats{
		Addr:      d.addr,
		PoolStats: d.pool.Stats(),
	}
	if d.breaker != nil {
		stats.CircuitBreakerState = d.breaker.State()
		stats.CircuitBreakerCounts = d.breaker.Counts()
	}
	return stats
}

// execute sends ops in a single exchange and returns their pending requests,
// all resolved. The returned error is the exchange failure, if any; it is
// also recorded on every pending request it affected.
//
// A failure before anything was sent is retried on a fresh connection when
// every op is idempotent. Nothing is retried once a byte is on the wire.
func (d *dispatcher) execute(ctx context.Context, ops ...Operation) ([]*PendingRequest, error) {
	deadline, _ := ctx.Deadline()

	idempotent := true
	for _, op := range ops {
		idempotent = idempotent && op.kind.Idempotent()
	}

	onRetry := func(attempt int, err error) {
		d.stats.recordRetry()
		d.logger.Debug("kvcache: retrying request not sent", "server", d.addr, "attempt", attempt, "error", err)
	}

	var pendings []*PendingRequest
	err := retry(ctx, d.retry, idempotent, onRetry, func() error {
		pendings = make([]*PendingRequest, len(ops))
		for i, op := range ops {
			pendings[i] = newPendingRequest(op, deadline)
		}
		return d.exchange(ctx, deadline, pendings)
	})
	return pendings, err
}

// exchange runs one attempt, through the circuit breaker when configured.
func (d *dispatcher) exchange(ctx context.Context, deadline time.Time, pendings []*PendingRequest) error {
	if d.breaker == nil {
		return d.exchangeDirect(ctx, deadline, pendings)
	}

	_, err := d.breaker.Execute(func() (bool, error) {
		err := d.exchangeDirect(ctx, deadline, pendings)
		return err == nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrConnectionUnavailable, err)
		return resolveAll(pendings, err)
	}
	return err
}

// exchangeDirect acquires a connection, runs the exchange and releases the
// connection. A broken connection is destroyed by the release.
func (d *dispatcher) exchangeDirect(ctx context.Context, deadline time.Time, pendings []*PendingRequest) error {
	acquireCtx := ctx
	if d.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, d.acquireTimeout)
		defer cancel()
	}

	res, err := d.pool.Acquire(acquireCtx)
	if err != nil {
		return resolveAll(pendings, d.acquireFailure(ctx, err))
	}

	err = res.Value().Exchange(ctx, deadline, pendings...)
	res.Release()
	return err
}

// acquireFailure classifies an acquire error. An elapsed acquire wait is
// ErrConnectionUnavailable, a caller cancellation is ErrTimeout.
func (d *dispatcher) acquireFailure(ctx context.Context, err error) error {
	var dialErr *DialError
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w before send: %w", ErrTimeout, ctx.Err())
	case errors.As(err, &dialErr), errors.Is(err, ErrConnectionUnavailable):
		return err
	case errors.Is(err, ErrPoolClosed):
		return fmt.Errorf("%w: %w", ErrClientClosed, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionUnavailable, err)
	}
}

// maintain prunes idle connections past their lifetime or idle time, pings
// the others and tops the pool up to minIdle connections.
func (d *dispatcher) maintain(ctx context.Context, cfg *Config) {
	now := time.Now()

	for _, res := range d.pool.AcquireAllIdle() {
		// Check max connection lifetime
		if cfg.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > cfg.MaxConnLifetime {
			res.Destroy()
			continue
		}

		// Check max idle time
		if cfg.MaxConnIdleTime > 0 && res.IdleDuration() > cfg.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		conn := res.Value()
		if err := conn.Ping(ctx, now.Add(cfg.Timeout)); err != nil {
			d.logger.Warn("kvcache: health check failed", "server", d.addr, "conn", conn.ID(), "error", err)
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}

	for i := d.pool.Stats().IdleConns; i < cfg.MinIdleConns; i++ {
		if err := d.pool.CreateIdle(ctx); err != nil {
			d.logger.Warn("kvcache: failed to create idle connection", "server", d.addr, "error", err)
			return
		}
	}
}
