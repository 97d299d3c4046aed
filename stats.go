package kvcache

import (
	"errors"
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about a connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: AcquireWaitDuration (use AcquireWaitCount and AcquireWaitTimeNs to calculate)
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// ClientStats contains statistics about client operations.
type ClientStats struct {
	Gets       uint64 // Total Get operations
	Sets       uint64 // Total Set operations
	Adds       uint64 // Total Add operations
	Deletes    uint64 // Total Delete operations
	Increments uint64 // Total Increment operations
	Expires    uint64 // Total Expire operations
	GetHits    uint64 // Get operations that found the key
	Errors     uint64 // Total errors across all operations

	Retries   uint64 // Attempts repeated after a failure before send
	Timeouts  uint64 // Calls that failed with ErrTimeout
	Ambiguous uint64 // Calls that failed with ErrAmbiguousOutcome
}

// poolStatsCollector is embedded by value in pools; the zero value is ready.
type poolStatsCollector struct {
	acquireCount      atomic.Uint64
	acquireWaitCount  atomic.Uint64
	createdConns      atomic.Uint64
	destroyedConns    atomic.Uint64
	acquireErrors     atomic.Uint64
	acquireWaitTimeNs atomic.Uint64

	totalConns  atomic.Int32
	idleConns   atomic.Int32
	activeConns atomic.Int32
}

func (c *poolStatsCollector) recordAcquire() {
	c.acquireCount.Add(1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	c.acquireWaitCount.Add(1)
	c.acquireWaitTimeNs.Add(uint64(duration.Nanoseconds()))
}

// recordCreate counts a new connection. It is not idle nor active yet.
func (c *poolStatsCollector) recordCreate() {
	c.createdConns.Add(1)
	c.totalConns.Add(1)
}

// recordDestroy counts the destruction of an active connection.
func (c *poolStatsCollector) recordDestroy() {
	c.destroyedConns.Add(1)
	c.totalConns.Add(-1)
	c.activeConns.Add(-1)
}

func (c *poolStatsCollector) recordAcquireError() {
	c.acquireErrors.Add(1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	c.idleConns.Add(-1)
	c.activeConns.Add(1)
}

func (c *poolStatsCollector) recordActivate() {
	c.activeConns.Add(1)
}

func (c *poolStatsCollector) recordRelease() {
	c.idleConns.Add(1)
	c.activeConns.Add(-1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        c.totalConns.Load(),
		IdleConns:         c.idleConns.Load(),
		ActiveConns:       c.activeConns.Load(),
		AcquireCount:      c.acquireCount.Load(),
		AcquireWaitCount:  c.acquireWaitCount.Load(),
		CreatedConns:      c.createdConns.Load(),
		DestroyedConns:    c.destroyedConns.Load(),
		AcquireErrors:     c.acquireErrors.Load(),
		AcquireWaitTimeNs: c.acquireWaitTimeNs.Load(),
	}
}

type clientStatsCollector struct {
	gets       atomic.Uint64
	sets       atomic.Uint64
	adds       atomic.Uint64
	deletes    atomic.Uint64
	increments atomic.Uint64
	expires    atomic.Uint64
	getHits    atomic.Uint64
	errors     atomic.Uint64
	retries    atomic.Uint64
	timeouts   atomic.Uint64
	ambiguous  atomic.Uint64
}

func (c *clientStatsCollector) recordResult(res Result) {
	switch res.Kind {
	case OpGet:
		c.gets.Add(1)
		if res.Found {
			c.getHits.Add(1)
		}
	case OpSet:
		c.sets.Add(1)
	case OpAdd:
		c.adds.Add(1)
	case OpDelete:
		c.deletes.Add(1)
	case OpIncrement:
		c.increments.Add(1)
	case OpExpire:
		c.expires.Add(1)
	}
}

func (c *clientStatsCollector) recordError(err error) {
	c.errors.Add(1)
	switch {
	case errors.Is(err, ErrTimeout):
		c.timeouts.Add(1)
	case errors.Is(err, ErrAmbiguousOutcome):
		c.ambiguous.Add(1)
	}
}

func (c *clientStatsCollector) recordRetry() {
	c.retries.Add(1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       c.gets.Load(),
		Sets:       c.sets.Load(),
		Adds:       c.adds.Load(),
		Deletes:    c.deletes.Load(),
		Increments: c.increments.Load(),
		Expires:    c.expires.Load(),
		GetHits:    c.getHits.Load(),
		Errors:     c.errors.Load(),
		Retries:    c.retries.Load(),
		Timeouts:   c.timeouts.Load(),
		Ambiguous:  c.ambiguous.Load(),
	}
}
