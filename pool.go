package kvcache

import (
	"context"
	"errors"
	"time"
)

var ErrPoolClosed = errors.New("kvcache: pool closed")

// Pool manages the connections to one server.
//
// Acquire never returns a broken connection, nor one idle for longer than
// PoolConfig.MaxConnIdleTime. Releasing a broken connection destroys it.
type Pool interface {
	// Acquire returns an idle connection, creates one when the pool is below
	// its maximum size, or waits for a release until ctx is done.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle takes every idle connection, for maintenance.
	AcquireAllIdle() []Resource

	// CreateIdle adds one idle connection if the pool is not full.
	CreateIdle(ctx context.Context) error

	Close()

	Stats() PoolStats
}

// Resource is a connection checked out of a Pool.
type Resource interface {
	Value() *Connection

	// Release returns the connection to the pool, or destroys it if broken.
	Release()

	// ReleaseUnused is like Release but does not count as activity.
	ReleaseUnused()

	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// PoolConfig is passed to a PoolFactory for each server.
type PoolConfig struct {
	// Constructor dials and authenticates a new connection.
	Constructor func(ctx context.Context) (*Connection, error)

	// MaxSize is the maximum number of connections.
	MaxSize int32

	// MaxConnIdleTime is the maximum duration an idle connection is handed
	// out again. Zero means no limit.
	MaxConnIdleTime time.Duration
}

// PoolFactory creates a Pool. NewChannelPool and NewPuddlePool are factories.
type PoolFactory func(config PoolConfig) (Pool, error)

func usable(conn *Connection, idle time.Duration, maxIdle time.Duration) bool {
	if conn.IsBroken() {
		return false
	}
	return maxIdle <= 0 || idle <= maxIdle
}
