package kvcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// NewPuddlePool creates a puddle-based connection pool.
// Use it with Config.Pool.
func NewPuddlePool(config PoolConfig) (Pool, error) {
	p := &puddlePool{maxIdle: config.MaxConnIdleTime}

	poolConfig := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn, err := config.Constructor(ctx)
			if err == nil {
				p.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(c *Connection) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: config.MaxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// puddlePool wraps puddle.Pool to implement our Pool interface.
type puddlePool struct {
	pool           *puddle.Pool[*Connection]
	maxIdle        time.Duration
	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

// puddleResource destroys broken connections on release.
type puddleResource struct {
	*puddle.Resource[*Connection]
}

func (r puddleResource) Release() {
	if r.Value().IsBroken() {
		r.Destroy()
		return
	}
	r.Resource.Release()
}

func (r puddleResource) ReleaseUnused() {
	if r.Value().IsBroken() {
		r.Destroy()
		return
	}
	r.Resource.ReleaseUnused()
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	for {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, ErrPoolClosed
			}
			return nil, err
		}
		if !usable(res.Value(), res.IdleDuration(), p.maxIdle) {
			res.Destroy()
			continue
		}
		return puddleResource{res}, nil
	}
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	puddleResources := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(puddleResources))
	for i, res := range puddleResources {
		resources[i] = puddleResource{res}
	}
	return resources
}

func (p *puddlePool) CreateIdle(ctx context.Context) error {
	if s := p.pool.Stat(); s.TotalResources() >= s.MaxResources() {
		return nil
	}
	err := p.pool.CreateResource(ctx)
	if errors.Is(err, puddle.ErrNotAvailable) {
		return nil
	}
	return err
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics by converting puddle's stats to our format.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()), // Acquires that had to wait (pool was empty)
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
