package kvcache

import (
	"context"
	"sync"
	"time"

	"github.com/pior/kvcache/internal/coarsetime"
)

// NewChannelPool creates a channel-based connection pool.
// This is the default pool implementation.
func NewChannelPool(config PoolConfig) (Pool, error) {
	return &channelPool{
		constructor: config.Constructor,
		maxSize:     config.MaxSize,
		maxIdle:     config.MaxConnIdleTime,
		resources:   make(chan *channelResource, config.MaxSize),
		freed:       make(chan struct{}, config.MaxSize),
	}, nil
}

// channelResource implements Resource for channel pool.
type channelResource struct {
	conn         *Connection
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *Connection {
	return r.conn
}

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

func (r *channelResource) ReleaseUnused() {
	// Health checks don't count as use
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	_ = r.conn.Close()
	r.pool.removeResource()
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Since(r.lastUsedTime)
}

// channelPool keeps idle connections in a buffered channel.
// The mutex guards size and closed, and the channel close.
// A token is sent on freed each time a slot is given back, so waiters can
// dial a replacement for a destroyed connection.
type channelPool struct {
	constructor func(ctx context.Context) (*Connection, error)
	maxSize     int32
	maxIdle     time.Duration

	mu        sync.Mutex
	resources chan *channelResource
	freed     chan struct{}
	size      int32
	closed    bool

	stats poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	var waitStart time.Time
	for {
		// Try to get an idle connection from the pool first
		select {
		case res, ok := <-p.resources:
			if !ok {
				p.stats.recordAcquireError()
				return nil, ErrPoolClosed
			}
			p.stats.recordAcquireFromIdle()
			if !p.usable(res) {
				res.Destroy()
				continue
			}
			return res, nil
		default:
			// No idle connection, create new one if under limit
		}

		res, err := p.tryCreate(ctx)
		if err != nil {
			p.stats.recordAcquireError()
			return nil, err
		}
		if res != nil {
			p.stats.recordActivate()
			return res, nil
		}

		// Pool is full, wait for a connection to be released
		if waitStart.IsZero() {
			waitStart = coarsetime.Now()
		}
		select {
		case res, ok := <-p.resources:
			if !ok {
				p.stats.recordAcquireError()
				return nil, ErrPoolClosed
			}
			p.stats.recordAcquireWait(coarsetime.Since(waitStart))
			p.stats.recordAcquireFromIdle()
			if !p.usable(res) {
				res.Destroy()
				continue
			}
			return res, nil
		case <-p.freed:
			// A slot is free, try to dial
			continue
		case <-ctx.Done():
			p.stats.recordAcquireError()
			return nil, ctx.Err()
		}
	}
}

func (p *channelPool) usable(res *channelResource) bool {
	return usable(res.conn, res.IdleDuration(), p.maxIdle)
}

// tryCreate dials a new connection when the pool is below its maximum size.
// It returns nil, nil when the pool is full.
func (p *channelPool) tryCreate(ctx context.Context) (*channelResource, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.size >= p.maxSize {
		p.mu.Unlock()
		return nil, nil
	}
	p.size++
	p.mu.Unlock()

	conn, err := p.constructor(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, err
	}

	p.stats.recordCreate()

	now := coarsetime.Now()
	return &channelResource{
		conn:         conn,
		pool:         p,
		creationTime: now,
		lastUsedTime: now,
	}, nil
}

func (p *channelPool) CreateIdle(ctx context.Context) error {
	res, err := p.tryCreate(ctx)
	if err != nil || res == nil {
		return err
	}
	p.stats.recordActivate()
	res.ReleaseUnused()
	return nil
}

func (p *channelPool) put(res *channelResource) {
	if res.conn.IsBroken() {
		res.Destroy()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		res.Destroy()
		return
	}

	select {
	case p.resources <- res:
		p.mu.Unlock()
		p.stats.recordRelease()
	default:
		// Pool channel is full, close this connection
		p.mu.Unlock()
		res.Destroy()
	}
}

func (p *channelPool) removeResource() {
	p.releaseSlot()
	p.stats.recordDestroy()
}

// releaseSlot gives a slot back and wakes one waiter, if any.
func (p *channelPool) releaseSlot() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
		// Enough tokens are pending already
	}
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource

	// Drain all idle connections from the channel
	for {
		select {
		case res, ok := <-p.resources:
			if !ok {
				return idle
			}
			p.stats.recordAcquireFromIdle()
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.resources)
	p.mu.Unlock()

	// Close all idle connections
	for res := range p.resources {
		p.stats.recordAcquireFromIdle()
		res.Destroy()
	}
}

// Stats returns a snapshot of pool statistics.
func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
