package kvcache

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Querier is the typed cache API implemented by Client.
type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (uint64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Client is a cache client with a connection pool per server.
// It is safe for concurrent use. There is no process-wide client: create
// one with NewClient and pass it to the code that needs it.
type Client struct {
	config    Config
	endpoints []Endpoint
	servers   []*dispatcher

	connIDs atomic.Uint64
	closed  atomic.Bool

	// Health check management
	stopHealthCheck chan struct{}
	healthCheckDone sync.WaitGroup

	logger *slog.Logger
	stats  clientStatsCollector
}

var _ Querier = (*Client)(nil)

// NewClient validates the configuration and creates a client.
// No connection is opened until the first call or health check.
func NewClient(config Config) (*Client, error) {
	endpoints, err := config.validate()
	if err != nil {
		return nil, err
	}
	config = config.withDefaults()

	client := &Client{
		config:          config,
		endpoints:       endpoints,
		stopHealthCheck: make(chan struct{}),
		logger:          config.Logger,
	}

	for _, ep := range endpoints {
		pool, err := config.Pool(PoolConfig{
			Constructor:     client.connector(ep),
			MaxSize:         config.MaxSize,
			MaxConnIdleTime: config.MaxConnIdleTime,
		})
		if err != nil {
			client.closePools()
			return nil, err
		}

		d := &dispatcher{
			addr:           ep.Addr,
			pool:           pool,
			acquireTimeout: config.AcquireTimeout,
			retry:          *config.Retry,
			logger:         config.Logger,
			stats:          &client.stats,
		}
		if config.NewCircuitBreaker != nil {
			d.breaker = config.NewCircuitBreaker(ep.Addr, config.Logger)
		}
		client.servers = append(client.servers, d)
	}

	if config.HealthCheckInterval > 0 {
		client.healthCheckDone.Add(1)
		go client.healthCheckLoop()
	}

	return client, nil
}

// connector returns the pool constructor of an endpoint: dial, TLS
// handshake when required, then authentication when a token is set.
func (c *Client) connector(ep Endpoint) func(ctx context.Context) (*Connection, error) {
	return func(ctx context.Context) (*Connection, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()

		netConn, err := c.config.dialContext(ctx, "tcp", ep.Addr)
		if err != nil {
			return nil, &DialError{Addr: ep.Addr, Err: err}
		}

		if ep.TLS {
			tlsConn := tls.Client(netConn, c.tlsConfig(ep))
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				_ = netConn.Close()
				return nil, &DialError{Addr: ep.Addr, Err: err}
			}
			netConn = tlsConn
		}

		conn := newConnection(c.connIDs.Add(1), ep.Addr, netConn)

		if c.config.Token != "" {
			deadline, _ := ctx.Deadline()
			if err := conn.authenticate(deadline, ep.User, c.config.Token); err != nil {
				_ = conn.Close()
				var authErr *AuthError
				if errors.As(err, &authErr) {
					return nil, err
				}
				return nil, &DialError{Addr: ep.Addr, Err: err}
			}
		}

		return conn, nil
	}
}

func (c *Client) tlsConfig(ep Endpoint) *tls.Config {
	var cfg *tls.Config
	if c.config.TLSConfig != nil {
		cfg = c.config.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		host, _, _ := net.SplitHostPort(ep.Addr)
		cfg.ServerName = host
	}
	return cfg
}

// Close stops the health check and closes every connection.
// Calls in flight fail, later calls return ErrClientClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	if c.config.HealthCheckInterval > 0 {
		close(c.stopHealthCheck)
		c.healthCheckDone.Wait()
	}

	c.closePools()
	return nil
}

func (c *Client) closePools() {
	for _, d := range c.servers {
		d.pool.Close()
	}
}

func (c *Client) serverFor(key string) *dispatcher {
	if len(c.servers) == 1 {
		return c.servers[0]
	}
	return c.servers[c.config.ServerSelector(key, len(c.servers))]
}

// withTimeout bounds ctx by the configured call timeout.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeout)
}

// Execute runs a single operation. It is the entry point of every typed call.
//
// Misses are not errors: see Result.Found. Errors are *OpError values
// matching ErrConnectionUnavailable, ErrTimeout, ErrAmbiguousOutcome,
// ErrProtocol, ErrClientClosed, or holding a *RemoteError.
//
// Caller cancellation always matches ErrTimeout and context.Canceled,
// whether or not the request was already sent. A call cancelled before
// send was not applied and is not retried.
func (c *Client) Execute(ctx context.Context, op Operation) (Result, error) {
	if c.closed.Load() {
		return Result{Kind: op.kind, Key: op.key}, c.opError(op, "", ErrClientClosed)
	}
	if err := op.Validate(); err != nil {
		return Result{Kind: op.kind, Key: op.key}, c.opError(op, "", err)
	}

	d := c.serverFor(op.key)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pendings, err := d.execute(ctx, op)
	if err != nil {
		return Result{Kind: op.kind, Key: op.key}, c.opError(op, d.addr, err)
	}

	return c.result(op, d.addr, pendings[0])
}

// result converts a resolved pending request and records the stats.
func (c *Client) result(op Operation, addr string, p *PendingRequest) (Result, error) {
	resp, err := p.Response()
	if err != nil {
		return Result{Kind: op.kind, Key: op.key}, c.opError(op, addr, err)
	}

	res, err := resultFromResponse(op, resp)
	if err != nil {
		return res, c.opError(op, addr, err)
	}
	c.stats.recordResult(res)
	return res, nil
}

func (c *Client) opError(op Operation, addr string, err error) error {
	c.stats.recordError(err)
	return &OpError{Op: op.kind, Key: op.key, Addr: addr, Err: err}
}

// Get retrieves a single item. A miss returns Found=false and no error.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	res, err := c.Execute(ctx, NewGet(key))
	if err != nil {
		return Item{}, err
	}
	return Item{Key: key, Value: res.Value, Found: res.Found}, nil
}

// Set stores an item. A ttl of NoTTL means no expiration.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.Execute(ctx, NewSet(key, value, ttl))
	return err
}

// Add stores an item only if the key doesn't already exist.
// An existing key fails with an error matching ErrNotStored.
func (c *Client) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.Execute(ctx, NewAdd(key, value, ttl))
	return err
}

// Delete removes an item. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.Execute(ctx, NewDelete(key))
	return err
}

// Increment adds delta to a counter and returns the new value.
// A missing counter is created with max(delta, 0) and the given ttl; a
// non-zero ttl also refreshes the TTL of an existing counter.
// Counters are unsigned and a decrement stops at zero.
// Increments are never retried.
func (c *Client) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (uint64, error) {
	res, err := c.Execute(ctx, NewIncrement(key, delta, ttl))
	if err != nil {
		return 0, err
	}
	return res.Counter, nil
}

// Expire replaces the TTL of an item and reports whether it exists.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res, err := c.Execute(ctx, NewExpire(key, ttl))
	if err != nil {
		return false, err
	}
	return res.Found, nil
}

// Ping sends a no-op to every server, in parallel.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	op := Operation{kind: opNoOp}

	var g errgroup.Group
	for _, d := range c.servers {
		g.Go(func() error {
			if _, err := d.execute(ctx, op); err != nil {
				return &OpError{Op: opNoOp, Addr: d.addr, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	defer c.healthCheckDone.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	// Reach MinIdleConns without waiting for the first tick
	c.checkAllServers()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllServers()
		}
	}
}

func (c *Client) checkAllServers() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopHealthCheck:
			cancel()
		case <-ctx.Done():
		}
	}()

	var g errgroup.Group
	for _, d := range c.servers {
		g.Go(func() error {
			d.maintain(ctx, &c.config)
			return nil
		})
	}
	_ = g.Wait()
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns stats for every server, in endpoint order.
func (c *Client) PoolStats() []ServerStats {
	stats := make([]ServerStats, 0, len(c.servers))
	for _, d := range c.servers {
		stats = append(stats, d.Stats())
	}
	return stats
}
