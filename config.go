package kvcache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultPort        = 11211
	DefaultMaxSize     = 10
	DefaultTimeout     = time.Second
	DefaultDialTimeout = time.Second
	DefaultAuthUser    = "default"

	schemePlain = "memcache"
	schemeTLS   = "memcaches"
)

// Config holds the configuration of a Client.
// NewClient validates it and applies the defaults.
type Config struct {
	// Endpoints lists the cache servers. Required.
	// Accepted forms: memcache://[user@]host[:port], memcaches://[user@]host[:port]
	// for TLS, or host[:port]. The port defaults to 11211.
	Endpoints []string

	// Token authenticates every new connection when set.
	// The user is the one of the endpoint URL, or "default".
	Token string

	// MaxSize is the maximum number of connections per server.
	// Zero means DefaultMaxSize.
	MaxSize int32

	// MinIdleConns is the number of idle connections the health check keeps
	// per server. It requires HealthCheckInterval.
	MinIdleConns int32

	// Timeout bounds every call, from acquire to the last response byte.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// AcquireTimeout bounds the wait for a connection when the pool is full.
	// Zero means Timeout.
	AcquireTimeout time.Duration

	// DialTimeout bounds dialing, TLS handshake and authentication.
	// Zero means DefaultDialTimeout.
	DialTimeout time.Duration

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often to check idle connections for health.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Retry bounds the retries of idempotent operations that failed before
	// being sent. Nil means DefaultRetryPolicy. A zero RetryPolicy disables retries.
	Retry *RetryPolicy

	// TLSConfig is used for memcaches:// endpoints. Nil means a default
	// configuration verifying the endpoint host name.
	TLSConfig *tls.Config

	// Dialer is the net.Dialer used to create new connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Pool is the connection pool factory.
	// If nil, uses the channel-based pool. NewPuddlePool is the alternative.
	Pool PoolFactory

	// ServerSelector picks which server to use for a key.
	// If nil, uses DefaultServerSelector.
	ServerSelector ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when the client is created, with the
	// client logger. If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string, logger *slog.Logger) *CircuitBreaker

	// Logger receives retries, health check failures and breaker changes.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// for testing purposes only
	dialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Endpoint is a parsed entry of Config.Endpoints.
type Endpoint struct {
	Addr string // host:port
	User string // authentication user
	TLS  bool
}

// ParseEndpoint parses a memcache:// or memcaches:// URL, or a host[:port] address.
func ParseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, errors.New("empty endpoint")
	}

	ep := Endpoint{User: DefaultAuthUser}

	host := s
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		switch u.Scheme {
		case schemePlain:
		case schemeTLS:
			ep.TLS = true
		default:
			return Endpoint{}, fmt.Errorf("endpoint %q: unsupported scheme %q", s, u.Scheme)
		}
		if u.Path != "" && u.Path != "/" {
			return Endpoint{}, fmt.Errorf("endpoint %q: unexpected path %q", s, u.Path)
		}
		if u.User != nil && u.User.Username() != "" {
			ep.User = u.User.Username()
		}
		host = u.Host
	}

	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		// No port
		hostname, port = host, strconv.Itoa(DefaultPort)
		if len(hostname) > 1 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
			hostname = hostname[1 : len(hostname)-1]
		}
	}
	if hostname == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing host", s)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint %q: invalid port %q", s, port)
	}

	ep.Addr = net.JoinHostPort(hostname, port)
	return ep, nil
}

// validate checks the configuration and returns every problem at once.
func (c *Config) validate() ([]Endpoint, error) {
	var errs []error

	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one endpoint is required"))
	}

	endpoints := make([]Endpoint, 0, len(c.Endpoints))
	seen := make(map[string]bool, len(c.Endpoints))
	for _, s := range c.Endpoints {
		ep, err := ParseEndpoint(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[ep.Addr] {
			errs = append(errs, fmt.Errorf("endpoint %q: duplicate address %s", s, ep.Addr))
			continue
		}
		seen[ep.Addr] = true
		endpoints = append(endpoints, ep)
	}

	if c.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("MaxSize must not be negative, got %d", c.MaxSize))
	}
	if c.MinIdleConns < 0 {
		errs = append(errs, fmt.Errorf("MinIdleConns must not be negative, got %d", c.MinIdleConns))
	}
	if maxSize := c.MaxSize; maxSize > 0 && c.MinIdleConns > maxSize {
		errs = append(errs, fmt.Errorf("MinIdleConns (%d) exceeds MaxSize (%d)", c.MinIdleConns, maxSize))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"Timeout", c.Timeout},
		{"AcquireTimeout", c.AcquireTimeout},
		{"DialTimeout", c.DialTimeout},
		{"MaxConnLifetime", c.MaxConnLifetime},
		{"MaxConnIdleTime", c.MaxConnIdleTime},
		{"HealthCheckInterval", c.HealthCheckInterval},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", d.name, d.value))
		}
	}

	if c.Retry != nil {
		if c.Retry.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("Retry.MaxRetries must not be negative, got %d", c.Retry.MaxRetries))
		}
		if c.Retry.BaseBackoff < 0 || c.Retry.MaxBackoff < 0 {
			errs = append(errs, errors.New("Retry backoffs must not be negative"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("kvcache: invalid config: %w", err)
	}
	return endpoints, nil
}

// withDefaults returns a copy of the configuration with defaults applied.
func (c Config) withDefaults() Config {
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = c.Timeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Retry == nil {
		policy := DefaultRetryPolicy()
		c.Retry = &policy
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Pool == nil {
		c.Pool = NewChannelPool
	}
	if c.ServerSelector == nil {
		c.ServerSelector = DefaultServerSelector
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.dialContext == nil {
		c.dialContext = c.Dialer.DialContext
	}
	return c
}
