// Package config loads a kvcache.Config from the environment and an
// optional configuration file.
//
// KVCACHE_URL and KVCACHE_TOKEN are the endpoint and access token. Every
// other setting can come from the file or from a KVCACHE_ variable named
// after its key, e.g. KVCACHE_MAX_SIZE or KVCACHE_RETRY_MAX_RETRIES.
// The environment wins over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pior/kvcache"
)

const envPrefix = "KVCACHE"

// Root mirrors the configuration file.
type Root struct {
	// URL is a comma separated list of endpoints. It replaces Endpoints when set.
	URL       string
	Endpoints []string
	Token     string

	MaxSize             int32         `mapstructure:"max_size"`
	MinIdleConns        int32         `mapstructure:"min_idle_conns"`
	Timeout             time.Duration `mapstructure:"timeout"`
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	MaxConnLifetime     time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime     time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`

	// Pool is "channel" (default) or "puddle".
	Pool string

	Retry          *Retry
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
}

type Retry struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type CircuitBreaker struct {
	Enabled     bool
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// keys bound to the environment, in addition to url and token.
var keys = []string{
	"url",
	"token",
	"max_size",
	"min_idle_conns",
	"timeout",
	"acquire_timeout",
	"dial_timeout",
	"max_conn_lifetime",
	"max_conn_idle_time",
	"health_check_interval",
	"pool",
	"retry.max_retries",
	"retry.base_backoff",
	"retry.max_backoff",
	"circuit_breaker.enabled",
	"circuit_breaker.max_requests",
	"circuit_breaker.interval",
	"circuit_breaker.timeout",
}

func (r Root) Validate() error {
	if r.URL == "" && len(r.Endpoints) == 0 {
		return errors.New("no endpoint: set KVCACHE_URL or endpoints")
	}
	switch r.Pool {
	case "", "channel", "puddle":
	default:
		return fmt.Errorf("unknown pool %q: expected channel or puddle", r.Pool)
	}
	return nil
}

// Read reads the file at path, when not empty, and the environment.
func Read(path string) (Root, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Root{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Root{}, err
		}
	}

	var r Root
	if err := v.Unmarshal(&r); err != nil {
		return r, err
	}
	return r, r.Validate()
}

// Load reads the configuration and converts it to a kvcache.Config.
func Load(path string) (kvcache.Config, error) {
	r, err := Read(path)
	if err != nil {
		return kvcache.Config{}, fmt.Errorf("kvcache config: %w", err)
	}
	return r.ClientConfig(), nil
}

// ClientConfig converts the configuration to a kvcache.Config.
func (r Root) ClientConfig() kvcache.Config {
	config := kvcache.Config{
		Endpoints:           r.Endpoints,
		Token:               r.Token,
		MaxSize:             r.MaxSize,
		MinIdleConns:        r.MinIdleConns,
		Timeout:             r.Timeout,
		AcquireTimeout:      r.AcquireTimeout,
		DialTimeout:         r.DialTimeout,
		MaxConnLifetime:     r.MaxConnLifetime,
		MaxConnIdleTime:     r.MaxConnIdleTime,
		HealthCheckInterval: r.HealthCheckInterval,
	}

	if r.URL != "" {
		config.Endpoints = nil
		for _, endpoint := range strings.Split(r.URL, ",") {
			if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
				config.Endpoints = append(config.Endpoints, endpoint)
			}
		}
	}

	if r.Pool == "puddle" {
		config.Pool = kvcache.NewPuddlePool
	}

	if r.Retry != nil {
		config.Retry = &kvcache.RetryPolicy{
			MaxRetries:  r.Retry.MaxRetries,
			BaseBackoff: r.Retry.BaseBackoff,
			MaxBackoff:  r.Retry.MaxBackoff,
		}
	}

	if cb := r.CircuitBreaker; cb.Enabled {
		maxRequests := cb.MaxRequests
		if maxRequests == 0 {
			maxRequests = 1
		}
		config.NewCircuitBreaker = kvcache.NewCircuitBreakerConfig(maxRequests, cb.Interval, cb.Timeout)
	}

	return config
}
