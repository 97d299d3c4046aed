// Package metrics exposes kvcache client statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pior/kvcache"
)

// StatsSource is implemented by *kvcache.Client.
type StatsSource interface {
	Stats() kvcache.ClientStats
	PoolStats() []kvcache.ServerStats
}

// Collector is a prometheus.Collector reading the statistics of a client
// on every scrape.
type Collector struct {
	source StatsSource

	operations *prometheus.Desc
	getHits    *prometheus.Desc
	errors     *prometheus.Desc
	retries    *prometheus.Desc
	timeouts   *prometheus.Desc
	ambiguous  *prometheus.Desc

	poolConnections   *prometheus.Desc
	poolCreated       *prometheus.Desc
	poolDestroyed     *prometheus.Desc
	poolAcquires      *prometheus.Desc
	poolAcquireWaits  *prometheus.Desc
	poolAcquireWait   *prometheus.Desc
	poolAcquireErrors *prometheus.Desc

	circuitState    *prometheus.Desc
	circuitRequests *prometheus.Desc
	circuitFailures *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for source.
// Register it with prometheus.Registerer.MustRegister.
func NewCollector(source StatsSource) *Collector {
	serverLabels := []string{"server"}

	return &Collector{
		source: source,

		operations: prometheus.NewDesc("kvcache_operations_total",
			"Total number of cache operations by kind.", []string{"op"}, nil),
		getHits: prometheus.NewDesc("kvcache_get_hits_total",
			"Get operations that found the key.", nil, nil),
		errors: prometheus.NewDesc("kvcache_errors_total",
			"Operations that failed.", nil, nil),
		retries: prometheus.NewDesc("kvcache_retries_total",
			"Attempts repeated after a failure before send.", nil, nil),
		timeouts: prometheus.NewDesc("kvcache_timeouts_total",
			"Operations that failed with a timeout.", nil, nil),
		ambiguous: prometheus.NewDesc("kvcache_ambiguous_outcomes_total",
			"Operations whose outcome is unknown after a transport failure.", nil, nil),

		poolConnections: prometheus.NewDesc("kvcache_pool_connections",
			"Connections in the pool by state.", []string{"server", "state"}, nil),
		poolCreated: prometheus.NewDesc("kvcache_pool_connections_created_total",
			"Connections created.", serverLabels, nil),
		poolDestroyed: prometheus.NewDesc("kvcache_pool_connections_destroyed_total",
			"Connections destroyed.", serverLabels, nil),
		poolAcquires: prometheus.NewDesc("kvcache_pool_acquires_total",
			"Connection acquire attempts.", serverLabels, nil),
		poolAcquireWaits: prometheus.NewDesc("kvcache_pool_acquire_waits_total",
			"Acquires that had to wait for a connection.", serverLabels, nil),
		poolAcquireWait: prometheus.NewDesc("kvcache_pool_acquire_wait_seconds_total",
			"Time spent waiting for a connection.", serverLabels, nil),
		poolAcquireErrors: prometheus.NewDesc("kvcache_pool_acquire_errors_total",
			"Failed acquire attempts.", serverLabels, nil),

		circuitState: prometheus.NewDesc("kvcache_circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open).", serverLabels, nil),
		circuitRequests: prometheus.NewDesc("kvcache_circuit_breaker_requests",
			"Requests counted by the circuit breaker in the current interval.", serverLabels, nil),
		circuitFailures: prometheus.NewDesc("kvcache_circuit_breaker_failures",
			"Failures counted by the circuit breaker in the current interval.", []string{"server", "type"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.getHits
	ch <- c.errors
	ch <- c.retries
	ch <- c.timeouts
	ch <- c.ambiguous
	ch <- c.poolConnections
	ch <- c.poolCreated
	ch <- c.poolDestroyed
	ch <- c.poolAcquires
	ch <- c.poolAcquireWaits
	ch <- c.poolAcquireWait
	ch <- c.poolAcquireErrors
	ch <- c.circuitState
	ch <- c.circuitRequests
	ch <- c.circuitFailures
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	counter := func(desc *prometheus.Desc, value uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), labels...)
	}
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}

	counter(c.operations, stats.Gets, kvcache.OpGet.String())
	counter(c.operations, stats.Sets, kvcache.OpSet.String())
	counter(c.operations, stats.Adds, kvcache.OpAdd.String())
	counter(c.operations, stats.Deletes, kvcache.OpDelete.String())
	counter(c.operations, stats.Increments, kvcache.OpIncrement.String())
	counter(c.operations, stats.Expires, kvcache.OpExpire.String())
	counter(c.getHits, stats.GetHits)
	counter(c.errors, stats.Errors)
	counter(c.retries, stats.Retries)
	counter(c.timeouts, stats.Timeouts)
	counter(c.ambiguous, stats.Ambiguous)

	for _, server := range c.source.PoolStats() {
		pool := server.PoolStats
		gauge(c.poolConnections, float64(pool.TotalConns), server.Addr, "total")
		gauge(c.poolConnections, float64(pool.ActiveConns), server.Addr, "active")
		gauge(c.poolConnections, float64(pool.IdleConns), server.Addr, "idle")
		counter(c.poolCreated, pool.CreatedConns, server.Addr)
		counter(c.poolDestroyed, pool.DestroyedConns, server.Addr)
		counter(c.poolAcquires, pool.AcquireCount, server.Addr)
		counter(c.poolAcquireWaits, pool.AcquireWaitCount, server.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolAcquireWait, prometheus.CounterValue,
			float64(pool.AcquireWaitTimeNs)/1e9, server.Addr)
		counter(c.poolAcquireErrors, pool.AcquireErrors, server.Addr)

		gauge(c.circuitState, float64(server.CircuitBreakerState), server.Addr)
		gauge(c.circuitRequests, float64(server.CircuitBreakerCounts.Requests), server.Addr)
		gauge(c.circuitFailures, float64(server.CircuitBreakerCounts.TotalFailures), server.Addr, "total")
		gauge(c.circuitFailures, float64(server.CircuitBreakerCounts.ConsecutiveFailures), server.Addr, "consecutive")
	}
}
