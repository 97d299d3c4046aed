package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/pior/kvcache"
	"github.com/pior/kvcache/internal/memcachetest"
)

var _ StatsSource = (*kvcache.Client)(nil)

type staticSource struct {
	stats kvcache.ClientStats
	pools []kvcache.ServerStats
}

func (s staticSource) Stats() kvcache.ClientStats        { return s.stats }
func (s staticSource) PoolStats() []kvcache.ServerStats { return s.pools }

func TestCollector(t *testing.T) {
	source := staticSource{
		stats: kvcache.ClientStats{Gets: 10, Sets: 4, Adds: 1, Deletes: 2, Increments: 3, Expires: 1, GetHits: 7, Errors: 2, Retries: 1, Timeouts: 1},
		pools: []kvcache.ServerStats{{
			Addr: "cache:11211",
			PoolStats: kvcache.PoolStats{
				CreatedConns: 3, DestroyedConns: 1, AcquireCount: 20, AcquireWaitCount: 2,
				AcquireWaitTimeNs: 1_500_000_000,
				TotalConns:        2, IdleConns: 1, ActiveConns: 1,
			},
			CircuitBreakerState:  gobreaker.StateOpen,
			CircuitBreakerCounts: gobreaker.Counts{Requests: 5, TotalFailures: 4, ConsecutiveFailures: 3},
		}},
	}
	collector := NewCollector(source)

	expected := `
# HELP kvcache_operations_total Total number of cache operations by kind.
# TYPE kvcache_operations_total counter
kvcache_operations_total{op="add"} 1
kvcache_operations_total{op="delete"} 2
kvcache_operations_total{op="expire"} 1
kvcache_operations_total{op="get"} 10
kvcache_operations_total{op="increment"} 3
kvcache_operations_total{op="set"} 4
# HELP kvcache_pool_connections Connections in the pool by state.
# TYPE kvcache_pool_connections gauge
kvcache_pool_connections{server="cache:11211",state="active"} 1
kvcache_pool_connections{server="cache:11211",state="idle"} 1
kvcache_pool_connections{server="cache:11211",state="total"} 2
# HELP kvcache_pool_acquire_wait_seconds_total Time spent waiting for a connection.
# TYPE kvcache_pool_acquire_wait_seconds_total counter
kvcache_pool_acquire_wait_seconds_total{server="cache:11211"} 1.5
# HELP kvcache_circuit_breaker_state Circuit breaker state (0=closed, 1=half-open, 2=open).
# TYPE kvcache_circuit_breaker_state gauge
kvcache_circuit_breaker_state{server="cache:11211"} 2
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"kvcache_operations_total",
		"kvcache_pool_connections",
		"kvcache_pool_acquire_wait_seconds_total",
		"kvcache_circuit_breaker_state",
	)
	require.NoError(t, err)

	// 6 operations, 5 client counters, 3 + 6 pool series, 1 + 1 + 2 breaker series
	require.Equal(t, 24, testutil.CollectAndCount(collector))
}

func TestCollectorWithClient(t *testing.T) {
	srv := memcachetest.NewServer(t)
	client, err := kvcache.NewClient(kvcache.Config{Endpoints: []string{srv.Addr()}})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "key", []byte("value"), kvcache.NoTTL))
	_, err = client.Get(ctx, "key")
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(client))

	expected := `
# HELP kvcache_get_hits_total Get operations that found the key.
# TYPE kvcache_get_hits_total counter
kvcache_get_hits_total 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "kvcache_get_hits_total"))

	problems, err := testutil.GatherAndLint(registry)
	require.NoError(t, err)
	require.Empty(t, problems)
}
