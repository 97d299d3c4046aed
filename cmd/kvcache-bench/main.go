package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pior/kvcache"
	"github.com/pior/kvcache/config"
)

type OperationType string

const (
	CacheHit  OperationType = "cache-hit"
	CacheMiss OperationType = "cache-miss"
	Store     OperationType = "set"
	Increment OperationType = "increment"
	Delete    OperationType = "delete"
	Batch     OperationType = "multi-get"
	All       OperationType = "all"
)

var operations = []OperationType{CacheHit, CacheMiss, Store, Increment, Delete, Batch}

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Correctness  bool
	ErrorMessage string
}

func main() {
	var (
		operation   = flag.String("operation", "all", "Operation type: cache-hit, cache-miss, set, increment, delete, multi-get, or all")
		duration    = flag.Duration("duration", 5*time.Second, "Duration to run each benchmark")
		concurrency = flag.Int("concurrency", 1, "Number of concurrent workers")
		servers     = flag.String("servers", "", "Comma-separated list of servers, overrides KVCACHE_URL")
		configPath  = flag.String("config", "", "configuration file")
		pool        = flag.String("pool", "", "connection pool: channel or puddle")
	)
	flag.Parse()

	// Flags take precedence over the environment
	if *servers != "" {
		os.Setenv("KVCACHE_URL", *servers)
	}
	if *pool != "" {
		os.Setenv("KVCACHE_POOL", *pool)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = int32(max(*concurrency, 2))
	}

	fmt.Printf("KV Cache Benchmark Tool\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Servers: %s\n", strings.Join(cfg.Endpoints, ","))
	fmt.Println()

	client, err := kvcache.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	fmt.Print("Testing connection...")
	if err := client.Ping(context.Background()); err != nil {
		fmt.Printf(" failed: %v\n", err)
		return
	}
	fmt.Println(" success!")

	selected := operations
	if OperationType(*operation) != All {
		selected = []OperationType{OperationType(*operation)}
	}
	for _, op := range selected {
		fmt.Printf("\n--- Running %s benchmark ---\n", op)
		printResult(run(client, op, *duration, *concurrency))
	}

	stats := client.Stats()
	fmt.Printf("\nClient: %d errors, %d retries, %d timeouts, %d ambiguous\n",
		stats.Errors, stats.Retries, stats.Timeouts, stats.Ambiguous)
}

// run calls the operation from concurrency workers until duration elapsed.
func run(client *kvcache.Client, operation OperationType, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()
	result := &BenchmarkResult{Operation: operation, Correctness: true}

	call, err := prepare(ctx, client, operation)
	if err != nil {
		result.Correctness = false
		result.ErrorMessage = err.Error()
		return result
	}

	var totalOps, failures, totalLatency atomic.Int64
	var mismatch atomic.Value

	start := time.Now()
	var g errgroup.Group
	for worker := range concurrency {
		g.Go(func() error {
			for i := 0; time.Since(start) < duration; i++ {
				opStart := time.Now()
				err := call(ctx, worker, i)
				totalLatency.Add(int64(time.Since(opStart)))
				totalOps.Add(1)

				if err != nil {
					failures.Add(1)
					if _, ok := err.(mismatchError); ok {
						mismatch.Store(err.Error())
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	result.TotalOps = totalOps.Load()
	result.Failures = failures.Load()
	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(totalLatency.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}
	if msg, ok := mismatch.Load().(string); ok {
		result.Correctness = false
		result.ErrorMessage = msg
	}
	return result
}

type mismatchError string

func (e mismatchError) Error() string { return string(e) }

// prepare seeds the cache for the operation and returns the call to measure.
func prepare(ctx context.Context, client *kvcache.Client, operation OperationType) (func(ctx context.Context, worker, i int) error, error) {
	switch operation {
	case CacheHit:
		value := []byte("cache-hit-value")
		if err := client.Set(ctx, "bench-hit", value, time.Hour); err != nil {
			return nil, fmt.Errorf("failed to set initial value: %w", err)
		}
		return func(ctx context.Context, _, _ int) error {
			item, err := client.Get(ctx, "bench-hit")
			if err != nil {
				return err
			}
			if !item.Found || string(item.Value) != string(value) {
				return mismatchError("value mismatch on cache hit")
			}
			return nil
		}, nil

	case CacheMiss:
		return func(ctx context.Context, worker, i int) error {
			item, err := client.Get(ctx, "bench-miss-"+strconv.Itoa(worker)+"-"+strconv.Itoa(i))
			if err != nil {
				return err
			}
			if item.Found {
				return mismatchError("unexpected hit on missing key")
			}
			return nil
		}, nil

	case Store:
		return func(ctx context.Context, worker, i int) error {
			return client.Set(ctx, "bench-set-"+strconv.Itoa(worker), []byte(strconv.Itoa(i)), time.Minute)
		}, nil

	case Increment:
		if err := client.Delete(ctx, "bench-counter"); err != nil {
			return nil, err
		}
		return func(ctx context.Context, _, _ int) error {
			_, err := client.Increment(ctx, "bench-counter", 1, time.Hour)
			return err
		}, nil

	case Delete:
		return func(ctx context.Context, worker, i int) error {
			key := "bench-delete-" + strconv.Itoa(worker)
			if err := client.Set(ctx, key, []byte("x"), time.Minute); err != nil {
				return err
			}
			return client.Delete(ctx, key)
		}, nil

	case Batch:
		keys := make([]string, 20)
		items := make([]kvcache.Item, len(keys))
		for i := range keys {
			keys[i] = "bench-batch-" + strconv.Itoa(i)
			items[i] = kvcache.Item{Key: keys[i], Value: []byte(keys[i]), TTL: time.Hour}
		}
		if err := client.MultiSet(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to set initial values: %w", err)
		}
		return func(ctx context.Context, _, _ int) error {
			got, err := client.MultiGet(ctx, keys)
			if err != nil {
				return err
			}
			for i, item := range got {
				if !item.Found || string(item.Value) != keys[i] {
					return mismatchError("value mismatch in batch")
				}
			}
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

func printResult(result *BenchmarkResult) {
	fmt.Printf("Operation: %s\n", result.Operation)
	if result.TotalOps > 0 {
		fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))
		fmt.Printf("Total Operations: %d\n", result.TotalOps)
		fmt.Printf("Failures: %d\n", result.Failures)
		fmt.Printf("Average Latency: %v\n", result.AvgLatency)
		fmt.Printf("Operations/sec: %.2f\n", result.OpsPerSecond)
	}
	if result.Correctness {
		fmt.Printf("Correctness: PASS\n")
	} else {
		fmt.Printf("Correctness: FAIL - %s\n", result.ErrorMessage)
	}
}
