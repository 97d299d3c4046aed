package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pior/kvcache"
	"github.com/pior/kvcache/config"
	"github.com/pior/kvcache/metrics"
)

func main() {
	configPath := flag.String("config", "", "configuration file (yaml, json or toml)")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. :9100")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	client, err := kvcache.NewClient(cfg)
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, client)
	}

	fmt.Println("KV Cache CLI")
	fmt.Println("============")
	fmt.Println("Commands: get, set, add, delete, incr, decr, expire, multi-get, stats, ping, help, quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command := strings.ToLower(parts[0])
		if command == "quit" || command == "exit" {
			fmt.Println("Goodbye!")
			return
		}
		run(context.Background(), client, command, parts[1:])
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func serveMetrics(addr string, client *kvcache.Client) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(client))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("kvcache-cli: metrics server stopped", "addr", addr, "error", err)
		}
	}()
}

func run(ctx context.Context, client *kvcache.Client, command string, args []string) {
	switch command {
	case "get":
		if len(args) != 1 {
			fmt.Println("Usage: get <key>")
			return
		}
		handleGet(ctx, client, args[0])

	case "set", "add":
		if len(args) < 2 || len(args) > 3 {
			fmt.Printf("Usage: %s <key> <value> [ttl_seconds]\n", command)
			return
		}
		ttl, ok := parseTTL(args, 2)
		if !ok {
			return
		}
		handleStore(ctx, client, command, args[0], args[1], ttl)

	case "delete", "del":
		if len(args) != 1 {
			fmt.Println("Usage: delete <key>")
			return
		}
		handleDelete(ctx, client, args[0])

	case "incr", "decr":
		if len(args) < 1 || len(args) > 3 {
			fmt.Printf("Usage: %s <key> [delta] [ttl_seconds]\n", command)
			return
		}
		delta := int64(1)
		if len(args) >= 2 {
			var err error
			if delta, err = strconv.ParseInt(args[1], 10, 64); err != nil {
				fmt.Printf("Invalid delta: %v\n", err)
				return
			}
		}
		if command == "decr" {
			delta = -delta
		}
		ttl, ok := parseTTL(args, 2)
		if !ok {
			return
		}
		handleIncrement(ctx, client, args[0], delta, ttl)

	case "expire", "touch":
		if len(args) != 2 {
			fmt.Println("Usage: expire <key> <ttl_seconds>")
			return
		}
		ttl, ok := parseTTL(args, 1)
		if !ok {
			return
		}
		handleExpire(ctx, client, args[0], ttl)

	case "multi-get", "mget":
		if len(args) < 1 {
			fmt.Println("Usage: multi-get <key1> <key2> ...")
			return
		}
		handleMultiGet(ctx, client, args)

	case "stats":
		handleStats(client)

	case "ping":
		handlePing(ctx, client)

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  get <key>                    - Get a value by key")
		fmt.Println("  set <key> <value> [ttl]      - Set a key-value pair with optional TTL")
		fmt.Println("  add <key> <value> [ttl]      - Set only if the key does not exist")
		fmt.Println("  delete <key>                 - Delete a key")
		fmt.Println("  incr <key> [delta] [ttl]     - Increment a counter, creating it at delta")
		fmt.Println("  decr <key> [delta] [ttl]     - Decrement a counter, floored at zero")
		fmt.Println("  expire <key> <ttl>           - Set the TTL of an existing key")
		fmt.Println("  multi-get <key1> <key2>      - Get multiple keys at once")
		fmt.Println("  stats                        - Show client and pool statistics")
		fmt.Println("  ping                         - Ping all servers")
		fmt.Println("  quit                         - Exit the CLI")

	default:
		fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
	}
}

func parseTTL(args []string, idx int) (time.Duration, bool) {
	if len(args) <= idx {
		return kvcache.NoTTL, true
	}
	secs, err := strconv.Atoi(args[idx])
	if err != nil || secs < 0 {
		fmt.Printf("Invalid TTL: %q\n", args[idx])
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func handleGet(ctx context.Context, client *kvcache.Client, key string) {
	start := time.Now()
	item, err := client.Get(ctx, key)
	duration := time.Since(start)

	switch {
	case err != nil:
		fmt.Printf("Error: %v (took %v)\n", err, duration)
	case !item.Found:
		fmt.Printf("Key not found (took %v)\n", duration)
	default:
		fmt.Printf("Value: %s (took %v)\n", string(item.Value), duration)
	}
}

func handleStore(ctx context.Context, client *kvcache.Client, command, key, value string, ttl time.Duration) {
	start := time.Now()
	var err error
	if command == "add" {
		err = client.Add(ctx, key, []byte(value), ttl)
	} else {
		err = client.Set(ctx, key, []byte(value), ttl)
	}
	duration := time.Since(start)

	switch {
	case errors.Is(err, kvcache.ErrNotStored):
		fmt.Printf("Key already exists (took %v)\n", duration)
	case err != nil:
		fmt.Printf("Error: %v (took %v)\n", err, duration)
	default:
		fmt.Printf("Stored successfully (took %v)\n", duration)
	}
}

func handleDelete(ctx context.Context, client *kvcache.Client, key string) {
	start := time.Now()
	err := client.Delete(ctx, key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Delete successful (took %v)\n", duration)
}

func handleIncrement(ctx context.Context, client *kvcache.Client, key string, delta int64, ttl time.Duration) {
	start := time.Now()
	value, err := client.Increment(ctx, key, delta, ttl)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Value: %d (took %v)\n", value, duration)
}

func handleExpire(ctx context.Context, client *kvcache.Client, key string, ttl time.Duration) {
	start := time.Now()
	found, err := client.Expire(ctx, key, ttl)
	duration := time.Since(start)

	switch {
	case err != nil:
		fmt.Printf("Error: %v (took %v)\n", err, duration)
	case !found:
		fmt.Printf("Key not found (took %v)\n", duration)
	default:
		fmt.Printf("TTL updated (took %v)\n", duration)
	}
}

func handleMultiGet(ctx context.Context, client *kvcache.Client, keys []string) {
	start := time.Now()
	items, err := client.MultiGet(ctx, keys)
	duration := time.Since(start)

	found := 0
	for _, item := range items {
		if item.Found {
			found++
			fmt.Printf("  %s: %s\n", item.Key, string(item.Value))
		} else {
			fmt.Printf("  %s: <not found>\n", item.Key)
		}
	}
	if err != nil {
		fmt.Printf("Errors: %v\n", err)
	}

	fmt.Printf("Retrieved %d out of %d keys (took %v)\n", found, len(keys), duration)
}

func handleStats(client *kvcache.Client) {
	stats := client.Stats()
	fmt.Println("Client Statistics:")
	fmt.Printf("  Gets: %d (hits: %d)\n", stats.Gets, stats.GetHits)
	fmt.Printf("  Sets: %d, Adds: %d, Deletes: %d\n", stats.Sets, stats.Adds, stats.Deletes)
	fmt.Printf("  Increments: %d, Expires: %d\n", stats.Increments, stats.Expires)
	fmt.Printf("  Errors: %d (timeouts: %d, ambiguous: %d), Retries: %d\n", stats.Errors, stats.Timeouts, stats.Ambiguous, stats.Retries)
	fmt.Println()

	for i, server := range client.PoolStats() {
		pool := server.PoolStats
		fmt.Printf("Server %d (%s):\n", i+1, server.Addr)
		fmt.Printf("  Connections: %d total, %d active, %d idle\n", pool.TotalConns, pool.ActiveConns, pool.IdleConns)
		fmt.Printf("  Created: %d, Destroyed: %d\n", pool.CreatedConns, pool.DestroyedConns)
		fmt.Printf("  Acquires: %d (waited: %d, errors: %d)\n", pool.AcquireCount, pool.AcquireWaitCount, pool.AcquireErrors)
		fmt.Printf("  Circuit Breaker: %s\n", server.CircuitBreakerState)
		fmt.Println()
	}
}

func handlePing(ctx context.Context, client *kvcache.Client) {
	start := time.Now()
	err := client.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Ping failed: %v (took %v)\n", err, duration)
		return
	}

	fmt.Printf("Ping successful (took %v)\n", duration)
}
