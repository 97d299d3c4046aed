package kvcache

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ExecuteBatch runs several operations. Operations for the same server are
// pipelined on one connection; servers are queried in parallel.
//
// Results are in the order of ops. The returned error combines the error of
// every failed operation (see multierr.Errors); the results of the other
// operations are valid. A batch is retried before send only when every
// operation for that server is idempotent.
func (c *Client) ExecuteBatch(ctx context.Context, ops []Operation) ([]Result, error) {
	results := make([]Result, len(ops))
	for i, op := range ops {
		results[i] = Result{Kind: op.kind, Key: op.key}
	}
	if len(ops) == 0 {
		return results, nil
	}

	if c.closed.Load() {
		var err error
		for _, op := range ops {
			err = multierr.Append(err, c.opError(op, "", ErrClientClosed))
		}
		return results, err
	}

	var (
		mu   sync.Mutex
		errs error
	)
	appendErr := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	// Group valid operations by server, keeping their position
	groups := make(map[*dispatcher][]int)
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			appendErr(c.opError(op, "", err))
			continue
		}
		d := c.serverFor(op.key)
		groups[d] = append(groups[d], i)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var g errgroup.Group
	for d, indexes := range groups {
		g.Go(func() error {
			batch := make([]Operation, len(indexes))
			for j, i := range indexes {
				batch[j] = ops[i]
			}

			pendings, _ := d.execute(ctx, batch...)
			for j, i := range indexes {
				res, err := c.result(ops[i], d.addr, pendings[j])
				results[i] = res
				if err != nil {
					appendErr(err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}

// MultiGet retrieves multiple items.
// Returns items in the same order as the keys, with Found=false for missing items.
func (c *Client) MultiGet(ctx context.Context, keys []string) ([]Item, error) {
	ops := make([]Operation, len(keys))
	for i, key := range keys {
		ops[i] = NewGet(key)
	}

	results, err := c.ExecuteBatch(ctx, ops)

	items := make([]Item, len(keys))
	for i, res := range results {
		items[i] = Item{Key: res.Key, Value: res.Value, Found: res.Found}
	}
	return items, err
}

// MultiSet stores multiple items.
func (c *Client) MultiSet(ctx context.Context, items []Item) error {
	ops := make([]Operation, len(items))
	for i, item := range items {
		ops[i] = NewSet(item.Key, item.Value, item.TTL)
	}

	_, err := c.ExecuteBatch(ctx, ops)
	return err
}

// MultiDelete removes multiple items. Missing keys are not errors.
func (c *Client) MultiDelete(ctx context.Context, keys []string) error {
	ops := make([]Operation, len(keys))
	for i, key := range keys {
		ops[i] = NewDelete(key)
	}

	_, err := c.ExecuteBatch(ctx, ops)
	return err
}
