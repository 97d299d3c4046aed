package kvcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/pior/kvcache/internal/memcachetest"
)

func TestClientBatch(t *testing.T) {
	ctx := context.Background()
	first := memcachetest.NewServer(t)
	second := memcachetest.NewServer(t)

	client, err := NewClient(Config{Endpoints: []string{first.Addr(), second.Addr()}})
	require.NoError(t, err)
	defer client.Close()

	var items []Item
	var keys []string
	for i := range 10 {
		key := fmt.Sprintf("batch-%d", i)
		keys = append(keys, key)
		items = append(items, Item{Key: key, Value: []byte(key), TTL: time.Minute})
	}

	require.NoError(t, client.MultiSet(ctx, items))

	got, err := client.MultiGet(ctx, append(keys, "missing"))
	require.NoError(t, err)
	require.Len(t, got, 11)
	for i, key := range keys {
		assert.Equal(t, key, got[i].Key)
		assert.True(t, got[i].Found)
		assert.Equal(t, []byte(key), got[i].Value)
	}
	assert.False(t, got[10].Found)

	require.NoError(t, client.MultiDelete(ctx, keys[:5]))

	got, err = client.MultiGet(ctx, keys)
	require.NoError(t, err)
	for i := range got {
		assert.Equal(t, i >= 5, got[i].Found, got[i].Key)
	}
}

func TestClientBatchPipelinesPerServer(t *testing.T) {
	ctx := context.Background()
	srv := memcachetest.NewServer(t)
	client := newTestClient(t, srv)

	_, err := client.MultiGet(ctx, []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.Connections())
	assert.EqualValues(t, 4, srv.Requests())
}

func TestClientBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	srv := memcachetest.NewServer(t)
	client := newTestClient(t, srv)
	srv.Set("exists", []byte("x"), 0)

	results, err := client.ExecuteBatch(ctx, []Operation{
		NewAdd("exists", []byte("y"), NoTTL),
		NewGet("bad key"),
		NewAdd("fresh", []byte("z"), NoTTL),
	})
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorIs(t, err, ErrNotStored)

	require.Len(t, results, 3)
	assert.False(t, results[0].Found)
	assert.True(t, results[2].Found)

	value, ok := srv.Item("fresh")
	require.True(t, ok)
	assert.Equal(t, []byte("z"), value)
}

func TestClientBatchAmbiguous(t *testing.T) {
	ctx := context.Background()
	srv := memcachetest.NewServer(t)
	client := newTestClient(t, srv)
	srv.InjectFault(memcachetest.ApplyThenDrop)

	err := client.MultiSet(ctx, []Item{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}})
	require.ErrorIs(t, err, ErrAmbiguousOutcome)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestClientBatchEmpty(t *testing.T) {
	srv := memcachetest.NewServer(t)
	client := newTestClient(t, srv)

	items, err := client.MultiGet(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.EqualValues(t, 0, srv.Connections())
}
