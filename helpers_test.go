package kvcache

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/kvcache/internal/memcachetest"
	"github.com/pior/kvcache/internal/testutils"
)

func newTestClient(t *testing.T, srv *memcachetest.Server, configure ...func(*Config)) *Client {
	t.Helper()

	config := Config{
		Endpoints: []string{srv.Addr()},
		Timeout:   2 * time.Second,
	}
	for _, fn := range configure {
		fn(&config)
	}

	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// faultyDialer wraps every dialed connection in a testutils.FaultyConn.
// The next failWrites (partialWrites) connections fail (partially send)
// their first write.
type faultyDialer struct {
	mu            sync.Mutex
	failWrites    int
	partialWrites int
	conns         []*testutils.FaultyConn
}

func (d *faultyDialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	fc := testutils.NewFaultyConn(conn)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrites > 0 {
		d.failWrites--
		fc.FailNextWrites(1)
	} else if d.partialWrites > 0 {
		d.partialWrites--
		fc.PartialNextWrites(1)
	}
	d.conns = append(d.conns, fc)
	return fc, nil
}

func (d *faultyDialer) configure(c *Config) {
	c.dialContext = d.dial
}

// mockConnection returns a connection over a mock replaying serverData.
func mockConnection(serverData ...string) (*Connection, *testutils.ConnectionMock) {
	mock := testutils.NewConnectionMock(serverData...)
	return newConnection(1, "mock:11211", mock), mock
}
