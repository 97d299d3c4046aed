package kvcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/kvcache/internal/testutils"
	"github.com/pior/kvcache/meta"
)

func exchange(t *testing.T, conn *Connection, ops ...Operation) ([]*PendingRequest, error) {
	t.Helper()
	pendings := make([]*PendingRequest, len(ops))
	for i, op := range ops {
		pendings[i] = newPendingRequest(op, time.Time{})
	}
	err := conn.Exchange(context.Background(), time.Time{}, pendings...)
	for _, p := range pendings {
		require.True(t, p.resolved(), "pending request %d not resolved", p.ID())
	}
	return pendings, err
}

func TestConnectionExchange(t *testing.T) {
	conn, mock := mockConnection("HD O1\r\n")

	pendings, err := exchange(t, conn, NewSet("k", []byte("v"), NoTTL))
	require.NoError(t, err)

	resp, err := pendings[0].Response()
	require.NoError(t, err)
	assert.Equal(t, meta.StatusHD, resp.Status)
	assert.Equal(t, "ms k 1 O1\r\nv\r\n", mock.GetWrittenRequest())
	assert.Equal(t, StateIdle, conn.State())
}

func TestConnectionExchangePipelined(t *testing.T) {
	conn, mock := mockConnection("VA 1 O1\r\nx\r\n", "EN O2\r\n")

	pendings, err := exchange(t, conn, NewGet("a"), NewGet("b"))
	require.NoError(t, err)
	assert.Equal(t, "mg a v O1\r\nmg b v O2\r\n", mock.GetWrittenRequest())

	first, _ := pendings[0].Response()
	assert.Equal(t, []byte("x"), first.Data)
	second, _ := pendings[1].Response()
	assert.Equal(t, meta.StatusEN, second.Status)
}

func TestConnectionExchangeOpaqueMismatch(t *testing.T) {
	conn, mock := mockConnection("HD O7\r\n")

	pendings, err := exchange(t, conn, NewDelete("k"))
	require.ErrorIs(t, err, ErrProtocol)
	_, perr := pendings[0].Response()
	require.ErrorIs(t, perr, ErrProtocol)

	assert.True(t, conn.IsBroken())
	assert.True(t, mock.IsClosed())
}

func TestConnectionExchangeMalformed(t *testing.T) {
	conn, _ := mockConnection("XX\r\n")

	_, err := exchange(t, conn, NewDelete("k"))
	require.ErrorIs(t, err, ErrProtocol)

	var protoErr *meta.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.True(t, conn.IsBroken())
}

func TestConnectionExchangeTruncatedResponse(t *testing.T) {
	conn, _ := mockConnection("VA 5 O1\r\nab")

	_, err := exchange(t, conn, NewGet("k"))
	require.ErrorIs(t, err, ErrAmbiguousOutcome)
	assert.True(t, conn.IsBroken())
}

func TestConnectionExchangeWriteFailure(t *testing.T) {
	t.Run("nothing sent", func(t *testing.T) {
		mock := testutils.NewConnectionMock("HD O1\r\n")
		faulty := testutils.NewFaultyConn(mock)
		faulty.FailNextWrites(1)
		conn := newConnection(1, "mock", faulty)

		_, err := exchange(t, conn, NewSet("k", []byte("v"), NoTTL))
		require.ErrorIs(t, err, ErrConnectionUnavailable)
		require.ErrorIs(t, err, testutils.ErrInjected)
		assert.True(t, retryable(err))
		assert.True(t, conn.IsBroken())
		assert.Empty(t, mock.GetWrittenRequest())
	})

	t.Run("partially sent", func(t *testing.T) {
		mock := testutils.NewConnectionMock("HD O1\r\n")
		faulty := testutils.NewFaultyConn(mock)
		faulty.PartialNextWrites(1)
		conn := newConnection(1, "mock", faulty)

		_, err := exchange(t, conn, NewSet("k", []byte("v"), NoTTL))
		require.ErrorIs(t, err, ErrAmbiguousOutcome)
		assert.False(t, retryable(err))
		assert.True(t, conn.IsBroken())
	})
}

func TestConnectionRemoteErrors(t *testing.T) {
	t.Run("server error keeps the connection", func(t *testing.T) {
		conn, _ := mockConnection("SERVER_ERROR out of memory\r\n")

		pendings, err := exchange(t, conn, NewSet("k", []byte("v"), NoTTL))
		require.NoError(t, err)
		resp, _ := pendings[0].Response()
		require.IsType(t, &meta.ServerError{}, resp.Error)
		assert.False(t, conn.IsBroken())
	})

	t.Run("client error breaks the connection", func(t *testing.T) {
		conn, _ := mockConnection("CLIENT_ERROR bad data chunk\r\n")

		pendings, err := exchange(t, conn, NewSet("k", []byte("v"), NoTTL), NewGet("k"))
		require.ErrorIs(t, err, ErrAmbiguousOutcome)

		resp, _ := pendings[0].Response()
		require.IsType(t, &meta.ClientError{}, resp.Error)
		_, perr := pendings[1].Response()
		require.ErrorIs(t, perr, ErrAmbiguousOutcome)
		assert.True(t, conn.IsBroken())
	})
}

func TestConnectionBrokenIsNotUsed(t *testing.T) {
	conn, mock := mockConnection("HD O1\r\n")
	conn.MarkBroken()

	_, err := exchange(t, conn, NewDelete("k"))
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.Empty(t, mock.GetWrittenRequest())
}

func TestConnectionDeadline(t *testing.T) {
	conn, mock := mockConnection("HD O1\r\n")
	deadline := time.Now().Add(time.Minute)

	p := newPendingRequest(NewDelete("k"), deadline)
	require.NoError(t, conn.Exchange(context.Background(), deadline, p))
	assert.Equal(t, deadline, mock.Deadline())
}

func TestConnectionCancelledBeforeSend(t *testing.T) {
	conn, mock := mockConnection("HD O1\r\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPendingRequest(NewDelete("k"), time.Time{})
	err := conn.Exchange(ctx, time.Time{}, p)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrConnectionUnavailable)
	require.False(t, retryable(err))
	assert.Empty(t, mock.GetWrittenRequest())
	assert.False(t, conn.IsBroken())
}

func TestConnectionPing(t *testing.T) {
	conn, mock := mockConnection("MN\r\n")
	require.NoError(t, conn.Ping(context.Background(), time.Time{}))
	assert.Equal(t, "mn\r\n", mock.GetWrittenRequest())

	conn, _ = mockConnection("HD\r\n")
	require.ErrorIs(t, conn.Ping(context.Background(), time.Time{}), ErrProtocol)
}

func TestConnectionAuthenticate(t *testing.T) {
	conn, mock := mockConnection("STORED\r\n")
	require.NoError(t, conn.authenticate(time.Time{}, "default", "secret"))
	assert.Equal(t, "set default 0 0 14\r\ndefault secret\r\n", mock.GetWrittenRequest())

	conn, _ = mockConnection("CLIENT_ERROR authentication failure\r\n")
	err := conn.authenticate(time.Time{}, "default", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "CLIENT_ERROR authentication failure", authErr.Reply)
	require.ErrorIs(t, err, ErrConnectionUnavailable)
}
