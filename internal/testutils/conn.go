package testutils

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrInjected is returned by injected write failures.
var ErrInjected = errors.New("testutils: injected failure")

// ConnectionMock is a net.Conn replaying canned server bytes and recording
// what the client wrote.
type ConnectionMock struct {
	mu       sync.Mutex
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   bool
	deadline time.Time
}

// NewConnectionMock creates a new mock connection with pre-configured response data
func NewConnectionMock(responseData ...string) *ConnectionMock {
	return &ConnectionMock{
		readBuf:  bytes.NewBufferString(strings.Join(responseData, "")),
		writeBuf: &bytes.Buffer{},
	}
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *ConnectionMock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return m.SetDeadline(t) }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return m.SetDeadline(t) }

// Deadline returns the last deadline set.
func (m *ConnectionMock) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// GetWrittenRequest returns the raw request bytes written to the mock connection
func (m *ConnectionMock) GetWrittenRequest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuf.String()
}

// FaultyConn wraps a net.Conn and fails its writes on demand.
type FaultyConn struct {
	net.Conn

	mu            sync.Mutex
	failWrites    int
	partialWrites int
}

func NewFaultyConn(conn net.Conn) *FaultyConn {
	return &FaultyConn{Conn: conn}
}

// FailNextWrites makes the next n writes fail before writing any byte.
func (c *FaultyConn) FailNextWrites(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = n
}

// PartialNextWrites makes the next n writes send half of their bytes, then fail.
func (c *FaultyConn) PartialNextWrites(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partialWrites = n
}

func (c *FaultyConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	switch {
	case c.failWrites > 0:
		c.failWrites--
		c.mu.Unlock()
		return 0, ErrInjected
	case c.partialWrites > 0:
		c.partialWrites--
		c.mu.Unlock()
		n, err := c.Conn.Write(b[:len(b)/2])
		if err != nil {
			return n, err
		}
		return n, ErrInjected
	}
	c.mu.Unlock()
	return c.Conn.Write(b)
}
