package kvcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/edwingeng/deque/v2"

	"github.com/pior/kvcache/internal/coarsetime"
	"github.com/pior/kvcache/meta"
)

// ConnState is the liveness state of a Connection.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateInUse
	StateBroken
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	case StateBroken:
		return "broken"
	default:
		return "ConnState(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	errConnectionBroken = errors.New("kvcache: connection broken")
	errConnectionBusy   = errors.New("kvcache: connection already in use")
)

// A past deadline used to interrupt blocked reads and writes.
var aLongTimeAgo = time.Unix(1, 0)

// Connection is one transport link to a cache server.
//
// A connection runs one exchange at a time. Requests of an exchange are
// pipelined and matched to their responses by opaque token, in order.
// Once broken, a connection is never used again.
type Connection struct {
	id        uint64
	addr      string
	conn      net.Conn
	createdAt time.Time

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanoseconds

	// Owned by the running exchange.
	dec     meta.Decoder
	wbuf    []byte
	pending *deque.Deque[*PendingRequest]
	opaque  uint32
}

func newConnection(id uint64, addr string, conn net.Conn) *Connection {
	now := coarsetime.Now()
	c := &Connection{
		id:        id,
		addr:      addr,
		conn:      conn,
		createdAt: now,
		pending:   deque.NewDeque[*PendingRequest](),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) Addr() string { return c.addr }

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *Connection) IsBroken() bool { return c.State() == StateBroken }

func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// LastActivity returns the time of the last successful read or write.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// MarkBroken moves the connection to its terminal state and closes the link.
func (c *Connection) MarkBroken() {
	if ConnState(c.state.Swap(int32(StateBroken))) != StateBroken {
		_ = c.conn.Close()
	}
}

// Close closes the underlying transport.
func (c *Connection) Close() error {
	c.state.Store(int32(StateBroken))
	return c.conn.Close()
}

func (c *Connection) touch() {
	c.lastActivity.Store(coarsetime.Now().UnixNano())
}

func (c *Connection) nextOpaque() uint32 {
	c.opaque++
	if c.opaque == 0 {
		c.opaque = 1
	}
	return c.opaque
}

// Exchange writes the requests in a single write and reads until every one
// of them is resolved, or until the deadline or ctx cancellation.
//
// Failures are classified for the dispatcher:
//   - nothing written: *notSentError
//   - written, then transport failure: ErrAmbiguousOutcome
//   - deadline or cancellation: ErrTimeout, also when nothing was sent
//   - malformed frame: ErrProtocol
//
// Any of them breaks the connection. Every pending request is resolved
// when Exchange returns, and the returned error is the one of the first
// failed request.
func (c *Connection) Exchange(ctx context.Context, deadline time.Time, pendings ...*PendingRequest) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateInUse)) {
		if c.IsBroken() {
			return resolveAll(pendings, &notSentError{err: errConnectionBroken})
		}
		return resolveAll(pendings, errConnectionBusy)
	}
	defer c.state.CompareAndSwap(int32(StateInUse), int32(StateIdle))

	if err := ctx.Err(); err != nil {
		return resolveAll(pendings, fmt.Errorf("%w before send: %w", ErrTimeout, err))
	}

	now := time.Now()
	c.wbuf = c.wbuf[:0]
	for _, p := range pendings {
		p.id = c.nextOpaque()
		var err error
		c.wbuf, err = meta.AppendRequest(c.wbuf, p.op.request(p.id, now))
		if err != nil {
			return resolveAll(pendings, err)
		}
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		c.MarkBroken()
		return resolveAll(pendings, &notSentError{err: err})
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() {
			// The cancellation may have raced with completion, the deadline
			// of this link can no longer be trusted.
			c.MarkBroken()
		}
	}()

	for _, p := range pendings {
		c.pending.PushFront(p)
	}

	n, err := c.conn.Write(c.wbuf)
	if err != nil {
		c.MarkBroken()
		if n == 0 {
			return c.failPending(&notSentError{err: err})
		}
		return c.failPending(fmt.Errorf("%w: partial write of %d/%d bytes: %w", ErrAmbiguousOutcome, n, len(c.wbuf), err))
	}
	c.touch()

	for c.pending.Len() > 0 {
		resp, err := c.dec.ReadResponse(c.conn)
		if err != nil {
			c.MarkBroken()
			return c.failPending(c.readFailure(ctx, err))
		}
		c.touch()

		p := c.pending.PopBack()
		if err := matchResponse(p, resp); err != nil {
			c.MarkBroken()
			p.resolve(nil, err)
			c.failPending(err)
			return err
		}
		p.resolve(resp, nil)

		if resp.HasError() && meta.ShouldCloseConnection(resp.Error) {
			c.MarkBroken()
			if c.pending.Len() > 0 {
				return c.failPending(fmt.Errorf("%w: %w", ErrAmbiguousOutcome, resp.Error))
			}
		}
	}

	return nil
}

// failPending resolves every queued request with err and returns err.
func (c *Connection) failPending(err error) error {
	for c.pending.Len() > 0 {
		c.pending.PopBack().resolve(nil, err)
	}
	return err
}

func resolveAll(pendings []*PendingRequest, err error) error {
	for _, p := range pendings {
		p.resolve(nil, err)
	}
	return err
}

func (c *Connection) readFailure(ctx context.Context, err error) error {
	var perr *meta.ProtocolError
	switch {
	case errors.As(err, &perr):
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case errors.Is(err, os.ErrDeadlineExceeded):
		// The call deadline fired before the context noticed
		return fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%w: %w", ErrAmbiguousOutcome, err)
	}
}

// matchResponse checks that resp answers p.
// Error lines carry no opaque token and answer the oldest request.
func matchResponse(p *PendingRequest, resp *meta.Response) error {
	if resp.HasError() {
		return nil
	}
	if p.op.kind == opNoOp {
		if resp.Status != meta.StatusMN {
			return fmt.Errorf("%w: expected MN, got %s", ErrProtocol, resp.Status)
		}
		return nil
	}
	id, ok := resp.Opaque()
	if !ok || id != p.id {
		return fmt.Errorf("%w: response opaque does not match request %d", ErrProtocol, p.id)
	}
	return nil
}

// Ping sends a no-op and waits for its reply.
func (c *Connection) Ping(ctx context.Context, deadline time.Time) error {
	p := newPendingRequest(Operation{kind: opNoOp}, deadline)
	if err := c.Exchange(ctx, deadline, p); err != nil {
		return err
	}
	_, err := p.Response()
	return err
}

// authenticate runs the memcached ASCII authentication handshake:
// a set of "<user> <token>" under the user name, answered by STORED.
func (c *Connection) authenticate(deadline time.Time, user, token string) error {
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}

	credentials := user + " " + token
	buf := make([]byte, 0, 32+len(user)+len(credentials))
	buf = append(buf, "set "...)
	buf = append(buf, user...)
	buf = append(buf, " 0 0 "...)
	buf = strconv.AppendInt(buf, int64(len(credentials)), 10)
	buf = append(buf, meta.CRLF...)
	buf = append(buf, credentials...)
	buf = append(buf, meta.CRLF...)

	if _, err := c.conn.Write(buf); err != nil {
		return err
	}

	reply, err := c.dec.ReadLine(c.conn)
	if err != nil {
		return err
	}
	if reply != meta.ReplyStored {
		return &AuthError{Addr: c.addr, Reply: reply}
	}
	c.touch()
	return nil
}
