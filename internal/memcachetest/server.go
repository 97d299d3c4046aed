// Package memcachetest provides an in-memory memcached meta protocol server
// for tests, with a controllable clock, optional authentication and fault
// injection.
package memcachetest

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pior/kvcache/meta"
)

// Fault alters how the server handles one request.
type Fault int

const (
	// DropAfterRead closes the connection after reading the request,
	// without applying it.
	DropAfterRead Fault = iota + 1

	// ApplyThenDrop applies the request and closes the connection without
	// replying.
	ApplyThenDrop

	// Garbage replies with a malformed frame.
	Garbage

	// Stall applies the request and never replies.
	Stall
)

type item struct {
	value   []byte
	expires time.Time // zero means no expiration
}

// Server is a fake cache server listening on a loopback address.
type Server struct {
	ln net.Listener

	mu     sync.Mutex
	items  map[string]item
	offset time.Duration
	faults []Fault
	delay  time.Duration
	user   string
	token  string
	conns  map[net.Conn]struct{}

	requests atomic.Int64
	accepted atomic.Int64
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewServer starts a server. It is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("memcachetest: listen: %v", err)
	}

	s := &Server{
		ln:    ln,
		items: make(map[string]item),
		conns: make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port of the server.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the server and closes every connection.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// RequireAuth makes the server expect the ASCII authentication handshake
// with the given credentials on every new connection.
func (s *Server) RequireAuth(user, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user, s.token = user, token
}

// Advance moves the server clock forward.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += d
}

// SetDelay delays every reply.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// InjectFault queues faults, applied to the next requests in order.
func (s *Server) InjectFault(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// Requests returns the number of requests received, including mn.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Connections returns the number of connections accepted.
func (s *Server) Connections() int64 {
	return s.accepted.Load()
}

// OpenConnections returns the number of connections currently open.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Item returns the value stored under key, honoring expiration.
func (s *Server) Item(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.lookup(key)
	return it.value, ok
}

// Set stores an item directly. A zero ttl means no expiration.
func (s *Server) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := item{value: bytes.Clone(value)}
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	s.items[key] = it
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	var buf []byte
	chunk := make([]byte, 4096)

	s.mu.Lock()
	authenticated := s.token == ""
	s.mu.Unlock()

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return
		}

		if !authenticated {
			var ok, done bool
			buf, ok, done = s.authenticate(conn, buf)
			if !done {
				continue
			}
			if !ok {
				return
			}
			authenticated = true
		}

		var out []byte
		for len(buf) > 0 {
			req, consumed, err := meta.ParseRequest(buf)
			if errors.Is(err, meta.ErrIncompleteFrame) {
				break
			}
			if err != nil {
				out = meta.AppendResponse(out, &meta.Response{Error: &meta.ClientError{Message: "bad command line format"}})
				_, _ = conn.Write(out)
				return
			}
			buf = buf[consumed:]
			s.requests.Add(1)

			switch s.nextFault() {
			case DropAfterRead:
				return
			case ApplyThenDrop:
				s.apply(req)
				return
			case Garbage:
				out = append(out, "XX garbage\r\n"...)
				continue
			case Stall:
				s.apply(req)
				_, _ = io.Copy(io.Discard, conn)
				return
			}

			out = meta.AppendResponse(out, s.apply(req))
		}

		if len(out) > 0 {
			if d := s.replyDelay(); d > 0 {
				time.Sleep(d)
			}
			if _, err := conn.Write(out); err != nil {
				return
			}
		}
		if len(buf) == 0 {
			buf = nil
		}
	}
}

// authenticate consumes the "set <user> 0 0 <n>" handshake from buf.
// done is false when more bytes are needed.
func (s *Server) authenticate(conn net.Conn, buf []byte) (rest []byte, ok, done bool) {
	idx := bytes.Index(buf, []byte(meta.CRLF))
	if idx == -1 {
		return buf, false, false
	}

	fields := strings.Fields(string(buf[:idx]))
	if len(fields) != 5 || fields[0] != "set" {
		_, _ = conn.Write([]byte("CLIENT_ERROR unauthenticated\r\n"))
		return nil, false, true
	}
	size, err := strconv.Atoi(fields[4])
	if err != nil || size < 0 {
		_, _ = conn.Write([]byte("CLIENT_ERROR bad data chunk\r\n"))
		return nil, false, true
	}
	end := idx + 2 + size + 2
	if len(buf) < end {
		return buf, false, false
	}

	s.mu.Lock()
	want := s.user + " " + s.token
	s.mu.Unlock()

	if string(buf[idx+2:idx+2+size]) != want {
		_, _ = conn.Write([]byte("CLIENT_ERROR authentication failure\r\n"))
		return nil, false, true
	}
	if _, err := conn.Write([]byte(meta.ReplyStored + meta.CRLF)); err != nil {
		return nil, false, true
	}
	return buf[end:], true, true
}

func (s *Server) nextFault() Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) == 0 {
		return 0
	}
	f := s.faults[0]
	s.faults = s.faults[1:]
	return f
}

func (s *Server) replyDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Server) now() time.Time {
	return time.Now().Add(s.offset)
}

// lookup returns a live item. The caller holds s.mu.
func (s *Server) lookup(key string) (item, bool) {
	it, ok := s.items[key]
	if !ok {
		return item{}, false
	}
	if !it.expires.IsZero() && !s.now().Before(it.expires) {
		delete(s.items, key)
		return item{}, false
	}
	return it, true
}

// expiration converts a T or N token the way memcached does.
func (s *Server) expiration(token []byte) time.Time {
	ttl, err := strconv.ParseInt(string(token), 10, 64)
	if err != nil || ttl == 0 {
		return time.Time{}
	}
	if ttl < 0 {
		return s.now()
	}
	if ttl > meta.MaxRelativeTTL {
		return time.Unix(ttl, 0)
	}
	return s.now().Add(time.Duration(ttl) * time.Second)
}

func (s *Server) apply(req *meta.Request) *meta.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resp *meta.Response
	switch req.Command {
	case meta.CmdNoOp:
		return &meta.Response{Status: meta.StatusMN}
	case meta.CmdGet:
		resp = s.get(req)
	case meta.CmdSet:
		resp = s.set(req)
	case meta.CmdDelete:
		resp = s.delete(req)
	case meta.CmdArithmetic:
		resp = s.arithmetic(req)
	}

	if resp.Error == nil {
		resp.Flags = echoFlags(resp.Flags, req)
	}
	return resp
}

func echoFlags(f meta.Flags, req *meta.Request) meta.Flags {
	if token, ok := req.Flags.Get(meta.FlagOpaque); ok {
		f.AddTokenString(meta.FlagOpaque, string(token))
	}
	if req.HasFlag(meta.FlagReturnKey) {
		f.AddTokenString(meta.FlagReturnKey, req.Key)
	}
	return f
}

func (s *Server) get(req *meta.Request) *meta.Response {
	it, ok := s.lookup(req.Key)
	if !ok {
		return &meta.Response{Status: meta.StatusEN}
	}

	if token, ok := req.Flags.Get(meta.FlagTTL); ok {
		it.expires = s.expiration(token)
		s.items[req.Key] = it
	}

	if req.HasFlag(meta.FlagReturnValue) {
		return &meta.Response{Status: meta.StatusVA, Data: bytes.Clone(it.value)}
	}
	return &meta.Response{Status: meta.StatusHD}
}

func (s *Server) set(req *meta.Request) *meta.Response {
	if mode, ok := req.Flags.Get(meta.FlagMode); ok && string(mode) == meta.ModeAdd {
		if _, exists := s.lookup(req.Key); exists {
			return &meta.Response{Status: meta.StatusNS}
		}
	}

	it := item{value: bytes.Clone(req.Data)}
	if token, ok := req.Flags.Get(meta.FlagTTL); ok {
		it.expires = s.expiration(token)
	}
	s.items[req.Key] = it
	return &meta.Response{Status: meta.StatusHD}
}

func (s *Server) delete(req *meta.Request) *meta.Response {
	if _, ok := s.lookup(req.Key); !ok {
		return &meta.Response{Status: meta.StatusNF}
	}
	delete(s.items, req.Key)
	return &meta.Response{Status: meta.StatusHD}
}

func (s *Server) arithmetic(req *meta.Request) *meta.Response {
	delta := uint64(1)
	if v, ok := req.Flags.Uint64(meta.FlagDelta); ok {
		delta = v
	}

	it, ok := s.lookup(req.Key)
	var counter uint64
	switch {
	case ok:
		var err error
		counter, err = strconv.ParseUint(string(it.value), 10, 64)
		if err != nil {
			return &meta.Response{Error: &meta.ClientError{Message: "cannot increment or decrement non-numeric value"}}
		}
		if mode, ok := req.Flags.Get(meta.FlagMode); ok && (string(mode) == meta.ModeDecrement || string(mode) == "-") {
			if delta > counter {
				counter = 0
			} else {
				counter -= delta
			}
		} else {
			counter += delta
		}
		if token, ok := req.Flags.Get(meta.FlagTTL); ok {
			it.expires = s.expiration(token)
		}

	case req.HasFlag(meta.FlagVivify):
		// Auto-vivified counters start at the initial value, the delta is not applied
		counter, _ = req.Flags.Uint64(meta.FlagInitialValue)
		token, _ := req.Flags.Get(meta.FlagVivify)
		it.expires = s.expiration(token)

	default:
		return &meta.Response{Status: meta.StatusNF}
	}

	it.value = strconv.AppendUint(nil, counter, 10)
	s.items[req.Key] = it

	if req.HasFlag(meta.FlagReturnValue) {
		return &meta.Response{Status: meta.StatusVA, Data: bytes.Clone(it.value)}
	}
	return &meta.Response{Status: meta.StatusHD}
}
