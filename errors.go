package kvcache

import (
	"errors"
	"strings"

	"github.com/pior/kvcache/meta"
)

var (
	// ErrConnectionUnavailable is returned when no connection could be obtained:
	// the pool stayed exhausted for the whole acquire wait, the endpoint could
	// not be dialed, or the circuit breaker is open. Nothing was sent.
	ErrConnectionUnavailable = errors.New("kvcache: connection unavailable")

	// ErrProtocol is returned when the server sent a malformed frame.
	// The error chain also holds the *meta.ProtocolError.
	ErrProtocol = errors.New("kvcache: protocol error")

	// ErrTimeout is returned when the call deadline expired, or the caller
	// cancelled. When the request was in flight it may have been applied
	// by the server.
	ErrTimeout = errors.New("kvcache: timeout")

	// ErrAmbiguousOutcome is returned when the transport failed after bytes
	// of the request were written. The server may or may not have applied it,
	// so the request is never retried.
	ErrAmbiguousOutcome = errors.New("kvcache: ambiguous outcome")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("kvcache: client closed")

	// ErrNotFound matches a RemoteError reporting a missing key.
	ErrNotFound = errors.New("kvcache: not found")

	// ErrNotStored matches a RemoteError reporting that a conditional store
	// (add) did not happen.
	ErrNotStored = errors.New("kvcache: not stored")
)

// RemoteError is a failure reported by the cache service itself.
// Either Status is a meta status (NS, NF, EX) or Err is the server error line
// (*meta.ClientError, *meta.ServerError, *meta.GenericError).
type RemoteError struct {
	Status meta.StatusType
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return "kvcache: remote error: " + e.Err.Error()
	}
	return "kvcache: remote error: status " + string(e.Status)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == meta.StatusNF || e.Status == meta.StatusEN
	case ErrNotStored:
		return e.Status == meta.StatusNS
	}
	return false
}

// OpError records the operation, key and server of a failed call.
type OpError struct {
	Op   OpKind
	Key  string
	Addr string
	Err  error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op.String())
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	if e.Addr != "" {
		b.WriteString(" on ")
		b.WriteString(e.Addr)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// DialError is returned by the connection constructor when the endpoint
// cannot be reached. It matches ErrConnectionUnavailable.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return "kvcache: dial " + e.Addr + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error {
	return e.Err
}

func (e *DialError) Is(target error) bool {
	return target == ErrConnectionUnavailable
}

// AuthError is returned when the server rejects the access token.
type AuthError struct {
	Addr  string
	Reply string
}

func (e *AuthError) Error() string {
	return "kvcache: authentication to " + e.Addr + " failed: " + e.Reply
}

func (e *AuthError) Is(target error) bool {
	return target == ErrConnectionUnavailable
}

// notSentError marks a transport failure that happened before any byte of
// the request reached the wire. The outcome is known: nothing was applied.
type notSentError struct {
	err error
}

func (e *notSentError) Error() string {
	return "request not sent: " + e.err.Error()
}

func (e *notSentError) Unwrap() error {
	return e.err
}

func (e *notSentError) Is(target error) bool {
	return target == ErrConnectionUnavailable
}
