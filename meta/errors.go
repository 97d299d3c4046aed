package meta

import (
	"errors"
	"fmt"
)

// Error types for meta protocol operations.
// These errors help clients determine the fate of the connection (close vs. reuse).

// ErrIncompleteFrame is returned by the parsers when the buffer does not yet
// hold a complete frame. Nothing is consumed; feed more bytes and try again.
var ErrIncompleteFrame = errors.New("meta: incomplete frame")

// ClientError represents a CLIENT_ERROR response from memcached.
// The server detected invalid client input and the parsing state is undefined.
//
// Connection handling: CLOSE connection immediately
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "CLIENT_ERROR: " + e.Message
}

// ShouldCloseConnection returns true - client errors require closing connection
func (e *ClientError) ShouldCloseConnection() bool {
	return true
}

// ServerError represents a SERVER_ERROR response from memcached.
// The protocol state is still valid, the operation failed on the server.
//
// Connection handling: Connection can be REUSED
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "SERVER_ERROR: " + e.Message
}

// ShouldCloseConnection returns false - server errors don't corrupt protocol state
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// GenericError represents a generic ERROR response from memcached.
// Typically indicates unknown command or protocol violation.
//
// Connection handling: Connection should be CLOSED as protocol state is uncertain
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	return e.Message
}

// ShouldCloseConnection returns true - generic errors indicate protocol issues
func (e *GenericError) ShouldCloseConnection() bool {
	return true
}

// InvalidKeyError is returned when a key fails validation.
// The request was rejected client-side and nothing was written.
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return "invalid key: " + e.Message
}

// ShouldCloseConnection returns false - nothing reached the wire
func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// ProtocolError reports a malformed frame.
//
// Common causes:
//   - Line not terminated by CRLF
//   - Unknown status code
//   - Invalid or negative size in VA response
//   - Missing data block terminator
//
// Connection handling: Connection should be CLOSED as state is uncertain
type ProtocolError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Message + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - malformed frames leave the stream unsynchronized
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps underlying I/O errors from connection operations.
//
// Connection handling: Connection is already broken, CLOSE it
type ConnectionError struct {
	Op  string // Operation that failed (read, write, etc.)
	Err error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is an interface for errors that indicate
// whether the connection should be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection is a helper function to determine if an error
// requires closing the connection.
//
// Returns false for nil, ServerError and InvalidKeyError.
// Unknown error types are treated conservatively and return true.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
