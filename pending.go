package kvcache

import (
	"time"

	"github.com/pior/kvcache/meta"
)

// PendingRequest is an operation in flight on a connection.
// It is resolved exactly once, with a response or an error.
type PendingRequest struct {
	id       uint32 // opaque token, assigned by the connection
	op       Operation
	deadline time.Time

	resp *meta.Response
	err  error
	done chan struct{}
}

func newPendingRequest(op Operation, deadline time.Time) *PendingRequest {
	return &PendingRequest{
		op:       op,
		deadline: deadline,
		done:     make(chan struct{}),
	}
}

// ID returns the correlation id echoed by the server.
func (p *PendingRequest) ID() uint32 { return p.id }

func (p *PendingRequest) Kind() OpKind { return p.op.kind }

func (p *PendingRequest) Deadline() time.Time { return p.deadline }

// Done is closed once the request is resolved.
func (p *PendingRequest) Done() <-chan struct{} { return p.done }

// Response returns the resolved response or error.
// It must only be called after Done is closed.
func (p *PendingRequest) Response() (*meta.Response, error) {
	return p.resp, p.err
}

func (p *PendingRequest) resolve(resp *meta.Response, err error) {
	select {
	case <-p.done:
		return
	default:
	}
	p.resp = resp
	p.err = err
	close(p.done)
}

func (p *PendingRequest) resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
