package kvcache

import (
	"fmt"
	"time"

	"github.com/pior/kvcache/meta"
)

// NoTTL represents an infinite TTL (no expiration).
const NoTTL time.Duration = 0

// OpKind identifies the action of an Operation.
type OpKind uint8

const (
	OpGet OpKind = iota + 1
	OpSet
	OpAdd
	OpDelete
	OpIncrement
	OpExpire
	opNoOp
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	case OpIncrement:
		return "increment"
	case OpExpire:
		return "expire"
	case opNoOp:
		return "noop"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Idempotent reports whether the operation can be retried without changing
// its outcome: get, delete and expire. Stores and increments are not.
func (k OpKind) Idempotent() bool {
	switch k {
	case OpGet, OpDelete, OpExpire, opNoOp:
		return true
	default:
		return false
	}
}

// Operation is a single requested action on one key.
// It is immutable: constructors copy the value and accessors return copies.
type Operation struct {
	kind  OpKind
	key   string
	value []byte
	ttl   time.Duration
	delta int64
}

// NewGet returns an operation reading key.
func NewGet(key string) Operation {
	return Operation{kind: OpGet, key: key}
}

// NewSet returns an operation storing value under key.
// A ttl of NoTTL stores the item without expiration.
func NewSet(key string, value []byte, ttl time.Duration) Operation {
	return Operation{kind: OpSet, key: key, value: cloneValue(value), ttl: ttl}
}

// NewAdd is like NewSet but only stores when the key does not exist.
func NewAdd(key string, value []byte, ttl time.Duration) Operation {
	return Operation{kind: OpAdd, key: key, value: cloneValue(value), ttl: ttl}
}

// NewDelete returns an operation removing key.
func NewDelete(key string) Operation {
	return Operation{kind: OpDelete, key: key}
}

// NewIncrement returns an operation adding delta to the counter at key.
// A missing key is created with the value max(delta, 0) and the given ttl.
// Negative deltas decrement; counters never go below zero.
func NewIncrement(key string, delta int64, ttl time.Duration) Operation {
	return Operation{kind: OpIncrement, key: key, delta: delta, ttl: ttl}
}

// NewExpire returns an operation replacing the TTL of key.
// NoTTL makes the item persistent.
func NewExpire(key string, ttl time.Duration) Operation {
	return Operation{kind: OpExpire, key: key, ttl: ttl}
}

func (op Operation) Kind() OpKind       { return op.kind }
func (op Operation) Key() string        { return op.key }
func (op Operation) TTL() time.Duration { return op.ttl }
func (op Operation) Delta() int64       { return op.delta }
func (op Operation) Value() []byte      { return cloneValue(op.value) }
func (op Operation) String() string     { return op.kind.String() + " " + op.key }

// Validate checks the operation before anything is sent.
func (op Operation) Validate() error {
	switch op.kind {
	case OpGet, OpSet, OpAdd, OpDelete, OpIncrement, OpExpire:
	default:
		return fmt.Errorf("kvcache: unknown operation kind %d", op.kind)
	}
	if op.ttl < 0 {
		return fmt.Errorf("kvcache: negative ttl %v", op.ttl)
	}
	if op.delta == minInt64 {
		return fmt.Errorf("kvcache: delta out of range")
	}
	return meta.ValidateKey(op.key, false)
}

const minInt64 = -1 << 63

// request encodes the operation as a meta request tagged with the opaque id.
func (op Operation) request(opaque uint32, now time.Time) *meta.Request {
	ttl := meta.TTLSeconds(op.ttl, now)

	switch op.kind {
	case OpGet:
		return meta.NewRequest(meta.CmdGet, op.key, nil).AddReturnValue().AddOpaque(opaque)

	case OpSet, OpAdd:
		// Mode is Set by default, no need to specify
		req := meta.NewRequest(meta.CmdSet, op.key, op.value)
		if op.kind == OpAdd {
			req.AddModeAdd()
		}
		if ttl > 0 {
			req.AddTTL(ttl)
		}
		return req.AddOpaque(opaque)

	case OpDelete:
		return meta.NewRequest(meta.CmdDelete, op.key, nil).AddOpaque(opaque)

	case OpIncrement:
		// Auto-vivify (N) with an initial value (J) so the returned value is
		// correct on the first call too.
		req := meta.NewRequest(meta.CmdArithmetic, op.key, nil).AddReturnValue()
		if op.delta >= 0 {
			req.AddDelta(uint64(op.delta)).AddInitialValue(uint64(op.delta))
		} else {
			req.AddDelta(uint64(-op.delta)).AddModeDecrement().AddInitialValue(0)
		}
		req.AddVivify(ttl)
		if ttl > 0 {
			// Refresh the TTL of existing counters too
			req.AddTTL(ttl)
		}
		return req.AddOpaque(opaque)

	case OpExpire:
		return meta.NewRequest(meta.CmdGet, op.key, nil).AddTTL(ttl).AddOpaque(opaque)

	default:
		return meta.NewRequest(meta.CmdNoOp, "", nil)
	}
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append(make([]byte, 0, len(v)), v...)
}
