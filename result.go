package kvcache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pior/kvcache/meta"
)

// Result is the outcome of an executed Operation.
//
// Found reports a hit for get, an existing key for delete and expire, and a
// successful store for set and add. Value is nil when no value was returned
// and non-nil (possibly empty) on a get hit. Counter holds the new value of
// an incremented counter.
type Result struct {
	Kind    OpKind
	Key     string
	Value   []byte
	Found   bool
	Counter uint64
}

// Item is the typed view of a cache entry.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
	Found bool // indicates whether the key was found in cache
}

// resultFromResponse interprets a decoded response for the operation.
// Misses are reported through Found, never as errors.
func resultFromResponse(op Operation, resp *meta.Response) (Result, error) {
	res := Result{Kind: op.kind, Key: op.key}

	if resp.HasError() {
		return res, &RemoteError{Err: resp.Error}
	}

	switch op.kind {
	case OpGet:
		switch resp.Status {
		case meta.StatusVA, meta.StatusHD:
			res.Found = true
			res.Value = resp.Data
			if res.Value == nil {
				res.Value = []byte{}
			}
			return res, nil
		case meta.StatusEN:
			return res, nil
		}

	case OpSet, OpAdd:
		switch resp.Status {
		case meta.StatusHD:
			res.Found = true
			return res, nil
		case meta.StatusNS, meta.StatusNF, meta.StatusEX:
			return res, &RemoteError{Status: resp.Status}
		}

	case OpDelete:
		switch resp.Status {
		case meta.StatusHD:
			res.Found = true
			return res, nil
		case meta.StatusNF:
			return res, nil
		case meta.StatusEX:
			return res, &RemoteError{Status: resp.Status}
		}

	case OpIncrement:
		switch resp.Status {
		case meta.StatusVA:
			counter, err := strconv.ParseUint(string(resp.Data), 10, 64)
			if err != nil {
				return res, fmt.Errorf("%w: %w", ErrProtocol, &meta.ProtocolError{Message: "invalid counter value", Err: err})
			}
			res.Found = true
			res.Counter = counter
			return res, nil
		case meta.StatusNF, meta.StatusNS, meta.StatusEX:
			return res, &RemoteError{Status: resp.Status}
		}

	case OpExpire:
		switch resp.Status {
		case meta.StatusHD, meta.StatusVA:
			res.Found = true
			return res, nil
		case meta.StatusEN, meta.StatusNF:
			return res, nil
		}
	}

	return res, fmt.Errorf("%w: unexpected status %q for %s", ErrProtocol, resp.Status, op.kind)
}
