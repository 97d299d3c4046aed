package meta

import (
	"strconv"
	"time"
)

// Request represents a meta protocol request.
// This is a low-level container for request data without serialization logic.
// Fields map directly to protocol elements.
type Request struct {
	// Command is the 2-character command code: mg, ms, md, ma, mn
	Command CmdType

	// Key is the cache key (1-250 bytes, no whitespace unless base64-encoded)
	// Empty for mn command
	Key string

	// Data is the value to store (for ms command only)
	// Size is derived from len(Data), not stored separately
	Data []byte

	// Flags is the serialized flags representation.
	//
	// It contains the exact bytes that appear after the key/size on the wire,
	// including the leading spaces (e.g. " v c t" or " T60 O1f").
	Flags Flags
}

// Flags is a serialized representation of meta protocol flags.
//
// The zero value is ready to use.
type Flags []byte

func (f Flags) IsEmpty() bool {
	return len(f) == 0
}

func (f Flags) Clone() Flags {
	if f == nil {
		return nil
	}
	return append(Flags(nil), f...)
}

func (f *Flags) Add(flagType FlagType) {
	*f = append(*f, ' ', byte(flagType))
}

func (f *Flags) AddTokenString(flagType FlagType, token string) {
	*f = append(*f, ' ', byte(flagType))
	*f = append(*f, token...)
}

func (f *Flags) AddInt64(flagType FlagType, value int64) {
	*f = append(*f, ' ', byte(flagType))
	*f = strconv.AppendInt(*f, value, 10)
}

func (f *Flags) AddUint64(flagType FlagType, value uint64) {
	*f = append(*f, ' ', byte(flagType))
	*f = strconv.AppendUint(*f, value, 10)
}

func (f Flags) Has(flagType FlagType) bool {
	_, ok := f.Get(flagType)
	return ok
}

// Get returns the token value for the first flag of the given type.
//
// ok is true if the flag is present.
// token is nil if the flag is present but has no token.
func (f Flags) Get(flagType FlagType) (token []byte, ok bool) {
	for i := 0; i < len(f); {
		i = flagsSkipSpaces(f, i)
		if i >= len(f) {
			return nil, false
		}

		t := FlagType(f[i])
		i++

		start := i
		for i < len(f) && f[i] != ' ' {
			i++
		}

		if t == flagType {
			if start == i {
				return nil, true
			}
			return f[start:i], true
		}
	}
	return nil, false
}

// Uint64 parses the token of the first flag of the given type.
func (f Flags) Uint64(flagType FlagType) (uint64, bool) {
	token, ok := f.Get(flagType)
	if !ok || len(token) == 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(string(token), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func flagsSkipSpaces(b []byte, idx int) int {
	for idx < len(b) && b[idx] == ' ' {
		idx++
	}
	return idx
}

// NewRequest creates a new meta protocol request.
//
// The key and data parameters are used according to the command type:
//   - CmdGet, CmdDelete, CmdArithmetic: key required, data ignored
//   - CmdSet: key and data required
//   - CmdNoOp: key and data ignored
//
// Use the Add* methods on Request to add flags after creation:
//
//	req := NewRequest(CmdGet, "mykey", nil).AddReturnValue().AddOpaque(7)
func NewRequest(cmd CmdType, key string, data []byte) *Request {
	return &Request{
		Command: cmd,
		Key:     key,
		Data:    data,
	}
}

// HasFlag checks if the request contains a flag of the given type.
func (r *Request) HasFlag(flagType FlagType) bool {
	return r.Flags.Has(flagType)
}

// Opaque returns the opaque token of the request, if numeric.
func (r *Request) Opaque() (uint32, bool) {
	return parseOpaque(r.Flags)
}

// All Add* methods return *Request for fluent chaining.

func (r *Request) AddOpaque(id uint32) *Request {
	r.Flags.AddUint64(FlagOpaque, uint64(id))
	return r
}
func (r *Request) AddQuiet() *Request     { r.Flags.Add(FlagQuiet); return r }
func (r *Request) AddBase64Key() *Request { r.Flags.Add(FlagBase64Key); return r }
func (r *Request) AddReturnKey() *Request { r.Flags.Add(FlagReturnKey); return r }

func (r *Request) AddReturnValue() *Request { r.Flags.Add(FlagReturnValue); return r }
func (r *Request) AddReturnCAS() *Request   { r.Flags.Add(FlagReturnCAS); return r }
func (r *Request) AddReturnTTL() *Request   { r.Flags.Add(FlagReturnTTL); return r }

func (r *Request) AddTTL(seconds int64) *Request { r.Flags.AddInt64(FlagTTL, seconds); return r }
func (r *Request) AddVivify(seconds int64) *Request {
	r.Flags.AddInt64(FlagVivify, seconds)
	return r
}

func (r *Request) AddModeAdd() *Request { r.Flags.AddTokenString(FlagMode, ModeAdd); return r }

func (r *Request) AddDelta(amount uint64) *Request       { r.Flags.AddUint64(FlagDelta, amount); return r }
func (r *Request) AddInitialValue(value uint64) *Request { r.Flags.AddUint64(FlagInitialValue, value); return r }
func (r *Request) AddModeDecrement() *Request            { r.Flags.AddTokenString(FlagMode, ModeDecrement); return r }

// TTLSeconds converts a TTL to the value memcached expects in T and N flags.
//
// Zero means no expiration. Positive sub-second TTLs round up to one second
// so they never turn into "no expiration". TTLs longer than 30 days are sent
// as an absolute unix timestamp relative to now, capped at MaxAbsoluteTTL.
func TTLSeconds(ttl time.Duration, now time.Time) int64 {
	if ttl <= 0 {
		return 0
	}
	seconds := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		seconds++
	}
	if seconds > MaxRelativeTTL {
		return min(now.Unix()+seconds, MaxAbsoluteTTL)
	}
	return seconds
}

func parseOpaque(f Flags) (uint32, bool) {
	v, ok := f.Uint64(FlagOpaque)
	if !ok || v > 1<<32-1 {
		return 0, false
	}
	return uint32(v), true
}
