package meta

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestAppendRequest(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "basic get",
			req:      NewRequest(CmdGet, "mykey", nil),
			expected: "mg mykey\r\n",
		},
		{
			name:     "get with value and opaque",
			req:      NewRequest(CmdGet, "mykey", nil).AddReturnValue().AddOpaque(42),
			expected: "mg mykey v O42\r\n",
		},
		{
			name:     "touch",
			req:      NewRequest(CmdGet, "mykey", nil).AddTTL(60),
			expected: "mg mykey T60\r\n",
		},
		{
			name:     "set with ttl",
			req:      NewRequest(CmdSet, "mykey", []byte("hello")).AddTTL(3600),
			expected: "ms mykey 5 T3600\r\nhello\r\n",
		},
		{
			name:     "set empty value",
			req:      NewRequest(CmdSet, "mykey", []byte{}),
			expected: "ms mykey 0\r\n\r\n",
		},
		{
			name:     "set binary value",
			req:      NewRequest(CmdSet, "bin", []byte{0, '\r', '\n', 0xff}),
			expected: "ms bin 4\r\n\x00\r\n\xff\r\n",
		},
		{
			name:     "add mode",
			req:      NewRequest(CmdSet, "k", []byte("v")).AddModeAdd(),
			expected: "ms k 1 ME\r\nv\r\n",
		},
		{
			name:     "delete",
			req:      NewRequest(CmdDelete, "mykey", nil).AddOpaque(1),
			expected: "md mykey O1\r\n",
		},
		{
			name:     "increment with vivify",
			req:      NewRequest(CmdArithmetic, "counter", nil).AddReturnValue().AddDelta(5).AddInitialValue(5).AddVivify(0),
			expected: "ma counter v D5 J5 N0\r\n",
		},
		{
			name:     "noop ignores key and flags",
			req:      NewRequest(CmdNoOp, "ignored", nil).AddOpaque(3),
			expected: "mn\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AppendRequest(nil, tt.req)
			if err != nil {
				t.Fatalf("AppendRequest() error = %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("AppendRequest() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAppendRequestIsDeterministic(t *testing.T) {
	req := NewRequest(CmdSet, "k", []byte("value")).AddTTL(10).AddOpaque(9)

	first, err := AppendRequest(nil, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := AppendRequest(make([]byte, 0, 1), req)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("encodings differ: %q vs %q", first, second)
	}
}

func TestAppendRequestInvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("k", MaxKeyLength+1)},
		{"space", "my key"},
		{"newline", "my\nkey"},
		{"control", "key\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := []byte("prefix")
			got, err := AppendRequest(dst, NewRequest(CmdGet, tt.key, nil))

			var keyErr *InvalidKeyError
			if !errors.As(err, &keyErr) {
				t.Fatalf("expected InvalidKeyError, got %v", err)
			}
			if string(got) != "prefix" {
				t.Errorf("dst modified on error: %q", got)
			}
			if ShouldCloseConnection(err) {
				t.Error("invalid key must not close the connection")
			}
		})
	}
}

func TestAppendRequestBase64KeyAllowsAnyBytes(t *testing.T) {
	_, err := AppendRequest(nil, NewRequest(CmdGet, "a b", nil).AddBase64Key())
	if err != nil {
		t.Errorf("base64 key rejected: %v", err)
	}
}

func TestWriteRequest(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, NewRequest(CmdGet, "key", nil).AddReturnValue()); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "mg key v\r\n" {
		t.Errorf("WriteRequest() = %q", buf.String())
	}
}

func TestTTLSeconds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		ttl  time.Duration
		want int64
	}{
		{"zero", 0, 0},
		{"negative", -time.Second, 0},
		{"sub second rounds up", 300 * time.Millisecond, 1},
		{"exact seconds", 60 * time.Second, 60},
		{"fraction rounds up", 1500 * time.Millisecond, 2},
		{"thirty days is relative", 30 * 24 * time.Hour, MaxRelativeTTL},
		{"beyond thirty days is absolute", 31 * 24 * time.Hour, now.Add(31 * 24 * time.Hour).Unix()},
		{"absolute rounds up", 31*24*time.Hour + time.Millisecond, now.Add(31*24*time.Hour).Unix() + 1},
		{"max duration is capped", math.MaxInt64, MaxAbsoluteTTL},
		{"near max duration is capped", math.MaxInt64 - 500*time.Millisecond, MaxAbsoluteTTL},
		{"far future is capped", 100 * 365 * 24 * time.Hour, MaxAbsoluteTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TTLSeconds(tt.ttl, now); got != tt.want {
				t.Errorf("TTLSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestAppendResponse(t *testing.T) {
	tests := []struct {
		name     string
		resp     *Response
		expected string
	}{
		{"hd", &Response{Status: StatusHD}, "HD\r\n"},
		{"hd with flags", &Response{Status: StatusHD, Flags: Flags(" O1 kfoo")}, "HD O1 kfoo\r\n"},
		{"va", &Response{Status: StatusVA, Data: []byte("hi"), Flags: Flags(" O2")}, "VA 2 O2\r\nhi\r\n"},
		{"va empty", &Response{Status: StatusVA, Data: []byte{}}, "VA 0\r\n\r\n"},
		{"client error", &Response{Error: &ClientError{Message: "bad"}}, "CLIENT_ERROR bad\r\n"},
		{"server error", &Response{Error: &ServerError{Message: "oom"}}, "SERVER_ERROR oom\r\n"},
		{"generic error", &Response{Error: &GenericError{Message: ErrorGeneric}}, "ERROR\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(AppendResponse(nil, tt.resp)); got != tt.expected {
				t.Errorf("AppendResponse() = %q, want %q", got, tt.expected)
			}
		})
	}
}
