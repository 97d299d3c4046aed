package meta

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseRequestRoundTrip(t *testing.T) {
	requests := []*Request{
		NewRequest(CmdGet, "mykey", nil).AddReturnValue().AddOpaque(1),
		NewRequest(CmdGet, "touched", nil).AddTTL(60).AddOpaque(2),
		NewRequest(CmdSet, "mykey", []byte("hello")).AddTTL(3600).AddOpaque(3),
		NewRequest(CmdSet, "empty", []byte{}),
		NewRequest(CmdSet, "binary", []byte("\r\n\x00\xffend")).AddModeAdd(),
		NewRequest(CmdDelete, "gone", nil).AddOpaque(4).AddReturnKey(),
		NewRequest(CmdArithmetic, "counter", nil).AddReturnValue().AddDelta(18446744073709551615).AddModeDecrement(),
		NewRequest(CmdNoOp, "", nil),
	}

	for _, want := range requests {
		t.Run(string(want.Command)+" "+want.Key, func(t *testing.T) {
			wire, err := AppendRequest(nil, want)
			if err != nil {
				t.Fatalf("AppendRequest() error = %v", err)
			}

			got, n, err := ParseRequest(wire)
			if err != nil {
				t.Fatalf("ParseRequest(%q) error = %v", wire, err)
			}
			if n != len(wire) {
				t.Errorf("consumed %d bytes, want %d", n, len(wire))
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, want)
			}
		})
	}
}

func TestParseRequestPipelined(t *testing.T) {
	var wire []byte
	for i := range 3 {
		var err error
		wire, err = AppendRequest(wire, NewRequest(CmdGet, "k", nil).AddOpaque(uint32(i)))
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := range 3 {
		req, n, err := ParseRequest(wire)
		if err != nil {
			t.Fatal(err)
		}
		if id, _ := req.Opaque(); id != uint32(i) {
			t.Errorf("request %d has opaque %d", i, id)
		}
		wire = wire[n:]
	}
	if len(wire) != 0 {
		t.Errorf("%d bytes left over", len(wire))
	}
}

func TestParseRequestIncomplete(t *testing.T) {
	for _, input := range []string{"", "mg key", "ms key 5\r\nhel", "ms key 5\r\nhello\r"} {
		if _, _, err := ParseRequest([]byte(input)); !errors.Is(err, ErrIncompleteFrame) {
			t.Errorf("ParseRequest(%q) error = %v, want ErrIncompleteFrame", input, err)
		}
	}
}

func TestParseRequestMalformed(t *testing.T) {
	inputs := []string{
		"m\r\n",
		"xx key\r\n",
		"mg\r\n",
		"mn extra\r\n",
		"ms key\r\n",
		"ms key abc\r\n",
		"ms key 1\r\nxyz",
		"mg key 9\r\n",
	}

	for _, input := range inputs {
		var protoErr *ProtocolError
		if _, _, err := ParseRequest([]byte(input)); !errors.As(err, &protoErr) {
			t.Errorf("ParseRequest(%q) error = %v, want ProtocolError", input, err)
		}
	}
}
