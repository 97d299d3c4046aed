package meta

import (
	"bytes"
	"errors"
	"testing"
)

// FuzzParseResponse checks the parser against malformed, malicious, or unexpected input.
// Run with: go test -fuzz='^FuzzParseResponse$' -fuzztime=60s ./meta
func FuzzParseResponse(f *testing.F) {
	f.Add([]byte("HD\r\n"))
	f.Add([]byte("VA 5\r\nhello\r\n"))
	f.Add([]byte("VA 0\r\n\r\n"))
	f.Add([]byte("EN\r\n"))
	f.Add([]byte("NF\r\n"))
	f.Add([]byte("NS\r\n"))
	f.Add([]byte("EX\r\n"))
	f.Add([]byte("MN\r\n"))
	f.Add([]byte("CLIENT_ERROR invalid key\r\n"))
	f.Add([]byte("SERVER_ERROR out of memory\r\n"))
	f.Add([]byte("ERROR\r\n"))
	f.Add([]byte("VA 10 O1\r\n0123456789\r\n"))
	f.Add([]byte("HD c123 t456\r\n"))
	f.Add([]byte("VA 5\r\nhello\n"))
	f.Add([]byte("VA -1\r\n"))
	f.Add([]byte("VA 5\r\nhelloXX"))
	f.Add([]byte("HD O1\r\nHD O2\r\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		resp, n, err := ParseResponse(data)
		if err != nil {
			if n != 0 || resp != nil {
				t.Fatalf("error %v returned with n=%d", err, n)
			}
			var protoErr *ProtocolError
			if !errors.Is(err, ErrIncompleteFrame) && !errors.As(err, &protoErr) {
				t.Fatalf("unexpected error type %T", err)
			}
			return
		}

		if n <= 0 || n > len(data) {
			t.Fatalf("consumed %d of %d bytes", n, len(data))
		}
		if resp.Status == "" && !resp.HasError() {
			t.Fatal("empty status without error")
		}
		if resp.Status == StatusVA && resp.Data == nil {
			t.Fatal("VA response without data")
		}

		// Feeding the same bytes in two chunks must give the same frame.
		var dec Decoder
		dec.Feed(data[:n/2])
		dec.Feed(data[n/2 : n])
		again, err := dec.Next()
		if err != nil {
			t.Fatalf("decoder failed on a frame ParseResponse accepted: %v", err)
		}
		if again.Status != resp.Status || !bytes.Equal(again.Data, resp.Data) || !bytes.Equal(again.Flags, resp.Flags) {
			t.Fatal("decoder and ParseResponse disagree")
		}
	})
}
