package meta

import (
	"bytes"
	"io"
	"strconv"
	"sync"
)

// Buffer pool for building requests
var bufferPool = sync.Pool{
	New: func() any {
		// Typical request is ~100 bytes, allocate 256 bytes
		b := make([]byte, 0, 256)
		return &b
	},
}

// Buffers grown past this size by a large value are not returned to the pool.
const maxPooledBuffer = 64 * 1024

// ValidateKey checks if a key is valid for the memcache protocol.
// Keys must be 1-250 bytes and contain no whitespace or control characters
// (unless base64-encoded).
func ValidateKey(key string, hasBase64Flag bool) error {
	keyLen := len(key)

	if keyLen < MinKeyLength {
		return &InvalidKeyError{Message: "key is empty"}
	}

	if keyLen > MaxKeyLength {
		return &InvalidKeyError{Message: "key exceeds maximum length of 250 bytes"}
	}

	if hasBase64Flag {
		return nil
	}

	for i := 0; i < keyLen; i++ {
		if c := key[i]; c <= ' ' || c == 0x7f {
			return &InvalidKeyError{Message: "key contains whitespace or control characters"}
		}
	}

	return nil
}

// AppendRequest appends the wire format of req to dst.
// Format: <command> <key> [<size>] <flags>*\r\n[<data>\r\n]
//
// For ms command: ms <key> <size> <flags>*\r\n<data>\r\n
// For other commands: <cmd> <key> <flags>*\r\n
// For mn command: mn\r\n
//
// The output is deterministic: the same request always yields the same bytes.
// The key is validated before anything is appended.
func AppendRequest(dst []byte, req *Request) ([]byte, error) {
	// mn command has no key or flags
	if req.Command == CmdNoOp {
		dst = append(dst, req.Command...)
		return append(dst, CRLF...), nil
	}

	if err := ValidateKey(req.Key, req.HasFlag(FlagBase64Key)); err != nil {
		return dst, err
	}

	dst = append(dst, req.Command...)
	dst = append(dst, ' ')
	dst = append(dst, req.Key...)

	if req.Command == CmdSet {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(req.Data)), 10)
	}

	dst = append(dst, req.Flags...)
	dst = append(dst, CRLF...)

	if req.Command == CmdSet {
		dst = append(dst, req.Data...)
		dst = append(dst, CRLF...)
	}

	return dst, nil
}

// WriteRequest serializes a Request to wire format and writes it to w
// with a single Write call.
func WriteRequest(w io.Writer, req *Request) error {
	bp := bufferPool.Get().(*[]byte)
	defer func() {
		if cap(*bp) <= maxPooledBuffer {
			*bp = (*bp)[:0]
			bufferPool.Put(bp)
		}
	}()

	buf, err := AppendRequest((*bp)[:0], req)
	*bp = buf
	if err != nil {
		return err
	}

	_, err = w.Write(buf)
	return err
}

// AppendResponse appends the wire format of resp to dst.
// It is the server-side counterpart of ParseResponse.
func AppendResponse(dst []byte, resp *Response) []byte {
	if resp.Error != nil {
		switch e := resp.Error.(type) {
		case *ClientError:
			dst = append(dst, ErrorClientPrefix+" "...)
			dst = append(dst, e.Message...)
		case *ServerError:
			dst = append(dst, ErrorServerPrefix+" "...)
			dst = append(dst, e.Message...)
		default:
			dst = append(dst, ErrorGeneric...)
		}
		return append(dst, CRLF...)
	}

	dst = append(dst, resp.Status...)
	if resp.Status == StatusVA {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(resp.Data)), 10)
	}
	if len(resp.Flags) > 0 && !bytes.HasPrefix(resp.Flags, []byte(Space)) {
		dst = append(dst, ' ')
	}
	dst = append(dst, resp.Flags...)
	dst = append(dst, CRLF...)

	if resp.Status == StatusVA {
		dst = append(dst, resp.Data...)
		dst = append(dst, CRLF...)
	}
	return dst
}
