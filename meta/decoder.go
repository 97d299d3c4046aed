package meta

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

// Pre-allocated byte slices for comparisons (avoid allocation in hot path)
var (
	errorGenericBytes = []byte(ErrorGeneric)
	clientErrorPrefix = []byte(ErrorClientPrefix + " ")
	serverErrorPrefix = []byte(ErrorServerPrefix + " ")
)

// minRead is the smallest free space handed to Read when filling the buffer.
const minRead = 4096

// ParseResponse parses a single response frame from the start of b.
// Response format: <status> [<flags>*]\r\n[<data>\r\n]
//
// It returns the response and the number of bytes consumed. When b does not
// yet hold a complete frame it returns ErrIncompleteFrame and consumes nothing.
//
// Server error lines (CLIENT_ERROR, SERVER_ERROR, ERROR) are returned as
// Response.Error, not as a Go error. Malformed frames return *ProtocolError.
func ParseResponse(b []byte) (*Response, int, error) {
	line, n, err := cutLine(b)
	if err != nil {
		return nil, 0, err
	}

	// Check for protocol errors first
	if msg, ok := bytes.CutPrefix(line, clientErrorPrefix); ok {
		return &Response{Error: &ClientError{Message: string(msg)}}, n, nil
	}
	if msg, ok := bytes.CutPrefix(line, serverErrorPrefix); ok {
		return &Response{Error: &ServerError{Message: string(msg)}}, n, nil
	}
	if bytes.Equal(line, errorGenericBytes) {
		return &Response{Error: &GenericError{Message: ErrorGeneric}}, n, nil
	}

	if len(line) < 2 {
		return nil, 0, &ProtocolError{Message: "response line too short"}
	}

	statusEnd := bytes.IndexByte(line, ' ')
	if statusEnd == -1 {
		statusEnd = len(line)
	}

	resp := &Response{Status: StatusType(line[:statusEnd])}
	if !knownStatus(resp.Status) {
		return nil, 0, &ProtocolError{Message: "unknown status " + strconv.Quote(string(resp.Status))}
	}

	pos := statusEnd

	// VA response has size as second field
	dataSize := 0
	if resp.Status == StatusVA {
		pos = flagsSkipSpaces(line, pos)
		sizeEnd := bytes.IndexByte(line[pos:], ' ')
		if sizeEnd == -1 {
			sizeEnd = len(line) - pos
		}
		sizeBytes := line[pos : pos+sizeEnd]
		pos += sizeEnd

		if len(sizeBytes) == 0 {
			return nil, 0, &ProtocolError{Message: "VA response missing size"}
		}
		dataSize, err = parseSize(sizeBytes)
		if err != nil {
			return nil, 0, err
		}
	}

	if pos < len(line) {
		if err := validateFlags(line[pos:]); err != nil {
			return nil, 0, err
		}
		if flagsSkipSpaces(line, pos) < len(line) {
			resp.Flags = Flags(bytes.Clone(line[pos:]))
		}
	}

	if resp.Status == StatusVA {
		end := n + dataSize + 2
		if len(b) < end {
			return nil, 0, ErrIncompleteFrame
		}
		if b[end-2] != '\r' || b[end-1] != '\n' {
			return nil, 0, &ProtocolError{Message: "invalid data block terminator"}
		}
		resp.Data = make([]byte, dataSize)
		copy(resp.Data, b[n:end-2])
		n = end
	}

	return resp, n, nil
}

// Decoder parses responses from a byte stream, buffering partial frames
// across reads. The zero value is ready to use.
type Decoder struct {
	buf []byte
	off int
}

// Feed appends raw bytes to the decoder buffer.
func (d *Decoder) Feed(p []byte) {
	d.compact()
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes buffered and not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Reset drops any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// Next parses the next buffered frame.
// It returns ErrIncompleteFrame when more bytes are needed.
func (d *Decoder) Next() (*Response, error) {
	resp, n, err := ParseResponse(d.buf[d.off:])
	if err != nil {
		return nil, err
	}
	d.consume(n)
	return resp, nil
}

// ReadResponse returns the next frame, reading from r as often as needed.
// I/O failures are returned as *ConnectionError.
func (d *Decoder) ReadResponse(r io.Reader) (*Response, error) {
	for {
		resp, err := d.Next()
		if !errors.Is(err, ErrIncompleteFrame) {
			return resp, err
		}
		if err := d.fill(r); err != nil {
			return nil, err
		}
	}
}

// ReadLine returns the next CRLF-terminated line without its terminator.
// It is used for classic protocol replies such as STORED.
func (d *Decoder) ReadLine(r io.Reader) (string, error) {
	for {
		line, n, err := cutLine(d.buf[d.off:])
		if err == nil {
			s := string(line)
			d.consume(n)
			return s, nil
		}
		if !errors.Is(err, ErrIncompleteFrame) {
			return "", err
		}
		if err := d.fill(r); err != nil {
			return "", err
		}
	}
}

func (d *Decoder) consume(n int) {
	d.off += n
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
}

func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf = d.buf[:n]
	d.off = 0
}

func (d *Decoder) fill(r io.Reader) error {
	d.compact()
	if cap(d.buf)-len(d.buf) < minRead {
		grown := make([]byte, len(d.buf), 2*cap(d.buf)+minRead)
		copy(grown, d.buf)
		d.buf = grown
	}

	for range 100 {
		n, err := r.Read(d.buf[len(d.buf):cap(d.buf)])
		d.buf = d.buf[:len(d.buf)+n]
		if n > 0 {
			return nil
		}
		if err != nil {
			if err == io.EOF && len(d.buf) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return &ConnectionError{Op: "read", Err: err}
		}
	}
	return &ConnectionError{Op: "read", Err: io.ErrNoProgress}
}

// cutLine returns the first CRLF-terminated line of b and the bytes consumed.
func cutLine(b []byte) ([]byte, int, error) {
	idx := bytes.IndexByte(b, '\n')
	if idx == -1 {
		if len(b) > MaxLineLength {
			return nil, 0, &ProtocolError{Message: "line exceeds maximum length"}
		}
		return nil, 0, ErrIncompleteFrame
	}
	if idx > MaxLineLength {
		return nil, 0, &ProtocolError{Message: "line exceeds maximum length"}
	}
	if idx == 0 || b[idx-1] != '\r' {
		return nil, 0, &ProtocolError{Message: "line not terminated by CRLF"}
	}
	return b[:idx-1], idx + 1, nil
}

func parseSize(b []byte) (int, error) {
	size, err := strconv.ParseUint(string(b), 10, 63)
	if err != nil {
		return 0, &ProtocolError{Message: "invalid size " + strconv.Quote(string(b)), Err: err}
	}
	if size > MaxValueSize {
		return 0, &ProtocolError{Message: "size exceeds maximum value size"}
	}
	return int(size), nil
}

// validateFlags checks that every flag starts with an ASCII letter and
// contains only printable characters.
func validateFlags(f []byte) error {
	atStart := true
	for _, c := range f {
		if c == ' ' {
			atStart = true
			continue
		}
		if c < '!' || c > '~' {
			return &ProtocolError{Message: "invalid character in flags"}
		}
		if atStart {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
				return &ProtocolError{Message: "invalid flag " + strconv.QuoteRune(rune(c))}
			}
			atStart = false
		}
	}
	return nil
}

func knownStatus(s StatusType) bool {
	switch s {
	case StatusHD, StatusVA, StatusEN, StatusNF, StatusNS, StatusEX, StatusMN:
		return true
	default:
		return false
	}
}
