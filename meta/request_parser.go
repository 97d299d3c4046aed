package meta

import (
	"bytes"
	"strconv"
)

// ParseRequest parses a single request frame from the start of b.
// It is the inverse of AppendRequest and is used on the server side.
//
// It returns the request and the number of bytes consumed, or
// ErrIncompleteFrame when b does not yet hold a complete frame.
func ParseRequest(b []byte) (*Request, int, error) {
	line, n, err := cutLine(b)
	if err != nil {
		return nil, 0, err
	}

	if len(line) < 2 {
		return nil, 0, &ProtocolError{Message: "request line too short"}
	}

	req := &Request{Command: CmdType(line[:2])}
	switch req.Command {
	case CmdNoOp:
		if len(line) != 2 {
			return nil, 0, &ProtocolError{Message: "mn takes no arguments"}
		}
		return req, n, nil
	case CmdGet, CmdSet, CmdDelete, CmdArithmetic:
	default:
		return nil, 0, &ProtocolError{Message: "unknown command " + strconv.Quote(string(line))}
	}

	if len(line) < 4 || line[2] != ' ' {
		return nil, 0, &ProtocolError{Message: "missing key"}
	}

	pos := 3
	keyEnd := bytes.IndexByte(line[pos:], ' ')
	if keyEnd == -1 {
		keyEnd = len(line) - pos
	}
	req.Key = string(line[pos : pos+keyEnd])
	pos += keyEnd

	dataSize := 0
	if req.Command == CmdSet {
		pos = flagsSkipSpaces(line, pos)
		sizeEnd := bytes.IndexByte(line[pos:], ' ')
		if sizeEnd == -1 {
			sizeEnd = len(line) - pos
		}
		if sizeEnd == 0 {
			return nil, 0, &ProtocolError{Message: "ms request missing size"}
		}
		dataSize, err = parseSize(line[pos : pos+sizeEnd])
		if err != nil {
			return nil, 0, err
		}
		pos += sizeEnd
	}

	if pos < len(line) {
		if err := validateFlags(line[pos:]); err != nil {
			return nil, 0, err
		}
		if flagsSkipSpaces(line, pos) < len(line) {
			req.Flags = Flags(bytes.Clone(line[pos:]))
		}
	}

	if err := ValidateKey(req.Key, req.HasFlag(FlagBase64Key)); err != nil {
		return nil, 0, &ProtocolError{Message: "bad key", Err: err}
	}

	if req.Command == CmdSet {
		end := n + dataSize + 2
		if len(b) < end {
			return nil, 0, ErrIncompleteFrame
		}
		if b[end-2] != '\r' || b[end-1] != '\n' {
			return nil, 0, &ProtocolError{Message: "invalid data block terminator"}
		}
		req.Data = make([]byte, dataSize)
		copy(req.Data, b[n:end-2])
		n = end
	}

	return req, n, nil
}
