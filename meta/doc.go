// Package meta provides a low-level wire protocol implementation for the
// Memcached Meta Protocol (version 1.6+).
//
// It focuses on correctness of serialization and parsing, without imposing
// connection management on its callers.
//
// # Core Types
//
// Request and Response are pure data containers:
//
//   - Request: a meta protocol command (mg, ms, md, ma, mn)
//   - Response: a parsed server response
//   - Flags: the serialized flags of a request or response
//
// # Serialization and Parsing
//
// AppendRequest and WriteRequest serialize requests:
//
//	req := meta.NewRequest(meta.CmdGet, "mykey", nil).AddReturnValue().AddOpaque(1)
//	buf, err := meta.AppendRequest(nil, req)
//
// Decoder parses responses from a stream, buffering partial frames across reads:
//
//	var dec meta.Decoder
//	resp, err := dec.ReadResponse(conn)
//	if err != nil {
//	    if meta.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//
// ParseResponse and ParseRequest work on a byte slice and return
// ErrIncompleteFrame when more bytes are needed.
//
// # Error Handling
//
// The package defines error types that indicate connection state:
//
//   - ClientError: Protocol state corrupted, CLOSE connection
//   - ServerError: Server-side error, connection can be REUSED
//   - GenericError: Unknown command or protocol issue, CLOSE connection
//   - ProtocolError: Malformed frame, CLOSE connection
//   - ConnectionError: Network/I/O error, connection already broken
//   - InvalidKeyError: Rejected before sending, connection can be REUSED
//
// # Thread Safety
//
// Request, Response and Decoder are not safe for concurrent use.
package meta
