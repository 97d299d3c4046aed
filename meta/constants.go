package meta

import "math"

// CmdType represents a meta protocol command (2 characters).
type CmdType string

// FlagType represents a single-character flag identifier.
type FlagType byte

// StatusType represents a response status code (2 characters).
type StatusType string

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"

	// Space separates command tokens
	Space = " "
)

// Command codes (2 characters)
const (
	// CmdGet retrieves item data and metadata from cache.
	//
	// Wire format: mg <key> <flags>*\r\n
	//
	// Response statuses:
	//   - VA <size>: Hit with value (when v flag used)
	//   - HD: Hit without value (no v flag)
	//   - EN: Miss
	//
	// With a T flag the command also updates the item TTL ("touch"), which is
	// how the client implements expire.
	CmdGet CmdType = "mg"

	// CmdSet stores data in cache.
	//
	// Wire format: ms <key> <size> <flags>*\r\n<data>\r\n
	//
	// Response statuses:
	//   - HD: Stored successfully
	//   - NS: Not stored (add/replace mode conditions not met)
	//   - NF: Not found (append/prepend on missing key)
	//   - EX: CAS mismatch
	CmdSet CmdType = "ms"

	// CmdDelete removes an item.
	//
	// Wire format: md <key> <flags>*\r\n
	//
	// Response statuses: HD (deleted), NF (not found), EX (CAS mismatch)
	CmdDelete CmdType = "md"

	// CmdArithmetic increments or decrements a numeric value.
	//
	// Wire format: ma <key> <flags>*\r\n
	//
	// Values are unsigned 64-bit integers. Decrement floors at zero.
	// Response statuses: HD, VA (with v flag), NF, NS, EX
	CmdArithmetic CmdType = "ma"

	// CmdNoOp returns MN. Used as a health check and pipeline marker.
	//
	// Wire format: mn\r\n
	CmdNoOp CmdType = "mn"
)

// Response status codes
const (
	StatusHD StatusType = "HD" // success, no value
	StatusVA StatusType = "VA" // success, value follows
	StatusEN StatusType = "EN" // miss (mg)
	StatusNF StatusType = "NF" // not found
	StatusNS StatusType = "NS" // not stored
	StatusEX StatusType = "EX" // CAS mismatch
	StatusMN StatusType = "MN" // no-op reply
)

// Error response prefixes
const (
	ErrorGeneric = "ERROR"

	ErrorClientPrefix = "CLIENT_ERROR"

	ErrorServerPrefix = "SERVER_ERROR"
)

// ReplyStored is the classic protocol reply to a successful set.
// It is only expected during authentication.
const ReplyStored = "STORED"

// Universal flags
const (
	FlagBase64Key FlagType = 'b'
	FlagReturnKey FlagType = 'k'
	FlagOpaque    FlagType = 'O'
	FlagQuiet     FlagType = 'q'
)

// Retrieval flags
const (
	FlagReturnCAS         FlagType = 'c'
	FlagReturnClientFlags FlagType = 'f'
	FlagReturnSize        FlagType = 's'
	FlagReturnTTL         FlagType = 't'
	FlagReturnValue       FlagType = 'v'
	FlagReturnHit         FlagType = 'h'
	FlagReturnLastAccess  FlagType = 'l'
)

// Modification flags
const (
	FlagCAS         FlagType = 'C'
	FlagTTL         FlagType = 'T'
	FlagClientFlags FlagType = 'F'
	FlagVivify      FlagType = 'N'
	FlagMode        FlagType = 'M'
	FlagInvalidate  FlagType = 'I'
)

// Storage modes for ms (used with FlagMode)
const (
	ModeSet     = "S"
	ModeAdd     = "E"
	ModeReplace = "R"
	ModeAppend  = "A"
	ModePrepend = "P"
)

// Arithmetic flags and modes
const (
	FlagDelta        FlagType = 'D'
	FlagInitialValue FlagType = 'J'

	ModeIncrement = "I"
	ModeDecrement = "D"
)

// Protocol limits
const (
	MaxKeyLength = 250

	MinKeyLength = 1

	MaxOpaqueLength = 32

	// MaxLineLength bounds a response or request line (everything before the data block).
	MaxLineLength = 8192

	// MaxValueSize bounds the data block accepted by the decoder.
	MaxValueSize = 64 * 1024 * 1024

	// MaxRelativeTTL is the largest TTL memcached interprets as relative.
	// Larger values are read as absolute unix timestamps.
	MaxRelativeTTL = 60 * 60 * 24 * 30

	// MaxAbsoluteTTL is the largest expiration timestamp memcached parses.
	MaxAbsoluteTTL = math.MaxInt32
)
