package meta

// Response represents a parsed meta protocol response.
// This is a low-level container for response data without parsing logic.
// Fields map directly to protocol elements.
type Response struct {
	// Status is the 2-character response code: HD, VA, EN, NF, NS, EX, MN
	Status StatusType

	// Data is the value data, only present for VA responses.
	// A VA response with size 0 has a non-nil empty Data, so an empty value
	// is distinguishable from an absent one.
	Data []byte

	// Flags contains all flags returned in the response, as on the wire.
	Flags Flags

	// Error is set for non-meta error responses: ERROR, CLIENT_ERROR, SERVER_ERROR
	// When Error is set, other fields are empty.
	Error error
}

// IsSuccess returns true if the response indicates a successful operation.
// Success statuses: HD, VA, MN
func (r *Response) IsSuccess() bool {
	switch r.Status {
	case StatusHD, StatusVA, StatusMN:
		return true
	default:
		return false
	}
}

// IsMiss returns true if the response indicates a cache miss.
// Miss statuses: EN, NF
func (r *Response) IsMiss() bool {
	return r.Status == StatusEN || r.Status == StatusNF
}

// IsNotStored returns true if the response indicates item was not stored.
// This is not an error - e.g., add on existing key, replace on missing key
func (r *Response) IsNotStored() bool {
	return r.Status == StatusNS
}

// HasValue returns true if the response includes value data.
func (r *Response) HasValue() bool {
	return r.Status == StatusVA && r.Data != nil
}

// HasError returns true if the response contains a protocol error.
// Protocol errors: ERROR, CLIENT_ERROR, SERVER_ERROR
func (r *Response) HasError() bool {
	return r.Error != nil
}

// HasFlag checks if the response contains a flag of the given type.
func (r *Response) HasFlag(flagType FlagType) bool {
	return r.Flags.Has(flagType)
}

// Opaque returns the echoed opaque token, if present and numeric.
func (r *Response) Opaque() (uint32, bool) {
	return parseOpaque(r.Flags)
}

// Key returns the echoed key (k flag), if present.
func (r *Response) Key() (string, bool) {
	token, ok := r.Flags.Get(FlagReturnKey)
	if !ok {
		return "", false
	}
	return string(token), true
}
