// File: api/codec.go
// Package api defines the MessageCodec injection boundary.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The protocol engine negotiates per-message compression but never owns the
// algorithm. Callers exchange a negotiated agreement for a MessageCodec and
// hand it to the connection.

package api

// MessageCodec transforms whole message payloads for a negotiated extension.
// Implementations need not be safe for concurrent use; a connection calls
// Compress only from its write path and Decompress only from its read path.
type MessageCodec interface {
	// Compress appends the encoded form of src to dst and returns the result.
	Compress(dst, src []byte) ([]byte, error)

	// Decompress appends the decoded form of src to dst. It must fail with
	// ErrResourceExhausted once the decoded size would exceed limit bytes
	// (limit <= 0 disables the check).
	Decompress(dst, src []byte, limit int64) ([]byte, error)
}
