// File: protocol/close.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Close frame payload: optional 2-byte big-endian status code followed by a
// UTF-8 reason of at most 123 bytes.

package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// CloseInfo is the status carried by a close frame. It is a value type and
// never changes once built.
type CloseInfo struct {
	Code   CloseCode
	Reason string
}

// NewCloseInfo validates code and reason for sending. CloseNoStatusReceived
// produces an empty close payload and cannot carry a reason.
func NewCloseInfo(code CloseCode, reason string) (CloseInfo, error) {
	if len(reason) > MaxCloseReasonLen {
		return CloseInfo{}, ErrCloseReasonTooLong
	}
	if !utf8.ValidString(reason) {
		return CloseInfo{}, ErrInvalidUTF8
	}
	if code == CloseNoStatusReceived {
		if reason != "" {
			return CloseInfo{}, fmt.Errorf("%w: reason without status code", ErrInvalidCloseFrame)
		}
		return CloseInfo{Code: code}, nil
	}
	if !code.Sendable() {
		return CloseInfo{}, fmt.Errorf("%w: %d", ErrInvalidCloseCode, uint16(code))
	}
	return CloseInfo{Code: code, Reason: reason}, nil
}

// AppendPayload appends the wire form of c to dst.
func (c CloseInfo) AppendPayload(dst []byte) []byte {
	if c.Code == CloseNoStatusReceived || c.Code == 0 {
		return dst
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(c.Code))
	return append(dst, c.Reason...)
}

// Payload returns the wire form of c.
func (c CloseInfo) Payload() []byte {
	return c.AppendPayload(make([]byte, 0, 2+len(c.Reason)))
}

func (c CloseInfo) String() string {
	if c.Reason == "" {
		return fmt.Sprintf("%d (%s)", uint16(c.Code), c.Code)
	}
	return fmt.Sprintf("%d (%s): %s", uint16(c.Code), c.Code, c.Reason)
}

// ParseClosePayload decodes a received close payload. An empty payload means
// the peer supplied no status and yields CloseNoStatusReceived.
func ParseClosePayload(p []byte) (CloseInfo, error) {
	switch {
	case len(p) == 0:
		return CloseInfo{Code: CloseNoStatusReceived}, nil
	case len(p) == 1:
		return CloseInfo{}, ErrInvalidCloseFrame
	case len(p) > MaxControlPayloadLen:
		return CloseInfo{}, ErrControlTooLarge
	}
	code := CloseCode(binary.BigEndian.Uint16(p))
	if !code.Sendable() {
		return CloseInfo{}, fmt.Errorf("%w: %d", ErrInvalidCloseCode, uint16(code))
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return CloseInfo{}, ErrInvalidUTF8
	}
	return CloseInfo{Code: code, Reason: string(reason)}, nil
}
