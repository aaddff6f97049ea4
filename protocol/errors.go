// File: protocol/errors.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy. Every fatal condition maps to exactly one kind and one
// close code so callers can fail the connection with the right status.

package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fatal protocol conditions.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindFraming
	KindFragmentation
	KindEncoding
	KindSizeLimit
	KindHandshake
	KindPolicy
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindFragmentation:
		return "fragmentation"
	case KindEncoding:
		return "encoding"
	case KindSizeLimit:
		return "size_limit"
	case KindHandshake:
		return "handshake"
	case KindPolicy:
		return "policy"
	case KindInternal:
		return "internal"
	}
	return "none"
}

// ProtocolError is a fatal condition together with the close code the
// connection must be failed with. Handshake errors carry no code because the
// message layer never became active.
type ProtocolError struct {
	Kind ErrorKind
	Code CloseCode
	msg  string
}

func (e *ProtocolError) Error() string {
	return "websocket: " + e.msg
}

func newProtocolError(kind ErrorKind, code CloseCode, msg string) *ProtocolError {
	return &ProtocolError{Kind: kind, Code: code, msg: msg}
}

// ErrNeedMoreData is returned by DecodeHeader when the slice ends before the
// header does. It is not a protocol violation.
var ErrNeedMoreData = errors.New("websocket: need more data")

// Framing errors.
var (
	ErrReservedBits      = newProtocolError(KindFraming, CloseProtocolError, "reserved bits set without a negotiated extension")
	ErrInvalidOpcode     = newProtocolError(KindFraming, CloseProtocolError, "invalid opcode")
	ErrFragmentedControl = newProtocolError(KindFraming, CloseProtocolError, "fragmented control frame")
	ErrControlTooLarge   = newProtocolError(KindFraming, CloseProtocolError, "control frame payload exceeds 125 bytes")
	ErrLengthOverflow    = newProtocolError(KindFraming, CloseProtocolError, "64-bit payload length has the most significant bit set")
	ErrUnmaskedFrame     = newProtocolError(KindFraming, CloseProtocolError, "unmasked frame received by acceptor")
	ErrMaskedFrame       = newProtocolError(KindFraming, CloseProtocolError, "masked frame received by initiator")
	ErrInvalidCloseFrame = newProtocolError(KindFraming, CloseProtocolError, "malformed close payload")
	ErrInvalidCloseCode  = newProtocolError(KindFraming, CloseProtocolError, "close code not allowed on the wire")
)

// Fragmentation errors.
var (
	ErrInterleavedData        = newProtocolError(KindFragmentation, CloseProtocolError, "fragmentation interleaving violation")
	ErrUnexpectedContinuation = newProtocolError(KindFragmentation, CloseProtocolError, "continuation frame without a message in progress")
)

// Encoding errors.
var (
	ErrInvalidUTF8      = newProtocolError(KindEncoding, CloseInvalidPayloadData, "invalid UTF-8 in text payload")
	ErrDecompressFailed = newProtocolError(KindEncoding, CloseInvalidPayloadData, "compressed payload could not be decoded")
)

// Size-limit errors.
var (
	ErrFrameTooBig   = newProtocolError(KindSizeLimit, CloseMessageTooBig, "frame payload exceeds configured limit")
	ErrMessageTooBig = newProtocolError(KindSizeLimit, CloseMessageTooBig, "message exceeds configured limit")
)

// Handshake errors.
var (
	ErrAcceptMismatch        = newProtocolError(KindHandshake, 0, "Sec-WebSocket-Accept does not match the key")
	ErrInvalidUpgradeHeaders = newProtocolError(KindHandshake, 0, "invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = newProtocolError(KindHandshake, 0, "missing or malformed Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = newProtocolError(KindHandshake, 0, "unsupported WebSocket version; only '13' is supported")
	ErrUnofferedExtension    = newProtocolError(KindHandshake, 0, "peer agreed to an extension that was not offered")
	ErrExtensionParams       = newProtocolError(KindHandshake, 0, "unsupported extension parameters")
	ErrBadHandshakeStatus    = newProtocolError(KindHandshake, 0, "unexpected handshake response status")
)

// Local usage errors. These never fail a connection by themselves.
var (
	ErrCloseSent          = errors.New("websocket: close frame already sent")
	ErrConnectionClosed   = errors.New("websocket: connection closed")
	ErrCloseReasonTooLong = fmt.Errorf("websocket: close reason longer than %d bytes", MaxCloseReasonLen)
	ErrInvalidMessageKind = errors.New("websocket: message kind must be text or binary")
)

// KindOf returns the protocol error kind carried by err, or KindNone.
func KindOf(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNone
}

// CloseCodeOf returns the close code a connection failed by err must send.
// Errors outside the protocol taxonomy map to 1011.
func CloseCodeOf(err error) CloseCode {
	var pe *ProtocolError
	if errors.As(err, &pe) && pe.Code != 0 {
		return pe.Code
	}
	return CloseInternalServerErr
}
