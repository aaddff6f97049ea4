// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

import "strconv"

// Opcode identifies the purpose of a frame.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl reports whether o is a control opcode (close, ping, pong).
func (o Opcode) IsControl() bool { return o&0x8 != 0 }

// IsData reports whether o starts or continues a data message.
func (o Opcode) IsData() bool { return o == OpcodeText || o == OpcodeBinary || o == OpcodeContinuation }

// Valid reports whether o is one of the six defined opcodes.
func (o Opcode) Valid() bool {
	switch o {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	}
	return false
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	}
	return "opcode(0x" + strconv.FormatUint(uint64(o), 16) + ")"
}

const (
	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxCloseReasonLen    = MaxControlPayloadLen - 2
	MaxFrameHeaderLen    = 14 // for extended payloads with masking

	// Bit masks, first header byte
	FinBit     = 0x80
	Rsv1Bit    = 0x40
	Rsv2Bit    = 0x20
	Rsv3Bit    = 0x10
	RsvMask    = Rsv1Bit | Rsv2Bit | Rsv3Bit
	OpcodeMask = 0x0F

	// Bit masks, second header byte
	MaskBit = 0x80
	LenMask = 0x7F

	len16Marker = 126
	len64Marker = 127
)

// CloseCode is the 16-bit status carried by a close frame.
type CloseCode uint16

const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusReceived   CloseCode = 1005 // internal only, never sent
	CloseAbnormalClosure    CloseCode = 1006 // internal only, never sent
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMandatoryExtension CloseCode = 1010
	CloseInternalServerErr  CloseCode = 1011
	CloseTLSHandshake       CloseCode = 1015 // internal only, never sent
)

// Sendable reports whether c may appear in a close frame on the wire.
func (c CloseCode) Sendable() bool {
	switch {
	case c >= 1000 && c <= 1003:
		return true
	case c >= 1007 && c <= 1011:
		return true
	case c >= 3000 && c <= 4999:
		return true
	}
	return false
}

func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseUnsupportedData:
		return "unsupported data"
	case CloseNoStatusReceived:
		return "no status received"
	case CloseAbnormalClosure:
		return "abnormal closure"
	case CloseInvalidPayloadData:
		return "invalid payload data"
	case ClosePolicyViolation:
		return "policy violation"
	case CloseMessageTooBig:
		return "message too big"
	case CloseMandatoryExtension:
		return "mandatory extension"
	case CloseInternalServerErr:
		return "internal error"
	case CloseTLSHandshake:
		return "tls handshake"
	}
	return strconv.Itoa(int(c))
}

// Role decides the masking direction of a connection.
type Role uint8

const (
	// RoleAcceptor is the server side: inbound frames must be masked,
	// outbound frames are never masked.
	RoleAcceptor Role = iota
	// RoleInitiator is the client side: every outbound frame is masked,
	// inbound frames must not be.
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "acceptor"
}
