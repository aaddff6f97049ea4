// File: protocol/reassembler.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message reassembly for data frames. Control frames never reach this type.

package protocol

import "fmt"

// MessageKind is the application-visible type of a message.
type MessageKind uint8

const (
	MessageText MessageKind = iota + 1
	MessageBinary
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	}
	return "invalid"
}

// Opcode returns the opcode that starts a message of this kind.
func (k MessageKind) Opcode() Opcode {
	if k == MessageText {
		return OpcodeText
	}
	return OpcodeBinary
}

func kindOf(op Opcode) MessageKind {
	if op == OpcodeText {
		return MessageText
	}
	return MessageBinary
}

// Message is a fully assembled application message.
type Message struct {
	Kind    MessageKind
	Payload []byte
	// Complete is always true for messages returned by Push.
	Complete bool
	// Compressed reports that the message arrived with RSV1 set. The
	// Reassembler returns such payloads still encoded and skips text
	// validation; Connection decodes and validates them before returning.
	Compressed bool
}

// Reassembler joins data frames into messages. At most one message is in
// progress at a time. It is not safe for concurrent use.
type Reassembler struct {
	// MaxMessageSize bounds the assembled payload. Zero disables the limit.
	MaxMessageSize int64

	active     bool
	kind       MessageKind
	compressed bool
	buf        []byte
	utf8       utf8Validator
}

// NewReassembler returns an idle reassembler.
func NewReassembler(maxMessageSize int64) *Reassembler {
	return &Reassembler{MaxMessageSize: maxMessageSize}
}

// InProgress reports whether a fragmented message has been started.
func (r *Reassembler) InProgress() bool { return r.active }

// Buffered returns the number of payload bytes held for the current message.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Reset drops any partially assembled message.
func (r *Reassembler) Reset() {
	r.active = false
	r.kind = 0
	r.compressed = false
	r.buf = nil
	r.utf8.Reset()
}

// Push adds one data frame. It returns the message when f completes one.
// The frame's payload is taken over and must not be reused by the caller.
func (r *Reassembler) Push(f Frame) (Message, bool, error) {
	switch f.Opcode {
	case OpcodeText, OpcodeBinary:
		if r.active {
			return r.fail(ErrInterleavedData)
		}
		r.active = true
		r.kind = kindOf(f.Opcode)
		r.compressed = f.Rsv1()
	case OpcodeContinuation:
		if !r.active {
			return r.fail(ErrUnexpectedContinuation)
		}
		if f.Rsv1() {
			return r.fail(ErrReservedBits)
		}
	default:
		return r.fail(fmt.Errorf("%w: %s is not a data opcode", ErrInvalidOpcode, f.Opcode))
	}

	if r.MaxMessageSize > 0 && int64(len(r.buf))+int64(len(f.Payload)) > r.MaxMessageSize {
		return r.fail(ErrMessageTooBig)
	}
	checkText := r.kind == MessageText && !r.compressed
	if checkText && !r.utf8.Write(f.Payload) {
		return r.fail(ErrInvalidUTF8)
	}

	if r.buf == nil {
		r.buf = f.Payload
	} else {
		r.buf = append(r.buf, f.Payload...)
	}
	if !f.Fin {
		return Message{}, false, nil
	}
	if checkText && !r.utf8.Final() {
		return r.fail(ErrInvalidUTF8)
	}

	msg := Message{Kind: r.kind, Payload: r.buf, Complete: true, Compressed: r.compressed}
	r.Reset()
	return msg, true, nil
}

func (r *Reassembler) fail(err error) (Message, bool, error) {
	r.Reset()
	return Message{}, false, err
}
