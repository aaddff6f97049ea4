// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame and header types shared by the codec, the incremental reader and the
// reassembler.

package protocol

import "fmt"

// Header is the fixed part of a frame as it appears on the wire.
type Header struct {
	Fin     bool   // FIN bit
	Rsv     byte   // RSV1-3 exactly as they sit in the first byte (Rsv1Bit etc.)
	Opcode  Opcode // Operation code
	Masked  bool   // Whether the payload is masked
	Length  int64  // Payload length
	MaskKey [4]byte
}

// Rsv1 reports whether the first reserved bit is set.
func (h Header) Rsv1() bool { return h.Rsv&Rsv1Bit != 0 }

// Size returns the number of bytes h occupies on the wire.
func (h Header) Size() int {
	return HeaderSize(h.Length, h.Masked)
}

func (h Header) String() string {
	return fmt.Sprintf("fin=%t rsv=%03b op=%s masked=%t len=%d", h.Fin, h.Rsv>>4, h.Opcode, h.Masked, h.Length)
}

// Frame is one decoded wire unit. Payload holds unmasked bytes; the frame
// owns it until it is handed to a Reassembler or a control handler.
type Frame struct {
	Header
	Payload []byte
}
