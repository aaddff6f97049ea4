// File: protocol/frame_codec.go
// Package protocol implements the frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pure encode/decode helpers: no I/O and no buffering across calls. The
// incremental reader reuses the header parsing primitives defined here.

package protocol

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize returns the encoded header size for a payload of length n.
func HeaderSize(n int64, masked bool) int {
	size := 2
	switch {
	case n > 0xFFFF:
		size += 8
	case n >= len16Marker:
		size += 2
	}
	if masked {
		size += 4
	}
	return size
}

// AppendHeader appends the wire form of h to dst. h.Length selects the
// length class: literal below 126, 16-bit up to 65535, 64-bit otherwise.
func AppendHeader(dst []byte, h Header) []byte {
	b0 := byte(h.Opcode)&OpcodeMask | h.Rsv&RsvMask
	if h.Fin {
		b0 |= FinBit
	}
	var b1 byte
	if h.Masked {
		b1 = MaskBit
	}

	switch {
	case h.Length < len16Marker:
		dst = append(dst, b0, b1|byte(h.Length))
	case h.Length <= 0xFFFF:
		dst = append(dst, b0, b1|len16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(h.Length))
	default:
		dst = append(dst, b0, b1|len64Marker)
		dst = binary.BigEndian.AppendUint64(dst, uint64(h.Length))
	}

	if h.Masked {
		dst = append(dst, h.MaskKey[:]...)
	}
	return dst
}

// AppendFrame appends a complete frame carrying payload to dst. h.Length is
// taken from len(payload). When h.Masked is set the appended payload copy is
// masked with h.MaskKey; payload itself is never modified.
func AppendFrame(dst []byte, h Header, payload []byte) ([]byte, error) {
	h.Length = int64(len(payload))
	if err := validateOutbound(h); err != nil {
		return dst, err
	}
	dst = AppendHeader(dst, h)
	start := len(dst)
	dst = append(dst, payload...)
	if h.Masked {
		Mask(h.MaskKey, 0, dst[start:])
	}
	return dst, nil
}

// EncodeFrame serializes one frame into a freshly allocated slice. Output is
// deterministic for a given header and payload.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, HeaderSize(int64(len(payload)), h.Masked)+len(payload))
	return AppendFrame(buf, h, payload)
}

// DecodeHeader parses the header at the start of b. It returns the header and
// the number of bytes it occupies, or ErrNeedMoreData when b ends before the
// header does. Reserved bits outside allowedRsv are rejected.
func DecodeHeader(b []byte, allowedRsv byte) (Header, int, error) {
	if len(b) < 2 {
		return Header{}, 0, ErrNeedMoreData
	}
	h, ext, err := parseBaseHeader(b[0], b[1], allowedRsv)
	if err != nil {
		return Header{}, 0, err
	}
	n := 2
	if ext > 0 {
		if len(b) < n+ext {
			return Header{}, 0, ErrNeedMoreData
		}
		if h.Length, err = parseExtendedLength(b[n : n+ext]); err != nil {
			return Header{}, 0, err
		}
		n += ext
	}
	if h.Masked {
		if len(b) < n+4 {
			return Header{}, 0, ErrNeedMoreData
		}
		copy(h.MaskKey[:], b[n:n+4])
		n += 4
	}
	return h, n, nil
}

// parseBaseHeader validates the first two header bytes and reports how many
// extended length bytes follow (0, 2 or 8). For ext == 0 the returned header
// already carries the final length.
func parseBaseHeader(b0, b1, allowedRsv byte) (Header, int, error) {
	h := Header{
		Fin:    b0&FinBit != 0,
		Rsv:    b0 & RsvMask,
		Opcode: Opcode(b0 & OpcodeMask),
		Masked: b1&MaskBit != 0,
		Length: int64(b1 & LenMask),
	}

	if !h.Opcode.Valid() {
		return Header{}, 0, fmt.Errorf("%w: 0x%x", ErrInvalidOpcode, byte(h.Opcode))
	}
	if h.Rsv&^allowedRsv != 0 || (h.Rsv != 0 && h.Opcode.IsControl()) {
		return Header{}, 0, ErrReservedBits
	}
	if h.Opcode.IsControl() {
		if !h.Fin {
			return Header{}, 0, ErrFragmentedControl
		}
		if h.Length > MaxControlPayloadLen {
			return Header{}, 0, ErrControlTooLarge
		}
	}

	switch h.Length {
	case len16Marker:
		return h, 2, nil
	case len64Marker:
		return h, 8, nil
	}
	return h, 0, nil
}

// parseExtendedLength decodes a 2- or 8-byte big-endian length.
func parseExtendedLength(b []byte) (int64, error) {
	if len(b) == 2 {
		return int64(binary.BigEndian.Uint16(b)), nil
	}
	v := binary.BigEndian.Uint64(b)
	if v>>63 != 0 {
		return 0, ErrLengthOverflow
	}
	return int64(v), nil
}

// validateOutbound rejects frames a conforming peer would fail on.
func validateOutbound(h Header) error {
	if !h.Opcode.Valid() {
		return fmt.Errorf("%w: 0x%x", ErrInvalidOpcode, byte(h.Opcode))
	}
	if h.Rsv&^RsvMask != 0 {
		return ErrReservedBits
	}
	if h.Opcode.IsControl() {
		if !h.Fin {
			return ErrFragmentedControl
		}
		if h.Length > MaxControlPayloadLen {
			return ErrControlTooLarge
		}
	}
	return nil
}
