// File: protocol/mask.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The masking transform. Masking and unmasking are the same XOR, so both
// directions share this one function.

package protocol

import "encoding/binary"

// Mask XORs b in place with key, treating b[0] as payload byte number pos.
// It returns the key position for the byte following b, so a payload that
// arrives in pieces can be processed piecewise with the same result.
func Mask(key [4]byte, pos int, b []byte) int {
	pos &= 3
	if len(b) >= 16 {
		var wide [8]byte
		for i := range wide {
			wide[i] = key[(pos+i)&3]
		}
		k := binary.LittleEndian.Uint64(wide[:])
		for len(b) >= 8 {
			binary.LittleEndian.PutUint64(b, binary.LittleEndian.Uint64(b)^k)
			b = b[8:]
		}
	}
	for i := range b {
		b[i] ^= key[(pos+i)&3]
	}
	return (pos + len(b)) & 3
}
