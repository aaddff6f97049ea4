// File: protocol/utf8.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streaming UTF-8 validation over fragment boundaries.

package protocol

import "unicode/utf8"

// utf8Validator checks a byte stream delivered in arbitrary pieces. A code
// point split across pieces is held in pending until it completes.
type utf8Validator struct {
	pending [utf8.UTFMax]byte
	n       int
}

// Write validates p as the continuation of everything written so far. It
// returns false as soon as the stream can no longer become valid UTF-8.
func (v *utf8Validator) Write(p []byte) bool {
	if v.n > 0 {
		want := seqLen(v.pending[0])
		take := want - v.n
		if take > len(p) {
			take = len(p)
		}
		v.n += copy(v.pending[v.n:want], p[:take])
		p = p[take:]
		if v.n < want {
			return validPrefix(v.pending[:v.n])
		}
		if !utf8.Valid(v.pending[:want]) {
			return false
		}
		v.n = 0
	}

	// Look for a lead byte among the last three bytes whose sequence runs
	// past the end of p.
	for i := len(p) - 1; i >= 0 && i >= len(p)-(utf8.UTFMax-1); i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if l := seqLen(p[i]); l > 1 && l > len(p)-i {
			if !utf8.Valid(p[:i]) || !validPrefix(p[i:]) {
				return false
			}
			v.n = copy(v.pending[:], p[i:])
			return true
		}
		break
	}
	return utf8.Valid(p)
}

// Final reports whether the stream ended on a code point boundary.
func (v *utf8Validator) Final() bool { return v.n == 0 }

func (v *utf8Validator) Reset() { v.n = 0 }

// seqLen returns the encoded length announced by a lead byte, or 0 for bytes
// that can never start a sequence.
func seqLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b >= 0xC2 && b <= 0xDF:
		return 2
	case b >= 0xE0 && b <= 0xEF:
		return 3
	case b >= 0xF0 && b <= 0xF4:
		return 4
	}
	return 0
}

// validPrefix reports whether b, an incomplete multi-byte sequence, can
// still be completed into a valid code point. Second-byte ranges exclude
// overlong forms, surrogates and values above U+10FFFF.
func validPrefix(b []byte) bool {
	n := seqLen(b[0])
	if n < 2 || len(b) >= n {
		return false
	}
	lo, hi := byte(0x80), byte(0xBF)
	switch b[0] {
	case 0xE0:
		lo = 0xA0
	case 0xED:
		hi = 0x9F
	case 0xF0:
		lo = 0x90
	case 0xF4:
		hi = 0x8F
	}
	for _, c := range b[1:] {
		if c < lo || c > hi {
			return false
		}
		lo, hi = 0x80, 0xBF
	}
	return true
}
