// File: protocol/frame_reader.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental frame reader. The transport hands over chunks that have no
// relation to frame boundaries; the reader keeps an explicit state plus a few
// scratch fields and resumes exactly where the previous chunk ended.

package protocol

// ReadState is the position of a FrameReader inside the current frame.
type ReadState uint8

const (
	AwaitHeader ReadState = iota
	AwaitExtendedLength
	AwaitMaskKey
	AwaitPayload
)

func (s ReadState) String() string {
	switch s {
	case AwaitHeader:
		return "await_header"
	case AwaitExtendedLength:
		return "await_extended_length"
	case AwaitMaskKey:
		return "await_mask_key"
	case AwaitPayload:
		return "await_payload"
	}
	return "unknown"
}

// maxPrealloc caps the up-front payload allocation when no frame limit is
// configured. Larger payloads grow as their bytes arrive.
const maxPrealloc = 1 << 20

// FrameReaderConfig configures a FrameReader.
type FrameReaderConfig struct {
	// Role of the local endpoint. Acceptors require masked frames,
	// initiators reject them.
	Role Role
	// MaxFramePayload aborts a frame as soon as its declared length exceeds
	// this value. Zero disables the limit.
	MaxFramePayload int64
	// AllowedRsv lists the reserved bits claimed by negotiated extensions.
	AllowedRsv byte
}

// FrameReader turns an arbitrarily chunked byte stream into frames.
// It is not safe for concurrent use.
type FrameReader struct {
	cfg FrameReaderConfig

	state   ReadState
	scratch [8]byte // header, extended length or mask key bytes
	need    int     // bytes the current state needs
	got     int     // bytes the current state has collected
	hdr     Header
	payload []byte
	err     error
}

// NewFrameReader returns a reader positioned at the start of a frame.
func NewFrameReader(cfg FrameReaderConfig) *FrameReader {
	r := &FrameReader{cfg: cfg}
	r.reset()
	return r
}

// SetAllowedRsv updates the reserved bits accepted from now on.
func (r *FrameReader) SetAllowedRsv(bits byte) {
	r.cfg.AllowedRsv = bits & RsvMask
}

// State returns the current read state.
func (r *FrameReader) State() ReadState { return r.state }

// Pending returns the number of bytes retained for the current state.
func (r *FrameReader) Pending() int { return r.got }

// Err returns the sticky error that stopped the reader, if any.
func (r *FrameReader) Err() error { return r.err }

// Reset discards partial progress and any sticky error.
func (r *FrameReader) Reset() {
	r.err = nil
	r.reset()
}

// Next consumes bytes from p until one frame completes or p is exhausted.
// It returns the number of bytes consumed and, when ok is true, the decoded
// frame with its payload already unmasked. Bytes after a completed frame are
// left for the next call. Once an error is returned the reader stays failed.
func (r *FrameReader) Next(p []byte) (f Frame, n int, ok bool, err error) {
	if r.err != nil {
		return Frame{}, 0, false, r.err
	}
	for {
		switch r.state {
		case AwaitHeader:
			n += r.collect(p[n:])
			if r.got < r.need {
				return Frame{}, n, false, nil
			}
			h, ext, err := parseBaseHeader(r.scratch[0], r.scratch[1], r.cfg.AllowedRsv)
			if err != nil {
				return r.fail(err, n)
			}
			if err := r.checkMask(h); err != nil {
				return r.fail(err, n)
			}
			r.hdr = h
			if ext > 0 {
				r.enter(AwaitExtendedLength, ext)
				continue
			}
			if err := r.lengthKnown(); err != nil {
				return r.fail(err, n)
			}

		case AwaitExtendedLength:
			n += r.collect(p[n:])
			if r.got < r.need {
				return Frame{}, n, false, nil
			}
			length, err := parseExtendedLength(r.scratch[:r.need])
			if err != nil {
				return r.fail(err, n)
			}
			r.hdr.Length = length
			if err := r.lengthKnown(); err != nil {
				return r.fail(err, n)
			}

		case AwaitMaskKey:
			n += r.collect(p[n:])
			if r.got < r.need {
				return Frame{}, n, false, nil
			}
			copy(r.hdr.MaskKey[:], r.scratch[:4])
			r.enterPayload()

		case AwaitPayload:
			remaining := r.hdr.Length - int64(len(r.payload))
			chunk := p[n:]
			if int64(len(chunk)) > remaining {
				chunk = chunk[:remaining]
			}
			r.payload = append(r.payload, chunk...)
			n += len(chunk)
			if int64(len(r.payload)) < r.hdr.Length {
				r.got = len(r.payload)
				return Frame{}, n, false, nil
			}
			f = Frame{Header: r.hdr, Payload: r.payload}
			if f.Masked {
				Mask(f.MaskKey, 0, f.Payload)
			}
			r.reset()
			return f, n, true, nil
		}
	}
}

// collect copies up to need-got bytes of p into scratch.
func (r *FrameReader) collect(p []byte) int {
	c := copy(r.scratch[r.got:r.need], p)
	r.got += c
	return c
}

func (r *FrameReader) enter(s ReadState, need int) {
	r.state = s
	r.need = need
	r.got = 0
}

// lengthKnown runs once the payload length is final.
func (r *FrameReader) lengthKnown() error {
	if r.cfg.MaxFramePayload > 0 && r.hdr.Length > r.cfg.MaxFramePayload {
		return ErrFrameTooBig
	}
	if r.hdr.Masked {
		r.enter(AwaitMaskKey, 4)
		return nil
	}
	r.enterPayload()
	return nil
}

func (r *FrameReader) enterPayload() {
	r.enter(AwaitPayload, 0)
	if r.hdr.Length == 0 {
		r.payload = nil
		return
	}
	size := r.hdr.Length
	if r.cfg.MaxFramePayload <= 0 && size > maxPrealloc {
		size = maxPrealloc
	}
	r.payload = make([]byte, 0, size)
}

func (r *FrameReader) checkMask(h Header) error {
	if r.cfg.Role == RoleAcceptor && !h.Masked {
		return ErrUnmaskedFrame
	}
	if r.cfg.Role == RoleInitiator && h.Masked {
		return ErrMaskedFrame
	}
	return nil
}

func (r *FrameReader) fail(err error, n int) (Frame, int, bool, error) {
	r.err = err
	r.payload = nil
	return Frame{}, n, false, err
}

func (r *FrameReader) reset() {
	r.hdr = Header{}
	r.payload = nil
	r.enter(AwaitHeader, 2)
}
