// File: codec/deflate/deflate.go
// Package deflate provides the permessage-deflate message codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Codec implements api.MessageCodec for RFC 7692 without context takeover:
// every message is deflated with a fresh window, the trailing empty stored
// block is stripped on the way out and restored on the way in.

package deflate

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// DefaultLevel is used when NewCodec gets level 0.
const DefaultLevel = flate.BestSpeed

// tail closes a stripped message: the removed sync marker followed by a
// final empty stored block so the reader reports io.EOF.
var tail = []byte{0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff}

var (
	writerPools [flate.BestCompression - flate.HuffmanOnly + 1]sync.Pool
	readerPool  sync.Pool
)

// Codec compresses and decompresses whole messages.
type Codec struct {
	level int
}

// NewCodec exchanges a negotiated agreement for a codec. It fails when the
// agreement does not carry permessage-deflate.
func NewCodec(a protocol.Agreement, level int) (*Codec, error) {
	if _, ok := a.Deflate(); !ok {
		return nil, fmt.Errorf("deflate: %w: %s not agreed", api.ErrInvalidArgument, protocol.ExtPerMessageDeflate)
	}
	if level == 0 {
		level = DefaultLevel
	}
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("deflate: %w: level %d", api.ErrInvalidArgument, level)
	}
	return &Codec{level: level}, nil
}

// Level returns the compression level.
func (c *Codec) Level() int { return c.level }

// appendWriter is an io.Writer that grows a byte slice.
type appendWriter struct{ b []byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// Compress implements api.MessageCodec.
func (c *Codec) Compress(dst, src []byte) ([]byte, error) {
	out := &appendWriter{b: dst}
	start := len(dst)

	p := &writerPools[c.level-flate.HuffmanOnly]
	fw, _ := p.Get().(*flate.Writer)
	if fw == nil {
		var err error
		if fw, err = flate.NewWriter(out, c.level); err != nil {
			return dst, err
		}
	} else {
		fw.Reset(out)
	}
	defer p.Put(fw)

	if _, err := fw.Write(src); err != nil {
		return dst, err
	}
	if err := fw.Flush(); err != nil {
		return dst, err
	}
	b := out.b
	if n := len(b) - start; n < 4 || !bytes.Equal(b[len(b)-4:], tail[:4]) {
		return dst, fmt.Errorf("deflate: unexpected flush trailer")
	}
	return b[:len(b)-4], nil
}

// Decompress implements api.MessageCodec.
func (c *Codec) Decompress(dst, src []byte, limit int64) ([]byte, error) {
	in := io.MultiReader(bytes.NewReader(src), bytes.NewReader(tail))
	fr, _ := readerPool.Get().(io.ReadCloser)
	if fr == nil {
		fr = flate.NewReader(in)
	} else if err := fr.(flate.Resetter).Reset(in, nil); err != nil {
		return dst, err
	}
	defer func() {
		fr.Close()
		readerPool.Put(fr)
	}()

	var r io.Reader = fr
	if limit > 0 {
		r = io.LimitReader(fr, limit+1)
	}
	buf := bytes.NewBuffer(dst)
	n, err := buf.ReadFrom(r)
	if err != nil {
		return dst, fmt.Errorf("deflate: %w", err)
	}
	if limit > 0 && n > limit {
		return dst, fmt.Errorf("deflate: %w: message exceeds %d bytes", api.ErrResourceExhausted, limit)
	}
	return buf.Bytes(), nil
}

var _ api.MessageCodec = (*Codec)(nil)
