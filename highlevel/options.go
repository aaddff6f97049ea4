// File: highlevel/options.go
// Package highlevel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package highlevel

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/codec/deflate"
	"github.com/momentics/hioload-wsengine/pool"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Options configures a Conn and its handshake.
type Options struct {
	// MaxFramePayload and MaxMessageSize bound inbound data. Zero disables
	// a limit.
	MaxFramePayload int64
	MaxMessageSize  int64
	// ReadBufferSize is the chunk handed to each transport read.
	ReadBufferSize int
	// FragmentSize splits outbound messages. Zero sends single frames.
	FragmentSize int
	// WriteHighWatermark blocks writers while this many encoded bytes are
	// queued but not yet written. Zero disables backpressure.
	WriteHighWatermark int
	// ReadQueueSize is the number of assembled messages held for
	// ReadMessage before the read loop stops pulling from the transport.
	ReadQueueSize int

	EnableCompression bool
	CompressionLevel  int
	CompressThreshold int

	HandshakeTimeout time.Duration
	// WriteTimeout bounds each transport write. Zero means no deadline.
	WriteTimeout time.Duration
	// CloseTimeout bounds the wait for the peer's close frame.
	CloseTimeout time.Duration

	// ID names the connection. Empty generates one.
	ID        string
	Observers *api.Observers
	Buffers   *pool.BytePool

	// Header adds request headers to Dial.
	Header http.Header
	// NetDial replaces the default dialer.
	NetDial   func(ctx context.Context, network, addr string) (net.Conn, error)
	TLSConfig *tls.Config
}

// DefaultOptions returns default connection configuration.
func DefaultOptions() Options {
	return Options{
		MaxFramePayload:    1 << 20,
		MaxMessageSize:     16 << 20,
		ReadBufferSize:     4096,
		WriteHighWatermark: 1 << 20,
		ReadQueueSize:      16,
		CompressionLevel:   deflate.DefaultLevel,
		CompressThreshold:  512,
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       10 * time.Second,
		CloseTimeout:       5 * time.Second,
	}
}

var connSeq atomic.Uint64

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.ReadQueueSize <= 0 {
		o.ReadQueueSize = d.ReadQueueSize
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = d.CloseTimeout
	}
	if o.Buffers == nil {
		o.Buffers = pool.Default
	}
	return o
}

// engineConfig builds the protocol configuration for role and agreement.
func (o Options) engineConfig(role protocol.Role, a protocol.Agreement, id string) (protocol.Config, error) {
	cfg := protocol.Config{
		Role:              role,
		MaxFramePayload:   o.MaxFramePayload,
		MaxMessageSize:    o.MaxMessageSize,
		FragmentSize:      o.FragmentSize,
		Agreement:         a,
		CompressThreshold: o.CompressThreshold,
		ID:                id,
		Observers:         o.Observers,
		Buffers:           o.Buffers,
	}
	if a.Has(protocol.ExtPerMessageDeflate) {
		codec, err := deflate.NewCodec(a, o.CompressionLevel)
		if err != nil {
			return cfg, err
		}
		cfg.Codec = codec
	}
	return cfg, nil
}

func nextID(prefix string) string {
	return prefix + "-" + strconv.FormatUint(connSeq.Add(1), 10)
}
