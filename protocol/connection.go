// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection composes the frame reader, the reassembler and the close
// handler into one engine per WebSocket session. It performs no I/O: bytes
// go in through Receive, encoded frames come out as Outbound values, and the
// caller moves them over whatever transport it owns.

package protocol

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/pool"
)

// Config parameterizes a Connection.
type Config struct {
	Role Role

	// MaxFramePayload and MaxMessageSize bound inbound frames and assembled
	// messages. Zero disables a limit.
	MaxFramePayload int64
	MaxMessageSize  int64

	// FragmentSize splits outbound messages into frames carrying at most
	// this many payload bytes. Zero sends every message as one frame.
	FragmentSize int

	// Agreement is the negotiated extension token. When it carries
	// permessage-deflate, Codec must be set.
	Agreement Agreement
	Codec     api.MessageCodec
	// CompressThreshold is the smallest payload compressed by default.
	CompressThreshold int

	// ID names the connection towards observers.
	ID        string
	Observers *api.Observers

	// Buffers backs encoded frames. Nil uses pool.Default.
	Buffers *pool.BytePool
	// Rand supplies mask keys. Nil uses crypto/rand.
	Rand io.Reader
	// Now is the clock for liveness timestamps. Nil uses time.Now.
	Now func() time.Time
}

// EventKind identifies a control event reported by Receive.
type EventKind uint8

const (
	EventPing EventKind = iota + 1
	EventPong
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is a control frame the engine already acted upon.
type Event struct {
	Kind    EventKind
	Payload []byte
	// Close is the peer's status for EventClose.
	Close CloseInfo
	// Matched is false for a pong that answered no outstanding ping.
	Matched bool
}

// Outbound is one encoded frame ready for the transport.
type Outbound struct {
	Opcode Opcode
	Data   []byte

	buffers *pool.BytePool
}

// Len returns the encoded size of the frame in bytes.
func (o Outbound) Len() int { return len(o.Data) }

// Release hands Data back to its pool. Data must not be used afterwards.
func (o *Outbound) Release() {
	if o.buffers != nil && o.Data != nil {
		o.buffers.Put(o.Data)
	}
	o.Data = nil
}

// Result collects what one Receive call produced. Replies must be written
// in order before any frame the caller encodes later.
type Result struct {
	Messages []Message
	Events   []Event
	Replies  []Outbound
}

// WriteOption adjusts a single EncodeMessage call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	compress     *bool
	fragmentSize int
}

// WithCompression forces compression on or off for one message. It has no
// effect when no compression extension was agreed.
func WithCompression(on bool) WriteOption {
	return func(o *writeOptions) { o.compress = &on }
}

// WithFragmentSize overrides Config.FragmentSize for one message.
func WithFragmentSize(n int) WriteOption {
	return func(o *writeOptions) { o.fragmentSize = n }
}

// Connection is the protocol state of one WebSocket session.
// It must be driven by a single owner at a time.
type Connection struct {
	cfg    Config
	reader *FrameReader
	asm    *Reassembler
	ctl    *CloseHandler

	err            error
	remoteClosed   bool // the peer started the close handshake
	closedNotified bool
}

// NewConnection returns an OPEN connection for cfg.
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.Role != RoleAcceptor && cfg.Role != RoleInitiator {
		return nil, fmt.Errorf("protocol: %w: role %d", api.ErrInvalidArgument, cfg.Role)
	}
	if cfg.Agreement.Has(ExtPerMessageDeflate) && cfg.Codec == nil {
		return nil, fmt.Errorf("protocol: %w: %s agreed without a codec", api.ErrInvalidArgument, ExtPerMessageDeflate)
	}
	if cfg.FragmentSize < 0 || cfg.MaxFramePayload < 0 || cfg.MaxMessageSize < 0 {
		return nil, fmt.Errorf("protocol: %w: negative limit", api.ErrInvalidArgument)
	}
	if cfg.Buffers == nil {
		cfg.Buffers = pool.Default
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	c := &Connection{
		cfg: cfg,
		reader: NewFrameReader(FrameReaderConfig{
			Role:            cfg.Role,
			MaxFramePayload: cfg.MaxFramePayload,
			AllowedRsv:      cfg.Agreement.ReservedBits(),
		}),
		asm: NewReassembler(cfg.MaxMessageSize),
		ctl: NewCloseHandler(cfg.Now),
	}
	cfg.Observers.ConnOpened(cfg.ID)
	return c, nil
}

// Role returns the local role.
func (c *Connection) Role() Role { return c.cfg.Role }

// ID returns the observer identifier.
func (c *Connection) ID() string { return c.cfg.ID }

// Agreement returns the negotiated extensions.
func (c *Connection) Agreement() Agreement { return c.cfg.Agreement }

// State returns the close handshake state.
func (c *Connection) State() CloseState { return c.ctl.State() }

// ReadState returns the frame reader position.
func (c *Connection) ReadState() ReadState { return c.reader.State() }

// Err returns the fatal error that failed the connection, if any.
func (c *Connection) Err() error { return c.err }

// CloseStatus returns the peer's close status, or CloseAbnormalClosure once
// the transport was lost without one.
func (c *Connection) CloseStatus() (CloseInfo, bool) { return c.ctl.Status() }

// LastPong returns when the last pong arrived.
func (c *Connection) LastPong() time.Time { return c.ctl.LastPong() }

// LastPing returns when the last ping was encoded.
func (c *Connection) LastPing() time.Time { return c.ctl.LastPing() }

// PingOutstanding reports whether the last ping is still unanswered.
func (c *Connection) PingOutstanding() bool { return c.ctl.PingOutstanding() }

// Receive feeds transport bytes into the engine. Complete messages, control
// events and the frames that must be written in response are returned.
// Bytes received after the connection reached CLOSED are ignored.
//
// A fatal protocol error stops processing. The returned Result then carries
// a best-effort close frame with the matching status code and the error is
// returned (and kept in Err).
func (c *Connection) Receive(p []byte) (Result, error) {
	var res Result
	if c.err != nil {
		return res, c.err
	}
	for len(p) > 0 && c.ctl.State() != StateClosed {
		f, n, ok, err := c.reader.Next(p)
		p = p[n:]
		if err != nil {
			return c.fail(res, err)
		}
		if !ok {
			break
		}
		c.observeFrame(api.Inbound, f.Header, f.Size()+len(f.Payload))
		if err := c.dispatch(&res, f); err != nil {
			return c.fail(res, err)
		}
	}
	return res, nil
}

func (c *Connection) dispatch(res *Result, f Frame) error {
	switch f.Opcode {
	case OpcodePing:
		res.Events = append(res.Events, Event{Kind: EventPing, Payload: f.Payload})
		if pong, ok := c.ctl.ReceivePing(f.Payload); ok {
			out, err := c.encode(Header{Fin: true, Opcode: OpcodePong}, pong)
			if err != nil {
				return err
			}
			res.Replies = append(res.Replies, out)
		}
		return nil

	case OpcodePong:
		matched := c.ctl.ReceivePong(f.Payload)
		res.Events = append(res.Events, Event{Kind: EventPong, Payload: f.Payload, Matched: matched})
		return nil

	case OpcodeClose:
		info, err := ParseClosePayload(f.Payload)
		if err != nil {
			return err
		}
		wasOpen := c.ctl.State() == StateOpen
		res.Events = append(res.Events, Event{Kind: EventClose, Payload: f.Payload, Close: info})
		echo, reply := c.ctl.ReceiveClose(info)
		if reply {
			c.remoteClosed = wasOpen
			c.asm.Reset()
			out, err := c.encode(Header{Fin: true, Opcode: OpcodeClose}, echo.Payload())
			if err != nil {
				return err
			}
			if err := c.ctl.SendClose(echo); err != nil {
				return err
			}
			res.Replies = append(res.Replies, out)
		}
		c.noteClosed()
		return nil
	}

	msg, ok, err := c.asm.Push(f)
	if err != nil || !ok {
		return err
	}
	if msg, err = c.finishMessage(msg); err != nil {
		return err
	}
	res.Messages = append(res.Messages, msg)
	return nil
}

// finishMessage decodes compressed payloads and validates text that could
// not be checked frame by frame.
func (c *Connection) finishMessage(msg Message) (Message, error) {
	if msg.Compressed {
		if c.cfg.Codec == nil {
			return msg, ErrReservedBits
		}
		out, err := c.cfg.Codec.Decompress(nil, msg.Payload, c.cfg.MaxMessageSize)
		if err != nil {
			if errors.Is(err, api.ErrResourceExhausted) {
				return msg, ErrMessageTooBig
			}
			return msg, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		msg.Payload = out
		if msg.Kind == MessageText && !utf8.Valid(out) {
			return msg, ErrInvalidUTF8
		}
	}
	c.cfg.Observers.MessageObserved(c.cfg.ID, api.Inbound, msg.Kind == MessageText, len(msg.Payload))
	return msg, nil
}

// fail runs the fatal error path: record err, queue a close frame with the
// matching code when this side may still send one, and move to CLOSED.
func (c *Connection) fail(res Result, err error) (Result, error) {
	c.err = err
	c.cfg.Observers.ProtocolError(c.cfg.ID, KindOf(err).String())

	info := CloseInfo{Code: CloseCodeOf(err)}
	sent := false
	if st := c.ctl.State(); st == StateOpen || st == StateClosingReceived {
		if out, encErr := c.encode(Header{Fin: true, Opcode: OpcodeClose}, info.Payload()); encErr == nil {
			res.Replies = append(res.Replies, out)
			sent = true
		}
	}
	c.ctl.fail(info, sent)
	c.asm.Reset()
	c.noteClosed()
	return res, err
}

// EncodeMessage encodes payload as one message, split into frames according
// to the fragment size. Compression is applied when an extension was agreed
// and the payload reaches CompressThreshold, unless overridden by options.
func (c *Connection) EncodeMessage(kind MessageKind, payload []byte, opts ...WriteOption) ([]Outbound, error) {
	if kind != MessageText && kind != MessageBinary {
		return nil, ErrInvalidMessageKind
	}
	if err := c.canSend(); err != nil {
		return nil, err
	}
	if kind == MessageText && !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}

	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	fragment := c.cfg.FragmentSize
	if o.fragmentSize > 0 {
		fragment = o.fragmentSize
	}

	data := payload
	var rsv byte
	if c.shouldCompress(len(payload), o) {
		compressed, err := c.cfg.Codec.Compress(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: compress: %w", err)
		}
		data, rsv = compressed, Rsv1Bit
	}

	n := 1
	if fragment > 0 && len(data) > fragment {
		n = (len(data) + fragment - 1) / fragment
	}
	out := make([]Outbound, 0, n)
	for i, off := 0, 0; i < n; i++ {
		end := len(data)
		if n > 1 && off+fragment < end {
			end = off + fragment
		}
		h := Header{Fin: i == n-1, Opcode: OpcodeContinuation}
		if i == 0 {
			h.Opcode = kind.Opcode()
			h.Rsv = rsv
		}
		frame, err := c.encode(h, data[off:end])
		if err != nil {
			for j := range out {
				out[j].Release()
			}
			return nil, err
		}
		out = append(out, frame)
		off = end
	}
	c.cfg.Observers.MessageObserved(c.cfg.ID, api.Outbound, kind == MessageText, len(payload))
	return out, nil
}

func (c *Connection) shouldCompress(size int, o writeOptions) bool {
	if c.cfg.Codec == nil || !c.cfg.Agreement.Has(ExtPerMessageDeflate) {
		return false
	}
	if o.compress != nil {
		return *o.compress
	}
	return size >= c.cfg.CompressThreshold
}

// EncodePing encodes a ping and records it as the outstanding liveness
// probe.
func (c *Connection) EncodePing(payload []byte) (Outbound, error) {
	if err := c.canSend(); err != nil {
		return Outbound{}, err
	}
	out, err := c.encode(Header{Fin: true, Opcode: OpcodePing}, payload)
	if err != nil {
		return Outbound{}, err
	}
	c.ctl.PingSent(payload)
	return out, nil
}

// EncodePong encodes an unsolicited pong.
func (c *Connection) EncodePong(payload []byte) (Outbound, error) {
	if err := c.canSend(); err != nil {
		return Outbound{}, err
	}
	return c.encode(Header{Fin: true, Opcode: OpcodePong}, payload)
}

// EncodeClose starts (or completes) the close handshake with info.
func (c *Connection) EncodeClose(info CloseInfo) (Outbound, error) {
	if c.err != nil {
		return Outbound{}, ErrConnectionClosed
	}
	st := c.ctl.State()
	if st != StateOpen && st != StateClosingReceived {
		return Outbound{}, ErrCloseSent
	}
	out, err := c.encode(Header{Fin: true, Opcode: OpcodeClose}, info.Payload())
	if err != nil {
		return Outbound{}, err
	}
	if err := c.ctl.SendClose(info); err != nil {
		out.Release()
		return Outbound{}, err
	}
	c.noteClosed()
	return out, nil
}

// TransportClosed records that the byte stream is gone. A connection that
// never received a close frame ends with CloseAbnormalClosure.
func (c *Connection) TransportClosed() CloseInfo {
	info := c.ctl.Abort()
	c.asm.Reset()
	c.noteClosed()
	return info
}

func (c *Connection) canSend() error {
	if c.err != nil {
		return ErrConnectionClosed
	}
	switch c.ctl.State() {
	case StateClosingSent:
		return ErrCloseSent
	case StateClosed:
		return ErrConnectionClosed
	}
	return nil
}

// encode builds one frame, masking it for initiators with a fresh key.
func (c *Connection) encode(h Header, payload []byte) (Outbound, error) {
	if c.cfg.Role == RoleInitiator {
		h.Masked = true
		if _, err := io.ReadFull(c.cfg.Rand, h.MaskKey[:]); err != nil {
			return Outbound{}, fmt.Errorf("protocol: mask key: %w", err)
		}
	}
	h.Length = int64(len(payload))
	size := HeaderSize(h.Length, h.Masked) + len(payload)
	buf, err := AppendFrame(c.cfg.Buffers.Get(size)[:0], h, payload)
	if err != nil {
		c.cfg.Buffers.Put(buf)
		return Outbound{}, err
	}
	c.observeFrame(api.Outbound, h, len(buf))
	return Outbound{Opcode: h.Opcode, Data: buf, buffers: c.cfg.Buffers}, nil
}

func (c *Connection) observeFrame(dir api.Direction, h Header, encoded int) {
	if c.cfg.Observers == nil {
		return
	}
	c.cfg.Observers.ObserveFrame(api.FrameInfo{
		ConnID:  c.cfg.ID,
		Dir:     dir,
		Opcode:  byte(h.Opcode),
		Fin:     h.Fin,
		Rsv:     h.Rsv,
		Masked:  h.Masked,
		Length:  h.Length,
		Encoded: encoded,
	})
}

func (c *Connection) noteClosed() {
	if c.closedNotified || c.ctl.State() != StateClosed {
		return
	}
	c.closedNotified = true
	code := CloseAbnormalClosure
	if st, ok := c.ctl.Status(); ok {
		code = st.Code
	}
	c.cfg.Observers.ConnClosed(c.cfg.ID, uint16(code), c.remoteClosed)
}
