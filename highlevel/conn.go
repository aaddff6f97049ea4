// File: highlevel/conn.go
// Package highlevel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn drives a protocol.Connection over a net.Conn. One goroutine reads
// the transport and feeds the engine, one goroutine drains the outbound
// queue. The engine mutex is held only around non-blocking engine calls.

package highlevel

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-wsengine/internal/logging"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Conn represents a WebSocket connection with automatic resource management.
type Conn struct {
	nc   net.Conn
	r    io.Reader
	opts Options

	mu          sync.Mutex
	engine      *protocol.Connection
	localClose  bool
	remoteClose bool

	out         *fifo // protocol.Outbound
	in          *fifo // protocol.Message
	outstanding atomic.Int64

	werrMu sync.Mutex
	werr   error

	closeErr   error
	readDone   chan struct{}
	writerDone chan struct{}
	aborted    chan struct{}
	abortOnce  sync.Once
}

// NewConn wraps nc, which has already completed the opening handshake.
// br holds bytes buffered during the handshake and may be nil.
func NewConn(nc net.Conn, br *bufio.Reader, role protocol.Role, agreement protocol.Agreement, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	if opts.ID == "" {
		prefix := "acc"
		if role == protocol.RoleInitiator {
			prefix = "ini"
		}
		opts.ID = nextID(prefix)
	}
	cfg, err := opts.engineConfig(role, agreement, opts.ID)
	if err != nil {
		return nil, err
	}
	engine, err := protocol.NewConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		nc:         nc,
		r:          nc,
		opts:       opts,
		engine:     engine,
		out:        newFIFO(),
		in:         newFIFO(),
		readDone:   make(chan struct{}),
		writerDone: make(chan struct{}),
		aborted:    make(chan struct{}),
	}
	if br != nil && br.Buffered() > 0 {
		c.r = br
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// ID returns the connection identifier used in logs and observers.
func (c *Conn) ID() string { return c.opts.ID }

// Role returns the local role.
func (c *Conn) Role() protocol.Role { return c.engine.Role() }

// Agreement returns the negotiated extensions.
func (c *Conn) Agreement() protocol.Agreement { return c.engine.Agreement() }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// State returns the close handshake state.
func (c *Conn) State() protocol.CloseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.State()
}

// Outstanding returns the encoded bytes queued but not yet written.
func (c *Conn) Outstanding() int64 { return c.outstanding.Load() }

// Done is closed once the connection has fully ended.
func (c *Conn) Done() <-chan struct{} { return c.readDone }

// Err returns how the connection ended, or nil while it is still running.
func (c *Conn) Err() error {
	select {
	case <-c.readDone:
		return c.closeErr
	default:
		return nil
	}
}

// Liveness reports the last ping sent, the last pong received and whether
// the last ping is still unanswered.
func (c *Conn) Liveness() (lastPing, lastPong time.Time, waiting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.LastPing(), c.engine.LastPong(), c.engine.PingOutstanding()
}

// ReadMessage returns the next complete message. After the connection ends
// it returns a *CloseError, which wraps the protocol error that failed the
// connection, if any.
func (c *Conn) ReadMessage(ctx context.Context) (MessageType, []byte, error) {
	for {
		v, ok, wait, closed := c.in.pop()
		if ok {
			m := v.(protocol.Message)
			return messageType(m.Kind), m.Payload, nil
		}
		if closed {
			return 0, nil, c.closeErr
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

// WriteMessage queues one message. It blocks while the outbound queue is
// above the high watermark, until the writer catches up or ctx ends.
func (c *Conn) WriteMessage(ctx context.Context, mt MessageType, data []byte, opts ...protocol.WriteOption) error {
	kind, ok := mt.kind()
	if !ok {
		return ErrBadMessageType
	}
	if err := c.waitWritable(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	frames, err := c.engine.EncodeMessage(kind, data, opts...)
	if err == nil {
		err = c.enqueue(frames...)
	}
	c.mu.Unlock()
	return closedErr(err)
}

// WriteText sends s as a text message.
func (c *Conn) WriteText(ctx context.Context, s string) error {
	return c.WriteMessage(ctx, TextMessage, []byte(s))
}

// Ping queues a ping and records it as the outstanding liveness probe.
func (c *Conn) Ping(payload []byte) error {
	c.mu.Lock()
	out, err := c.engine.EncodePing(payload)
	if err == nil {
		err = c.enqueue(out)
	}
	c.mu.Unlock()
	return closedErr(err)
}

// Close starts the close handshake and waits for it to finish. When the
// peer does not answer within CloseTimeout the transport is dropped.
func (c *Conn) Close(code protocol.CloseCode, reason string) error {
	info, err := protocol.NewCloseInfo(code, reason)
	if err != nil {
		return err
	}
	c.mu.Lock()
	out, err := c.engine.EncodeClose(info)
	if err == nil {
		if !c.remoteClose {
			c.localClose = true
		}
		err = c.enqueue(out)
	}
	c.mu.Unlock()
	if err != nil {
		return closedErr(err)
	}

	timer := time.NewTimer(c.opts.CloseTimeout)
	defer timer.Stop()
	select {
	case <-c.readDone:
	case <-timer.C:
		c.Abort()
		<-c.readDone
	}
	return nil
}

// Abort drops the transport without a close handshake.
func (c *Conn) Abort() {
	c.abortOnce.Do(func() {
		close(c.aborted)
		c.nc.Close()
	})
}

// SetReadDeadline sets the transport read deadline. Hitting it ends the
// connection abnormally.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

func (c *Conn) waitWritable(ctx context.Context) error {
	hw := int64(c.opts.WriteHighWatermark)
	for {
		wait := c.out.watch()
		if err := c.writeErr(); err != nil {
			return err
		}
		if hw <= 0 || c.outstanding.Load() < hw {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.readDone:
			return ErrClosed
		}
	}
}

// enqueue hands frames to the writer in order. Callers hold c.mu so frame
// order matches encode order.
func (c *Conn) enqueue(frames ...protocol.Outbound) error {
	for i := range frames {
		n := int64(frames[i].Len())
		c.outstanding.Add(n)
		if !c.out.push(frames[i]) {
			c.outstanding.Add(-n)
			for j := i; j < len(frames); j++ {
				frames[j].Release()
			}
			return ErrClosed
		}
	}
	return nil
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	var failed error
	for {
		v, ok, wait, closed := c.out.pop()
		if !ok {
			if closed {
				return
			}
			<-wait
			continue
		}
		frame := v.(protocol.Outbound)
		n := int64(frame.Len())
		if failed == nil {
			if failed = c.writeFrame(frame.Data); failed != nil {
				c.setWriteErr(failed)
				c.nc.Close()
			}
		}
		frame.Release()
		c.outstanding.Add(-n)
		c.out.signal()
	}
}

func (c *Conn) writeFrame(p []byte) error {
	if c.opts.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := c.nc.Write(p)
	return err
}

func (c *Conn) setWriteErr(err error) {
	c.werrMu.Lock()
	if c.werr == nil {
		c.werr = err
	}
	c.werrMu.Unlock()
}

func (c *Conn) writeErr() error {
	c.werrMu.Lock()
	defer c.werrMu.Unlock()
	return c.werr
}

func (c *Conn) readLoop() {
	buf := c.opts.Buffers.Get(c.opts.ReadBufferSize)
	defer c.opts.Buffers.Put(buf)
	for {
		n, err := c.r.Read(buf)
		if n > 0 && c.receive(buf[:n]) {
			c.finish(nil)
			return
		}
		if err != nil {
			c.finish(err)
			return
		}
	}
}

// receive feeds p to the engine and reports whether reading is over.
func (c *Conn) receive(p []byte) bool {
	c.mu.Lock()
	res, err := c.engine.Receive(p)
	for _, ev := range res.Events {
		if ev.Kind == protocol.EventClose && !c.localClose {
			c.remoteClose = true
		}
	}
	done := err != nil || c.engine.State() == protocol.StateClosed
	// A failed enqueue means the writer is gone and the frames were released.
	_ = c.enqueue(res.Replies...)
	c.mu.Unlock()

	for _, ev := range res.Events {
		if ev.Kind == protocol.EventPong && !ev.Matched {
			logging.Debug("unsolicited pong", zap.String("conn_id", c.ID()), zap.Int("payload", len(ev.Payload)))
		}
	}
	for _, m := range res.Messages {
		if !c.deliver(m) {
			return true
		}
	}
	return done
}

// deliver queues m for ReadMessage, waiting while the queue is full.
func (c *Conn) deliver(m protocol.Message) bool {
	for {
		wait := c.in.watch()
		if c.in.len() < c.opts.ReadQueueSize {
			return c.in.push(m)
		}
		select {
		case <-wait:
		case <-c.aborted:
			return false
		}
	}
}

// finish settles the final status, lets the writer flush pending replies
// and releases the transport.
func (c *Conn) finish(readErr error) {
	c.mu.Lock()
	if c.engine.State() != protocol.StateClosed {
		c.engine.TransportClosed()
	}
	c.closeErr = c.statusLocked(readErr)
	c.mu.Unlock()

	c.in.close()
	c.out.close()
	timer := time.NewTimer(c.opts.CloseTimeout)
	select {
	case <-c.writerDone:
	case <-timer.C:
	}
	timer.Stop()
	c.nc.Close()
	<-c.writerDone
	close(c.readDone)
}

func (c *Conn) statusLocked(readErr error) error {
	if err := c.engine.Err(); err != nil {
		return &CloseError{Code: protocol.CloseCodeOf(err), Err: err}
	}
	info, ok := c.engine.CloseStatus()
	if !ok {
		info = protocol.CloseInfo{Code: protocol.CloseAbnormalClosure}
	}
	ce := &CloseError{Code: info.Code, Reason: info.Reason, Remote: c.remoteClose}
	if info.Code == protocol.CloseAbnormalClosure {
		ce.Err = readErr
		if ce.Err == nil {
			ce.Err = io.ErrUnexpectedEOF
		}
	}
	return ce
}

func closedErr(err error) error {
	if errors.Is(err, protocol.ErrConnectionClosed) {
		return ErrClosed
	}
	return err
}
