// File: protocol/control.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control frame handling: the close handshake state machine and the liveness
// bookkeeping behind ping/pong. Liveness policy (when to ping, when to give
// up) belongs to the caller; this type only records what happened.

package protocol

import (
	"bytes"
	"time"
)

// CloseState tracks the close handshake.
type CloseState uint8

const (
	StateOpen CloseState = iota
	StateClosingSent
	StateClosingReceived
	StateClosed
)

func (s CloseState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosingSent:
		return "closing_sent"
	case StateClosingReceived:
		return "closing_received"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// CloseHandler drives the close handshake and liveness state of one
// connection. It is not safe for concurrent use.
type CloseHandler struct {
	state  CloseState
	sent   *CloseInfo
	status *CloseInfo // what the peer reported, or the synthetic abnormal close

	pingOutstanding bool
	pingPayload     []byte
	lastPing        time.Time
	lastPong        time.Time

	now func() time.Time
}

// NewCloseHandler returns a handler in StateOpen. A nil clock uses time.Now.
func NewCloseHandler(now func() time.Time) *CloseHandler {
	if now == nil {
		now = time.Now
	}
	return &CloseHandler{now: now}
}

// State returns the current close state.
func (h *CloseHandler) State() CloseState { return h.state }

// Sent returns the close status this side sent, if any.
func (h *CloseHandler) Sent() (CloseInfo, bool) {
	if h.sent == nil {
		return CloseInfo{}, false
	}
	return *h.sent, true
}

// Status returns the close status of the connection as seen from the peer:
// the code it sent, or CloseAbnormalClosure after Abort.
func (h *CloseHandler) Status() (CloseInfo, bool) {
	if h.status == nil {
		return CloseInfo{}, false
	}
	return *h.status, true
}

// SendClose records that a close frame carrying info is being written.
// OPEN moves to CLOSING_SENT, CLOSING_RECEIVED completes the handshake.
func (h *CloseHandler) SendClose(info CloseInfo) error {
	switch h.state {
	case StateOpen:
		h.state = StateClosingSent
	case StateClosingReceived:
		h.state = StateClosed
	default:
		return ErrCloseSent
	}
	h.sent = &info
	return nil
}

// ReceiveClose records a close frame from the peer. When the handshake was
// started by the peer it returns the echo that must be sent back: the same
// code, or 1000 when the peer supplied none. Closes arriving after this side
// already received one are ignored.
func (h *CloseHandler) ReceiveClose(info CloseInfo) (echo CloseInfo, reply bool) {
	switch h.state {
	case StateOpen:
		h.status = &info
		h.state = StateClosingReceived
		code := info.Code
		if code == CloseNoStatusReceived || !code.Sendable() {
			code = CloseNormalClosure
		}
		return CloseInfo{Code: code}, true
	case StateClosingSent:
		h.status = &info
		h.state = StateClosed
	}
	return CloseInfo{}, false
}

// ReceivePing returns the pong payload for a ping: an identical copy. No
// pong is produced once this side has sent its close frame.
func (h *CloseHandler) ReceivePing(payload []byte) ([]byte, bool) {
	if h.state == StateClosingSent || h.state == StateClosed {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}

// ReceivePong clears an outstanding ping and records the time. matched is
// false for an unsolicited pong or one whose payload differs from the last
// ping; that is worth logging but never an error.
func (h *CloseHandler) ReceivePong(payload []byte) (matched bool) {
	if h.state == StateClosed {
		return false
	}
	matched = h.pingOutstanding && bytes.Equal(payload, h.pingPayload)
	h.pingOutstanding = false
	h.pingPayload = nil
	h.lastPong = h.now()
	return matched
}

// PingSent records that a ping carrying payload was written.
func (h *CloseHandler) PingSent(payload []byte) {
	h.pingOutstanding = true
	h.pingPayload = append(h.pingPayload[:0], payload...)
	h.lastPing = h.now()
}

// PingOutstanding reports whether a ping is still waiting for its pong.
func (h *CloseHandler) PingOutstanding() bool { return h.pingOutstanding }

// LastPing returns when the most recent ping was sent.
func (h *CloseHandler) LastPing() time.Time { return h.lastPing }

// LastPong returns when the most recent pong was observed.
func (h *CloseHandler) LastPong() time.Time { return h.lastPong }

// Abort handles loss of the transport. A connection that never received a
// close frame is recorded as closed with CloseAbnormalClosure.
func (h *CloseHandler) Abort() CloseInfo {
	if h.status == nil {
		h.status = &CloseInfo{Code: CloseAbnormalClosure}
	}
	h.state = StateClosed
	return *h.status
}

// fail moves straight to CLOSED after a fatal protocol error. info is the
// close this side sent on the way out, if one could be sent.
func (h *CloseHandler) fail(info CloseInfo, sent bool) {
	if sent {
		h.sent = &info
	}
	if h.status == nil {
		h.status = &CloseInfo{Code: CloseAbnormalClosure}
	}
	h.state = StateClosed
}
