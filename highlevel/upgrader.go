// File: highlevel/upgrader.go
// Package highlevel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor side of the opening handshake on top of net/http.

package highlevel

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Upgrader turns HTTP requests into WebSocket connections.
type Upgrader struct {
	Options Options
	// CheckOrigin rejects cross-origin requests when it returns false.
	// Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// HandshakeError is returned by Upgrade when the request cannot be
// upgraded. The HTTP error response has already been written.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket upgrade: %d %s: %v", e.Status, http.StatusText(e.Status), e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Upgrade validates r, negotiates extensions, takes over the connection and
// answers with 101 Switching Protocols.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if r.Method != http.MethodGet {
		return nil, u.reject(w, http.StatusMethodNotAllowed, protocol.ErrInvalidUpgradeHeaders)
	}
	key, err := protocol.ValidateUpgradeRequest(r.Header)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, protocol.ErrBadWebSocketVersion) {
			status = http.StatusUpgradeRequired
		}
		return nil, u.reject(w, status, err)
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(r) {
		return nil, u.reject(w, http.StatusForbidden, errors.New("origin not allowed"))
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, u.reject(w, http.StatusInternalServerError, api.ErrNotSupported)
	}
	opts := u.Options
	agreement := protocol.Negotiator{EnableDeflate: opts.EnableCompression}.Negotiate(protocol.ParseExtensions(r.Header))

	nc, brw, err := hj.Hijack()
	if err != nil {
		return nil, api.WrapError(api.ErrCodeHandshake, "websocket upgrade: hijack", err)
	}
	if opts.HandshakeTimeout > 0 {
		nc.SetWriteDeadline(time.Now().Add(opts.HandshakeTimeout))
	}
	if err := protocol.WriteHandshakeResponse(nc, protocol.AcceptHeaders(key, agreement)); err != nil {
		nc.Close()
		return nil, api.WrapError(api.ErrCodeHandshake, "websocket upgrade: write response", err)
	}
	// Clear any deadline left by the HTTP server.
	nc.SetDeadline(time.Time{})

	conn, err := NewConn(nc, brw.Reader, protocol.RoleAcceptor, agreement, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return conn, nil
}

func (u *Upgrader) reject(w http.ResponseWriter, status int, err error) error {
	w.Header().Set(protocol.HeaderSecWebSocketVer, protocol.RequiredWebSocketVersion)
	http.Error(w, http.StatusText(status), status)
	return &HandshakeError{Status: status, Err: err}
}
