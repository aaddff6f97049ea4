// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Session is the registry record of one connection.

package session

import (
	"sync"
	"time"

	"github.com/momentics/hioload-wsengine/protocol"
)

// Peer is the connection side a Session controls.
type Peer interface {
	ID() string
	// Close starts the close handshake with code and reason.
	Close(code protocol.CloseCode, reason string) error
}

// Session tracks one registered peer.
type Session struct {
	peer    Peer
	remote  string
	started time.Time
	done    chan struct{}
	once    sync.Once
}

// Info is a point-in-time description of a Session.
type Info struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	Started time.Time `json:"started"`
}

func newSession(p Peer, remote string, now time.Time) *Session {
	return &Session{
		peer:    p,
		remote:  remote,
		started: now,
		done:    make(chan struct{}),
	}
}

// ID returns the peer identifier.
func (s *Session) ID() string { return s.peer.ID() }

// Peer returns the registered connection.
func (s *Session) Peer() Peer { return s.peer }

// Remote returns the peer address recorded at registration.
func (s *Session) Remote() string { return s.remote }

// Started returns the registration time.
func (s *Session) Started() time.Time { return s.started }

// Done is closed once the session leaves the registry.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info snapshots the session.
func (s *Session) Info() Info {
	return Info{ID: s.ID(), Remote: s.remote, Started: s.started}
}

func (s *Session) cancel() {
	s.once.Do(func() { close(s.done) })
}
