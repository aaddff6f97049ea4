// File: api/observer.go
// Package api defines observation hooks for connection lifecycle and frames.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Direction tells whether a frame or message was read or written.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// FrameInfo is the observable part of a wire frame. Payload bytes are not
// exposed; observers see headers only.
type FrameInfo struct {
	ConnID  string
	Dir     Direction
	Opcode  byte
	Fin     bool
	Rsv     byte
	Masked  bool
	Length  int64
	Encoded int // total bytes on the wire including header
}

// FrameObserver receives one call per frame crossing a connection.
// Implementations must not block.
type FrameObserver interface {
	ObserveFrame(info FrameInfo)
}

// ConnObserver receives connection lifecycle notifications.
type ConnObserver interface {
	ConnOpened(connID string)
	MessageObserved(connID string, dir Direction, text bool, size int)
	ProtocolError(connID string, kind string)
	ConnClosed(connID string, code uint16, remote bool)
}

// Observers fans calls out to every member; nil members are skipped.
type Observers struct {
	Frames []FrameObserver
	Conns  []ConnObserver
}

// ObserveFrame implements FrameObserver.
func (o *Observers) ObserveFrame(info FrameInfo) {
	if o == nil {
		return
	}
	for _, f := range o.Frames {
		if f != nil {
			f.ObserveFrame(info)
		}
	}
}

// ConnOpened implements ConnObserver.
func (o *Observers) ConnOpened(connID string) {
	if o == nil {
		return
	}
	for _, c := range o.Conns {
		if c != nil {
			c.ConnOpened(connID)
		}
	}
}

// MessageObserved implements ConnObserver.
func (o *Observers) MessageObserved(connID string, dir Direction, text bool, size int) {
	if o == nil {
		return
	}
	for _, c := range o.Conns {
		if c != nil {
			c.MessageObserved(connID, dir, text, size)
		}
	}
}

// ProtocolError implements ConnObserver.
func (o *Observers) ProtocolError(connID string, kind string) {
	if o == nil {
		return
	}
	for _, c := range o.Conns {
		if c != nil {
			c.ProtocolError(connID, kind)
		}
	}
}

// ConnClosed implements ConnObserver.
func (o *Observers) ConnClosed(connID string, code uint16, remote bool) {
	if o == nil {
		return
	}
	for _, c := range o.Conns {
		if c != nil {
			c.ConnClosed(connID, code, remote)
		}
	}
}
