// Package highlevel provides a blocking WebSocket connection built on the protocol engine.
package highlevel

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-wsengine/protocol"
)

// Version of the hioload engine.
const Version = "1.1.0"

// Common error types
var (
	// ErrClosed is returned when attempting to read or write from a closed connection.
	ErrClosed = errors.New("websocket: closed")

	// ErrBadMessageType is returned for writes with a type other than text or binary.
	ErrBadMessageType = errors.New("websocket: bad message type")
)

// CloseError reports how a connection ended. Code is CloseAbnormalClosure
// when the transport went away without a close frame.
type CloseError struct {
	Code   protocol.CloseCode
	Reason string
	// Remote is true when the peer sent the close frame first.
	Remote bool
	// Err is the transport or protocol failure behind an abnormal close.
	Err error
}

func (e *CloseError) Error() string {
	msg := fmt.Sprintf("websocket: close %d (%s)", uint16(e.Code), e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CloseError) Unwrap() error { return e.Err }

// IsCloseError reports whether err is a CloseError with one of codes.
func IsCloseError(err error, codes ...protocol.CloseCode) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	for _, c := range codes {
		if ce.Code == c {
			return true
		}
	}
	return false
}
