// Package highlevel provides a blocking WebSocket connection built on the protocol engine.
package highlevel

import "github.com/momentics/hioload-wsengine/protocol"

// MessageType represents the type of a WebSocket message.
type MessageType int

const (
	// TextMessage denotes a text WebSocket message.
	TextMessage MessageType = 1
	// BinaryMessage denotes a binary WebSocket message.
	BinaryMessage MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	}
	return "unknown"
}

func (t MessageType) kind() (protocol.MessageKind, bool) {
	switch t {
	case TextMessage:
		return protocol.MessageText, true
	case BinaryMessage:
		return protocol.MessageBinary, true
	}
	return 0, false
}

func messageType(k protocol.MessageKind) MessageType {
	if k == protocol.MessageText {
		return TextMessage
	}
	return BinaryMessage
}
