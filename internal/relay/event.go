package relay

import "net"

type eventKind int

const (
	// eventNewConnection: an accepted stream awaiting registration.
	eventNewConnection eventKind = iota
	// eventNewMessage: a registered connection produced a line.
	eventNewMessage
	// eventDisconnected: a registered connection's read side ended.
	eventDisconnected
)

// String returns the string representation of eventKind.
func (k eventKind) String() string {
	switch k {
	case eventNewConnection:
		return "new_connection"
	case eventNewMessage:
		return "new_message"
	case eventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// event is the single unit of work the loop consumes per iteration. The
// accept path and every connection reader feed events into one channel;
// receiving from it is the race between the listener and all open
// connections.
type event struct {
	kind eventKind
	id   uint16

	// stream carries the accepted, not yet registered stream for
	// eventNewConnection.
	stream net.Conn

	// conn identifies the exact connection behind eventNewMessage and
	// eventDisconnected, so an identifier the kernel reissued to a newer
	// connection is never confused with the one that produced the event.
	conn *connection

	// text is the message payload for eventNewMessage.
	text string
}
