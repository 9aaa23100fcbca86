package websocket

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EventType names a connection lifecycle event
type EventType string

const (
	EventOpen    EventType = "open"
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventClose   EventType = "close"
)

// Close codes reported on close events
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	CloseAbnormalClosure = websocket.CloseAbnormalClosure
	CloseServiceRestart  = websocket.CloseServiceRestart
)

// Event is delivered to listeners and subscribers in arrival order
type Event struct {
	Type EventType
	Time time.Time

	// Message events
	Data        []byte
	MessageType int

	// Error events
	Err error

	// Close events
	Code     int
	Reason   string
	WasClean bool

	// Retry count of the connection attempt that produced the event
	Attempt int
}

// IsBinary reports whether a message event arrived as a binary frame
func (e Event) IsBinary() bool {
	return e.MessageType == websocket.BinaryMessage
}

// String renders the event on one line for diagnostic output
func (e Event) String() string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))

	switch e.Type {
	case EventMessage:
		kind := "text"
		if e.IsBinary() {
			kind = "binary"
		}
		fmt.Fprintf(&sb, " %s %dB", kind, len(e.Data))
	case EventError:
		if e.Err != nil {
			fmt.Fprintf(&sb, " %v", e.Err)
		}
	case EventClose:
		fmt.Fprintf(&sb, " code=%d clean=%t", e.Code, e.WasClean)
		if e.Reason != "" {
			fmt.Fprintf(&sb, " reason=%q", e.Reason)
		}
	}

	if e.Attempt > 0 {
		fmt.Fprintf(&sb, " attempt=%d", e.Attempt)
	}
	return sb.String()
}

// Listener receives events registered with AddEventListener
type Listener func(Event)

// ReadyState mirrors the WebSocket readyState values, plus a state for the
// wait between reconnection attempts.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
	StateReconnecting
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ReadyState(%d)", int32(s))
	}
}

// BinaryType selects how payloads are framed on the wire
type BinaryType string

const (
	// BinaryTypeText sends payloads as text frames
	BinaryTypeText BinaryType = "text"
	// BinaryTypeBinary sends payloads as raw binary frames
	BinaryTypeBinary BinaryType = "binary"
)

func (b BinaryType) frameType() int {
	if b == BinaryTypeBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
