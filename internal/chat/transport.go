package chat

import (
	"context"
	"encoding/json"
	"time"
)

// Realtime event names.
const (
	EventJoinBooking   = "join_booking"
	EventMessage       = "message"
	EventMarkDelivered = "mark_delivered"
	EventMarkRead      = "mark_read"
)

// Transport is the realtime channel the engine talks through. Implementations
// own reconnection: after Connect they keep redialing on their own and
// report every lifecycle change as a Frame.
type Transport interface {
	// Connect starts the connection. Progress and failures are reported
	// through the Listen channel rather than the return value, which only
	// covers misuse (for example connecting a closed transport).
	Connect(ctx context.Context) error

	// Listen returns the channel of lifecycle and inbound event frames. The
	// channel is closed when the transport is closed.
	Listen(ctx context.Context) (<-chan Frame, error)

	// Emit sends a named event without waiting for acknowledgement.
	Emit(ctx context.Context, event string, payload any) error

	// Request sends a named event and blocks until the peer acknowledges it
	// or ctx is done. The acknowledgement payload is returned raw.
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)

	// Close shuts the transport down and stops reconnection.
	Close() error
}

// FrameKind classifies a Frame.
type FrameKind int

const (
	// FrameEvent carries a named inbound event.
	FrameEvent FrameKind = iota
	// FrameConnecting reports a (re)connection attempt in progress.
	FrameConnecting
	// FrameConnected reports a successful (re)connection.
	FrameConnected
	// FrameDisconnected reports loss of an established connection.
	FrameDisconnected
	// FrameConnectError reports a failed connection attempt; the transport
	// keeps retrying.
	FrameConnectError
	// FrameGaveUp reports that the transport stopped retrying.
	FrameGaveUp
)

func (k FrameKind) String() string {
	switch k {
	case FrameEvent:
		return "event"
	case FrameConnecting:
		return "connecting"
	case FrameConnected:
		return "connected"
	case FrameDisconnected:
		return "disconnected"
	case FrameConnectError:
		return "connect_error"
	case FrameGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Frame is one item from Transport.Listen.
type Frame struct {
	Kind  FrameKind
	Event string          // set for FrameEvent
	Data  json.RawMessage // set for FrameEvent
	Err   error           // set for FrameConnectError, FrameDisconnected, FrameGaveUp
}

// ack is the acknowledgement payload for join_booking and message.
type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type joinPayload struct {
	BookingID int64  `json:"bookingId"`
	Token     string `json:"token"`
}

type sendPayload struct {
	BookingID int64  `json:"bookingId"`
	Text      string `json:"text"`
	Token     string `json:"token"`
}

type receiptPayload struct {
	BookingID  int64   `json:"bookingId"`
	MessageIDs []int64 `json:"message_ids"`
	Token      string  `json:"token"`
}

// inboundReceipt is the payload of inbound mark_delivered / mark_read. At is
// optional; the local clock is used when the server omits it.
type inboundReceipt struct {
	MessageIDs []int64    `json:"message_ids"`
	At         *time.Time `json:"at,omitempty"`
}
