// Package chat keeps one booking's passenger/driver conversation consistent
// across optimistic sends, realtime push delivery and REST receipt
// confirmation. All state is owned by an Engine event loop.
package chat

import (
	"time"
	"unicode/utf8"
)

// MaxBodyLength is the longest message body, in characters, that may be sent.
const MaxBodyLength = 1000

// Kind is the message content type.
type Kind string

// KindText is the only kind in use.
const KindText Kind = "text"

// Message is a chat message as delivered by the server. Only the receipt
// timestamps ever change after a message is first seen.
type Message struct {
	ID          int64      `json:"id"`
	AuthorID    int64      `json:"authorId"`
	Body        string     `json:"body"`
	Kind        Kind       `json:"kind,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	ReadAt      *time.Time `json:"readAt"`
}

// Status is the receipt state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Status derives the receipt state from the timestamps.
func (m Message) Status() Status {
	switch {
	case m.ReadAt != nil:
		return StatusSeen
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// normalize fills the kind and enforces read-implies-delivered.
func (m Message) normalize() Message {
	if m.Kind == "" {
		m.Kind = KindText
	}
	if m.ReadAt != nil && m.DeliveredAt == nil {
		at := *m.ReadAt
		m.DeliveredAt = &at
	}
	return m
}

// clone deep-copies the receipt pointers so callers cannot mutate log state.
func (m Message) clone() Message {
	if m.DeliveredAt != nil {
		at := *m.DeliveredAt
		m.DeliveredAt = &at
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		m.ReadAt = &at
	}
	return m
}

// ReceiptField names a receipt timestamp on a Message.
type ReceiptField int

const (
	FieldDelivered ReceiptField = iota
	FieldRead
)

func (f ReceiptField) String() string {
	switch f {
	case FieldDelivered:
		return "delivered"
	case FieldRead:
		return "read"
	default:
		return "unknown"
	}
}

// bodyLength counts characters, not bytes.
func bodyLength(s string) int {
	return utf8.RuneCountInString(s)
}
