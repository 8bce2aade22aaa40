package chat

import "time"

// MessageLog is an ordered, deduplicated collection of messages. Entries
// are appended in arrival order and never re-sorted or removed; only
// receipt timestamps are patched. It is not safe for concurrent use: the
// Engine goroutine is its only writer.
type MessageLog struct {
	msgs  []Message
	index map[int64]int // message id -> position in msgs
}

// NewMessageLog returns an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{index: make(map[int64]int)}
}

// InsertIfAbsent appends m unless a message with the same id is already
// present. It reports whether an insertion happened.
func (l *MessageLog) InsertIfAbsent(m Message) bool {
	if _, ok := l.index[m.ID]; ok {
		return false
	}
	l.index[m.ID] = len(l.msgs)
	l.msgs = append(l.msgs, m.normalize().clone())
	return true
}

// PatchReceipt sets a receipt timestamp on message id if it is not set yet.
// Setting read also sets delivered, with the same timestamp, when delivered
// is still absent. It reports whether anything changed.
func (l *MessageLog) PatchReceipt(id int64, field ReceiptField, at time.Time) bool {
	pos, ok := l.index[id]
	if !ok {
		return false
	}
	m := &l.msgs[pos]
	changed := false
	if m.DeliveredAt == nil {
		t := at
		m.DeliveredAt = &t
		changed = true
	}
	if field == FieldRead && m.ReadAt == nil {
		t := at
		m.ReadAt = &t
		changed = true
	}
	return changed
}

// Get returns a copy of the message with the given id.
func (l *MessageLog) Get(id int64) (Message, bool) {
	pos, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.msgs[pos].clone(), true
}

// Len returns the number of distinct messages.
func (l *MessageLog) Len() int {
	return len(l.msgs)
}

// Messages returns a copy of every message in insertion order.
func (l *MessageLog) Messages() []Message {
	out := make([]Message, len(l.msgs))
	for i, m := range l.msgs {
		out[i] = m.clone()
	}
	return out
}
