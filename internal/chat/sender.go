package chat

import (
	"strings"
	"time"
)

// DefaultSendTimeout bounds how long a send waits for its acknowledgement.
const DefaultSendTimeout = 10 * time.Second

// SendPhase is the state of the most recent send attempt.
type SendPhase int

const (
	SendIdle SendPhase = iota
	SendPending
	SendConfirmed
	SendRejected
)

func (p SendPhase) String() string {
	switch p {
	case SendIdle:
		return "idle"
	case SendPending:
		return "pending"
	case SendConfirmed:
		return "confirmed"
	case SendRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p SendPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PendingSend is an outbound message awaiting acknowledgement.
type PendingSend struct {
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// SendCoordinator owns the composer input and the single in-flight send.
// It never touches the MessageLog: accepted messages arrive through the
// inbound channel like any other.
type SendCoordinator struct {
	input   string
	pending *PendingSend
	phase   SendPhase
	lastErr error
	seq     uint64
}

// NewSendCoordinator returns an idle coordinator with empty input.
func NewSendCoordinator() *SendCoordinator {
	return &SendCoordinator{}
}

// SetInput replaces the composer text.
func (s *SendCoordinator) SetInput(text string) {
	s.input = text
}

// Input returns the composer text.
func (s *SendCoordinator) Input() string {
	return s.input
}

// CanSubmit reports whether Begin would accept the current input.
func (s *SendCoordinator) CanSubmit(connected bool) bool {
	return s.pending == nil && connected && validateBody(s.input) == nil
}

// Begin starts sending text. While a send is pending it is a no-op that
// returns ErrSendPending. Otherwise text becomes the input; if sending is
// not possible the input keeps it, else the input is cleared and the send
// becomes pending. The returned sequence number identifies the attempt.
func (s *SendCoordinator) Begin(text string, connected bool, now time.Time) (PendingSend, uint64, error) {
	if s.pending != nil {
		return PendingSend{}, 0, ErrSendPending
	}
	s.input = text
	if !connected {
		return PendingSend{}, 0, ErrNotConnected
	}
	if err := validateBody(text); err != nil {
		return PendingSend{}, 0, err
	}
	p := PendingSend{Text: text, SubmittedAt: now}
	s.seq++
	s.pending = &p
	s.input = ""
	s.phase = SendPending
	s.lastErr = nil
	return p, s.seq, nil
}

// Resolve finishes attempt seq. A nil err confirms it; anything else
// rejects it and restores the submitted text into the input verbatim.
// Results for any other attempt are ignored.
func (s *SendCoordinator) Resolve(seq uint64, err error) bool {
	if s.pending == nil || seq != s.seq {
		return false
	}
	if err == nil {
		s.phase = SendConfirmed
		s.pending = nil
		return true
	}
	s.input = s.pending.Text
	s.pending = nil
	s.phase = SendRejected
	s.lastErr = err
	return true
}

// Pending returns the in-flight send, if any.
func (s *SendCoordinator) Pending() *PendingSend {
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// Phase returns the state of the latest attempt.
func (s *SendCoordinator) Phase() SendPhase {
	return s.phase
}

// Err returns the error of the latest rejected attempt.
func (s *SendCoordinator) Err() error {
	return s.lastErr
}

// validateBody rejects blank and over-length text.
func validateBody(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if bodyLength(trimmed) > MaxBodyLength {
		return ErrMessageTooLong
	}
	return nil
}
