package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrBootstrap marks a failed credential or history fetch. It is terminal
	// for the current bootstrap cycle.
	ErrBootstrap = errors.New("chat: could not load chat")

	// ErrJoinRejected means the server refused the join handshake. The
	// connection stays up for receiving but sending is disabled.
	ErrJoinRejected = errors.New("chat: could not join chat")

	ErrNotConnected   = errors.New("chat: not connected")
	ErrSendPending    = errors.New("chat: a message is already being sent")
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrMessageTooLong = fmt.Errorf("chat: message exceeds %d characters", MaxBodyLength)
	ErrSendRejected   = errors.New("chat: failed to send")
	ErrSendTimeout    = errors.New("chat: failed to send (no acknowledgement)")
	ErrNotReady       = errors.New("chat: conversation is not loaded")
	ErrEngineStopped  = errors.New("chat: engine stopped")
)

// BootstrapError records which bootstrap step failed.
type BootstrapError struct {
	Step string // "credential" or "history"
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("chat: could not load chat: %s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() []error { return []error{ErrBootstrap, e.Err} }
