package chat

import (
	"fmt"
)

// ConnState is the realtime connection state.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnConnected
	ConnError
	ConnDisconnected
)

var connStateNames = map[ConnState]string{
	ConnIdle:         "idle",
	ConnConnecting:   "connecting",
	ConnConnected:    "connected",
	ConnError:        "error",
	ConnDisconnected: "disconnected",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// MarshalText renders the state name in JSON.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionStatus is the externally visible connection state.
type ConnectionStatus struct {
	State ConnState `json:"state"`
	// Joined is true once the join handshake for the current connection
	// has been acknowledged.
	Joined bool `json:"joined"`
	// JoinRejected is true when the server refused the join handshake.
	JoinRejected bool `json:"joinRejected"`
	// ConnectFailed is true once the transport stopped retrying.
	ConnectFailed bool   `json:"connectFailed"`
	LastError     string `json:"lastError,omitempty"`
}

// ConnectionManager tracks connection and join state from transport frames.
// It never dials or retries by itself; it tells its owner when a connect or
// join handshake is needed.
type ConnectionManager struct {
	state        ConnState
	joined       bool
	joinRejected bool
	failed       bool
	lastErr      error
	hasCred      bool
	epoch        uint64 // bumped on every successful (re)connection
}

// NewConnectionManager returns a manager in the idle state.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{state: ConnIdle}
}

// SetCredential installs a fresh credential. needConnect is true when the
// transport must be (re)started: on first use, or after it gave up.
// needJoin is true when a live connection must re-run the join handshake
// with the new credential.
func (c *ConnectionManager) SetCredential() (needConnect, needJoin bool) {
	c.hasCred = true
	switch {
	case c.state == ConnIdle:
		c.state = ConnConnecting
		return true, false
	case c.failed:
		c.failed = false
		c.lastErr = nil
		c.state = ConnConnecting
		return true, false
	case c.state == ConnError:
		// A new credential clears the sticky error; the transport is still
		// retrying on its own.
		c.lastErr = nil
		c.state = ConnConnecting
		return false, false
	case c.state == ConnConnected:
		c.joined = false
		c.joinRejected = false
		c.epoch++
		return false, true
	}
	return false, false
}

// Handle applies a lifecycle frame and reports whether a join handshake
// should be started.
func (c *ConnectionManager) Handle(f Frame) (needJoin bool) {
	switch f.Kind {
	case FrameConnecting:
		// error stays sticky until a real connection or a new credential
		if c.state != ConnError {
			c.state = ConnConnecting
		}
	case FrameConnected:
		c.state = ConnConnected
		c.failed = false
		c.lastErr = nil
		c.joined = false
		c.joinRejected = false
		c.epoch++
		return c.hasCred
	case FrameDisconnected:
		c.state = ConnDisconnected
		c.joined = false
		c.lastErr = f.Err
	case FrameConnectError:
		c.state = ConnError
		c.joined = false
		c.lastErr = f.Err
	case FrameGaveUp:
		c.state = ConnError
		c.joined = false
		c.failed = true
		if f.Err != nil {
			c.lastErr = f.Err
		}
	}
	return false
}

// Epoch identifies the current connection for join results.
func (c *ConnectionManager) Epoch() uint64 {
	return c.epoch
}

// JoinResult records the outcome of a join handshake started at epoch. It
// reports false when the result is stale and was ignored.
func (c *ConnectionManager) JoinResult(epoch uint64, err error) bool {
	if epoch != c.epoch || c.state != ConnConnected {
		return false
	}
	if err != nil {
		c.joined = false
		c.joinRejected = true
		c.lastErr = err
		return true
	}
	c.joined = true
	c.joinRejected = false
	return true
}

// CanSend reports whether outbound messages are allowed. A rejected join is
// treated like no connection.
func (c *ConnectionManager) CanSend() bool {
	return c.state == ConnConnected && c.joined
}

// Status returns the externally visible state.
func (c *ConnectionManager) Status() ConnectionStatus {
	st := ConnectionStatus{
		State:         c.state,
		Joined:        c.joined,
		JoinRejected:  c.joinRejected,
		ConnectFailed: c.failed,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
