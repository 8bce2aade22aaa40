package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Responder answers a MockTransport request. Returning (nil, nil) means the
// request is never acknowledged and Request blocks until its context ends.
type Responder func(event string, payload json.RawMessage) (json.RawMessage, error)

// Sent is one emit or request recorded by MockTransport.
type Sent struct {
	Event   string
	Payload json.RawMessage
}

// MockTransport implements Transport for tests. Connect optionally reports
// an immediate successful connection; everything else is driven by the
// Simulate helpers.
type MockTransport struct {
	mu           sync.Mutex
	connectCalls int
	closed       bool
	autoConnect  bool
	frames       chan Frame
	emitted      []Sent
	requests     []Sent
	responder    Responder
	emitErr      error
}

// NewMockTransport creates a MockTransport that connects as soon as Connect
// is called and acknowledges every request with {"ok":true}.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		autoConnect: true,
		frames:      make(chan Frame, 256),
		responder: func(string, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	}
}

// SetAutoConnect controls whether Connect reports FrameConnected by itself.
func (m *MockTransport) SetAutoConnect(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoConnect = on
}

// SetResponder replaces the request responder.
func (m *MockTransport) SetResponder(r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

// SetEmitError makes every subsequent Emit fail with err.
func (m *MockTransport) SetEmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErr = err
}

// Connect records the call and, with auto-connect on, reports a connection.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock transport: already closed")
	}
	m.connectCalls++
	m.frames <- Frame{Kind: FrameConnecting}
	if m.autoConnect {
		m.frames <- Frame{Kind: FrameConnected}
	}
	return nil
}

// Listen returns the frame channel.
func (m *MockTransport) Listen(ctx context.Context) (<-chan Frame, error) {
	return m.frames, nil
}

// Emit records the event.
func (m *MockTransport) Emit(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted = append(m.emitted, Sent{Event: event, Payload: raw})
	return m.emitErr
}

// Request records the event and asks the responder for an acknowledgement.
func (m *MockTransport) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, Sent{Event: event, Payload: raw})
	responder := m.responder
	m.mu.Unlock()

	resp, err := responder(event, raw)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp, nil
}

// Close closes the frame channel.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.frames)
	return nil
}

// --- Test helpers ---

// SimulateFrame injects a lifecycle frame.
func (m *MockTransport) SimulateFrame(f Frame) {
	m.frames <- f
}

// SimulateEvent injects an inbound event with a JSON-encoded payload.
func (m *MockTransport) SimulateEvent(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("mock transport: marshal %s: %v", event, err))
	}
	m.frames <- Frame{Kind: FrameEvent, Event: event, Data: raw}
}

// ConnectCalls returns how many times Connect was called.
func (m *MockTransport) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Emitted returns the recorded emits for event, or all emits when event is "".
func (m *MockTransport) Emitted(event string) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterSent(m.emitted, event)
}

// Requests returns the recorded requests for event, or all when event is "".
func (m *MockTransport) Requests(event string) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterSent(m.requests, event)
}

func filterSent(all []Sent, event string) []Sent {
	var out []Sent
	for _, s := range all {
		if event == "" || s.Event == event {
			out = append(out, s)
		}
	}
	return out
}
