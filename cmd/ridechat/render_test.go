package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/ridechat/internal/chat"
)

const me = int64(7)

func msgAt(id, author int64, body string) chat.Message {
	return chat.Message{
		ID:        id,
		AuthorID:  author,
		Body:      body,
		Kind:      chat.KindText,
		CreatedAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
	}
}

func lines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// ---------------------------------------------------------------------------
// renderer
// ---------------------------------------------------------------------------

func TestRenderer_LoadingThenReady(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, me)

	r.render(chat.View{BookingID: 42, Phase: chat.PhaseLoading})
	if got := buf.String(); got != "Loading chat for booking 42...\n" {
		t.Fatalf("loading output = %q", got)
	}
	buf.Reset()

	ready := chat.View{
		BookingID:  42,
		Phase:      chat.PhaseReady,
		Messages:   []chat.Message{msgAt(1, 9, "hi"), msgAt(2, me, "coming")},
		Connection: chat.ConnectionStatus{State: chat.ConnConnected, Joined: true},
	}
	r.render(ready)

	got := lines(buf.String())
	if len(got) != 4 {
		t.Fatalf("ready output = %q, want 4 lines", got)
	}
	if got[0] != "Chat ready (2 messages)" {
		t.Errorf("line 0 = %q", got[0])
	}
	if !strings.HasSuffix(got[1], "#9: hi") {
		t.Errorf("line 1 = %q, want peer message", got[1])
	}
	if !strings.HasSuffix(got[2], "you: coming (sent)") {
		t.Errorf("line 2 = %q, want own message with status", got[2])
	}
	if got[3] != "[connected]" {
		t.Errorf("line 3 = %q, want [connected]", got[3])
	}

	buf.Reset()
	r.render(ready)
	if buf.Len() != 0 {
		t.Errorf("unchanged view produced output %q", buf.String())
	}
}

func TestRenderer_OwnStatusChanges(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, me)

	own := msgAt(2, me, "coming")
	peer := msgAt(3, 9, "ok")
	r.render(chat.View{Phase: chat.PhaseReady, Messages: []chat.Message{own, peer}})
	buf.Reset()

	at := own.CreatedAt.Add(time.Minute)
	own.DeliveredAt = &at
	peer.DeliveredAt = &at
	r.render(chat.View{Phase: chat.PhaseReady, Messages: []chat.Message{own, peer}})

	if got := buf.String(); got != "  · message #2 delivered\n" {
		t.Errorf("output = %q, want only the own status change", got)
	}
}

func TestRenderer_LoadFailure(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, me)
	r.render(chat.View{Phase: chat.PhaseFailed, LoadError: "chat: could not load chat: history: 500"})

	if !strings.Contains(buf.String(), "Could not load chat: chat: could not load chat: history: 500") {
		t.Errorf("output = %q", buf.String())
	}
	if !strings.Contains(buf.String(), "/reload") {
		t.Errorf("output = %q, want reload hint", buf.String())
	}
}

func TestRenderer_SendErrorShownOnce(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, me)
	v := chat.View{Phase: chat.PhaseReady}
	r.render(v)
	buf.Reset()

	v.SendError = "chat: failed to send"
	r.render(v)
	r.render(v)
	if got := buf.String(); got != "! chat: failed to send\n" {
		t.Errorf("output = %q, want a single error line", got)
	}
}

func TestRenderer_ConnectionChanges(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, me)
	v := chat.View{Phase: chat.PhaseReady, Connection: chat.ConnectionStatus{State: chat.ConnConnected, Joined: true}}
	r.render(v)
	buf.Reset()

	v.Connection = chat.ConnectionStatus{State: chat.ConnDisconnected}
	r.render(v)
	if got := buf.String(); got != "[disconnected; reconnecting]\n" {
		t.Errorf("disconnect output = %q", got)
	}
	buf.Reset()

	v.Connection = chat.ConnectionStatus{State: chat.ConnError, ConnectFailed: true, LastError: "dial"}
	r.render(v)
	if got := buf.String(); got != "[connection lost; type /reload to reconnect]\n" {
		t.Errorf("gave-up output = %q", got)
	}
	buf.Reset()

	v.Connection = chat.ConnectionStatus{State: chat.ConnConnected, JoinRejected: true}
	r.render(v)
	if got := buf.String(); got != "[could not join chat; receiving only]\n" {
		t.Errorf("join rejected output = %q", got)
	}
}

func TestFormatMessage(t *testing.T) {
	m := msgAt(5, 9, "hello")
	want := "[" + m.CreatedAt.Local().Format("15:04") + "] #9: hello"
	if got := formatMessage(m, me); got != want {
		t.Errorf("formatMessage = %q, want %q", got, want)
	}

	own := msgAt(6, me, "bye")
	read := own.CreatedAt
	own.ReadAt = &read
	if got := formatMessage(own, me); !strings.HasSuffix(got, "you: bye (seen)") {
		t.Errorf("formatMessage = %q, want seen suffix", got)
	}
}

func TestFormatMessage_StripsTerminalControl(t *testing.T) {
	m := msgAt(5, 9, "\x1b[2J\x1b]0;owned\x07hi\u202e\r\n[09:30] you: fake\tline")
	got := formatMessage(m, me)

	for _, bad := range []string{"\x1b", "\x07", "\r", "\u202e"} {
		if strings.Contains(got, bad) {
			t.Errorf("formatMessage = %q, still contains %q", got, bad)
		}
	}
	if !strings.HasSuffix(got, "#9: [2J]0;ownedhi\n    [09:30] you: fake\tline") {
		t.Errorf("formatMessage = %q", got)
	}
}

func TestRenderer_SendErrorStripped(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, me)
	r.render(chat.View{Phase: chat.PhaseReady, SendError: "chat: failed to send: \x1b[31mno"})
	if strings.Contains(buf.String(), "\x1b") {
		t.Errorf("output = %q, want escape removed", buf.String())
	}
}

// ---------------------------------------------------------------------------
// renderLoop
// ---------------------------------------------------------------------------

type fakeViews struct {
	mu      sync.Mutex
	view    chat.View
	changed chan struct{}
}

func (f *fakeViews) Snapshot() chat.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeViews) Subscribe() (<-chan struct{}, func()) {
	return f.changed, func() {}
}

func (f *fakeViews) set(v chat.View) {
	f.mu.Lock()
	f.view = v
	f.mu.Unlock()
	f.changed <- struct{}{}
}

func (l *lockedWriter) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.(*bytes.Buffer).String()
}

// waitOutput polls until w contains want.
func waitOutput(t *testing.T, w *lockedWriter, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(w.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output = %q, want it to contain %q", w.String(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRenderLoop(t *testing.T) {
	src := &fakeViews{view: chat.View{BookingID: 42, Phase: chat.PhaseLoading}, changed: make(chan struct{})}
	buf := &lockedWriter{w: new(bytes.Buffer)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- renderLoop(ctx, buf, src, me) }()

	// The initial snapshot must be rendered before the view changes.
	waitOutput(t, buf, "Loading chat for booking 42")

	src.set(chat.View{BookingID: 42, Phase: chat.PhaseReady})
	waitOutput(t, buf, "Chat ready (0 messages)")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("renderLoop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("renderLoop did not stop")
	}

	if strings.Count(buf.String(), "Loading chat") != 1 {
		t.Errorf("output = %q, want one loading line", buf.String())
	}
}
