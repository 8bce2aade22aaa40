package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/zulandar/ridechat/internal/chat"
)

// viewSource is the part of the engine the terminal renderer reads.
type viewSource interface {
	Snapshot() chat.View
	Subscribe() (<-chan struct{}, func())
}

// lockedWriter serializes writes from the render loop and the input reader.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// renderer prints the difference between successive views as plain lines.
type renderer struct {
	w           io.Writer
	localUserID int64

	started   bool
	phase     chat.Phase
	conn      chat.ConnectionStatus
	statuses  map[int64]chat.Status
	sendError string
}

func newRenderer(w io.Writer, localUserID int64) *renderer {
	return &renderer{w: w, localUserID: localUserID, statuses: make(map[int64]chat.Status)}
}

func (r *renderer) render(v chat.View) {
	if !r.started || v.Phase != r.phase {
		r.renderPhase(v)
	}

	for _, m := range v.Messages {
		prev, seen := r.statuses[m.ID]
		status := m.Status()
		r.statuses[m.ID] = status
		switch {
		case !seen:
			fmt.Fprintln(r.w, formatMessage(m, r.localUserID))
		case prev != status && m.AuthorID == r.localUserID:
			fmt.Fprintf(r.w, "  · message #%d %s\n", m.ID, status)
		}
	}

	if !r.started || v.Connection != r.conn {
		r.renderConnection(v.Connection)
	}

	if v.SendError != "" && v.SendError != r.sendError {
		fmt.Fprintf(r.w, "! %s\n", printable(v.SendError))
	}
	r.sendError = v.SendError
	r.started = true
}

func (r *renderer) renderPhase(v chat.View) {
	r.phase = v.Phase
	switch v.Phase {
	case chat.PhaseLoading:
		fmt.Fprintf(r.w, "Loading chat for booking %d...\n", v.BookingID)
	case chat.PhaseReady:
		fmt.Fprintf(r.w, "Chat ready (%d messages)\n", len(v.Messages))
	case chat.PhaseFailed:
		fmt.Fprintf(r.w, "Could not load chat: %s (type /reload to retry)\n", printable(v.LoadError))
	}
}

func (r *renderer) renderConnection(c chat.ConnectionStatus) {
	prev := r.conn
	r.conn = c
	switch {
	case c.ConnectFailed && (!prev.ConnectFailed || !r.started):
		fmt.Fprintln(r.w, "[connection lost; type /reload to reconnect]")
	case c.JoinRejected && (!prev.JoinRejected || !r.started):
		fmt.Fprintln(r.w, "[could not join chat; receiving only]")
	case c.Joined && !prev.Joined:
		fmt.Fprintln(r.w, "[connected]")
	case c.State != prev.State && (c.State == chat.ConnDisconnected || c.State == chat.ConnError):
		fmt.Fprintf(r.w, "[%s; reconnecting]\n", c.State)
	}
}

// formatMessage renders one transcript line. Own messages carry their
// receipt status.
func formatMessage(m chat.Message, localUserID int64) string {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.AuthorID == localUserID {
		return fmt.Sprintf("[%s] you: %s (%s)", ts, printable(m.Body), m.Status())
	}
	return fmt.Sprintf("[%s] #%d: %s", ts, m.AuthorID, printable(m.Body))
}

// printable drops control and format runes (escape sequences, bidi
// overrides) from remote text and indents continuation lines.
func printable(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
	return strings.ReplaceAll(s, "\n", "\n    ")
}

// renderLoop redraws on every view change until ctx is cancelled.
func renderLoop(ctx context.Context, w io.Writer, src viewSource, localUserID int64) error {
	changed, unsubscribe := src.Subscribe()
	defer unsubscribe()

	r := newRenderer(w, localUserID)
	r.render(src.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			r.render(src.Snapshot())
		}
	}
}
