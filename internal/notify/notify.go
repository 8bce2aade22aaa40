// Package notify raises desktop notifications for incoming chat messages.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/logger"
)

const defaultTimeout = 5 * time.Second

// bodyEnv carries the message body to the notify command.
const bodyEnv = "RIDECHAT_BODY"

// runFunc executes a program and returns its combined output.
type runFunc func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Notifier is a chat.Observer that runs a shell command for every live
// message written by the peer. History and the local user's own messages
// never notify. Commands run in the background; failures are logged.
type Notifier struct {
	command     string
	localUserID int64
	tmux        bool
	timeout     time.Duration
	log         *logger.Logger
	run         runFunc
	wg          sync.WaitGroup
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	// Command is a shell command template, e.g.
	// `notify-send "Booking {{.BookingID}}" "{{.Body}}"`. {{.Body}} expands
	// to a reference to $RIDECHAT_BODY, so quote it with double quotes.
	Command     string
	LocalUserID int64
	Timeout     time.Duration // per command, defaults to 5s
	Logger      *logger.Logger
}

var _ chat.Observer = (*Notifier)(nil)

// New creates a Notifier. It also echoes to tmux when running inside a tmux
// session.
func New(opts Opts) (*Notifier, error) {
	if opts.LocalUserID <= 0 {
		return nil, fmt.Errorf("notify: local user id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	return &Notifier{
		command:     opts.Command,
		localUserID: opts.LocalUserID,
		tmux:        os.Getenv("TMUX") != "",
		timeout:     timeout,
		log:         lg,
		run:         execRun,
	}, nil
}

// MessageInserted notifies for live peer messages.
func (n *Notifier) MessageInserted(bookingID int64, m chat.Message, src chat.Source) {
	if !n.shouldNotify(m, src) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.notify(bookingID, m)
	}()
}

// ReceiptPatched is a no-op.
func (n *Notifier) ReceiptPatched(int64, chat.Message) {}

// Wait blocks until every started notification has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) shouldNotify(m chat.Message, src chat.Source) bool {
	return src == chat.SourceLive && m.AuthorID != n.localUserID
}

func (n *Notifier) notify(bookingID int64, m chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if n.command != "" {
		cmdStr := templateMessage(n.command, bookingID, m)
		env := []string{
			"RIDECHAT_BOOKING_ID=" + strconv.FormatInt(bookingID, 10),
			"RIDECHAT_MESSAGE_ID=" + strconv.FormatInt(m.ID, 10),
			bodyEnv + "=" + m.Body,
		}
		if out, err := n.run(ctx, env, "sh", "-c", cmdStr); err != nil {
			n.log.Warn("notify_command_failed", "error", err, "output", strings.TrimSpace(string(out)))
		}
	}

	if n.tmux {
		msg := fmt.Sprintf("booking %d: %s", bookingID, summarize(m.Body, 80))
		if _, err := n.run(ctx, nil, "tmux", "display-message", msg); err != nil {
			n.log.Warn("notify_tmux_failed", "error", err)
		}
	}
}

// templateMessage replaces placeholders in the command template. The body
// is peer-controlled and never enters the command text; the shell reads it
// from the environment.
func templateMessage(command string, bookingID int64, m chat.Message) string {
	r := strings.NewReplacer(
		"{{.BookingID}}", strconv.FormatInt(bookingID, 10),
		"{{.MessageID}}", strconv.FormatInt(m.ID, 10),
		"{{.AuthorID}}", strconv.FormatInt(m.AuthorID, 10),
		"{{.Body}}", "${"+bodyEnv+"}",
	)
	return r.Replace(command)
}

// summarize collapses whitespace and cuts s to at most limit runes.
func summarize(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
