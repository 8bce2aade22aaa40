// Package wsock implements chat.Transport over a websocket connection.
//
// Frames on the wire are JSON envelopes:
//
//	{"type":"event","event":"message","data":{...}}
//	{"type":"event","event":"join_booking","data":{...},"ack_id":"<uuid>"}
//	{"type":"ack","ack_id":"<uuid>","data":{"ok":true}}
//
// An event carrying an ack_id expects exactly one ack with the same id.
package wsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/logger"
)

const (
	typeEvent = "event"
	typeAck   = "ack"

	defaultMaxReconnectAttempts = 10
	defaultHandshakeTimeout     = 10 * time.Second
	defaultPongWait             = 30 * time.Second
	defaultInitialBackoff       = 500 * time.Millisecond
	defaultMaxBackoff           = 30 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	frameBufSize   = 256
)

var (
	// ErrNotConnected is returned by Emit and Request while no connection is up.
	ErrNotConnected = errors.New("wsock: not connected")
	// ErrDisconnected fails requests still waiting for an ack when the
	// connection drops.
	ErrDisconnected = errors.New("wsock: connection lost before acknowledgement")
	// ErrClosed is returned once the client has been closed.
	ErrClosed = errors.New("wsock: client closed")
)

type envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ack_id,omitempty"`
}

type ackResult struct {
	data json.RawMessage
	err  error
}

// Options holds parameters for creating a Client.
type Options struct {
	URL    string
	Header http.Header // sent with every dial, e.g. Authorization

	// MaxReconnectAttempts is the number of consecutive failed dials before
	// the client gives up. Zero means the default; negative means never.
	MaxReconnectAttempts int

	HandshakeTimeout time.Duration
	PongWait         time.Duration // pings go out at 9/10 of this
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Logger           *logger.Logger
}

// Client is a reconnecting websocket chat.Transport.
type Client struct {
	url         string
	header      http.Header
	dialer      *websocket.Dialer
	maxAttempts int
	pongWait    time.Duration
	initBackoff time.Duration
	maxBackoff  time.Duration
	log         *logger.Logger

	frames chan chat.Frame

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan ackResult
	running bool
	gen     uint64 // identifies the current supervisor
	closed  bool
	cancel  context.CancelFunc
	stop    chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

var _ chat.Transport = (*Client)(nil)

// New creates a Client. Nothing is dialed until Connect.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("wsock: url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("wsock: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsock: url scheme must be ws or wss, got %q", u.Scheme)
	}

	maxAttempts := opts.MaxReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxReconnectAttempts
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	pongWait := opts.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	initBackoff := opts.InitialBackoff
	if initBackoff <= 0 {
		initBackoff = defaultInitialBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}

	return &Client{
		url:         opts.URL,
		header:      opts.Header.Clone(),
		dialer:      &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshake},
		maxAttempts: maxAttempts,
		pongWait:    pongWait,
		initBackoff: initBackoff,
		maxBackoff:  maxBackoff,
		log:         lg,
		frames:      make(chan chat.Frame, frameBufSize),
		pending:     make(map[string]chan ackResult),
		stop:        make(chan struct{}),
	}, nil
}

// Connect starts the dial/read/redial supervisor. Calling it while the
// supervisor is running is a no-op; calling it after the client gave up
// starts a fresh round of attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.gen++
	c.cancel = cancel
	c.wg.Add(1)
	go c.supervise(runCtx, cancel, c.gen)
	return nil
}

// Listen returns the frame channel. It is closed by Close.
func (c *Client) Listen(ctx context.Context) (<-chan chat.Frame, error) {
	return c.frames, nil
}

// Emit sends an event without waiting for an ack.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wsock: encode %s: %w", event, err)
	}
	return c.write(ctx, envelope{Type: typeEvent, Event: event, Data: data})
}

// Request sends an event and waits for its ack or for ctx to end.
func (c *Client) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wsock: encode %s: %w", event, err)
	}

	id := uuid.NewString()
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, envelope{Type: typeEvent, Event: event, Data: data, AckID: id}); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the supervisor, drops the connection and closes the frame
// channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.frames)
	return nil
}

// --- Supervisor ---

func (c *Client) supervise(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()
	defer c.markStopped(gen)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initBackoff
	b.MaxInterval = c.maxBackoff
	b.Reset()

	failures := 0
	for {
		c.push(ctx, chat.Frame{Kind: chat.FrameConnecting})
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn("ws_connect_failed", "attempt", failures, "error", err)
			c.push(ctx, chat.Frame{Kind: chat.FrameConnectError, Err: err})
			if c.maxAttempts > 0 && failures >= c.maxAttempts {
				c.log.Error("ws_gave_up", "attempts", failures)
				// a Connect issued in response to GaveUp must start a new supervisor
				c.markStopped(gen)
				c.push(ctx, chat.Frame{Kind: chat.FrameGaveUp, Err: err})
				return
			}
			if !c.sleep(ctx, b.NextBackOff()) {
				return
			}
			continue
		}

		failures = 0
		b.Reset()
		c.push(ctx, chat.Frame{Kind: chat.FrameConnected})
		c.log.Info("ws_connected", "url", c.url)

		err = c.readLoop(ctx, conn)
		c.drop(conn)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("ws_disconnected", "error", err)
		c.push(ctx, chat.Frame{Kind: chat.FrameDisconnected, Err: err})

		wait := b.NextBackOff()
		c.log.Info("ws_reconnect_scheduled", "in", wait)
		if !c.sleep(ctx, wait) {
			return
		}
	}
}

func (c *Client) markStopped(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.running = false
	}
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsock: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsock: dial: %w", err)
	}

	c.mu.Lock()
	if c.closed || ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	// unblocks the read loop when the owning context ends
	context.AfterFunc(ctx, func() { conn.Close() })
	return conn, nil
}

// drop forgets conn and fails every request still waiting for an ack.
func (c *Client) drop(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		ch <- ackResult{err: ErrDisconnected}
		delete(c.pending, id)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		switch env.Type {
		case typeAck:
			c.resolve(env.AckID, env.Data)
		case typeEvent:
			c.push(ctx, chat.Frame{Kind: chat.FrameEvent, Event: env.Event, Data: env.Data})
		default:
			c.log.Debug("ws_unknown_frame", "type", env.Type)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug("ws_ping_failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) resolve(id string, data json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debug("ws_unexpected_ack", "ack_id", id)
		return
	}
	ch <- ackResult{data: data}
}

func (c *Client) write(ctx context.Context, env envelope) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("wsock: write %s: %w", env.Event, err)
	}
	return nil
}

// push delivers f unless the client is closing. Events are never dropped
// while the consumer keeps up; a stalled consumer blocks the read loop.
func (c *Client) push(ctx context.Context, f chat.Frame) {
	select {
	case c.frames <- f:
	case <-c.stop:
	case <-ctx.Done():
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	}
}
