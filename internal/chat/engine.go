package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/ridechat/internal/logger"
)

// DefaultJoinTimeout bounds the join handshake.
const DefaultJoinTimeout = 10 * time.Second

// Phase is the bootstrap state of the conversation.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
)

// Source tells observers where an inserted message came from.
type Source int

const (
	SourceHistory Source = iota
	SourceLive
)

// Observer is notified of log changes from the engine goroutine. Calls must
// return quickly.
type Observer interface {
	MessageInserted(bookingID int64, m Message, src Source)
	ReceiptPatched(bookingID int64, m Message)
}

// View is the read-only projection handed to presentation layers. Its
// slices must not be modified.
type View struct {
	BookingID  int64            `json:"bookingId"`
	Phase      Phase            `json:"phase"`
	LoadError  string           `json:"loadError,omitempty"`
	Messages   []Message        `json:"messages"`
	Connection ConnectionStatus `json:"connection"`
	Input      string           `json:"input"`
	Pending    *PendingSend     `json:"pending,omitempty"`
	SendPhase  SendPhase        `json:"sendPhase"`
	SendError  string           `json:"sendError,omitempty"`
	CanSend    bool             `json:"canSend"`
}

// Engine owns one booking conversation. Every state change happens on the
// goroutine running Run; other goroutines reach it by posting operations.
type Engine struct {
	bookingID   int64
	localUserID int64
	transport   Transport
	boot        *Bootstrapper
	msgs        *MessageLog
	conn        *ConnectionManager
	receipts    *Reconciler
	sender      *SendCoordinator
	observers   []Observer
	log         *logger.Logger
	now         func() time.Time
	sendTimeout time.Duration
	joinTimeout time.Duration

	ops     chan func()
	done    chan struct{}
	started atomic.Bool

	// loop-owned state
	runCtx  context.Context
	cycle   uint64
	cred    Credential
	phase   Phase
	loadErr error

	viewMu sync.RWMutex
	view   View

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	BookingID      int64
	LocalUserID    int64
	API            HistoryAPI
	Confirmer      Confirmer
	Transport      Transport
	Observers      []Observer
	Logger         *logger.Logger
	SendTimeout    time.Duration    // defaults to DefaultSendTimeout
	JoinTimeout    time.Duration    // defaults to DefaultJoinTimeout
	ConfirmTimeout time.Duration    // defaults to DefaultConfirmTimeout
	Now            func() time.Time // defaults to time.Now
}

// NewEngine creates an Engine. Call Run to start it.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.BookingID <= 0 {
		return nil, fmt.Errorf("chat: engine: booking id is required")
	}
	if opts.LocalUserID <= 0 {
		return nil, fmt.Errorf("chat: engine: local user id is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("chat: engine: transport is required")
	}
	boot, err := NewBootstrapper(opts.API)
	if err != nil {
		return nil, err
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	lg = lg.With("booking_id", opts.BookingID)

	msgs := NewMessageLog()
	receipts, err := NewReconciler(ReconcilerOpts{
		Log:            msgs,
		BookingID:      opts.BookingID,
		LocalUserID:    opts.LocalUserID,
		Confirmer:      opts.Confirmer,
		Transport:      opts.Transport,
		ConfirmTimeout: opts.ConfirmTimeout,
		Logger:         lg,
	})
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	joinTimeout := opts.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}

	e := &Engine{
		bookingID:   opts.BookingID,
		localUserID: opts.LocalUserID,
		transport:   opts.Transport,
		boot:        boot,
		msgs:        msgs,
		conn:        NewConnectionManager(),
		receipts:    receipts,
		sender:      NewSendCoordinator(),
		observers:   opts.Observers,
		log:         lg,
		now:         now,
		sendTimeout: sendTimeout,
		joinTimeout: joinTimeout,
		ops:         make(chan func(), 64),
		done:        make(chan struct{}),
		phase:       PhaseLoading,
		subs:        make(map[int]chan struct{}),
	}
	e.view = e.buildView()
	return e, nil
}

// Run bootstraps the conversation and processes events until ctx is
// cancelled. On return the transport is closed and any late completion of
// in-flight work is discarded.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("chat: engine already started")
	}

	frames, err := e.transport.Listen(ctx)
	if err != nil {
		close(e.done)
		return fmt.Errorf("chat: listen: %w", err)
	}
	e.runCtx = ctx
	e.startBootstrap(ctx)
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil

		case f, ok := <-frames:
			if !ok {
				// Transport closed underneath us; nothing more will arrive.
				frames = nil
				e.conn.Handle(Frame{Kind: FrameGaveUp, Err: errors.New("transport closed")})
				e.log.Warn("chat_transport_closed")
				break
			}
			e.handleFrame(ctx, f)

		case op := <-e.ops:
			op()
		}
		e.publish()
	}
}

// shutdown closes the transport and lets in-flight confirmations drain.
func (e *Engine) shutdown() {
	close(e.done)
	if err := e.transport.Close(); err != nil {
		e.log.Warn("chat_transport_close_failed", "error", err)
	}
	e.receipts.Wait()
	e.log.Info("chat_engine_stopped")
}

// post queues fn to run on the engine goroutine. It is dropped once the
// engine has stopped.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

// call runs fn on the engine goroutine and waits for its result.
func (e *Engine) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.ops <- func() { reply <- fn() }:
	case <-e.done:
		return ErrEngineStopped
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	}
}

// --- Bootstrap ---

func (e *Engine) startBootstrap(ctx context.Context) {
	e.cycle++
	cycle := e.cycle
	e.phase = PhaseLoading
	e.loadErr = nil
	e.log.Info("chat_bootstrap_started", "cycle", cycle)

	go func() {
		sess, err := e.boot.Load(ctx, e.bookingID)
		e.post(func() { e.finishBootstrap(ctx, cycle, sess, err) })
	}()
}

func (e *Engine) finishBootstrap(ctx context.Context, cycle uint64, sess *Session, err error) {
	if cycle != e.cycle || ctx.Err() != nil {
		e.log.Debug("chat_bootstrap_discarded", "cycle", cycle)
		return
	}
	if err != nil {
		e.phase = PhaseFailed
		e.loadErr = err
		e.log.Error("chat_bootstrap_failed", "error", err)
		return
	}

	e.cred = sess.Credential
	inserted := e.receipts.Ingest(ctx, e.cred, sess.History...)
	for _, m := range inserted {
		e.notifyInserted(m, SourceHistory)
	}
	e.phase = PhaseReady
	e.log.Info("chat_bootstrap_ready", "history", len(sess.History), "inserted", len(inserted))

	needConnect, needJoin := e.conn.SetCredential()
	if needConnect {
		if err := e.transport.Connect(ctx); err != nil {
			e.log.Error("chat_connect_failed", "error", err)
			e.conn.Handle(Frame{Kind: FrameConnectError, Err: err})
		}
	}
	if needJoin {
		e.join(ctx)
	}
}

// Reload starts a fresh bootstrap cycle: a new credential is fetched, the
// history is merged into the log and the channel is rejoined. Results of
// the previous cycle that are still in flight are discarded.
func (e *Engine) Reload() error {
	return e.call(func() error {
		e.startBootstrap(e.runCtx)
		return nil
	})
}

// --- Inbound ---

func (e *Engine) handleFrame(ctx context.Context, f Frame) {
	if f.Kind == FrameEvent {
		e.handleEvent(ctx, f)
		return
	}
	needJoin := e.conn.Handle(f)
	st := e.conn.Status()
	e.log.Info("chat_connection_changed", "frame", f.Kind.String(), "state", st.State.String(), "error", f.Err)
	if needJoin {
		e.join(ctx)
	}
}

func (e *Engine) handleEvent(ctx context.Context, f Frame) {
	switch f.Event {
	case EventMessage:
		var m Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			e.log.Warn("chat_bad_message_event", "error", err)
			return
		}
		if m.ID == 0 {
			e.log.Warn("chat_message_without_id")
			return
		}
		for _, in := range e.receipts.Ingest(ctx, e.cred, m) {
			e.notifyInserted(in, SourceLive)
		}

	case EventMarkDelivered, EventMarkRead:
		var r inboundReceipt
		if err := json.Unmarshal(f.Data, &r); err != nil {
			e.log.Warn("chat_bad_receipt_event", "event", f.Event, "error", err)
			return
		}
		field := FieldDelivered
		if f.Event == EventMarkRead {
			field = FieldRead
		}
		at := e.now()
		if r.At != nil {
			at = *r.At
		}
		for _, m := range e.receipts.ApplyReceipt(field, r.MessageIDs, at) {
			e.notifyPatched(m)
		}

	default:
		e.log.Debug("chat_event_ignored", "event", f.Event)
	}
}

func (e *Engine) notifyInserted(m Message, src Source) {
	for _, o := range e.observers {
		o.MessageInserted(e.bookingID, m, src)
	}
}

func (e *Engine) notifyPatched(m Message) {
	for _, o := range e.observers {
		o.ReceiptPatched(e.bookingID, m)
	}
}

// --- Join handshake ---

func (e *Engine) join(ctx context.Context) {
	epoch := e.conn.Epoch()
	payload := joinPayload{BookingID: e.bookingID, Token: e.cred.Token}

	go func() {
		jctx, cancel := context.WithTimeout(ctx, e.joinTimeout)
		raw, err := e.transport.Request(jctx, EventJoinBooking, payload)
		cancel()
		if err = ackError(raw, err); err != nil {
			err = fmt.Errorf("%w: %v", ErrJoinRejected, err)
		}
		e.post(func() {
			if !e.conn.JoinResult(epoch, err) {
				return
			}
			if err != nil {
				e.log.Warn("chat_join_rejected", "error", err)
				return
			}
			e.log.Info("chat_joined")
		})
	}()
}

// ackError turns a request result into an error: transport failure, an
// undecodable ack, or an ack with ok=false.
func ackError(raw json.RawMessage, err error) error {
	if err != nil {
		return err
	}
	var a ack
	if err := json.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if !a.OK {
		if a.Error != "" {
			return errors.New(a.Error)
		}
		return errors.New("not acknowledged")
	}
	return nil
}

// --- Outbound ---

// SetInput replaces the composer text.
func (e *Engine) SetInput(text string) error {
	return e.call(func() error {
		e.sender.SetInput(text)
		return nil
	})
}

// Submit sends text. It returns once the send is pending; the outcome shows
// up in the View. It fails immediately, without any network call, when the
// conversation is not ready, the channel is not joined, a send is already
// pending, or the text is blank or too long.
func (e *Engine) Submit(text string) error {
	return e.call(func() error {
		if e.phase != PhaseReady {
			e.sender.SetInput(text)
			return ErrNotReady
		}
		p, seq, err := e.sender.Begin(text, e.conn.CanSend(), e.now())
		if err != nil {
			return err
		}
		e.sendAsync(p, seq)
		return nil
	})
}

func (e *Engine) sendAsync(p PendingSend, seq uint64) {
	ctx := e.runCtx
	payload := sendPayload{BookingID: e.bookingID, Text: strings.TrimSpace(p.Text), Token: e.cred.Token}

	go func() {
		sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		raw, err := e.transport.Request(sctx, EventMessage, payload)
		timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
		cancel()

		if err = ackError(raw, err); err != nil {
			if timedOut {
				err = ErrSendTimeout
			} else {
				err = fmt.Errorf("%w: %v", ErrSendRejected, err)
			}
		}
		e.post(func() {
			if !e.sender.Resolve(seq, err) {
				return
			}
			if err != nil {
				e.log.Warn("chat_send_rejected", "error", err)
			}
		})
	}()
}

// --- Projection ---

// Snapshot returns the latest View.
func (e *Engine) Snapshot() View {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view
}

// Subscribe returns a channel that receives a signal whenever the View may
// have changed, and a function that cancels the subscription. Signals
// coalesce; read Snapshot after each one.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()
	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) publish() {
	v := e.buildView()
	e.viewMu.Lock()
	e.view = v
	e.viewMu.Unlock()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) buildView() View {
	v := View{
		BookingID:  e.bookingID,
		Phase:      e.phase,
		Messages:   e.msgs.Messages(),
		Connection: e.conn.Status(),
		Input:      e.sender.Input(),
		Pending:    e.sender.Pending(),
		SendPhase:  e.sender.Phase(),
		CanSend:    e.phase == PhaseReady && e.conn.CanSend() && e.sender.Pending() == nil,
	}
	if e.loadErr != nil {
		v.LoadError = e.loadErr.Error()
	}
	if e.sender.Phase() == SendRejected && e.sender.Err() != nil {
		v.SendError = e.sender.Err().Error()
	}
	return v
}
