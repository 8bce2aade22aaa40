package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/ridechat/internal/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultConfirmTimeout bounds one batch of receipt confirmations.
const DefaultConfirmTimeout = 10 * time.Second

// Confirmer is the REST collaborator that records delivery and read
// receipts server-side. Calls must be idempotent per message id.
type Confirmer interface {
	MarkDelivered(ctx context.Context, bookingID int64, cred Credential, ids []int64) error
	MarkRead(ctx context.Context, bookingID int64, cred Credential, ids []int64) error
}

// Reconciler inserts inbound messages into the log, confirms receipt of
// peer-authored ones, and applies receipts the peer reports for messages
// the local user sent.
type Reconciler struct {
	msgs        *MessageLog
	bookingID   int64
	localUserID int64
	rest        Confirmer
	transport   Transport
	timeout     time.Duration
	log         *logger.Logger
	inflight    sync.WaitGroup
}

// ReconcilerOpts holds parameters for creating a Reconciler.
type ReconcilerOpts struct {
	Log            *MessageLog
	BookingID      int64
	LocalUserID    int64
	Confirmer      Confirmer
	Transport      Transport
	ConfirmTimeout time.Duration // defaults to DefaultConfirmTimeout
	Logger         *logger.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOpts) (*Reconciler, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("chat: reconciler: message log is required")
	}
	if opts.Confirmer == nil {
		return nil, fmt.Errorf("chat: reconciler: confirmer is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("chat: reconciler: transport is required")
	}
	timeout := opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	return &Reconciler{
		msgs:        opts.Log,
		bookingID:   opts.BookingID,
		localUserID: opts.LocalUserID,
		rest:        opts.Confirmer,
		transport:   opts.Transport,
		timeout:     timeout,
		log:         lg,
	}, nil
}

// Ingest inserts msgs into the log and returns the ones that were new.
// Newly inserted peer-authored messages are confirmed as delivered and read
// in one batch. A message already in the log is never confirmed again.
func (r *Reconciler) Ingest(ctx context.Context, cred Credential, msgs ...Message) []Message {
	var inserted []Message
	var peerIDs []int64
	for _, m := range msgs {
		if !r.msgs.InsertIfAbsent(m) {
			continue
		}
		stored, _ := r.msgs.Get(m.ID)
		inserted = append(inserted, stored)
		if m.AuthorID != r.localUserID {
			peerIDs = append(peerIDs, m.ID)
		}
	}
	if len(peerIDs) > 0 {
		r.confirm(ctx, cred, peerIDs)
	}
	return inserted
}

// confirm fires the four receipt confirmations without waiting for them.
// Failures are logged and dropped.
func (r *Reconciler) confirm(ctx context.Context, cred Credential, ids []int64) {
	payload := receiptPayload{BookingID: r.bookingID, MessageIDs: ids, Token: cred.Token}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var g errgroup.Group
		g.Go(func() error {
			if err := r.rest.MarkDelivered(cctx, r.bookingID, cred, ids); err != nil {
				return fmt.Errorf("rest mark-delivered: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := r.rest.MarkRead(cctx, r.bookingID, cred, ids); err != nil {
				return fmt.Errorf("rest mark-read: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := r.transport.Emit(cctx, EventMarkDelivered, payload); err != nil {
				return fmt.Errorf("emit %s: %w", EventMarkDelivered, err)
			}
			return nil
		})
		g.Go(func() error {
			if err := r.transport.Emit(cctx, EventMarkRead, payload); err != nil {
				return fmt.Errorf("emit %s: %w", EventMarkRead, err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			r.log.Debug("chat_confirm_failed", "booking_id", r.bookingID, "message_ids", ids, "error", err)
		}
	}()
}

// ApplyReceipt records a peer-reported receipt. Only messages authored by
// the local user are patched; ids of unknown or peer-authored messages are
// ignored. It returns the messages that changed.
func (r *Reconciler) ApplyReceipt(field ReceiptField, ids []int64, at time.Time) []Message {
	var patched []Message
	for _, id := range ids {
		m, ok := r.msgs.Get(id)
		if !ok || m.AuthorID != r.localUserID {
			continue
		}
		if r.msgs.PatchReceipt(id, field, at) {
			updated, _ := r.msgs.Get(id)
			patched = append(patched, updated)
		}
	}
	return patched
}

// Wait blocks until every in-flight confirmation batch has finished.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}
