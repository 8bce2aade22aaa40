package chat

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Credential is the short-lived conversation token scoped to one booking.
// It is immutable for a bootstrap cycle and only replaced wholesale.
type Credential struct {
	Token string
}

// String keeps the token out of formatted output.
func (c Credential) String() string {
	if c.Token == "" {
		return "Credential(empty)"
	}
	return "Credential(redacted)"
}

// HistoryAPI is the REST collaborator used at bootstrap.
type HistoryAPI interface {
	FetchCredential(ctx context.Context, bookingID int64) (Credential, error)
	FetchHistory(ctx context.Context, bookingID int64) ([]Message, error)
}

// Session is the result of a successful bootstrap.
type Session struct {
	BookingID  int64
	Credential Credential
	History    []Message // server order, normalized
}

// Bootstrapper loads the credential and message history for a booking.
type Bootstrapper struct {
	api HistoryAPI
}

// NewBootstrapper creates a Bootstrapper.
func NewBootstrapper(api HistoryAPI) (*Bootstrapper, error) {
	if api == nil {
		return nil, fmt.Errorf("chat: bootstrapper: api is required")
	}
	return &Bootstrapper{api: api}, nil
}

// Load fetches the credential and history in parallel. Both must succeed;
// the first failure cancels the other fetch and is returned as a
// *BootstrapError. There is no retry.
func (b *Bootstrapper) Load(ctx context.Context, bookingID int64) (*Session, error) {
	var (
		cred    Credential
		history []Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := b.api.FetchCredential(gctx, bookingID)
		if err != nil {
			return &BootstrapError{Step: "credential", Err: err}
		}
		if c.Token == "" {
			return &BootstrapError{Step: "credential", Err: errors.New("empty token")}
		}
		cred = c
		return nil
	})
	g.Go(func() error {
		msgs, err := b.api.FetchHistory(gctx, bookingID)
		if err != nil {
			return &BootstrapError{Step: "history", Err: err}
		}
		history = msgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	normalized := make([]Message, len(history))
	for i, m := range history {
		normalized[i] = m.normalize()
	}
	return &Session{BookingID: bookingID, Credential: cred, History: normalized}, nil
}
