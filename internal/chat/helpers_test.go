package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeAPI implements HistoryAPI. When gate is non-nil both fetches block
// until it is closed or ctx ends.
type fakeAPI struct {
	mu         sync.Mutex
	token      string
	tokenErr   error
	history    []Message
	historyErr error
	gate       chan struct{}
	credCalls  int
}

func (f *fakeAPI) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) FetchCredential(ctx context.Context, bookingID int64) (Credential, error) {
	if err := f.wait(ctx); err != nil {
		return Credential{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credCalls++
	if f.tokenErr != nil {
		return Credential{}, f.tokenErr
	}
	return Credential{Token: f.token}, nil
}

func (f *fakeAPI) FetchHistory(ctx context.Context, bookingID int64) ([]Message, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]Message, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeAPI) setToken(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = tok
}

func (f *fakeAPI) setHistory(msgs []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = msgs
}

// confirmCall is one recorded Confirmer call.
type confirmCall struct {
	Token string
	IDs   []int64
}

// fakeConfirmer implements Confirmer and records every call.
type fakeConfirmer struct {
	mu        sync.Mutex
	delivered []confirmCall
	read      []confirmCall
	err       error
}

func (f *fakeConfirmer) MarkDelivered(ctx context.Context, bookingID int64, cred Credential, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, confirmCall{Token: cred.Token, IDs: append([]int64(nil), ids...)})
	return f.err
}

func (f *fakeConfirmer) MarkRead(ctx context.Context, bookingID int64, cred Credential, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, confirmCall{Token: cred.Token, IDs: append([]int64(nil), ids...)})
	return f.err
}

// counts returns how many delivered and read confirmations mention id.
func (f *fakeConfirmer) counts(id int64) (delivered, read int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.delivered {
		for _, x := range c.IDs {
			if x == id {
				delivered++
			}
		}
	}
	for _, c := range f.read {
		for _, x := range c.IDs {
			if x == id {
				read++
			}
		}
	}
	return delivered, read
}

var errBoom = errors.New("boom")

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives fire-and-forget goroutines a moment to misbehave.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func ts(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func tsPtr(sec int) *time.Time {
	t := ts(sec)
	return &t
}
