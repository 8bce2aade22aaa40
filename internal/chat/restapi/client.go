// Package restapi is the HTTP client for the booking chat REST endpoints.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/logger"
)

const (
	defaultTimeout  = 15 * time.Second
	chatTokenHeader = "X-Chat-Token"
	maxErrorBody    = 2000
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Status  int
	Body    string
	Message string // "error" field of a JSON error body, if any
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("restapi: http %d: %s", e.Status, e.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("restapi: http %d: %s", e.Status, msg)
}

// Options holds parameters for creating a Client.
type Options struct {
	BaseURL      string
	SessionToken string        // bearer token of the signed-in user
	Timeout      time.Duration // per request, defaults to 15s
	HTTPClient   *http.Client  // overrides Timeout when set
	Logger       *logger.Logger
}

// Client implements chat.HistoryAPI and chat.Confirmer.
type Client struct {
	baseURL      string
	sessionToken string
	http         *http.Client
	log          *logger.Logger
}

var (
	_ chat.HistoryAPI = (*Client)(nil)
	_ chat.Confirmer  = (*Client)(nil)
)

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("restapi: base url is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("restapi: base url must be http or https: %q", opts.BaseURL)
	}
	if opts.SessionToken == "" {
		return nil, fmt.Errorf("restapi: session token is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		sessionToken: opts.SessionToken,
		http:         hc,
		log:          lg,
	}, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

type markRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

// FetchCredential returns the conversation token for a booking.
func (c *Client) FetchCredential(ctx context.Context, bookingID int64) (chat.Credential, error) {
	var out tokenResponse
	if err := c.do(ctx, http.MethodGet, chatPath(bookingID, "token"), chat.Credential{}, nil, &out); err != nil {
		return chat.Credential{}, fmt.Errorf("restapi: fetch token: %w", err)
	}
	return chat.Credential{Token: out.Token}, nil
}

// FetchHistory returns the booking's messages in server order.
func (c *Client) FetchHistory(ctx context.Context, bookingID int64) ([]chat.Message, error) {
	var out messagesResponse
	if err := c.do(ctx, http.MethodGet, chatPath(bookingID, "messages"), chat.Credential{}, nil, &out); err != nil {
		return nil, fmt.Errorf("restapi: fetch messages: %w", err)
	}
	return out.Messages, nil
}

// MarkDelivered confirms delivery of peer messages.
func (c *Client) MarkDelivered(ctx context.Context, bookingID int64, cred chat.Credential, ids []int64) error {
	if err := c.do(ctx, http.MethodPost, chatPath(bookingID, "mark-delivered"), cred, markRequest{MessageIDs: ids}, nil); err != nil {
		return fmt.Errorf("restapi: mark delivered: %w", err)
	}
	return nil
}

// MarkRead confirms that peer messages were read.
func (c *Client) MarkRead(ctx context.Context, bookingID int64, cred chat.Credential, ids []int64) error {
	if err := c.do(ctx, http.MethodPost, chatPath(bookingID, "mark-read"), cred, markRequest{MessageIDs: ids}, nil); err != nil {
		return fmt.Errorf("restapi: mark read: %w", err)
	}
	return nil
}

func chatPath(bookingID int64, leaf string) string {
	return fmt.Sprintf("/bookings/%d/chat/%s", bookingID, leaf)
}

func (c *Client) do(ctx context.Context, method, path string, cred chat.Credential, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.Token != "" {
		req.Header.Set(chatTokenHeader, cred.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.log.Debug("rest_request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Status: resp.StatusCode, Body: string(raw)}
		var eb struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil {
			se.Message = eb.Error
		}
		return se
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
