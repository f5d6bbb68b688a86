package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hirevoice/hirevoice/internal/resilience"
)

// HTTPClient talks to a remote interview backend over a single POST endpoint.
// Transport failures and server errors trip the circuit breaker; application
// errors (success: false) do not — the backend is alive, it just rejected the
// request.
type HTTPClient struct {
	endpoint string
	hc       *http.Client
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// HTTPOption configures an HTTPClient during construction.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.hc = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) HTTPOption {
	return func(c *HTTPClient) { c.breaker = b }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPClient) { c.log = l }
}

// NewHTTPClient creates a client for the backend at endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("backend: endpoint must not be empty")
	}
	c := &HTTPClient{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.New(resilience.Config{Name: "interview-backend"})
	}
	return c, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *HTTPClient) Breaker() *resilience.Breaker { return c.breaker }

// Start implements Client.
func (c *HTTPClient) Start(ctx context.Context, scriptID, sessionID string) (*Reply, error) {
	return c.exchange(ctx, Request{ScriptID: scriptID, SessionID: sessionID, Action: ActionStart})
}

// Chat implements Client.
func (c *HTTPClient) Chat(ctx context.Context, scriptID, sessionID, userMessage string) (*Reply, error) {
	return c.exchange(ctx, Request{
		ScriptID:    scriptID,
		SessionID:   sessionID,
		Action:      ActionChat,
		UserMessage: userMessage,
	})
}

// End implements Client.
func (c *HTTPClient) End(ctx context.Context, scriptID, sessionID string) error {
	_, err := c.exchange(ctx, Request{ScriptID: scriptID, SessionID: sessionID, Action: ActionEnd})
	return err
}

// exchange performs one request/response cycle through the circuit breaker.
func (c *HTTPClient) exchange(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}

	var resp Response
	err = c.breaker.Do(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("backend: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.hc.Do(httpReq)
		if err != nil {
			return fmt.Errorf("backend: %s: %w", req.Action, err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
			return fmt.Errorf("backend: %s: unexpected status %d", req.Action, httpResp.StatusCode)
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unspecified backend error"
		}
		return nil, &RemoteError{Msg: msg}
	}
	return normalize(&resp), nil
}

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)
