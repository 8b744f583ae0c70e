package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/clocksync/internal/auth"
	"github.com/roach88/clocksync/internal/scan"
)

// API paths relative to the base URL.
const (
	PathScan          = "/time-entries/scan"
	PathSwitchTask    = "/time-entries/switch-task"
	PathActiveSession = "/time-entries/active"
	PathMyTasks       = "/tasks/mine"
	PathHealth        = "/health"
)

// DefaultTimeout bounds every request unless overridden.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// DefaultRefreshSkew is how close to expiry a JWT is proactively refreshed.
const DefaultRefreshSkew = 30 * time.Second

// HTTPClient implements Service over the REST API.
type HTTPClient struct {
	base        *url.URL
	http        *http.Client
	timeout     time.Duration
	tokens      auth.TokenSource
	offline     func() bool
	now         func() time.Time
	refreshSkew time.Duration
	logger      *slog.Logger
}

var _ Service = (*HTTPClient)(nil)

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets the underlying *http.Client. The client is copied, so
// WithTimeout never modifies the caller's value.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithTimeout sets the per-request timeout regardless of option order.
// Without it a client from WithHTTPClient keeps its own timeout, falling
// back to DefaultTimeout when that is zero.
func WithTimeout(d time.Duration) ClientOption {
	return func(h *HTTPClient) {
		h.timeout = d
	}
}

// WithTokenSource attaches bearer tokens to every request.
func WithTokenSource(ts auth.TokenSource) ClientOption {
	return func(h *HTTPClient) {
		h.tokens = ts
	}
}

// WithOfflineCheck makes calls fail fast with a connectivity error while
// offline returns true.
func WithOfflineCheck(offline func() bool) ClientOption {
	return func(h *HTTPClient) {
		h.offline = offline
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(h *HTTPClient) {
		h.now = now
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(h *HTTPClient) {
		h.logger = l
	}
}

// NewHTTPClient returns a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &HTTPClient{
		base:        u,
		http:        &http.Client{},
		now:         time.Now,
		refreshSkew: DefaultRefreshSkew,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.http
	switch {
	case c.timeout > 0:
		hc.Timeout = c.timeout
	case hc.Timeout == 0:
		hc.Timeout = DefaultTimeout
	}
	c.http = &hc
	return c, nil
}

// SubmitScan posts a scan event.
func (c *HTTPClient) SubmitScan(ctx context.Context, event scan.ScanEvent) (ScanResult, error) {
	body, err := c.do(ctx, "submit scan", http.MethodPost, PathScan, event)
	if err != nil {
		return ScanResult{}, err
	}
	return DecodeScanResult(body)
}

// SwitchTask moves the open session to another task.
func (c *HTTPClient) SwitchTask(ctx context.Context, req SwitchTaskRequest) (*Session, error) {
	body, err := c.do(ctx, "switch task", http.MethodPost, PathSwitchTask, req)
	if err != nil {
		return nil, err
	}
	return decodeSwitchTask(body)
}

// ActiveSession fetches the authoritative open session, nil if none.
func (c *HTTPClient) ActiveSession(ctx context.Context) (*Session, error) {
	body, err := c.do(ctx, "active session", http.MethodGet, PathActiveSession, nil)
	if err != nil {
		return nil, err
	}
	return decodeActiveSession(body)
}

// Tasks fetches the employee's assignable tasks.
func (c *HTTPClient) Tasks(ctx context.Context) ([]Task, error) {
	body, err := c.do(ctx, "list tasks", http.MethodGet, PathMyTasks, nil)
	if err != nil {
		return nil, err
	}
	return decodeTasks(body)
}

// Ping checks reachability. It ignores the offline check, since it is what
// the network watcher uses to decide whether the client is offline.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathHealth), nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return connectivityError("ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Code: ErrCodeRejected, Op: "ping", Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (c *HTTPClient) endpoint(path string) string {
	return c.base.String() + path
}

// do performs one API call, refreshing the bearer token once on 401.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	if c.offline != nil && c.offline() {
		return nil, connectivityError(op, ErrOffline)
	}

	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	status, body, err := c.send(ctx, op, method, path, encoded, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && c.tokens != nil {
		c.logger.Debug("token rejected, refreshing", "op", op)
		fresh, refreshErr := c.tokens.Refresh(ctx)
		if refreshErr == nil {
			status, body, err = c.send(ctx, op, method, path, encoded, fresh)
			if err != nil {
				return nil, err
			}
		} else if !errors.Is(refreshErr, auth.ErrRefreshUnsupported) {
			c.logger.Warn("token refresh failed", "op", op, "error", refreshErr)
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, &Error{Code: ErrCodeUnauthorized, Op: op, Status: status, Message: errorMessage(body)}
	case status < 200 || status > 299:
		msg := errorMessage(body)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, &Error{Code: ErrCodeRejected, Op: op, Status: status, Message: msg}
	}
	return body, nil
}

// token returns the bearer token to use, refreshing it proactively when it
// is about to expire. An empty string means no Authorization header.
func (c *HTTPClient) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if auth.NeedsRefresh(tok, c.now(), c.refreshSkew) {
		fresh, err := c.tokens.Refresh(ctx)
		switch {
		case err == nil:
			return fresh, nil
		case errors.Is(err, auth.ErrRefreshUnsupported):
			c.logger.Debug("token near expiry and source cannot refresh")
		default:
			c.logger.Warn("proactive token refresh failed", "error", err)
		}
	}
	return tok, nil
}

// send issues a single request. Transport failures become connectivity
// errors unless the caller's context was cancelled.
func (c *HTTPClient) send(ctx context.Context, op, method, path string, payload []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return 0, nil, connectivityError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// Status line without a body: the outcome is unknown.
		return 0, nil, connectivityError(op, fmt.Errorf("read response: %w", err))
	}
	c.logger.Debug("remote call", "op", op, "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, body, nil
}
