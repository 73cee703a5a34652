// Package httpkit issues JSON HTTP requests with bounded concurrency,
// retry/backoff, and rate-limit-aware delays.
//
// All callers of the agent backend (and other JSON APIs) go through one
// Client so that the in-flight limit and the 429 cool-down are shared
// process-wide.
package httpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Defaults for the transport. Callers can override per request.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 4
	DefaultBaseDelay  = 600 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultInFlight   = 8

	bodySnippetLimit = 400
	maxBodyBytes     = 4 << 20
)

// retryableStatuses are HTTP statuses worth another attempt.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusConflict:            true, // 409
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// TokenSource supplies a bearer token for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Error is a structured transport failure with diagnostic context.
type Error struct {
	Message       string
	Status        int // 0 when the failure never produced a response
	URL           string
	BodySnippet   string
	CorrelationID string
	Detail        map[string]any
	cause         error
}

func (e *Error) Error() string {
	parts := []string{e.Message}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("url=%s", e.URL))
	}
	if e.CorrelationID != "" {
		parts = append(parts, fmt.Sprintf("corr=%s", e.CorrelationID))
	}
	if e.BodySnippet != "" {
		parts = append(parts, fmt.Sprintf("body=%s", e.BodySnippet))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error { return e.cause }

// Opts holds configuration options for the transport client.
type Opts struct {
	TokenSource TokenSource
	HTTPClient  *http.Client
	InFlight    int64
	MaxDelay    time.Duration
}

// Option defines a configuration option for the transport client.
type Option func(*Opts)

// WithTokenSource attaches a bearer token provider. When nil, requests
// are sent unauthenticated.
func WithTokenSource(ts TokenSource) Option {
	return func(o *Opts) { o.TokenSource = ts }
}

// WithHTTPClient injects the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithInFlightLimit overrides the global concurrent-request bound.
func WithInFlightLimit(n int64) Option {
	return func(o *Opts) { o.InFlight = n }
}

// WithMaxDelay overrides the backoff cap.
func WithMaxDelay(d time.Duration) Option {
	return func(o *Opts) { o.MaxDelay = d }
}

// Client is the resilient JSON transport. One instance is shared by all
// components talking to the same backend so they share the in-flight
// semaphore and the rate-limit cool-down.
type Client struct {
	tokens   TokenSource
	http     *http.Client
	inflight *semaphore.Weighted
	maxDelay time.Duration

	mu            sync.Mutex
	cooldownUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a transport client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{InFlight: DefaultInFlight, MaxDelay: DefaultMaxDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		tokens:   cfg.TokenSource,
		http:     cfg.HTTPClient,
		inflight: semaphore.NewWeighted(cfg.InFlight),
		maxDelay: cfg.MaxDelay,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// ReqOpts holds per-request settings.
type ReqOpts struct {
	Timeout       time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	CorrelationID string
	Header        http.Header
}

// ReqOption defines a per-request setting.
type ReqOption func(*ReqOpts)

// WithTimeout bounds one attempt's round trip.
func WithTimeout(d time.Duration) ReqOption {
	return func(o *ReqOpts) { o.Timeout = d }
}

// WithMaxRetries overrides the retry budget for this request.
func WithMaxRetries(n int) ReqOption {
	return func(o *ReqOpts) { o.MaxRetries = n }
}

// WithBaseDelay overrides the initial backoff delay for this request.
func WithBaseDelay(d time.Duration) ReqOption {
	return func(o *ReqOpts) { o.BaseDelay = d }
}

// WithCorrelationID tags the request's log lines and errors.
func WithCorrelationID(id string) ReqOption {
	return func(o *ReqOpts) { o.CorrelationID = id }
}

// WithHeader adds a header to every attempt of this request.
func WithHeader(key, value string) ReqOption {
	return func(o *ReqOpts) {
		if o.Header == nil {
			o.Header = http.Header{}
		}
		o.Header.Set(key, value)
	}
}

// RequestJSON performs an HTTP request with retries and backoff and returns
// the parsed JSON object. Retryable failures are absorbed up to the retry
// budget; everything surfacing from here is a *Error and is fatal to the
// caller.
func (c *Client) RequestJSON(ctx context.Context, method, url string, body any, opts ...ReqOption) (map[string]any, error) {
	cfg := ReqOpts{Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay, CorrelationID: "-"}
	for _, opt := range opts {
		opt(&cfg)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Message: "failed to encode request body", URL: url, CorrelationID: cfg.CorrelationID, cause: err}
		}
	}

	for attempt := 1; ; attempt++ {
		if err := c.waitCooldown(ctx); err != nil {
			return nil, &Error{Message: "cancelled while waiting out rate-limit cool-down", URL: url, CorrelationID: cfg.CorrelationID, cause: err}
		}

		slog.Debug("httpkit.RequestJSON: attempt", "method", method, "url", url, "attempt", attempt, "corr", cfg.CorrelationID)
		result, attemptErr := c.attempt(ctx, method, url, payload, &cfg)
		if attemptErr == nil {
			return result, nil
		}

		retryable := attemptErr.retryable
		if !retryable || attempt > cfg.MaxRetries {
			logFn := slog.Error
			if retryable {
				logFn = slog.Warn
			}
			logFn("httpkit.RequestJSON: giving up", "method", method, "url", url, "attempt", attempt, "status", attemptErr.Status, "corr", cfg.CorrelationID, "error", attemptErr.Error.Message)
			return nil, attemptErr.Error
		}

		delay := c.backoffDelay(attempt, &cfg, attemptErr)
		slog.Warn("httpkit.RequestJSON: retrying after delay",
			"method", method, "url", url, "attempt", attempt, "status", attemptErr.Status, "delay", delay, "corr", cfg.CorrelationID)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Message: "cancelled during backoff", URL: url, CorrelationID: cfg.CorrelationID, cause: err}
		}
	}
}

// attemptError pairs a structured error with its retry classification.
type attemptError struct {
	Error      *Error
	Status     int
	RetryAfter time.Duration // from 429 response headers, 0 when absent
	retryable  bool
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, cfg *ReqOpts) (map[string]any, *attemptError) {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, &attemptError{
			Error: &Error{Message: "cancelled waiting for in-flight slot", URL: url, CorrelationID: cfg.CorrelationID, cause: err},
		}
	}
	defer c.inflight.Release(1)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &attemptError{
			Error: &Error{Message: "failed to build request", URL: url, CorrelationID: cfg.CorrelationID, cause: err},
		}
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range cfg.Header {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			// Auth failures are fatal; the credential provider does not retry.
			return nil, &attemptError{
				Error: &Error{Message: "failed to obtain bearer token", URL: url, CorrelationID: cfg.CorrelationID, cause: err},
			}
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &attemptError{
			Error:     &Error{Message: "transport error", URL: url, CorrelationID: cfg.CorrelationID, cause: err},
			retryable: isNetworkRetryable(err),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &attemptError{
			Error:     &Error{Message: "failed to read response body", Status: resp.StatusCode, URL: url, CorrelationID: cfg.CorrelationID, cause: err},
			Status:    resp.StatusCode,
			retryable: true,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			// Non-JSON success body: tolerate and return an empty object.
			slog.Warn("httpkit.RequestJSON: non-JSON success body", "url", url, "status", resp.StatusCode, "corr", cfg.CorrelationID)
			return map[string]any{}, nil
		}
		switch v := parsed.(type) {
		case map[string]any:
			return v, nil
		case []any:
			// A bare JSON array comes back wrapped under a data key so
			// callers always receive an object.
			return map[string]any{"data": v}, nil
		default:
			return map[string]any{}, nil
		}
	}

	snippet := truncate(string(raw), bodySnippetLimit)
	ae := &attemptError{
		Error: &Error{
			Message:       "request failed",
			Status:        resp.StatusCode,
			URL:           url,
			BodySnippet:   snippet,
			CorrelationID: cfg.CorrelationID,
			Detail:        safeJSON(raw),
		},
		Status:    resp.StatusCode,
		retryable: retryableStatuses[resp.StatusCode],
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		ae.RetryAfter = retryAfterDelay(resp.Header, c.now())
		// Every observed 429 records the shared cool-down, including one
		// on the final attempt with no retry left to advertise it.
		wait := ae.RetryAfter
		if wait == 0 {
			wait = cfg.BaseDelay
		}
		if wait > c.maxDelay {
			wait = c.maxDelay
		}
		c.setCooldown(c.now().Add(wait))
	}
	return nil, ae
}

// backoffDelay computes how long to wait before the next attempt and, for
// 429s, advertises the wait as a shared cool-down.
func (c *Client) backoffDelay(attempt int, cfg *ReqOpts, ae *attemptError) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if ae.Status == http.StatusTooManyRequests && ae.RetryAfter > 0 {
		delay = ae.RetryAfter
	}
	delay = jitter(delay)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	if ae.Status == http.StatusTooManyRequests {
		c.setCooldown(c.now().Add(delay))
	}
	return delay
}

func (c *Client) setCooldown(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
}

func (c *Client) waitCooldown(ctx context.Context) error {
	c.mu.Lock()
	remaining := c.cooldownUntil.Sub(c.now())
	c.mu.Unlock()
	if remaining <= 0 {
		return nil
	}
	slog.Debug("httpkit.RequestJSON: waiting out rate-limit cool-down", "remaining", remaining)
	return c.sleep(ctx, remaining)
}

// retryAfterDelay reads the server's rate-limit hint. Checked in order:
// Retry-After (seconds or HTTP-date), retry-after-ms, x-ratelimit-reset-after.
func retryAfterDelay(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	if v := h.Get("x-ratelimit-reset-after"); v != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

// jitter applies ±25% to a delay.
func jitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

func isNetworkRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Decode re-encodes a generic JSON object into a typed destination. It
// lets callers of RequestJSON work with typed payloads.
func Decode(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to re-encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

func safeJSON(raw []byte) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return map[string]any{}
	}
	return parsed
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
