// Package agent talks to the thread/run backend: it drives the four-call
// conversation protocol, retries rate-limited runs, extracts JSON from
// assistant output, and validates the result into a ConversationResult.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cityping/cityping/internal/httpkit"
	"github.com/cityping/cityping/internal/models"
	"github.com/google/uuid"
)

// Poll pacing: the interval grows per iteration to reduce backend load.
const (
	pollInitialInterval = 1500 * time.Millisecond
	pollGrowthFactor    = 1.6
	pollMaxInterval     = 10 * time.Second

	// DefaultPollTimeout bounds one run from start to terminal status.
	DefaultPollTimeout = 180 * time.Second
)

// Run statuses the poll loop stops on.
const (
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusExpired        = "expired"
	StatusCancelled      = "cancelled"
	StatusRequiresAction = "requires_action"
)

// CodeRateLimited is the backend's error code for a rate-limited run.
const CodeRateLimited = "rate_limit_exceeded"

// RunState is the parsed terminal state of one run.
type RunState struct {
	ID           string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// Terminal reports whether the status will not change with further polling.
func (s RunState) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Opts holds configuration options for the protocol client.
type Opts struct {
	Transport  *httpkit.Client
	Endpoint   string
	APIVersion string
	AgentID    string
}

// Option defines a configuration option for the protocol client.
type Option func(*Opts)

// WithTransport injects the resilient HTTP transport.
func WithTransport(t *httpkit.Client) Option {
	return func(o *Opts) { o.Transport = t }
}

// WithEndpoint sets the backend project endpoint, without trailing slash.
func WithEndpoint(e string) Option {
	return func(o *Opts) { o.Endpoint = strings.TrimRight(e, "/") }
}

// WithAPIVersion sets the api-version query parameter value.
func WithAPIVersion(v string) Option {
	return func(o *Opts) { o.APIVersion = v }
}

// WithAgentID sets the assistant identifier runs are bound to.
func WithAgentID(id string) Option {
	return func(o *Opts) { o.AgentID = id }
}

// Client implements the thread/run protocol on top of the transport.
type Client struct {
	transport  *httpkit.Client
	endpoint   string
	apiVersion string
	agentID    string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a protocol client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport must be provided")
	}
	if cfg.Endpoint == "" {
		return nil, models.ErrMissingEndpoint
	}
	if cfg.AgentID == "" {
		return nil, models.ErrMissingAgentID
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v1"
	}
	return &Client{
		transport:  cfg.Transport,
		endpoint:   cfg.Endpoint,
		apiVersion: cfg.APIVersion,
		agentID:    cfg.AgentID,
		now:        time.Now,
		sleep:      sleepCtx,
	}, nil
}

func (c *Client) url(format string, args ...any) string {
	return c.endpoint + fmt.Sprintf(format, args...) + "?api-version=" + c.apiVersion
}

// newCorrelationID returns a short id tying one protocol call's log lines
// and errors together.
func newCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateThread creates a fresh server-side conversation context.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	corr := newCorrelationID()
	u := c.url("/threads")
	t0 := c.now()
	data, err := c.transport.RequestJSON(ctx, http.MethodPost, u, map[string]any{}, httpkit.WithCorrelationID(corr))
	if err != nil {
		return "", err
	}
	threadID, _ := data["id"].(string)
	if threadID == "" {
		return "", &DataError{Message: "thread creation response missing id"}
	}
	slog.Info("agent.Client.CreateThread: thread created", "thread", threadID, "corr", corr, "elapsed", time.Since(t0))
	return threadID, nil
}

// PostMessage appends a message to the thread.
func (c *Client) PostMessage(ctx context.Context, threadID, role, content string) (map[string]any, error) {
	corr := newCorrelationID()
	u := c.url("/threads/%s/messages", threadID)
	payload := map[string]any{"role": role, "content": content}
	t0 := c.now()
	data, err := c.transport.RequestJSON(ctx, http.MethodPost, u, payload, httpkit.WithCorrelationID(corr))
	if err != nil {
		return nil, err
	}
	slog.Info("agent.Client.PostMessage: message posted", "thread", threadID, "role", role, "len", len(content), "corr", corr, "elapsed", time.Since(t0))
	return data, nil
}

// StartRun starts a run bound to the configured agent id.
func (c *Client) StartRun(ctx context.Context, threadID string) (string, error) {
	corr := newCorrelationID()
	u := c.url("/threads/%s/runs", threadID)
	payload := map[string]any{"assistant_id": c.agentID}
	t0 := c.now()
	data, err := c.transport.RequestJSON(ctx, http.MethodPost, u, payload, httpkit.WithCorrelationID(corr))
	if err != nil {
		return "", err
	}
	runID, _ := data["id"].(string)
	if runID == "" {
		return "", &DataError{Message: "run creation response missing id"}
	}
	slog.Info("agent.Client.StartRun: run started", "run", runID, "thread", threadID, "corr", corr, "elapsed", time.Since(t0))
	return runID, nil
}

// PollRun polls the run until it reaches a terminal status or timeout
// elapses. The poll interval starts small and grows geometrically; a
// non-200 poll goes through the transport's own retry classification.
// Timeout here is fatal and not retried.
func (c *Client) PollRun(ctx context.Context, threadID, runID string, timeout time.Duration) (RunState, error) {
	corr := newCorrelationID()
	u := c.url("/threads/%s/runs/%s", threadID, runID)
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	start := c.now()
	interval := pollInitialInterval
	slog.Info("agent.Client.PollRun: polling run", "run", runID, "thread", threadID, "timeout", timeout, "corr", corr)

	for attempt := 1; ; attempt++ {
		data, err := c.transport.RequestJSON(ctx, http.MethodGet, u, nil, httpkit.WithCorrelationID(corr))
		if err != nil {
			return RunState{}, err
		}
		state := parseRunState(data)
		slog.Debug("agent.Client.PollRun: poll result", "attempt", attempt, "status", state.Status, "corr", corr)

		// requires_action never resolves on its own: no tool outputs are
		// ever submitted, so stop polling and hand it to the caller.
		if state.Terminal() || state.Status == StatusRequiresAction {
			slog.Info("agent.Client.PollRun: run finished", "run", runID, "status", state.Status, "elapsed", c.now().Sub(start), "corr", corr)
			return state, nil
		}
		if c.now().Sub(start) > timeout {
			return RunState{}, &DataError{Message: fmt.Sprintf("run %s timed out after %s", runID, timeout), Status: state.Status}
		}
		if err := c.sleep(ctx, interval); err != nil {
			return RunState{}, fmt.Errorf("polling cancelled: %w", err)
		}
		interval = time.Duration(float64(interval) * pollGrowthFactor)
		if interval > pollMaxInterval {
			interval = pollMaxInterval
		}
	}
}

// GetMessages fetches the thread's messages, newest first. The backend may
// wrap the list in a data field or return it bare; anything else is fatal.
func (c *Client) GetMessages(ctx context.Context, threadID string) ([]map[string]any, error) {
	corr := newCorrelationID()
	u := c.url("/threads/%s/messages", threadID)
	t0 := c.now()
	data, err := c.transport.RequestJSON(ctx, http.MethodGet, u, nil, httpkit.WithCorrelationID(corr))
	if err != nil {
		return nil, err
	}

	// The backend wraps the list in a data field; the transport normalizes a
	// bare JSON array to the same shape. Anything else is a protocol error.
	items, ok := data["data"].([]any)
	if !ok {
		return nil, &DataError{Message: "unexpected messages payload shape"}
	}

	msgs := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			msgs = append(msgs, m)
		}
	}
	slog.Info("agent.Client.GetMessages: messages fetched", "thread", threadID, "count", len(msgs), "corr", corr, "elapsed", time.Since(t0))
	return msgs, nil
}

func parseRunState(data map[string]any) RunState {
	state := RunState{}
	state.ID, _ = data["id"].(string)
	state.Status, _ = data["status"].(string)
	if lastErr, ok := data["last_error"].(map[string]any); ok {
		state.ErrorCode, _ = lastErr["code"].(string)
		state.ErrorMessage, _ = lastErr["message"].(string)
	}
	return state
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
