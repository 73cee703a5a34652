package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cityping/cityping/internal/httpkit"
)

// newTestClient wires a protocol client against a local backend with
// instant sleeps and a fake clock that advances one second per reading.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transport := httpkit.NewClient(httpkit.WithHTTPClient(srv.Client()))
	c, err := NewClient(
		WithTransport(transport),
		WithEndpoint(srv.URL),
		WithAPIVersion("2025-05-01"),
		WithAgentID("asst_test"),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var mu sync.Mutex
	tick := 0
	base := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestCreateThread(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2025-05-01" {
			t.Errorf("missing api-version query parameter")
		}
		writeJSON(w, map[string]any{"id": "thread_123"})
	}))

	id, err := c.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if id != "thread_123" {
		t.Errorf("expected thread_123, got %q", id)
	}
}

func TestCreateThreadMissingID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"object": "thread"})
	}))

	if _, err := c.CreateThread(context.Background()); err == nil {
		t.Fatal("expected error when response lacks id")
	}
}

func TestStartRunSendsAgentID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["assistant_id"] != "asst_test" {
			t.Errorf("expected assistant_id asst_test, got %v", body["assistant_id"])
		}
		writeJSON(w, map[string]any{"id": "run_1"})
	}))

	runID, err := c.StartRun(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if runID != "run_1" {
		t.Errorf("expected run_1, got %q", runID)
	}
}

func TestPollRunReturnsTerminalState(t *testing.T) {
	var polls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			writeJSON(w, map[string]any{"id": "run_1", "status": "in_progress"})
			return
		}
		writeJSON(w, map[string]any{
			"id": "run_1", "status": "failed",
			"last_error": map[string]any{"code": "rate_limit_exceeded", "message": "Try again in 12 seconds"},
		})
	}))

	state, err := c.PollRun(context.Background(), "thread_1", "run_1", time.Minute)
	if err != nil {
		t.Fatalf("PollRun failed: %v", err)
	}
	if state.Status != StatusFailed || state.ErrorCode != CodeRateLimited {
		t.Errorf("unexpected state: %+v", state)
	}
	if state.ErrorMessage != "Try again in 12 seconds" {
		t.Errorf("unexpected error message: %q", state.ErrorMessage)
	}
	if polls != 3 {
		t.Errorf("expected 3 polls, got %d", polls)
	}
}

func TestPollRunStopsOnRequiresAction(t *testing.T) {
	var polls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		writeJSON(w, map[string]any{"id": "run_1", "status": "requires_action"})
	}))

	state, err := c.PollRun(context.Background(), "thread_1", "run_1", time.Minute)
	if err != nil {
		t.Fatalf("PollRun failed: %v", err)
	}
	if state.Status != StatusRequiresAction {
		t.Errorf("unexpected state: %+v", state)
	}
	if polls != 1 {
		t.Errorf("expected polling to stop on the first requires_action, got %d polls", polls)
	}
}

func TestPollRunTimesOut(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "run_1", "status": "in_progress"})
	}))

	// The fake clock advances one second per reading, so a short timeout
	// elapses after a few polls.
	_, err := c.PollRun(context.Background(), "thread_1", "run_1", 5*time.Second)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DataError, got %T: %v", err, err)
	}
}

func TestGetMessagesWrappedList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []any{
			map[string]any{"role": "assistant", "content": "hi"},
			map[string]any{"role": "user", "content": "hello"},
		}})
	}))

	msgs, err := c.GetMessages(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0]["role"] != "assistant" {
		t.Errorf("expected newest-first assistant message, got %v", msgs[0]["role"])
	}
}

func TestGetMessagesBareList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{"role": "assistant", "content": "hi"}})
	}))

	msgs, err := c.GetMessages(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("GetMessages failed on bare list: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}
}

func TestGetMessagesBadShape(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": "not a list"})
	}))

	if _, err := c.GetMessages(context.Background(), "thread_1"); err == nil {
		t.Fatal("expected error for malformed messages payload")
	}
}

func TestNewClientValidation(t *testing.T) {
	transport := httpkit.NewClient()
	if _, err := NewClient(WithEndpoint("https://x"), WithAgentID("a")); err == nil {
		t.Error("expected error without transport")
	}
	if _, err := NewClient(WithTransport(transport), WithAgentID("a")); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewClient(WithTransport(transport), WithEndpoint("https://x")); err == nil {
		t.Error("expected error without agent id")
	}
}
