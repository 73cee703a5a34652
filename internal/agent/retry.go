package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"
)

// rateHintRe pulls the "try again in N seconds" hint out of the backend's
// rate-limit error message.
var rateHintRe = regexp.MustCompile(`(?i)(\d+)\s*seconds`)

// RetryPolicy controls the run-level retry loop.
type RetryPolicy struct {
	MaxAttempts  int
	InitialWait  time.Duration
	EscalateStep time.Duration
	MaxWait      time.Duration
	PollTimeout  time.Duration
}

// DefaultRetryPolicy mirrors the backend's observed rate-limit cadence.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialWait:  20 * time.Second,
		EscalateStep: 10 * time.Second,
		MaxWait:      90 * time.Second,
		PollTimeout:  DefaultPollTimeout,
	}
}

// retryWait parses the server's wait hint from a rate-limit message,
// falling back to the policy's initial wait.
func retryWait(msg string, fallback time.Duration) time.Duration {
	m := rateHintRe.FindStringSubmatch(msg)
	if m == nil {
		return fallback
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// RunWithRetry drives runs on one thread until a run completes. On a
// rate-limited failure it waits (honoring the server's hint, escalating
// across repeated hits) and starts a new run on the same thread. Any other
// terminal failure, and a run demanding tool execution, is fatal.
func (c *Client) RunWithRetry(ctx context.Context, threadID string, policy RetryPolicy) (RunState, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	var wait time.Duration
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if wait > 0 {
			slog.Warn("agent.Client.RunWithRetry: sleeping before new run", "wait", wait, "attempt", attempt, "max_attempts", policy.MaxAttempts, "thread", threadID)
			if err := c.sleep(ctx, wait); err != nil {
				return RunState{}, dataErrorf("retry wait cancelled: %v", err)
			}
		}

		slog.Info("agent.Client.RunWithRetry: starting run", "attempt", attempt, "max_attempts", policy.MaxAttempts, "thread", threadID)
		runID, err := c.StartRun(ctx, threadID)
		if err != nil {
			return RunState{}, err
		}

		state, err := c.PollRun(ctx, threadID, runID, policy.PollTimeout)
		if err != nil {
			return RunState{}, err
		}
		slog.Info("agent.Client.RunWithRetry: run finished", "status", state.Status, "thread", threadID, "run", runID)

		switch {
		case state.Status == StatusCompleted:
			return state, nil

		case state.Status == StatusRequiresAction:
			slog.Error("agent.Client.RunWithRetry: run requires tool action but no tool handling exists", "thread", threadID, "run", runID)
			return RunState{}, &DataError{Message: "run requires_action (tool not handled)", Status: state.Status}

		case state.Status == StatusFailed && state.ErrorCode == CodeRateLimited:
			hint := retryWait(state.ErrorMessage, policy.InitialWait)
			wait = hint + time.Duration(attempt-1)*policy.EscalateStep
			if wait > policy.MaxWait {
				wait = policy.MaxWait
			}
			slog.Warn("agent.Client.RunWithRetry: rate limited", "message", state.ErrorMessage, "next_wait", wait, "attempt", attempt, "thread", threadID)

		default:
			slog.Error("agent.Client.RunWithRetry: run failed", "status", state.Status, "code", state.ErrorCode, "message", state.ErrorMessage, "thread", threadID)
			return RunState{}, &DataError{Message: "run failed: " + state.ErrorMessage, Status: state.Status, Code: state.ErrorCode}
		}
	}

	return RunState{}, &DataError{Message: "gave up after repeated rate limits", Code: CodeRateLimited}
}
