package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cityping/cityping/internal/dates"
	"github.com/cityping/cityping/internal/models"
)

// Conversation is the protocol surface the flow drives. *Client satisfies
// it; tests substitute scripted implementations.
type Conversation interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, role, content string) (map[string]any, error)
	RunWithRetry(ctx context.Context, threadID string, policy RetryPolicy) (RunState, error)
	GetMessages(ctx context.Context, threadID string) ([]map[string]any, error)
}

// FlowOpts holds configuration options for the conversation flow.
type FlowOpts struct {
	Client      Conversation
	Location    *time.Location
	Preferences string
	Retry       RetryPolicy
}

// FlowOption defines a configuration option for the conversation flow.
type FlowOption func(*FlowOpts)

// WithClient injects the protocol client.
func WithClient(c Conversation) FlowOption {
	return func(o *FlowOpts) { o.Client = c }
}

// WithLocation sets the time zone the day window is computed in.
func WithLocation(loc *time.Location) FlowOption {
	return func(o *FlowOpts) { o.Location = loc }
}

// WithPreferences sets the event-preference hint embedded in the prompt.
func WithPreferences(prefs string) FlowOption {
	return func(o *FlowOpts) { o.Preferences = prefs }
}

// WithRetryPolicy overrides the run retry policy.
func WithRetryPolicy(p RetryPolicy) FlowOption {
	return func(o *FlowOpts) { o.Retry = p }
}

// Flow builds the day-labeled prompt, drives one thread through the
// protocol, and validates the assistant's answer into a ConversationResult.
type Flow struct {
	client Conversation
	loc    *time.Location
	prefs  string
	retry  RetryPolicy
	now    func() time.Time
}

// NewFlow creates a conversation flow.
func NewFlow(opts ...FlowOption) (*Flow, error) {
	cfg := FlowOpts{Preferences: "koncerter, street food, markeder, udendørs aktiviteter", Retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("conversation client must be provided")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Flow{client: cfg.Client, loc: cfg.Location, prefs: cfg.Preferences, retry: cfg.Retry, now: time.Now}, nil
}

// FindIntroWeatherEvents runs one full conversation and returns the
// validated result. When welcome is true only a short greeting is
// requested and the forecast/event fields stay empty.
//
// The day window is the next 7 days starting today in the configured zone.
// Every failure crossing out of here is fatal for the current send cycle.
func (f *Flow) FindIntroWeatherEvents(ctx context.Context, welcome bool) (*models.ConversationResult, error) {
	t0 := f.now()
	now := t0.In(f.loc)
	labelsPrompt := dates.LabelsWithDates(now)
	labelsSMS := dates.LabelsWithoutDates(now)

	prompt := buildPrompt(labelsPrompt, f.prefs)
	if welcome {
		prompt = welcomePrompt
	}
	slog.Info("agent.Flow.FindIntroWeatherEvents: starting conversation", "welcome", welcome, "labels", strings.Join(labelsPrompt, ","))

	threadID, err := f.client.CreateThread(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := f.client.PostMessage(ctx, threadID, "user", prompt); err != nil {
		return nil, err
	}

	state, err := f.client.RunWithRetry(ctx, threadID, f.retry)
	if err != nil {
		return nil, err
	}
	if state.Status != StatusCompleted {
		return nil, &DataError{Message: "run did not complete", Status: state.Status}
	}

	msgs, err := f.client.GetMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if welcome {
		text := strings.TrimSpace(newestAssistantContent(msgs))
		if text == "" {
			return nil, &DataError{Message: "assistant returned no welcome text"}
		}
		slog.Info("agent.Flow.FindIntroWeatherEvents: welcome text ready", "chars", len(text), "elapsed", f.now().Sub(t0))
		return &models.ConversationResult{Intro: text, Signoff: models.FallbackSignoff}, nil
	}

	data := ExtractJSON(msgs)
	if len(data) == 0 {
		return nil, &DataError{Message: "assistant did not return valid JSON"}
	}

	result, err := validate(data, labelsPrompt, labelsSMS)
	if err != nil {
		return nil, err
	}
	slog.Info("agent.Flow.FindIntroWeatherEvents: success",
		"intro_chars", len(result.Intro), "forecast", len(result.Forecast), "events", len(result.Events), "signoff_chars", len(result.Signoff), "elapsed", f.now().Sub(t0))
	return result, nil
}

// validate normalizes the raw extraction into a ConversationResult. The
// forecast must cover every requested label exactly once; kept days are
// relabeled positionally with the date-free variants for the outbound SMS.
func validate(data map[string]any, want, smsLabels []string) (*models.ConversationResult, error) {
	intro := strings.TrimSpace(stringField(data, "intro"))
	signoff := strings.TrimSpace(stringField(data, "signoff"))
	if signoff == "" {
		signoff = models.FallbackSignoff
	}

	wanted := make(map[string]bool, len(want))
	for _, lab := range want {
		wanted[lab] = true
	}

	seen := make(map[string]bool)
	var forecast []models.ForecastDay
	rawForecast, _ := data["forecast"].([]any)
	for _, item := range rawForecast {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label := strings.TrimSpace(FlattenContent(entry["label"]))
		if !wanted[label] || seen[label] {
			slog.Debug("agent.validate: skipping forecast entry", "label", label)
			continue
		}
		tmax, err := coerceInt(entry["tmax"])
		if err != nil {
			slog.Error("agent.validate: tmax is not an integer", "label", label, "tmax", entry["tmax"])
			return nil, dataErrorf("tmax is not an integer for %s", label)
		}
		icon := strings.TrimSpace(stringField(entry, "icon"))
		if icon == "" {
			icon = models.FallbackIcon
		}
		forecast = append(forecast, models.ForecastDay{Label: label, Icon: icon, TMax: tmax})
		seen[label] = true
	}

	if len(forecast) != len(want) {
		var missing []string
		for _, lab := range want {
			if !seen[lab] {
				missing = append(missing, lab)
			}
		}
		slog.Error("agent.validate: forecast incomplete", "missing", strings.Join(missing, ","))
		return nil, &DataError{Message: "forecast incomplete", Missing: missing}
	}
	// Swap in the date-free labels, positionally.
	for i := range forecast {
		forecast[i].Label = smsLabels[i]
	}

	// At most the first 5 raw entries are considered; titleless ones among
	// them are dropped, not replaced.
	rawEvents, _ := data["events"].([]any)
	if len(rawEvents) > models.MaxEvents {
		rawEvents = rawEvents[:models.MaxEvents]
	}
	var events []models.EventIdea
	for _, item := range rawEvents {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := strings.TrimSpace(stringField(entry, "title"))
		if title == "" {
			slog.Debug("agent.validate: skipping event without title")
			continue
		}
		where := strings.TrimSpace(stringField(entry, "where"))
		if where == "" {
			where = models.FallbackVenue
		}
		events = append(events, models.EventIdea{Title: title, Where: where, Kind: models.EventKind})
	}

	return &models.ConversationResult{Intro: intro, Forecast: forecast, Events: events, Signoff: signoff}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// coerceInt converts the assistant's temperature value into an int. JSON
// numbers truncate; numeric strings parse; absence defaults to 20 degrees.
func coerceInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 20, nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, err
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported tmax type %T", v)
	}
}
