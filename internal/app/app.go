// Package app wires the bot's components and drives the send cycle.
//
// A cycle (Tick) checks the send gates in priority order: welcome first,
// then the first suggestion, then the regular cadence. At most one
// message goes out per cycle, and state flags are only written after a
// successful broadcast.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cityping/cityping/internal/compose"
	"github.com/cityping/cityping/internal/messaging"
	"github.com/cityping/cityping/internal/models"
	"github.com/cityping/cityping/internal/scheduler"
	"github.com/cityping/cityping/internal/store"
)

// ConversationFlow produces the intro/weather/events payload.
type ConversationFlow interface {
	FindIntroWeatherEvents(ctx context.Context, welcome bool) (*models.ConversationResult, error)
}

// Shortener rewrites an over-long SMS under a character budget.
type Shortener interface {
	Shorten(ctx context.Context, body string, maxChars int) (string, error)
}

// App holds the wired components. Shortener may be nil; the composer's
// hard truncation then caps over-long drafts.
type App struct {
	Store      store.Store
	Flow       ConversationFlow
	Sender     messaging.Sender
	Gates      *scheduler.Gates
	Shortener  Shortener
	Recipients []string

	now func() time.Time
}

// Option configures an App.
type Option func(*App)

// WithShortener attaches the optional SMS rewriter.
func WithShortener(s Shortener) Option {
	return func(a *App) { a.Shortener = s }
}

// WithClock overrides the wall clock, typically to pin the local timezone.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New validates the wiring and returns a ready App.
func New(st store.Store, flow ConversationFlow, sender messaging.Sender, gates *scheduler.Gates, recipients []string, opts ...Option) (*App, error) {
	if st == nil || flow == nil || sender == nil || gates == nil {
		return nil, fmt.Errorf("store, flow, sender and gates are required")
	}
	if len(recipients) == 0 {
		return nil, models.ErrNoRecipients
	}
	a := &App{
		Store:      st,
		Flow:       flow,
		Sender:     sender,
		Gates:      gates,
		Recipients: recipients,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Tick runs one send cycle. A cycle where no gate opens is a no-op, not
// an error.
func (a *App) Tick(ctx context.Context) error {
	now := a.now()

	ok, err := a.Gates.ShouldSendWelcome()
	if err != nil {
		return fmt.Errorf("app.Tick: welcome gate: %w", err)
	}
	if ok {
		return a.sendWelcome(ctx, now)
	}

	ok, err = a.Gates.ShouldSendFirstSuggestion(now)
	if err != nil {
		return fmt.Errorf("app.Tick: first-suggestion gate: %w", err)
	}
	if ok {
		return a.sendSuggestion(ctx, now, store.FlagFirst)
	}

	ok, err = a.Gates.ShouldSendRegular(now)
	if err != nil {
		return fmt.Errorf("app.Tick: regular gate: %w", err)
	}
	if ok {
		return a.sendSuggestion(ctx, now, "")
	}

	slog.Debug("app.Tick: no gate open, nothing to send")
	return nil
}

func (a *App) sendWelcome(ctx context.Context, now time.Time) error {
	slog.Info("app.sendWelcome: generating welcome message")
	result, err := a.Flow.FindIntroWeatherEvents(ctx, true)
	if err != nil {
		return fmt.Errorf("app.sendWelcome: %w", err)
	}

	body := a.finalize(ctx, compose.Draft(result, nil, true))
	if err := messaging.Broadcast(a.Sender, a.Recipients, body); err != nil {
		return fmt.Errorf("app.sendWelcome: %w", err)
	}

	if err := a.Store.SetFlag(store.FlagWelcome, true); err != nil {
		return fmt.Errorf("app.sendWelcome: record flag: %w", err)
	}
	if err := a.Store.SetLastSent(now); err != nil {
		return fmt.Errorf("app.sendWelcome: record last sent: %w", err)
	}
	slog.Info("app.sendWelcome: welcome sent", "recipients", len(a.Recipients))
	return nil
}

func (a *App) sendSuggestion(ctx context.Context, now time.Time, flag string) error {
	slog.Info("app.sendSuggestion: generating suggestion message", "first", flag != "")
	result, err := a.Flow.FindIntroWeatherEvents(ctx, false)
	if err != nil {
		return fmt.Errorf("app.sendSuggestion: %w", err)
	}

	pool := make([]models.EventIdea, 0, len(result.Events)+len(compose.Evergreen))
	pool = append(pool, result.Events...)
	pool = append(pool, compose.Evergreen...)
	ideas := compose.PickByWeather(pool, result.Forecast)

	body := a.finalize(ctx, compose.Draft(result, ideas, false))
	if err := messaging.Broadcast(a.Sender, a.Recipients, body); err != nil {
		return fmt.Errorf("app.sendSuggestion: %w", err)
	}

	if flag != "" {
		if err := a.Store.SetFlag(flag, true); err != nil {
			return fmt.Errorf("app.sendSuggestion: record flag: %w", err)
		}
	}
	if err := a.Store.SetLastSent(now); err != nil {
		return fmt.Errorf("app.sendSuggestion: record last sent: %w", err)
	}
	slog.Info("app.sendSuggestion: suggestion sent", "recipients", len(a.Recipients), "ideas", len(ideas))
	return nil
}

// finalize fits a draft under the character cap. An available shortener
// gets the first try; hard truncation is the fallback either way.
func (a *App) finalize(ctx context.Context, draft string) string {
	if len([]rune(draft)) <= compose.MaxChars {
		return draft
	}
	if a.Shortener != nil {
		short, err := a.Shortener.Shorten(ctx, draft, compose.MaxChars)
		if err != nil {
			slog.Warn("app.finalize: shortener failed, truncating", "error", err)
		} else {
			draft = short
		}
	}
	return compose.Truncate(draft)
}
