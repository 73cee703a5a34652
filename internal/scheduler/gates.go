package scheduler

import (
	"log/slog"
	"time"

	"github.com/cityping/cityping/internal/store"
)

// Defaults for the gate checks.
const (
	DefaultSendWeekday  = time.Sunday
	DefaultSendHour     = 10
	DefaultIntervalDays = 7
	DefaultWelcomeDelay = 5 * time.Minute

	// sendWindowMinutes keeps the regular gate open for one scheduler tick.
	sendWindowMinutes = 15
)

// Gates decides, from the persisted flags and the wall clock, which kind
// of message the current cycle should send.
type Gates struct {
	Store        store.Store
	SendWeekday  time.Weekday
	SendHour     int
	IntervalDays int
	WelcomeDelay time.Duration
}

// NewGates creates gate checks with the default cadence.
func NewGates(st store.Store) *Gates {
	return &Gates{
		Store:        st,
		SendWeekday:  DefaultSendWeekday,
		SendHour:     DefaultSendHour,
		IntervalDays: DefaultIntervalDays,
		WelcomeDelay: DefaultWelcomeDelay,
	}
}

// ShouldSendWelcome is true until the one-time welcome has gone out.
func (g *Gates) ShouldSendWelcome() (bool, error) {
	sent, err := g.Store.Flag(store.FlagWelcome)
	if err != nil {
		return false, err
	}
	return !sent, nil
}

// ShouldSendFirstSuggestion is true once the welcome is out, the first
// suggestion is not, and the configured delay since the welcome send has
// elapsed.
func (g *Gates) ShouldSendFirstSuggestion(now time.Time) (bool, error) {
	welcome, err := g.Store.Flag(store.FlagWelcome)
	if err != nil {
		return false, err
	}
	first, err := g.Store.Flag(store.FlagFirst)
	if err != nil {
		return false, err
	}
	last, ok, err := g.Store.LastSent()
	if err != nil {
		return false, err
	}
	return welcome && !first && ok && !now.Before(last.Add(g.WelcomeDelay)), nil
}

// ShouldSendRegular is true on the configured weekday, within the first
// quarter of the configured hour, once enough days have passed since the
// last send. A missing last-sent timestamp sends immediately.
func (g *Gates) ShouldSendRegular(now time.Time) (bool, error) {
	first, err := g.Store.Flag(store.FlagFirst)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}
	last, ok, err := g.Store.LastSent()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	correctDay := now.Weekday() == g.SendWeekday
	correctHour := now.Hour() == g.SendHour && now.Minute() < sendWindowMinutes
	enoughDays := now.Sub(last) >= time.Duration(g.IntervalDays)*24*time.Hour
	decision := correctDay && correctHour && enoughDays
	slog.Debug("scheduler.Gates.ShouldSendRegular: evaluated",
		"correct_day", correctDay, "correct_hour", correctHour, "enough_days", enoughDays, "decision", decision)
	return decision, nil
}
