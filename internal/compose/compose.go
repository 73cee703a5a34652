// Package compose turns a conversation result into the final outbound SMS.
//
// It owns the evergreen fallback pool, the weather-bias idea filter, and
// the fixed message layout with its character cap.
package compose

import (
	"fmt"
	"strings"

	"github.com/cityping/cityping/internal/models"
)

// MaxChars caps the outbound message length.
const MaxChars = 480

// footer closes every message.
const footer = "Ingen svar nødvendig. Skriv STOP for at framelde."

// fallbackIntro opens the message when the assistant's intro is empty.
const fallbackIntro = "Hej bande! Skal vi finde på noget snart? 😊"

// Evergreen is the static fallback pool of event ideas, used to pad or
// substitute model-sourced suggestions.
var Evergreen = []models.EventIdea{
	{Title: "Sauna + havdyp 🧖‍♂️", Where: "Islands Brygge", Kind: models.EventKind},
	{Title: "Street food 🍜", Where: "Reffen", Kind: models.EventKind},
	{Title: "Brætspilscafé 🎲", Where: "City", Kind: models.EventKind},
	{Title: "Indendørs minigolf 🎯", Where: "Nørrebro", Kind: models.EventKind},
	{Title: "Shuffleboard 🥌", Where: "Vesterbro", Kind: models.EventKind},
	{Title: "BBQ i parken 🔥", Where: "Fælledparken", Kind: models.EventKind},
}

// badWeatherIcons mark forecast days that push the bias towards indoor ideas.
var badWeatherIcons = map[string]bool{"🌧️": true, "🌦️": true, "☁️": true}

// indoorWords hint that an idea works in bad weather.
var indoorWords = []string{"indendørs", "sauna", "brætspil", "minigolf", "museum", "shuffle"}

// PickByWeather selects up to 5 ideas from the pool. When the majority of
// the forecast looks wet or grey, indoor-ish ideas are preferred; if none
// qualify the unfiltered pool is used.
func PickByWeather(ideas []models.EventIdea, forecast []models.ForecastDay) []models.EventIdea {
	bad := 0
	for _, d := range forecast {
		if badWeatherIcons[d.Icon] {
			bad++
		}
	}
	pool := ideas
	if len(forecast) > 0 && bad*2 >= len(forecast) {
		var indoor []models.EventIdea
		for _, idea := range ideas {
			if isIndoor(idea) {
				indoor = append(indoor, idea)
			}
		}
		if len(indoor) > 0 {
			pool = indoor
		}
	}
	if len(pool) > models.MaxEvents {
		pool = pool[:models.MaxEvents]
	}
	return pool
}

func isIndoor(idea models.EventIdea) bool {
	text := strings.ToLower(idea.Title + " " + idea.Where)
	for _, w := range indoorWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// FormatSMS renders the outbound message. Welcome messages use a short
// layout around the intro text; regular messages carry the weather block
// and the suggestion bullets. The result never exceeds MaxChars.
func FormatSMS(result *models.ConversationResult, ideas []models.EventIdea, welcome bool) string {
	return Truncate(Draft(result, ideas, welcome))
}

// Draft renders the message without the character cap, so callers can
// run an over-long draft through a rewriter before falling back to the
// hard cut.
func Draft(result *models.ConversationResult, ideas []models.EventIdea, welcome bool) string {
	if welcome && result.Intro != "" {
		return result.Intro + "\n" +
			"PS: Om lidt sender jeg mit første forslag 😉\n" +
			result.Signoff + "\n" +
			footer
	}

	intro := result.Intro
	if intro == "" {
		intro = fallbackIntro
	}
	lines := []string{intro, "", "Vejret:"}
	for _, d := range result.Forecast {
		lines = append(lines, fmt.Sprintf("%s %s: %d°", d.Icon, d.Label, d.TMax))
	}

	lines = append(lines, "\nForslag:")
	count := 0
	for _, idea := range ideas {
		if count == models.MaxEvents {
			break
		}
		lines = append(lines, fmt.Sprintf("• %s (%s)", idea.Title, idea.Where))
		count++
	}

	signoff := result.Signoff
	if signoff == "" {
		signoff = models.FallbackSignoff
	}
	lines = append(lines, "\n"+signoff)
	lines = append(lines, footer)
	return strings.Join(lines, "\n")
}

// Truncate cuts at MaxChars without splitting a rune.
func Truncate(s string) string {
	if len(s) <= MaxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= MaxChars {
		return s
	}
	return string(runes[:MaxChars])
}
