// Package weather fetches the OpenWeather 5-day forecast and condenses
// the 3-hour buckets into per-day summaries suitable for an SMS.
package weather

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/cityping/cityping/internal/dates"
	"github.com/cityping/cityping/internal/httpkit"
	"github.com/cityping/cityping/internal/models"
)

const (
	forecastURL = "https://api.openweathermap.org/data/2.5/forecast"

	// Copenhagen city centre.
	DefaultLat = 55.6761
	DefaultLon = 12.5683

	// The free forecast endpoint covers 5 days in 3-hour steps; the
	// first and last day are usually partial, so we keep 4 full days.
	maxDays = 4
)

// conditionEmoji maps OpenWeather condition groups to SMS-friendly icons.
var conditionEmoji = map[string]string{
	"Clear":        "☀️",
	"Clouds":       "☁️",
	"Rain":         "🌧️",
	"Drizzle":      "🌦️",
	"Thunderstorm": "⛈️",
	"Snow":         "❄️",
}

// Transport issues JSON requests with retry and backoff handling.
type Transport interface {
	RequestJSON(ctx context.Context, method, rawURL string, body any, opts ...httpkit.ReqOption) (map[string]any, error)
}

// Client reads forecasts for a fixed location. The transport must be
// built without a token source; OpenWeather authenticates through the
// appid query parameter.
type Client struct {
	transport Transport
	apiKey    string
	base      string
	lat, lon  float64
	loc       *time.Location
}

// Option configures a Client.
type Option func(*Client)

// WithLocation sets the coordinates used for forecast lookups.
func WithLocation(lat, lon float64) Option {
	return func(c *Client) {
		c.lat = lat
		c.lon = lon
	}
}

// WithTimezone sets the timezone used to bucket forecast entries by day.
func WithTimezone(loc *time.Location) Option {
	return func(c *Client) {
		c.loc = loc
	}
}

// WithBaseURL overrides the forecast endpoint. Used in tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.base = base
	}
}

// NewClient creates a forecast client. The transport and API key are
// required.
func NewClient(transport Transport, apiKey string, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("weather transport is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("weather API key is required")
	}
	c := &Client{
		transport: transport,
		apiKey:    apiKey,
		lat:       DefaultLat,
		lon:       DefaultLon,
		loc:       time.UTC,
		base:      forecastURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMax float64 `json:"temp_max"`
		} `json:"main"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	} `json:"list"`
}

type dayBucket struct {
	max    float64
	counts map[string]int
}

// WeekForecast returns per-day summaries for the next few days: the
// Danish day label, a condition icon and the rounded maximum
// temperature. Days appear in forecast order.
func (c *Client) WeekForecast(ctx context.Context) ([]models.ForecastDay, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", c.lat))
	q.Set("lon", fmt.Sprintf("%g", c.lon))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "da")

	data, err := c.transport.RequestJSON(ctx, "GET", c.base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}

	var resp forecastResponse
	if err := httpkit.Decode(data, &resp); err != nil {
		return nil, fmt.Errorf("unexpected forecast payload: %w", err)
	}

	byDay := make(map[string]*dayBucket)
	var order []string
	for _, item := range resp.List {
		if len(item.Weather) == 0 {
			continue
		}
		t := time.Unix(item.Dt, 0).In(c.loc)
		day := dates.DayName(t.Weekday())
		b, ok := byDay[day]
		if !ok {
			b = &dayBucket{max: math.Inf(-1), counts: make(map[string]int)}
			byDay[day] = b
			order = append(order, day)
		}
		if item.Main.TempMax > b.max {
			b.max = item.Main.TempMax
		}
		b.counts[item.Weather[0].Main]++
	}

	if len(order) > maxDays {
		order = order[:maxDays]
	}
	days := make([]models.ForecastDay, 0, len(order))
	for _, day := range order {
		b := byDay[day]
		icon, ok := conditionEmoji[dominant(b.counts)]
		if !ok {
			icon = models.FallbackIcon
		}
		days = append(days, models.ForecastDay{
			Label: day,
			Icon:  icon,
			TMax:  int(math.Round(b.max)),
		})
	}
	return days, nil
}

// dominant returns the condition with the highest bucket count. Ties
// break on the condition name so the result stays deterministic.
func dominant(counts map[string]int) string {
	var best string
	bestN := -1
	for cond, n := range counts {
		if n > bestN || (n == bestN && cond < best) {
			best = cond
			bestN = n
		}
	}
	return best
}
