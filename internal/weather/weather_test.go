package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cityping/cityping/internal/httpkit"
	"github.com/cityping/cityping/internal/models"
)

type bucket struct {
	at   time.Time
	cond string
	tmax float64
}

func forecastBody(buckets []bucket) map[string]any {
	list := make([]map[string]any, 0, len(buckets))
	for _, b := range buckets {
		entry := map[string]any{
			"dt":   b.at.Unix(),
			"main": map[string]any{"temp_max": b.tmax},
		}
		if b.cond != "" {
			entry["weather"] = []map[string]any{{"main": b.cond}}
		} else {
			entry["weather"] = []map[string]any{}
		}
		list = append(list, entry)
	}
	return map[string]any{"list": list}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	transport := httpkit.NewClient(httpkit.WithHTTPClient(srv.Client()))
	c, err := NewClient(transport, "test-key", WithBaseURL(srv.URL), WithTimezone(time.UTC))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestWeekForecastAggregatesBuckets(t *testing.T) {
	// Monday 2025-09-01 in UTC.
	day := func(offset, hour int) time.Time {
		return time.Date(2025, 9, 1+offset, hour, 0, 0, 0, time.UTC)
	}
	buckets := []bucket{
		{day(0, 9), "Clear", 18.4},
		{day(0, 12), "Clouds", 21.6},
		{day(0, 15), "Clear", 20.0},
		{day(1, 12), "Rain", 14.2},
		{day(2, 12), "Fog", 10.0},
		{day(3, 12), "Snow", -0.4},
		{day(4, 12), "Clear", 25.0},
	}

	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"lat":   r.URL.Query().Get("lat"),
			"lon":   r.URL.Query().Get("lon"),
			"appid": r.URL.Query().Get("appid"),
			"units": r.URL.Query().Get("units"),
			"lang":  r.URL.Query().Get("lang"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(forecastBody(buckets))
	})

	days, err := c.WeekForecast(context.Background())
	if err != nil {
		t.Fatalf("WeekForecast: %v", err)
	}

	want := []models.ForecastDay{
		{Label: "Man", Icon: "☀️", TMax: 22},
		{Label: "Tir", Icon: "🌧️", TMax: 14},
		{Label: "Ons", Icon: models.FallbackIcon, TMax: 10},
		{Label: "Tor", Icon: "❄️", TMax: 0},
	}
	if len(days) != len(want) {
		t.Fatalf("got %d days, want %d: %+v", len(days), len(want), days)
	}
	for i, d := range days {
		if d != want[i] {
			t.Errorf("day %d: got %+v, want %+v", i, d, want[i])
		}
	}

	if gotQuery["appid"] != "test-key" {
		t.Errorf("appid = %q, want test-key", gotQuery["appid"])
	}
	if gotQuery["units"] != "metric" || gotQuery["lang"] != "da" {
		t.Errorf("units/lang = %q/%q", gotQuery["units"], gotQuery["lang"])
	}
	if gotQuery["lat"] != "55.6761" || gotQuery["lon"] != "12.5683" {
		t.Errorf("lat/lon = %q/%q", gotQuery["lat"], gotQuery["lon"])
	}
}

func TestWeekForecastSkipsEntriesWithoutConditions(t *testing.T) {
	buckets := []bucket{
		{time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC), "", 30.0},
		{time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC), "Clear", 19.7},
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(forecastBody(buckets))
	})

	days, err := c.WeekForecast(context.Background())
	if err != nil {
		t.Fatalf("WeekForecast: %v", err)
	}
	if len(days) != 1 || days[0].Label != "Tir" || days[0].TMax != 20 {
		t.Fatalf("got %+v, want single Tir entry at 20", days)
	}
}

func TestWeekForecastSurfacesTransportErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid API key"}`, http.StatusUnauthorized)
	})
	if _, err := c.WeekForecast(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestNewClientValidation(t *testing.T) {
	transport := httpkit.NewClient()
	if _, err := NewClient(nil, "key"); err == nil {
		t.Error("expected error for nil transport")
	}
	if _, err := NewClient(transport, ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestDominantBreaksTiesByName(t *testing.T) {
	got := dominant(map[string]int{"Rain": 2, "Clear": 2, "Snow": 1})
	if got != "Clear" {
		t.Errorf("dominant = %q, want Clear", got)
	}
}
