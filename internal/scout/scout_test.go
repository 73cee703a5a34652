package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cityping/cityping/internal/httpkit"
)

func searchBody(pages []map[string]any) map[string]any {
	return map[string]any{"webPages": map[string]any{"value": pages}}
}

func newTestClient(t *testing.T, search http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(search)
	t.Cleanup(srv.Close)
	transport := httpkit.NewClient(httpkit.WithHTTPClient(srv.Client()))
	c, err := NewClient(transport, "sub-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEventsReturnsLeads(t *testing.T) {
	var gotKey, gotQuery, gotMkt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotQuery = r.URL.Query().Get("q")
		gotMkt = r.URL.Query().Get("mkt")
		json.NewEncoder(w).Encode(searchBody([]map[string]any{
			{"name": "Jazzfestival", "url": "https://a.example", "snippet": "Koncerter hele ugen", "displayUrl": "a.example"},
			{"name": "Madmarked", "url": "https://b.example", "snippet": "Street food ved havnen", "displayUrl": "b.example"},
		}))
	})

	leads, err := c.Events(context.Background(), "weekend")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("got %d leads, want 2", len(leads))
	}
	if leads[0].Title != "Jazzfestival" || leads[0].Snippet != "Koncerter hele ugen" || leads[0].Source != "a.example" {
		t.Errorf("lead 0 = %+v", leads[0])
	}

	if gotKey != "sub-key" {
		t.Errorf("subscription key header = %q", gotKey)
	}
	if !strings.Contains(gotQuery, "København events weekend") {
		t.Errorf("query = %q", gotQuery)
	}
	if gotMkt != "da-DK" {
		t.Errorf("mkt = %q", gotMkt)
	}
}

func TestEventsScrapesWhenSnippetMissing(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Kulturnat 2025</title></head>`+
			`<body><div><p>Åben  nat i  byens museer.</p><p>Senere afsnit.</p></div></body></html>`)
	}))
	defer page.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchBody([]map[string]any{
			{"name": "Kulturnat", "url": page.URL, "snippet": "", "displayUrl": "kulturnat.example"},
		}))
	})
	c.pages = page.Client()

	leads, err := c.Events(context.Background(), "fredag")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	want := "Kulturnat 2025 — Åben nat i byens museer."
	if len(leads) != 1 || leads[0].Snippet != want {
		t.Fatalf("got %+v, want snippet %q", leads, want)
	}
}

func TestEventsToleratesScrapeFailure(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer page.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchBody([]map[string]any{
			{"name": "Forsvundet", "url": page.URL, "snippet": "", "displayUrl": "x.example"},
		}))
	})
	c.pages = page.Client()

	leads, err := c.Events(context.Background(), "weekend")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(leads) != 1 || leads[0].Snippet != "" {
		t.Fatalf("got %+v, want one lead with empty snippet", leads)
	}
}

func TestEventsCapsResultCount(t *testing.T) {
	var pages []map[string]any
	for i := 0; i < 10; i++ {
		pages = append(pages, map[string]any{
			"name": fmt.Sprintf("Event %d", i), "url": "https://x.example",
			"snippet": "noget", "displayUrl": "x.example",
		})
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchBody(pages))
	})

	leads, err := c.Events(context.Background(), "weekend")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(leads) != defaultCount {
		t.Fatalf("got %d leads, want %d", len(leads), defaultCount)
	}
}

func TestNewClientValidation(t *testing.T) {
	transport := httpkit.NewClient()
	if _, err := NewClient(nil, "key"); err == nil {
		t.Error("expected error for nil transport")
	}
	if _, err := NewClient(transport, ""); err == nil {
		t.Error("expected error for empty key")
	}
}
