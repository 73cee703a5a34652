// Package scout finds event leads for the city through web search and a
// best-effort scrape of the result pages.
package scout

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/cityping/cityping/internal/httpkit"
)

const (
	searchURL = "https://api.bing.microsoft.com/v7.0/search"

	defaultCount    = 6
	snippetMaxRunes = 300
	scrapeTimeout   = 15 * time.Second
	scrapeBodyLimit = 512 << 10
)

// Lead is one event candidate found on the web.
type Lead struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Transport issues JSON requests with retry and backoff handling.
type Transport interface {
	RequestJSON(ctx context.Context, method, rawURL string, body any, opts ...httpkit.ReqOption) (map[string]any, error)
}

// Client queries the Bing Web Search API. Result pages are fetched
// directly since they return HTML, not JSON.
type Client struct {
	transport Transport
	pages     *http.Client
	key       string
	base      string
	market    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the search endpoint. Used in tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = base }
}

// WithPageClient injects the HTTP client used for page scrapes.
func WithPageClient(h *http.Client) Option {
	return func(c *Client) { c.pages = h }
}

// WithMarket sets the search market, e.g. "da-DK".
func WithMarket(mkt string) Option {
	return func(c *Client) { c.market = mkt }
}

// NewClient creates a search client. The transport and subscription key
// are required.
func NewClient(transport Transport, key string, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("scout transport is required")
	}
	if key == "" {
		return nil, fmt.Errorf("scout subscription key is required")
	}
	c := &Client{
		transport: transport,
		pages:     &http.Client{Timeout: scrapeTimeout},
		key:       key,
		base:      searchURL,
		market:    "da-DK",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchResponse struct {
	WebPages struct {
		Value []struct {
			Name       string `json:"name"`
			URL        string `json:"url"`
			Snippet    string `json:"snippet"`
			DisplayURL string `json:"displayUrl"`
		} `json:"value"`
	} `json:"webPages"`
}

// Events searches for upcoming events around the given time phrase
// ("weekend", "i aften") and enriches snippetless results by scraping
// the page itself. Scrape failures degrade to an empty snippet.
func (c *Client) Events(ctx context.Context, forWhen string) ([]Lead, error) {
	query := fmt.Sprintf("København events %s koncerter street food markeder kalender", forWhen)
	resp, err := c.search(ctx, query, defaultCount)
	if err != nil {
		return nil, err
	}

	pages := resp.WebPages.Value
	if len(pages) > defaultCount {
		pages = pages[:defaultCount]
	}
	leads := make([]Lead, 0, len(pages))
	for _, p := range pages {
		snippet := p.Snippet
		if snippet == "" {
			snippet = c.scrape(ctx, p.URL)
		}
		leads = append(leads, Lead{Title: p.Name, Snippet: snippet, Source: p.DisplayURL})
	}
	return leads, nil
}

func (c *Client) search(ctx context.Context, query string, count int) (*searchResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("mkt", c.market)
	q.Set("count", fmt.Sprintf("%d", count))
	q.Set("safeSearch", "Moderate")

	data, err := c.transport.RequestJSON(ctx, "GET", c.base+"?"+q.Encode(), nil,
		httpkit.WithHeader("Ocp-Apim-Subscription-Key", c.key))
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	var resp searchResponse
	if err := httpkit.Decode(data, &resp); err != nil {
		return nil, fmt.Errorf("unexpected search payload: %w", err)
	}
	return &resp, nil
}

// scrape fetches a result page and condenses it to "title — first
// paragraph". Any failure returns the empty string; a missing snippet is
// never worth failing the whole scout run.
func (c *Client) scrape(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := c.pages.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, scrapeBodyLimit))
	if err != nil {
		return ""
	}
	title := firstText(doc, "title")
	if title == "" {
		title = pageURL
	}
	para := firstText(doc, "p")
	if len([]rune(para)) > snippetMaxRunes {
		para = string([]rune(para)[:snippetMaxRunes])
	}
	return title + " — " + para
}

// firstText returns the collapsed text content of the first element with
// the given tag, depth first.
func firstText(n *html.Node, tag string) string {
	if n.Type == html.ElementNode && n.Data == tag {
		var sb strings.Builder
		collectText(n, &sb)
		return strings.Join(strings.Fields(sb.String()), " ")
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if got := firstText(child, tag); got != "" {
			return got
		}
	}
	return ""
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}
