// Package serp talks to external search engine result page providers.
package serp

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/thesisgrey/config"
)

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// Search verticals. They mirror the strategy search types.
const (
	TypeSearch  = "google"
	TypeScholar = "scholar"
	TypeNews    = "news"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// ErrMissingAPIKey is returned when the selected provider has no key configured.
var ErrMissingAPIKey = errors.New("search provider api key not configured")

// Request is a single provider call.
type Request struct {
	Query    string
	Num      int
	Page     int
	Type     string
	Country  string
	Language string
}

// Result is one organic hit. Raw holds the provider's item verbatim.
type Result struct {
	Position    int             `json:"position"`
	Title       string          `json:"title"`
	Link        string          `json:"link"`
	Snippet     string          `json:"snippet"`
	DisplayLink string          `json:"display_link"`
	Date        string          `json:"date,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Response carries the hits and the credits charged for the call.
type Response struct {
	Results []Result
	Credits int
	Raw     json.RawMessage
}

// Searcher is implemented by every provider adapter.
type Searcher interface {
	Name() string
	Search(ctx context.Context, req Request) (Response, error)
}

// NewSearcher resolves the configured provider.
func NewSearcher(cfg config.SerpConfig, client *HTTPClient) (Searcher, error) {
	if client == nil {
		client = NewHTTPClient(cfg.Timeout, cfg.MaxRetries, cfg.Backoff)
	}
	switch Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case SerperProvider, "":
		if cfg.SerperAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return &Serper{APIKey: cfg.SerperAPIKey, BaseURL: cfg.SerperBaseURL, Client: client, Country: cfg.Country, Language: cfg.Language}, nil
	case BraveProvider:
		if cfg.BraveAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return &Brave{APIKey: cfg.BraveAPIKey, BaseURL: cfg.BraveBaseURL, Client: client, Country: cfg.Country, Language: cfg.Language}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

func displayLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
