package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultBraveBaseURL = "https://api.search.brave.com/res/v1"
	braveMaxCount       = 20
)

// Brave is the Brave web search adapter. Every request costs one credit.
type Brave struct {
	APIKey   string
	BaseURL  string
	Client   *HTTPClient
	Country  string
	Language string
}

func (b *Brave) Name() string { return string(BraveProvider) }

func (b *Brave) Search(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, fmt.Errorf("brave: empty query")
	}
	count := req.Num
	if count <= 0 || count > braveMaxCount {
		count = braveMaxCount
	}
	base := strings.TrimRight(b.BaseURL, "/")
	if base == "" {
		base = defaultBraveBaseURL
	}
	path := "/web/search"
	if req.Type == TypeNews {
		path = "/news/search"
	}

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("count", strconv.Itoa(count))
	if req.Page > 1 {
		q.Set("offset", strconv.Itoa(req.Page-1))
	}
	if c := firstNonEmpty(req.Country, b.Country); c != "" {
		q.Set("country", c)
	}
	if l := firstNonEmpty(req.Language, b.Language); l != "" {
		q.Set("search_lang", l)
	}

	client := b.Client
	if client == nil {
		client = NewHTTPClient(0, 0, 0)
	}
	body, err := client.Do(ctx, http.MethodGet, base+path+"?"+q.Encode(), map[string]string{"X-Subscription-Token": b.APIKey}, nil)
	if err != nil {
		return Response{}, fmt.Errorf("brave: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Response{}, fmt.Errorf("brave: invalid json response")
	}

	doc := gjson.ParseBytes(body)
	items := doc.Get("web.results")
	if req.Type == TypeNews {
		items = doc.Get("results")
	}
	resp := Response{Credits: 1, Raw: json.RawMessage(body)}
	items.ForEach(func(_, item gjson.Result) bool {
		link := item.Get("url").String()
		if link == "" {
			return true
		}
		date := item.Get("page_age").String()
		if date == "" {
			date = item.Get("age").String()
		}
		resp.Results = append(resp.Results, Result{
			Position:    len(resp.Results) + 1,
			Title:       item.Get("title").String(),
			Link:        link,
			Snippet:     item.Get("description").String(),
			DisplayLink: displayLink(link),
			Date:        date,
			Raw:         json.RawMessage(item.Raw),
		})
		return true
	})
	return resp, nil
}
