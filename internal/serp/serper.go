package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultSerperBaseURL = "https://google.serper.dev"

// Serper is the google.serper.dev adapter (https://serper.dev/).
type Serper struct {
	APIKey   string
	BaseURL  string
	Client   *HTTPClient
	Country  string
	Language string
}

func (s *Serper) Name() string { return string(SerperProvider) }

// SerperCredits is what Serper charges for one request returning num results.
func SerperCredits(num int) int {
	if num <= 10 {
		return 1
	}
	return 2
}

func (s *Serper) endpoint(kind string) string {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = defaultSerperBaseURL
	}
	switch kind {
	case TypeScholar:
		return base + "/scholar"
	case TypeNews:
		return base + "/news"
	default:
		return base + "/search"
	}
}

func (s *Serper) Search(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, fmt.Errorf("serper: empty query")
	}
	num := req.Num
	if num <= 0 {
		num = 10
	}
	if num > 100 {
		num = 100
	}
	payload := map[string]any{"q": req.Query, "num": num}
	if req.Page > 1 {
		payload["page"] = req.Page
	}
	if gl := firstNonEmpty(req.Country, s.Country); gl != "" {
		payload["gl"] = gl
	}
	if hl := firstNonEmpty(req.Language, s.Language); hl != "" {
		payload["hl"] = hl
	}

	client := s.Client
	if client == nil {
		client = NewHTTPClient(0, 0, 0)
	}
	body, err := client.Do(ctx, http.MethodPost, s.endpoint(req.Type), map[string]string{"X-API-KEY": s.APIKey}, payload)
	if err != nil {
		return Response{}, fmt.Errorf("serper: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Response{}, fmt.Errorf("serper: invalid json response")
	}
	return parseSerper(body, req.Type, num), nil
}

func parseSerper(body []byte, kind string, num int) Response {
	doc := gjson.ParseBytes(body)
	items := doc.Get("organic")
	if kind == TypeNews {
		items = doc.Get("news")
	}

	resp := Response{Raw: json.RawMessage(body)}
	items.ForEach(func(_, item gjson.Result) bool {
		link := item.Get("link").String()
		if link == "" {
			return true
		}
		pos := int(item.Get("position").Int())
		if pos == 0 {
			pos = len(resp.Results) + 1
		}
		date := item.Get("date").String()
		if date == "" {
			date = item.Get("year").String()
		}
		resp.Results = append(resp.Results, Result{
			Position:    pos,
			Title:       item.Get("title").String(),
			Link:        link,
			Snippet:     item.Get("snippet").String(),
			DisplayLink: displayLink(link),
			Date:        date,
			Raw:         json.RawMessage(item.Raw),
		})
		return true
	})

	if c := doc.Get("credits"); c.Exists() {
		resp.Credits = int(c.Int())
	} else {
		resp.Credits = SerperCredits(num)
	}
	return resp
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
