package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPSearcher queries a JSON search endpoint with GET ?q=<query>&limit=<n>.
// It accepts responses shaped as {"results": [...]} or {"items": [...]}
// whose elements carry title, url (or link), snippet (or description)
// and optionally published and facts.
type HTTPSearcher struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPSearcher creates an HTTPSearcher with a bounded client.
func NewHTTPSearcher(endpoint, apiKey string, timeout time.Duration) *HTTPSearcher {
	return &HTTPSearcher{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Search implements Searcher.
func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: bad endpoint %q: %v", ErrBackendUnavailable, s.Endpoint, err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("search backend rejected query: status %d", resp.StatusCode)
	}
	return parseHits(body)
}

func parseHits(body []byte) ([]SearchHit, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search backend returned invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	list := doc.Get("results")
	if !list.Exists() {
		list = doc.Get("items")
	}

	var hits []SearchHit
	list.ForEach(func(_, item gjson.Result) bool {
		h := SearchHit{
			Title:     item.Get("title").String(),
			URL:       firstString(item, "url", "link"),
			Snippet:   firstString(item, "snippet", "description", "content"),
			Published: item.Get("published").String(),
		}
		if facts := item.Get("facts"); facts.IsObject() {
			h.Facts = map[string]string{}
			facts.ForEach(func(k, v gjson.Result) bool {
				h.Facts[k.String()] = v.String()
				return true
			})
		}
		hits = append(hits, h)
		return true
	})
	return hits, nil
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
