package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Hit is one raw search engine result, before scraping.
type Hit struct {
	URL        string
	DisplayURL string
	Title      string
	Snippet    string
}

// WebSearcher issues a single query against a search engine.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// GoogleCSE implements WebSearcher over the Google Custom Search API.
type GoogleCSE struct {
	apiKey   string
	engineID string
	baseURL  string
	client   *http.Client
}

const googleCSEURL = "https://www.googleapis.com/customsearch/v1"

// NewGoogleCSE builds the searcher. An empty baseURL uses the public API.
func NewGoogleCSE(apiKey, engineID, baseURL string) *GoogleCSE {
	if baseURL == "" {
		baseURL = googleCSEURL
	}
	return &GoogleCSE{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type cseResponse struct {
	Items []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		DisplayLink string `json:"displayLink"`
		Snippet     string `json:"snippet"`
	} `json:"items"`
}

// Search implements WebSearcher.
func (g *GoogleCSE) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("key", g.apiKey)
	q.Set("cx", g.engineID)
	q.Set("num", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call custom search: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custom search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out cseResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(out.Items))
	for _, item := range out.Items {
		if item.Link == "" {
			continue
		}
		hits = append(hits, Hit{
			URL:        item.Link,
			DisplayURL: item.DisplayLink,
			Title:      item.Title,
			Snippet:    item.Snippet,
		})
	}
	return hits, nil
}
