package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/report-compose/composer/pkg/results"
)

// Credentials is the grouped credential document forwarded to the search
// API, e.g. {"API_Keys": {"Google_Cloud": "..."}}.
type Credentials map[string]map[string]string

// Request is the search API wire request.
type Request struct {
	Credentials      Credentials `json:"credentials"`
	GeneralPrompt    string      `json:"general_prompt"`
	ParticularPrompt string      `json:"particular_prompt"`
	OperatingPath    string      `json:"operating_path"`
	LLMAPIURL        string      `json:"llm_api_url"`
	CSEID            string      `json:"cse_id,omitempty"`
}

type apiResponse struct {
	Results []results.OnlineResource `json:"results"`
}

// Provider runs one aggregated search. The orchestrator depends on this
// interface; production wires the HTTP client, tests wire fakes.
type Provider interface {
	Search(ctx context.Context, req Request) ([]results.OnlineResource, error)
}

// APIClient implements Provider against a discovered search endpoint.
type APIClient struct {
	endpoint string
	client   *http.Client
}

// NewAPIClient builds a client for the given search URL, usually the
// output of DiscoverEndpoint.
func NewAPIClient(endpoint string) *APIClient {
	return &APIClient{
		endpoint: endpoint,
		// Aggregated searches scrape and summarize dozens of pages.
		client: &http.Client{Timeout: 15 * time.Minute},
	}
}

// Search implements Provider.
func (c *APIClient) Search(ctx context.Context, req Request) ([]results.OnlineResource, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call search api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Results, nil
}
