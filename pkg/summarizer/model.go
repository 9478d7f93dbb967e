package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Model is the heavy summarization backend. Exactly one request is
// in flight at any time; implementations need no internal locking.
type Model interface {
	// Load acquires model resources. Called lazily before the first
	// request and again after an idle unload.
	Load(ctx context.Context) error

	// Unload releases model resources. Safe to call when not loaded.
	Unload()

	// Summarize condenses text to between minLen and maxLen words.
	Summarize(ctx context.Context, text string, maxLen, minLen int) (string, error)

	// MaxInputTokens is the longest input the model accepts.
	MaxInputTokens() int
}

// HTTPModelConfig configures the remote model client.
type HTTPModelConfig struct {
	// BaseURL of the summarization service, e.g. "http://gpu-host:9400".
	BaseURL string

	// MaxInputTokens the remote model accepts. Defaults to 1024.
	MaxInputTokens int

	// RequestTimeout per model call. Defaults to 120s.
	RequestTimeout time.Duration
}

// HTTPModel talks to a summarization service over HTTP. Load and Unload
// hit the service's lifecycle endpoints so the remote process can release
// GPU memory between batches.
type HTTPModel struct {
	cfg    HTTPModelConfig
	client *http.Client
}

// NewHTTPModel builds the remote model client.
func NewHTTPModel(cfg HTTPModelConfig) *HTTPModel {
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = 1024
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	return &HTTPModel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// MaxInputTokens implements Model.
func (m *HTTPModel) MaxInputTokens() int {
	return m.cfg.MaxInputTokens
}

// Load implements Model.
func (m *HTTPModel) Load(ctx context.Context) error {
	return m.lifecycle(ctx, "/model/load")
}

// Unload implements Model. Errors are swallowed: a failed unload only
// means the remote keeps the model warm.
func (m *HTTPModel) Unload() {
	_ = m.lifecycle(context.Background(), "/model/unload")
}

func (m *HTTPModel) lifecycle(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: status %d", path, resp.StatusCode)
	}
	return nil
}

type summarizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
	MinLength int    `json:"min_length"`
}

type summarizeResponse struct {
	SummaryText string `json:"summary_text"`
	Error       string `json:"error,omitempty"`
}

// Summarize implements Model.
func (m *HTTPModel) Summarize(ctx context.Context, text string, maxLen, minLen int) (string, error) {
	body, err := json.Marshal(summarizeRequest{Text: text, MaxLength: maxLen, MinLength: minLen})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/summarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out summarizeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("model error: %s", out.Error)
	}
	return out.SummaryText, nil
}
