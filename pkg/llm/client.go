// Package llm wraps the chat-completion endpoint the orchestrator drives.
// The wire shape is OpenAI-compatible; search-preview model variants attach
// URL citations as message annotations.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrContextTooLong indicates the submitted conversation exceeded the
// model's context window. The orchestrator reacts by shrinking the search
// corpus and retrying.
var ErrContextTooLong = errors.New("llm context length exceeded")

// Message is one turn of the conversation. Role is "system", "user" or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation is one URL reference attached to a completion by a
// search-preview model.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Completion is the model's reply plus any citations it carried.
type Completion struct {
	Text      string
	Citations []Citation
}

// Client is the chat-completion interface the orchestrator depends on.
type Client interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
	Model() string
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// BaseURL of the completion API, e.g. "https://api.example.com/v1".
	BaseURL string

	// APIKey sent as a bearer token. Empty means no auth header.
	APIKey string

	// Model name requested from the API.
	Model string

	// RequestTimeout per completion call. Defaults to 5 minutes: report
	// sections can run long.
	RequestTimeout time.Duration
}

// HTTPClient implements Client against an OpenAI-compatible endpoint.
type HTTPClient struct {
	cfg    ClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient builds the client.
func NewHTTPClient(cfg ClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With("component", "llm"),
	}
}

// Model implements Client.
func (c *HTTPClient) Model() string {
	return c.cfg.Model
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type urlCitation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type annotation struct {
	Type        string       `json:"type"`
	URLCitation *urlCitation `json:"url_citation,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content     string       `json:"content"`
			Annotations []annotation `json:"annotations"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call llm: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}

	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp.StatusCode, data)
		}
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if out.Error != nil {
		return nil, c.apiError(out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, data)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("llm returned no choices")
	}

	msg := out.Choices[0].Message
	completion := &Completion{Text: msg.Content}
	for _, a := range msg.Annotations {
		if a.Type == "url_citation" && a.URLCitation != nil {
			completion.Citations = append(completion.Citations, Citation{
				Title: a.URLCitation.Title,
				URL:   a.URLCitation.URL,
			})
		}
	}

	c.logger.Debug("Completion finished",
		"model", c.cfg.Model,
		"messages", len(messages),
		"citations", len(completion.Citations),
		"duration", time.Since(start))
	return completion, nil
}

func (c *HTTPClient) statusError(status int, body []byte) error {
	text := string(bytes.TrimSpace(body))
	if overflowMessage(text) {
		return fmt.Errorf("%w: %s", ErrContextTooLong, text)
	}
	return fmt.Errorf("llm returned status %d: %s", status, text)
}

func (c *HTTPClient) apiError(code, message string) error {
	if code == "context_length_exceeded" || overflowMessage(message) {
		return fmt.Errorf("%w: %s", ErrContextTooLong, message)
	}
	return fmt.Errorf("llm error: %s", message)
}

// overflowMessage matches the phrasings providers use for context window
// overruns.
func overflowMessage(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "exceeds maximum")
}

// IsContextTooLong reports whether err stems from a context window overrun.
func IsContextTooLong(err error) bool {
	return errors.Is(err, ErrContextTooLong)
}
