package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/report-compose/composer/pkg/llm"
	"github.com/report-compose/composer/pkg/results"
	"github.com/report-compose/composer/pkg/summarizer"
)

// ErrMissingSearchCredentials indicates a request without a usable Google
// API key or engine id, after falling back to the server defaults.
var ErrMissingSearchCredentials = errors.New("missing search credentials")

// LocalServiceConfig configures the in-process search API backend.
type LocalServiceConfig struct {
	// Binary is the executable spawned per scrape, usually os.Executable().
	Binary string

	// ScrapeTimeout per resource. Zero means DefaultScrapeTimeout.
	ScrapeTimeout time.Duration

	// LLMBaseURL, LLMAPIKey and Model are the server defaults for the
	// query synthesizer, used when the request omits them.
	LLMBaseURL string
	LLMAPIKey  string
	Model      string

	// GoogleAPIKey is the server default web search key.
	GoogleAPIKey string

	// CSEID is the server default engine id.
	CSEID string

	// Aggregator tunes the pipeline shared by every request.
	Aggregator AggregatorConfig
}

// LocalService serves aggregated searches in-process. Each request
// assembles its own pipeline because the credentials, engine id and
// synthesizer endpoint all travel on the wire request; only the
// summarizer queue is shared.
type LocalService struct {
	summarizer *summarizer.Service
	cfg        LocalServiceConfig
	logger     *slog.Logger
}

// NewLocalService builds the service over a shared summarizer queue.
func NewLocalService(svc *summarizer.Service, cfg LocalServiceConfig, logger *slog.Logger) *LocalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalService{
		summarizer: svc,
		cfg:        cfg,
		logger:     logger.With("component", "search"),
	}
}

// Search runs one aggregated search for the wire request.
func (s *LocalService) Search(ctx context.Context, req Request) ([]results.OnlineResource, error) {
	apiKey := req.Credentials.lookup("API_Keys", "Google_Search")
	if apiKey == "" {
		apiKey = s.cfg.GoogleAPIKey
	}
	cseID := req.CSEID
	if cseID == "" {
		cseID = req.Credentials.lookup("Online_Tool_ID", "Google_CSE")
	}
	if cseID == "" {
		cseID = s.cfg.CSEID
	}
	if apiKey == "" || cseID == "" {
		return nil, ErrMissingSearchCredentials
	}

	llmURL := req.LLMAPIURL
	if llmURL == "" {
		llmURL = s.cfg.LLMBaseURL
	}
	llmKey := req.Credentials.lookup("API_Keys", "OpenAI")
	if llmKey == "" {
		llmKey = s.cfg.LLMAPIKey
	}
	synth := NewSynthesizer(llm.NewHTTPClient(llm.ClientConfig{
		BaseURL: llmURL,
		APIKey:  llmKey,
		Model:   s.cfg.Model,
	}, s.logger), s.logger)

	scraper := &SubprocessScraper{Binary: s.cfg.Binary, Timeout: s.cfg.ScrapeTimeout}
	agg := NewAggregator(synth, NewGoogleCSE(apiKey, cseID, ""), scraper,
		s.summarizer, s.cfg.Aggregator, s.logger)
	return agg.Aggregate(ctx, req.GeneralPrompt, req.ParticularPrompt)
}

func (c Credentials) lookup(group, key string) string {
	return c[group][key]
}
