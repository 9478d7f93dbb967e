package search

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/report-compose/composer/pkg/results"
	"github.com/report-compose/composer/pkg/summarizer"
)

// AggregatorConfig tunes the pipeline. Zero values get defaults.
type AggregatorConfig struct {
	// ResultsPerQuery caps hits taken from each synthesized query.
	ResultsPerQuery int

	// GlobalTimeout is the wall-clock cap on the scrape fan-out; workers
	// still running at the cap are cancelled and killed.
	GlobalTimeout time.Duration

	// SummaryThresholdTokens is the body size above which scraped text is
	// summarized instead of passed through.
	SummaryThresholdTokens int

	// ChunkWords is the chunk size for long-body summarization.
	ChunkWords int

	// SummaryMaxLen / SummaryMinLen bound each chunk summary, in words.
	SummaryMaxLen int
	SummaryMinLen int

	// SummaryPriority for aggregator-issued summarization requests.
	// Node-level work should outrank background scrapes.
	SummaryPriority int

	// SummaryDeadline per summarization request.
	SummaryDeadline time.Duration
}

const (
	defaultResultsPerQuery  = 3
	defaultGlobalTimeout    = 500 * time.Second
	defaultSummaryThreshold = 500
	defaultChunkWords       = 700
	defaultSummaryMaxLen    = 150
	defaultSummaryMinLen    = 40
	defaultSummaryDeadline  = 4 * time.Minute
)

// droppedTextPrefixes mark scraped bodies that are really an archive
// service banner or a paywall interstitial. Matching resources are
// dropped silently.
var droppedTextPrefixes = []string{
	"webpage capture",
	"saved from",
	"please enable javascript",
	"subscribe to read",
}

// Aggregator runs the full search pipeline for one section prompt.
type Aggregator struct {
	synth      *Synthesizer
	searcher   WebSearcher
	scraper    Scraper
	summarizer *summarizer.Service
	cfg        AggregatorConfig
	logger     *slog.Logger

	// detectClient is swappable for tests.
	detectClient *http.Client
}

// NewAggregator wires the pipeline stages together.
func NewAggregator(synth *Synthesizer, searcher WebSearcher, scraper Scraper,
	svc *summarizer.Service, cfg AggregatorConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = defaultResultsPerQuery
	}
	if cfg.GlobalTimeout <= 0 {
		cfg.GlobalTimeout = defaultGlobalTimeout
	}
	if cfg.SummaryThresholdTokens <= 0 {
		cfg.SummaryThresholdTokens = defaultSummaryThreshold
	}
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = defaultChunkWords
	}
	if cfg.SummaryMaxLen <= 0 {
		cfg.SummaryMaxLen = defaultSummaryMaxLen
	}
	if cfg.SummaryMinLen <= 0 {
		cfg.SummaryMinLen = defaultSummaryMinLen
	}
	if cfg.SummaryDeadline <= 0 {
		cfg.SummaryDeadline = defaultSummaryDeadline
	}
	return &Aggregator{
		synth:        synth,
		searcher:     searcher,
		scraper:      scraper,
		summarizer:   svc,
		cfg:          cfg,
		logger:       logger.With("component", "search"),
		detectClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ComposePrompt joins the run-wide prompt with the section prompt the way
// the synthesized queries expect.
func ComposePrompt(general, particular string) string {
	return general + "\nIn our case the subject matter we are talking about is: " +
		particular + " {" + general + "}"
}

// Aggregate runs the pipeline: synthesize queries, fan out searches,
// detect types, scrape in isolated workers, summarize, and emit the
// surviving resources. Per-resource failures are dropped, never fatal;
// an empty result set is a valid outcome.
func (a *Aggregator) Aggregate(ctx context.Context, general, particular string) ([]results.OnlineResource, error) {
	queries := a.synth.GenerateQueries(ctx, ComposePrompt(general, particular))
	hits := a.fanOutSearches(ctx, queries)
	a.logger.Info("Search fan-out finished", "queries", len(queries), "unique_urls", len(hits))

	// The global cap bounds the whole scrape+summarize stage.
	scrapeCtx, cancel := context.WithTimeout(ctx, a.cfg.GlobalTimeout)
	defer cancel()

	out := make([]*results.OnlineResource, len(hits))
	var wg sync.WaitGroup
	for i, hit := range hits {
		wg.Add(1)
		go func(i int, hit Hit) {
			defer wg.Done()
			if res := a.processHit(scrapeCtx, hit); res != nil {
				out[i] = res
			}
		}(i, hit)
	}
	wg.Wait()

	emitted := make([]results.OnlineResource, 0, len(out))
	for _, r := range out {
		if r != nil {
			emitted = append(emitted, *r)
		}
	}
	a.logger.Info("Aggregation finished", "emitted", len(emitted), "dropped", len(hits)-len(emitted))
	return emitted, nil
}

// fanOutSearches issues every query concurrently and merges the hits in
// query order, first occurrence of a URL winning.
func (a *Aggregator) fanOutSearches(ctx context.Context, queries []string) []Hit {
	perQuery := make([][]Hit, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			hits, err := a.searcher.Search(ctx, q, a.cfg.ResultsPerQuery)
			if err != nil {
				a.logger.Warn("Search query failed", "query", q, "error", err)
				return
			}
			perQuery[i] = hits
		}(i, q)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var merged []Hit
	for _, hits := range perQuery {
		for _, h := range hits {
			if _, dup := seen[h.URL]; dup {
				continue
			}
			seen[h.URL] = struct{}{}
			merged = append(merged, h)
		}
	}
	return merged
}

// processHit runs one resource through detection, scraping and
// summarization. Returns nil when the resource is dropped.
func (a *Aggregator) processHit(ctx context.Context, hit Hit) *results.OnlineResource {
	ext := DetectExtension(ctx, a.detectClient, hit.URL)

	text, err := a.scraper.Extract(ctx, hit.URL, ext)
	if err != nil {
		a.logger.Warn("Scrape failed, dropping resource", "url", hit.URL, "error", err)
		return nil
	}

	text = strings.TrimSpace(a.condense(text))
	if text == "" || isDroppedText(text) {
		return nil
	}

	return &results.OnlineResource{
		URL:          hit.URL,
		DisplayURL:   hit.DisplayURL,
		Title:        hit.Title,
		Snippet:      hit.Snippet,
		ScrappedText: text,
		Extension:    ext,
	}
}

// condense summarizes a long body chunk by chunk, then squeezes the merged
// summary once more if it is still over threshold. A failed chunk summary
// falls back to the chunk itself.
func (a *Aggregator) condense(text string) string {
	words := strings.Fields(text)
	if len(words) <= a.cfg.SummaryThresholdTokens {
		return text
	}

	var chunks []string
	for i := 0; i < len(words); i += a.cfg.ChunkWords {
		end := i + a.cfg.ChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}

	summarized := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		summary, err := a.summarize(chunk)
		if err != nil {
			a.logger.Warn("Chunk summarization failed, keeping raw chunk", "error", err)
			summarized = append(summarized, chunk)
			continue
		}
		summarized = append(summarized, summary)
	}
	merged := strings.Join(summarized, "\n")

	if len(strings.Fields(merged)) > a.cfg.SummaryThresholdTokens {
		if squeezed, err := a.summarize(merged); err == nil {
			merged = squeezed
		}
	}
	return merged
}

func (a *Aggregator) summarize(text string) (string, error) {
	return a.summarizer.Summarize(summarizer.Request{
		Text:     text,
		MaxLen:   a.cfg.SummaryMaxLen,
		MinLen:   a.cfg.SummaryMinLen,
		Priority: a.cfg.SummaryPriority,
		Deadline: time.Now().Add(a.cfg.SummaryDeadline),
	}, a.cfg.SummaryDeadline+time.Minute)
}

func isDroppedText(text string) bool {
	lower := strings.ToLower(text)
	for _, prefix := range droppedTextPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
