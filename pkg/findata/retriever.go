// Package findata resolves a company name to a ticker symbol and pulls
// numeric market data for it. The orchestrator splices the result into a
// run's chat history as extra context; every failure degrades to "no data"
// rather than failing the run.
package findata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInfoNotFound indicates no source could resolve the company.
var ErrInfoNotFound = errors.New("financial info not found")

// Info is the numeric context attached to a run.
type Info struct {
	Ticker     string
	Summary    string
	Historical string
}

// Text renders the info as a context block for the LLM.
func (i Info) Text() string {
	var b strings.Builder
	b.WriteString("Numeric financial data for ticker " + i.Ticker + ".\n")
	if i.Summary != "" {
		b.WriteString("Summary metrics: " + i.Summary + "\n")
	}
	if i.Historical != "" {
		b.WriteString("Historical prices: " + i.Historical + "\n")
	}
	return b.String()
}

// Retriever is the lookup interface the orchestrator depends on.
type Retriever interface {
	Lookup(ctx context.Context, company string) (*Info, error)
}

// Config configures the HTTP retriever. Zero-value endpoints default to
// the public services.
type Config struct {
	// YahooSearchURL is the symbol search endpoint.
	YahooSearchURL string

	// YahooChartURL is the quote/chart endpoint, the ticker is appended.
	YahooChartURL string

	// AlphaVantageURL and AlphaVantageKey enable the fallback symbol
	// search. Empty key disables it.
	AlphaVantageURL string
	AlphaVantageKey string

	// RequestTimeout per upstream call.
	RequestTimeout time.Duration
}

const (
	defaultYahooSearchURL  = "https://query2.finance.yahoo.com/v1/finance/search"
	defaultYahooChartURL   = "https://query2.finance.yahoo.com/v8/finance/chart"
	defaultAlphaVantageURL = "https://www.alphavantage.co/query"

	// Some finance endpoints reject requests without a browser UA.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36"

	lookupRetries     = 3
	lookupRetryDelay  = 2 * time.Second
	defaultReqTimeout = 15 * time.Second
)

// HTTPRetriever implements Retriever over the public finance APIs.
type HTTPRetriever struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	// retryDelay is shortened by tests.
	retryDelay time.Duration
}

// NewHTTPRetriever builds the retriever.
func NewHTTPRetriever(cfg Config, logger *slog.Logger) *HTTPRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.YahooSearchURL == "" {
		cfg.YahooSearchURL = defaultYahooSearchURL
	}
	if cfg.YahooChartURL == "" {
		cfg.YahooChartURL = defaultYahooChartURL
	}
	if cfg.AlphaVantageURL == "" {
		cfg.AlphaVantageURL = defaultAlphaVantageURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultReqTimeout
	}
	return &HTTPRetriever{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger.With("component", "findata"),
		retryDelay: lookupRetryDelay,
	}
}

// Lookup implements Retriever: resolve the ticker (Yahoo search first,
// Alpha Vantage as fallback), then fetch summary and historical data.
func (r *HTTPRetriever) Lookup(ctx context.Context, company string) (*Info, error) {
	ticker := r.searchYahoo(ctx, company)
	if ticker == "" {
		ticker = r.searchAlphaVantage(ctx, company)
	}
	if ticker == "" {
		r.logger.Info("No ticker found for company", "company", company)
		return nil, fmt.Errorf("%w: %s", ErrInfoNotFound, company)
	}

	info := &Info{Ticker: ticker}
	if summary, err := r.fetchChart(ctx, ticker, "1y", "1mo"); err == nil {
		info.Summary = summary
	} else {
		r.logger.Warn("Summary data fetch failed", "ticker", ticker, "error", err)
	}
	if hist, err := r.fetchChart(ctx, ticker, "3y", "3mo"); err == nil {
		info.Historical = hist
	} else {
		r.logger.Warn("Historical data fetch failed", "ticker", ticker, "error", err)
	}
	return info, nil
}

type yahooSearchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

func (r *HTTPRetriever) searchYahoo(ctx context.Context, company string) string {
	u := r.cfg.YahooSearchURL + "?q=" + url.QueryEscape(company)
	data, err := r.getWithRetries(ctx, u)
	if err != nil {
		r.logger.Warn("Yahoo symbol search failed", "company", company, "error", err)
		return ""
	}
	var out yahooSearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		r.logger.Warn("Yahoo symbol search returned bad JSON", "error", err)
		return ""
	}
	for _, q := range out.Quotes {
		if q.QuoteType == "EQUITY" && q.Symbol != "" {
			return q.Symbol
		}
	}
	return ""
}

type alphaVantageResponse struct {
	BestMatches []map[string]string `json:"bestMatches"`
}

func (r *HTTPRetriever) searchAlphaVantage(ctx context.Context, company string) string {
	if r.cfg.AlphaVantageKey == "" {
		return ""
	}
	u := fmt.Sprintf("%s?function=SYMBOL_SEARCH&keywords=%s&apikey=%s",
		r.cfg.AlphaVantageURL, url.QueryEscape(company), url.QueryEscape(r.cfg.AlphaVantageKey))
	data, err := r.getWithRetries(ctx, u)
	if err != nil {
		r.logger.Warn("Alpha Vantage symbol search failed", "company", company, "error", err)
		return ""
	}
	var out alphaVantageResponse
	if err := json.Unmarshal(data, &out); err != nil || len(out.BestMatches) == 0 {
		return ""
	}
	return out.BestMatches[0]["1. symbol"]
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta       map[string]any `json:"meta"`
			Timestamp  []int64        `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// fetchChart pulls a close-price series and renders it as a compact
// "date: price" listing for the LLM.
func (r *HTTPRetriever) fetchChart(ctx context.Context, ticker, rang, interval string) (string, error) {
	u := fmt.Sprintf("%s/%s?range=%s&interval=%s",
		r.cfg.YahooChartURL, url.PathEscape(ticker), rang, interval)
	data, err := r.getWithRetries(ctx, u)
	if err != nil {
		return "", err
	}
	var out chartResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode chart response: %w", err)
	}
	if len(out.Chart.Result) == 0 {
		return "", errors.New("empty chart result")
	}

	res := out.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 || len(res.Timestamp) == 0 {
		return "", errors.New("chart result has no quotes")
	}
	closes := res.Indicators.Quote[0].Close

	var b strings.Builder
	fmt.Fprintf(&b, "range=%s interval=%s:", rang, interval)
	for i, ts := range res.Timestamp {
		if i >= len(closes) {
			break
		}
		fmt.Fprintf(&b, " %s=%.2f", time.Unix(ts, 0).UTC().Format("2006-01-02"), closes[i])
	}
	return b.String(), nil
}

// getWithRetries performs a GET with backoff, retrying on rate limits and
// transient errors.
func (r *HTTPRetriever) getWithRetries(ctx context.Context, u string) ([]byte, error) {
	delay := r.retryDelay
	var lastErr error
	for attempt := 0; attempt < lookupRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", browserUserAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited: %s", u)
			r.logger.Warn("Rate limited, backing off", "url", u, "attempt", attempt+1)
			continue
		case resp.StatusCode != http.StatusOK:
			lastErr = fmt.Errorf("status %d from %s", resp.StatusCode, u)
			continue
		}
		return data, nil
	}
	return nil, lastErr
}
