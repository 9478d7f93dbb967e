package findata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetriever(cfg Config) *HTTPRetriever {
	r := NewHTTPRetriever(cfg, nil)
	r.retryDelay = time.Millisecond
	return r
}

func TestLookupViaYahoo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "United Airlines", r.URL.Query().Get("q"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		fmt.Fprint(w, `{"quotes":[
			{"symbol":"UAL-WT","quoteType":"OPTION"},
			{"symbol":"UAL","quoteType":"EQUITY"}
		]}`)
	})
	mux.HandleFunc("/chart/UAL", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[{
			"timestamp":[1704067200,1706745600],
			"indicators":{"quote":[{"close":[41.25,44.10]}]}
		}]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := newTestRetriever(Config{
		YahooSearchURL: srv.URL + "/search",
		YahooChartURL:  srv.URL + "/chart",
	})

	info, err := r.Lookup(context.Background(), "United Airlines")
	require.NoError(t, err)
	assert.Equal(t, "UAL", info.Ticker)
	assert.Contains(t, info.Summary, "2024-01-01=41.25")
	assert.Contains(t, info.Historical, "range=3y")

	text := info.Text()
	assert.Contains(t, text, "ticker UAL")
	assert.Contains(t, text, "Historical prices")
}

func TestLookupFallsBackToAlphaVantage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"quotes":[]}`)
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SYMBOL_SEARCH", r.URL.Query().Get("function"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		fmt.Fprint(w, `{"bestMatches":[{"1. symbol":"ACME","2. name":"Acme Corp"}]}`)
	})
	mux.HandleFunc("/chart/ACME", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := newTestRetriever(Config{
		YahooSearchURL:  srv.URL + "/search",
		YahooChartURL:   srv.URL + "/chart",
		AlphaVantageURL: srv.URL + "/query",
		AlphaVantageKey: "secret",
	})

	info, err := r.Lookup(context.Background(), "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "ACME", info.Ticker)
	// Chart failures degrade to empty fields, not errors.
	assert.Empty(t, info.Summary)
	assert.Empty(t, info.Historical)
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"quotes":[]}`)
	}))
	defer srv.Close()

	r := newTestRetriever(Config{
		YahooSearchURL: srv.URL + "/search",
		YahooChartURL:  srv.URL + "/chart",
	})

	_, err := r.Lookup(context.Background(), "Nonexistent Co")
	assert.ErrorIs(t, err, ErrInfoNotFound)
}

func TestGetWithRetriesRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"quotes":[{"symbol":"X","quoteType":"EQUITY"}]}`)
	}))
	defer srv.Close()

	r := newTestRetriever(Config{YahooSearchURL: srv.URL, YahooChartURL: srv.URL + "/chart"})
	ticker := r.searchYahoo(context.Background(), "X Co")
	assert.Equal(t, "X", ticker)
	assert.Equal(t, 3, calls)
}

func TestGetWithRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestRetriever(Config{YahooSearchURL: srv.URL, YahooChartURL: srv.URL})
	_, err := r.getWithRetries(context.Background(), srv.URL)
	require.ErrorContains(t, err, "status 500")
}
