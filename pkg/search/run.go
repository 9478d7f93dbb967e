package search

import (
	"context"
	"log/slog"
	"sync"

	"github.com/report-compose/composer/pkg/results"
)

// RunSearcher issues aggregated searches for one run against a search API
// whose endpoint is discovered lazily on first use and then cached. The
// template request carries the per-run constants (credentials, operating
// path, LLM URL, engine id); each Aggregate fills in the prompts.
type RunSearcher struct {
	Discovery DiscoveryConfig
	Template  Request
	Logger    *slog.Logger

	mu       sync.Mutex
	provider Provider
}

// Aggregate discovers the endpoint if needed and runs one search.
func (r *RunSearcher) Aggregate(ctx context.Context, general, particular string) ([]results.OnlineResource, error) {
	provider, err := r.getProvider(ctx)
	if err != nil {
		return nil, err
	}
	req := r.Template
	req.GeneralPrompt = general
	req.ParticularPrompt = particular
	return provider.Search(ctx, req)
}

func (r *RunSearcher) getProvider(ctx context.Context) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.provider != nil {
		return r.provider, nil
	}
	endpoint, err := DiscoverEndpoint(ctx, r.Discovery, r.Logger)
	if err != nil {
		return nil, err
	}
	r.provider = NewAPIClient(endpoint)
	return r.provider, nil
}
