package search

import (
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

// ErrEndpointUnavailable indicates no search API candidate passed its
// health check within the budget.
var ErrEndpointUnavailable = errors.New("search endpoint unavailable")

// DiscoveryConfig tunes endpoint discovery.
type DiscoveryConfig struct {
	// Candidates are base URLs tried in order on each poll round.
	Candidates []string

	// PollInterval between rounds. Defaults to 10s.
	PollInterval time.Duration

	// Budget is the total time allowed. Defaults to 2 minutes.
	Budget time.Duration
}

type healthResponse struct {
	Status string `json:"status"`
}

// DiscoverEndpoint polls every candidate's health endpoint until one
// reports ok, and returns that candidate's search URL. Candidates are
// re-polled each round: a search API that is still starting up wins as
// soon as it comes alive.
func DiscoverEndpoint(ctx context.Context, cfg DiscoveryConfig, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 2 * time.Minute
	}
	if len(cfg.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates configured", ErrEndpointUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Budget)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	for {
		for _, base := range cfg.Candidates {
			if healthy(ctx, client, base) {
				logger.Info("Search endpoint discovered", "base_url", base)
				return strings.TrimRight(base, "/") + "/search", nil
			}
		}
		select {
		case <-time.After(cfg.PollInterval):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: no candidate healthy within %s", ErrEndpointUnavailable, cfg.Budget)
		}
	}
}

func healthy(ctx context.Context, client *http.Client, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	var out healthResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return false
	}
	return out.Status == "ok"
}
