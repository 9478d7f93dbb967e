// Package cleanup provides saved-run retention.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/report-compose/composer/pkg/registry"
)

// Config tunes retention. Zero values get defaults.
type Config struct {
	// Retention is how long saved runs are kept.
	Retention time.Duration

	// Interval between prune rounds.
	Interval time.Duration
}

const (
	defaultRetention = 180 * 24 * time.Hour
	defaultInterval  = 6 * time.Hour
)

// Service periodically deletes saved runs past their retention. Prunes
// are idempotent and safe to run from multiple replicas.
type Service struct {
	cfg    Config
	store  registry.RunStore
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service over the run store.
func NewService(cfg Config, store registry.RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "cleanup"),
	}
}

// Start launches the background prune loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"retention", s.cfg.Retention,
		"interval", s.cfg.Interval)
}

// Stop signals the prune loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.prune(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	count, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention: prune saved runs failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned saved runs", "count", count, "cutoff", cutoff)
	}
}
