// Package api exposes the report composer over HTTP: run management and
// report retrieval under /api, live progress streaming over WebSocket, the
// aggregated-search endpoint and a health probe.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/report-compose/composer/pkg/config"
	"github.com/report-compose/composer/pkg/database"
	"github.com/report-compose/composer/pkg/registry"
	"github.com/report-compose/composer/pkg/results"
	"github.com/report-compose/composer/pkg/search"
)

// SearchService serves one aggregated search request. The composer binary
// wires the full pipeline here; tests substitute stubs.
type SearchService interface {
	Search(ctx context.Context, req search.Request) ([]results.OnlineResource, error)
}

// Server is the composer HTTP server.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	dbClient *database.Client
	searcher SearchService
	streams  *StreamManager
	logger   *slog.Logger

	// runCtx parents run execution so runs outlive the requests that
	// create them.
	runCtx context.Context

	httpServer *http.Server
}

// NewServer creates the API server. dbClient and searcher may be nil when
// the corresponding feature is disabled.
func NewServer(runCtx context.Context, cfg *config.Config, reg *registry.Registry, dbClient *database.Client, searcher SearchService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		dbClient: dbClient,
		searcher: searcher,
		logger:   logger.With("component", "api"),
		runCtx:   runCtx,
	}
	s.streams = NewStreamManager(reg, cfg.Server.AllowedWSOrigins, s.logger)
	return s
}

// Router builds the gin engine with all middleware and routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))
	router.Use(securityHeaders())
	router.Use(corsMiddleware())

	router.GET("/health", s.healthHandler)
	router.POST("/search", s.searchHandler)
	router.GET("/ws/runs/:id", s.streams.Handler)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/prompt-sets", s.listPromptSets)
		apiGroup.POST("/runs", s.createRun)
		apiGroup.GET("/runs/saved", s.listSavedRuns)
		apiGroup.GET("/runs/:id", s.getRun)
		apiGroup.DELETE("/runs/:id", s.deleteRun)
		apiGroup.GET("/runs/:id/report", s.getReport)
		apiGroup.GET("/runs/:id/snapshot", s.getSnapshot)
		apiGroup.POST("/runs/:id/cancel", s.cancelRun)
		apiGroup.POST("/runs/:id/save", s.saveRun)
		apiGroup.POST("/runs/saved/:id/load", s.loadRun)
	}
	return router
}

// Start runs the HTTP server on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
