// Composer server — serves the report composition API, streams run
// progress over WebSocket, and hosts the aggregated search pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/report-compose/composer/pkg/api"
	"github.com/report-compose/composer/pkg/cleanup"
	"github.com/report-compose/composer/pkg/config"
	"github.com/report-compose/composer/pkg/database"
	"github.com/report-compose/composer/pkg/findata"
	"github.com/report-compose/composer/pkg/llm"
	"github.com/report-compose/composer/pkg/orchestrator"
	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/registry"
	"github.com/report-compose/composer/pkg/search"
	"github.com/report-compose/composer/pkg/summarizer"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// The scrape worker runs in child processes spawned by the search
	// pipeline; dispatch before flag parsing so its own flags don't
	// collide with the server's.
	if len(os.Args) > 1 && os.Args[1] == "scrape-worker" {
		os.Exit(runScrapeWorker(os.Args[2:]))
	}

	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting composer", "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (optional — runs stay in memory without it)
	var dbClient *database.Client
	var store registry.RunStore = registry.NewMemoryRunStore()
	if os.Getenv("DB_PASSWORD") != "" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		store = registry.NewPostgresRunStore(dbClient)
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Info("DB_PASSWORD not set, run persistence is in-memory only")
	}

	// 3. Shared service clients
	llmClient := llm.NewHTTPClient(llm.ClientConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, nil)

	summarizerSvc := summarizer.New(
		summarizer.NewHTTPModel(summarizer.HTTPModelConfig{
			BaseURL:        cfg.Summarizer.BaseURL,
			MaxInputTokens: cfg.Summarizer.MaxInputTokens,
			RequestTimeout: cfg.Summarizer.RequestTimeout,
		}),
		summarizer.Config{IdleUnload: cfg.Summarizer.IdleUnload > 0},
		nil,
	)
	defer summarizerSvc.Shutdown()

	var finData findata.Retriever
	if cfg.Financial.Enabled {
		alphaKey := cfg.Financial.AlphaVantageKey
		if alphaKey == "" {
			alphaKey, _ = cfg.Credentials.Lookup("API_Keys", "Alpha_Vantage")
		}
		finData = findata.NewHTTPRetriever(findata.Config{
			AlphaVantageKey: alphaKey,
			RequestTimeout:  cfg.Financial.Timeout,
		}, nil)
	}

	// 4. Search wiring. Runs reach the search API through endpoint
	// discovery; this server also hosts the API itself, so listing the
	// server's own address among the candidates closes the loop.
	cseID := cfg.Search.CSEID
	if cseID == "" {
		cseID, _ = cfg.Credentials.Lookup("Online_Tool_ID", "Google_CSE")
	}
	googleKey := cfg.Search.GoogleAPIKey
	if googleKey == "" {
		googleKey, _ = cfg.Credentials.Lookup("API_Keys", "Google_Search")
	}

	runSearcher := &search.RunSearcher{
		Discovery: search.DiscoveryConfig{
			Candidates:   cfg.Search.Endpoints,
			PollInterval: cfg.Search.PollInterval,
			Budget:       cfg.Search.DiscoveryBudget,
		},
		Template: search.Request{
			Credentials:   search.Credentials(cfg.Credentials),
			OperatingPath: cfg.Search.OperatingPath,
			LLMAPIURL:     cfg.LLM.BaseURL,
			CSEID:         cseID,
		},
	}

	binary, err := os.Executable()
	if err != nil {
		slog.Error("Failed to resolve own executable for scrape workers", "error", err)
		os.Exit(1)
	}
	searchSvc := search.NewLocalService(summarizerSvc, search.LocalServiceConfig{
		Binary:        binary,
		ScrapeTimeout: cfg.Search.ScrapeTimeout,
		LLMBaseURL:    cfg.LLM.BaseURL,
		LLMAPIKey:     cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		GoogleAPIKey:  googleKey,
		CSEID:         cseID,
		Aggregator: search.AggregatorConfig{
			ResultsPerQuery: cfg.Search.ResultsPerQuery,
			GlobalTimeout:   cfg.Search.GlobalTimeout,
		},
	}, nil)

	// 5. Run registry over the prompt-set directory
	reg := registry.New(
		promptset.NewRegistry(cfg.Prompts.Dir),
		orchestrator.Deps{
			LLM:      llmClient,
			Searcher: runSearcher,
			FinData:  finData,
		},
		orchestrator.Config{},
		store,
		nil,
	)
	slog.Info("Services initialized", "prompts_dir", cfg.Prompts.Dir)

	cleanupSvc := cleanup.NewService(cleanup.Config{}, store, nil)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// 6. Create HTTP server. Runs outlive the requests that create them;
	// runCtx cancels them all on shutdown.
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()
	httpServer := api.NewServer(runCtx, cfg, reg, dbClient, searchSvc, nil)

	// 7. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Composer started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then cancel runs
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	cancelRuns()

	slog.Info("Shutdown complete")
}

// runScrapeWorker extracts one URL's text body and writes it to stdout.
// It runs in a child process so a hung or crashing parser cannot wedge
// the server; the parent kills it on timeout.
func runScrapeWorker(args []string) int {
	fs := flag.NewFlagSet("scrape-worker", flag.ExitOnError)
	url := fs.String("url", "", "URL to scrape")
	extension := fs.String("extension", "html", "Resource type: html or pdf")
	_ = fs.Parse(args)

	if *url == "" {
		fmt.Fprintln(os.Stderr, "scrape-worker: -url is required")
		return 2
	}

	text, err := search.ExtractResource(context.Background(), *url, *extension)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Print(text)
	return 0
}
