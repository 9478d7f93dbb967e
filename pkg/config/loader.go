package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load composer.yaml from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Merge defaults into unset fields
//  4. Resolve duration strings
//  5. Load the credentials file, when configured
//  6. Validate the resolved configuration
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"prompts_dir", cfg.Prompts.Dir,
		"llm_model", cfg.LLM.Model,
		"search_endpoints", len(cfg.Search.Endpoints),
		"credential_groups", len(cfg.Credentials))
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	raw, err := loader.loadComposerYAML()
	if err != nil {
		return nil, NewLoadError("composer.yaml", err)
	}

	// Fill unset fields from the built-in defaults. Sections absent from
	// the YAML pick up the whole default section.
	if err := mergo.Merge(raw, defaultComposerYAML()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	cfg, err := resolve(configDir, raw)
	if err != nil {
		return nil, err
	}

	if raw.CredentialsFile != "" {
		path := raw.CredentialsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(configDir, path)
		}
		creds, err := LoadCredentials(path)
		if err != nil {
			return nil, NewLoadError(raw.CredentialsFile, err)
		}
		cfg.Credentials = creds
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through the original data on parse errors, letting
	// the YAML parser produce the clearer failure message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadComposerYAML() (*ComposerYAMLConfig, error) {
	var config ComposerYAMLConfig
	if err := l.loadYAML("composer.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// defaultComposerYAML is the built-in configuration; user YAML overrides
// it field by field.
func defaultComposerYAML() *ComposerYAMLConfig {
	return &ComposerYAMLConfig{
		Server: &ServerYAMLConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Prompts: &PromptsYAMLConfig{
			Dir: "prompts",
		},
		LLM: &LLMYAMLConfig{
			BaseURL:        "https://api.openai.com/v1",
			RequestTimeout: "5m",
		},
		Summarizer: &SummarizerYAMLConfig{
			MaxInputTokens: 1024,
			RequestTimeout: "2m",
			IdleUnload:     "60s",
		},
		Search: &SearchYAMLConfig{
			PollInterval:    "10s",
			DiscoveryBudget: "2m",
			ResultsPerQuery: 3,
			GlobalTimeout:   "500s",
			ScrapeTimeout:   "90s",
		},
		Financial: &FinancialYAMLConfig{
			Timeout: "20s",
		},
	}
}

// resolve converts the merged YAML into the typed configuration, parsing
// duration strings.
func resolve(configDir string, raw *ComposerYAMLConfig) (*Config, error) {
	llmTimeout, err := parseDuration("llm", "request_timeout", raw.LLM.RequestTimeout)
	if err != nil {
		return nil, err
	}
	sumTimeout, err := parseDuration("summarizer", "request_timeout", raw.Summarizer.RequestTimeout)
	if err != nil {
		return nil, err
	}
	idleUnload, err := parseDuration("summarizer", "idle_unload", raw.Summarizer.IdleUnload)
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("search", "poll_interval", raw.Search.PollInterval)
	if err != nil {
		return nil, err
	}
	discoveryBudget, err := parseDuration("search", "discovery_budget", raw.Search.DiscoveryBudget)
	if err != nil {
		return nil, err
	}
	globalTimeout, err := parseDuration("search", "global_timeout", raw.Search.GlobalTimeout)
	if err != nil {
		return nil, err
	}
	scrapeTimeout, err := parseDuration("search", "scrape_timeout", raw.Search.ScrapeTimeout)
	if err != nil {
		return nil, err
	}
	finTimeout, err := parseDuration("financial", "timeout", raw.Financial.Timeout)
	if err != nil {
		return nil, err
	}

	finEnabled := false
	if raw.Financial.Enabled != nil {
		finEnabled = *raw.Financial.Enabled
	}

	return &Config{
		configDir: configDir,
		Server: &ServerConfig{
			Host:             raw.Server.Host,
			Port:             raw.Server.Port,
			AllowedWSOrigins: raw.Server.AllowedWSOrigins,
		},
		Prompts: &PromptsConfig{
			Dir: raw.Prompts.Dir,
		},
		LLM: &LLMConfig{
			BaseURL:        raw.LLM.BaseURL,
			APIKey:         raw.LLM.APIKey,
			Model:          raw.LLM.Model,
			RequestTimeout: llmTimeout,
		},
		Summarizer: &SummarizerConfig{
			BaseURL:        raw.Summarizer.BaseURL,
			MaxInputTokens: raw.Summarizer.MaxInputTokens,
			RequestTimeout: sumTimeout,
			IdleUnload:     idleUnload,
		},
		Search: &SearchConfig{
			Endpoints:       raw.Search.Endpoints,
			PollInterval:    pollInterval,
			DiscoveryBudget: discoveryBudget,
			CSEID:           raw.Search.CSEID,
			GoogleAPIKey:    raw.Search.GoogleAPIKey,
			ResultsPerQuery: raw.Search.ResultsPerQuery,
			GlobalTimeout:   globalTimeout,
			ScrapeTimeout:   scrapeTimeout,
			OperatingPath:   raw.Search.OperatingPath,
		},
		Financial: &FinancialConfig{
			Enabled:         finEnabled,
			AlphaVantageKey: raw.Financial.AlphaVantageKey,
			Timeout:         finTimeout,
		},
	}, nil
}

func parseDuration(section, field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewValidationError(section, "composer.yaml", field, fmt.Errorf("%w: %q", ErrInvalidValue, value))
	}
	return d, nil
}
