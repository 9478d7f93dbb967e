package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const minimalComposerYAML = `
llm:
  model: gpt-4o
  api_key: test-key
`

func TestInitializeMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "composer.yaml", minimalComposerYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)

	// Unset fields fall back to the built-in defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "prompts", cfg.Prompts.Dir)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.LLM.RequestTimeout)
	assert.Equal(t, 1024, cfg.Summarizer.MaxInputTokens)
	assert.Equal(t, 60*time.Second, cfg.Summarizer.IdleUnload)
	assert.Equal(t, 3, cfg.Search.ResultsPerQuery)
	assert.Equal(t, 500*time.Second, cfg.Search.GlobalTimeout)
	assert.Equal(t, 90*time.Second, cfg.Search.ScrapeTimeout)
	assert.False(t, cfg.Financial.Enabled)
}

func TestInitializeFullConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "composer.yaml", `
server:
  host: 127.0.0.1
  port: 9000
  allowed_ws_origins: ["https://dashboard.example"]
prompts:
  dir: /etc/composer/prompts
llm:
  base_url: https://llm.internal/v1
  api_key: secret
  model: gpt-4o-search-preview
  request_timeout: 10m
summarizer:
  base_url: http://gpu-host:9400
  max_input_tokens: 2048
  idle_unload: 5m
search:
  endpoints:
    - http://scraper-a:8100
    - http://scraper-b:8100
  cse_id: engine-1
  google_api_key: g-key
  results_per_query: 5
  global_timeout: 600s
  operating_path: /var/lib/composer
financial:
  enabled: true
  alpha_vantage_key: av-key
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://dashboard.example"}, cfg.Server.AllowedWSOrigins)
	assert.Equal(t, "/etc/composer/prompts", cfg.Prompts.Dir)
	assert.Equal(t, "gpt-4o-search-preview", cfg.LLM.Model)
	assert.Equal(t, 10*time.Minute, cfg.LLM.RequestTimeout)
	assert.Equal(t, 2048, cfg.Summarizer.MaxInputTokens)
	assert.Equal(t, 5*time.Minute, cfg.Summarizer.IdleUnload)
	assert.Equal(t, []string{"http://scraper-a:8100", "http://scraper-b:8100"}, cfg.Search.Endpoints)
	assert.Equal(t, "engine-1", cfg.Search.CSEID)
	assert.Equal(t, 5, cfg.Search.ResultsPerQuery)
	assert.Equal(t, 600*time.Second, cfg.Search.GlobalTimeout)
	assert.True(t, cfg.Financial.Enabled)
	assert.Equal(t, "av-key", cfg.Financial.AlphaVantageKey)

	// Defaults still fill sections the file touched only partially.
	assert.Equal(t, 10*time.Second, cfg.Search.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Search.ScrapeTimeout)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("COMPOSER_TEST_API_KEY", "expanded-secret")

	dir := t.TempDir()
	writeConfig(t, dir, "composer.yaml", `
llm:
  model: gpt-4o
  api_key: "{{.COMPOSER_TEST_API_KEY}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "expanded-secret", cfg.LLM.APIKey)
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "composer.yaml", loadErr.File)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "composer.yaml", "llm: [not a mapping")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "composer.yaml", `
llm:
  model: gpt-4o
  request_timeout: not-a-duration
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "request_timeout", valErr.Field)
}

func TestInitializeCredentialsFile(t *testing.T) {
	t.Setenv("COMPOSER_TEST_CSE", "cse-from-env")

	dir := t.TempDir()
	writeConfig(t, dir, "credentials.yaml", `
API_Keys:
  OpenAI: sk-test
  Google_Search: g-test
Online_Tool_ID:
  Google_CSE: "{{.COMPOSER_TEST_CSE}}"
`)
	writeConfig(t, dir, "composer.yaml", minimalComposerYAML+"credentials_file: credentials.yaml\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	key, ok := cfg.Credentials.Lookup("API_Keys", "OpenAI")
	require.True(t, ok)
	assert.Equal(t, "sk-test", key)

	cse, ok := cfg.Credentials.Lookup("Online_Tool_ID", "Google_CSE")
	require.True(t, ok)
	assert.Equal(t, "cse-from-env", cse)

	_, ok = cfg.Credentials.Lookup("API_Keys", "Missing")
	assert.False(t, ok)
	_, ok = cfg.Credentials.Lookup("No_Group", "OpenAI")
	assert.False(t, ok)
}

func TestInitializeMissingCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "composer.yaml", minimalComposerYAML+"credentials_file: nope.yaml\n")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}
