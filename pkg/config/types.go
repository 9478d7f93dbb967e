package config

import "time"

// ComposerYAMLConfig mirrors the composer.yaml file structure. Durations
// are strings so operators can write "5m" or "500s"; they are parsed
// during resolution.
type ComposerYAMLConfig struct {
	Server          *ServerYAMLConfig     `yaml:"server"`
	Prompts         *PromptsYAMLConfig    `yaml:"prompts"`
	LLM             *LLMYAMLConfig        `yaml:"llm"`
	Summarizer      *SummarizerYAMLConfig `yaml:"summarizer"`
	Search          *SearchYAMLConfig     `yaml:"search"`
	Financial       *FinancialYAMLConfig  `yaml:"financial"`
	CredentialsFile string                `yaml:"credentials_file"`
}

// ServerYAMLConfig holds HTTP server settings from YAML.
type ServerYAMLConfig struct {
	Host             string   `yaml:"host,omitempty"`
	Port             int      `yaml:"port,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// PromptsYAMLConfig holds prompt-set registry settings from YAML.
type PromptsYAMLConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// LLMYAMLConfig holds chat-completion client settings from YAML.
type LLMYAMLConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	APIKey         string `yaml:"api_key,omitempty"`
	Model          string `yaml:"model,omitempty"`
	RequestTimeout string `yaml:"request_timeout,omitempty"`
}

// SummarizerYAMLConfig holds summarization service settings from YAML.
type SummarizerYAMLConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	MaxInputTokens int    `yaml:"max_input_tokens,omitempty"`
	RequestTimeout string `yaml:"request_timeout,omitempty"`
	IdleUnload     string `yaml:"idle_unload,omitempty"`
}

// SearchYAMLConfig holds search pipeline settings from YAML.
type SearchYAMLConfig struct {
	Endpoints       []string `yaml:"endpoints,omitempty"`
	PollInterval    string   `yaml:"poll_interval,omitempty"`
	DiscoveryBudget string   `yaml:"discovery_budget,omitempty"`
	CSEID           string   `yaml:"cse_id,omitempty"`
	GoogleAPIKey    string   `yaml:"google_api_key,omitempty"`
	ResultsPerQuery int      `yaml:"results_per_query,omitempty"`
	GlobalTimeout   string   `yaml:"global_timeout,omitempty"`
	ScrapeTimeout   string   `yaml:"scrape_timeout,omitempty"`
	OperatingPath   string   `yaml:"operating_path,omitempty"`
}

// FinancialYAMLConfig holds financial data retriever settings from YAML.
type FinancialYAMLConfig struct {
	Enabled         *bool  `yaml:"enabled,omitempty"`
	AlphaVantageKey string `yaml:"alpha_vantage_key,omitempty"`
	Timeout         string `yaml:"timeout,omitempty"`
}

// Config is the resolved configuration returned by Initialize and used
// throughout the application.
type Config struct {
	configDir string

	Server      *ServerConfig
	Prompts     *PromptsConfig
	LLM         *LLMConfig
	Summarizer  *SummarizerConfig
	Search      *SearchConfig
	Financial   *FinancialConfig
	Credentials Credentials
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds resolved HTTP server settings.
type ServerConfig struct {
	Host             string
	Port             int
	AllowedWSOrigins []string
}

// PromptsConfig holds resolved prompt-set registry settings.
type PromptsConfig struct {
	Dir string
}

// LLMConfig holds resolved chat-completion client settings.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

// SummarizerConfig holds resolved summarization service settings.
type SummarizerConfig struct {
	BaseURL        string
	MaxInputTokens int
	RequestTimeout time.Duration
	IdleUnload     time.Duration
}

// SearchConfig holds resolved search pipeline settings.
type SearchConfig struct {
	// Endpoints are the candidate base URLs polled during endpoint
	// discovery.
	Endpoints       []string
	PollInterval    time.Duration
	DiscoveryBudget time.Duration

	CSEID        string
	GoogleAPIKey string

	ResultsPerQuery int
	GlobalTimeout   time.Duration
	ScrapeTimeout   time.Duration
	OperatingPath   string
}

// FinancialConfig holds resolved financial data retriever settings.
type FinancialConfig struct {
	Enabled         bool
	AlphaVantageKey string
	Timeout         time.Duration
}
