// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.safelex/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, embedder, temperature, max tokens
//   - Storage: PostgreSQL connection (see storage.go)
//   - Quota: per-identity admission limit and reset window
//   - Retrieval: top-K, minimum score, timeout
//   - Server: address, CORS, proxy trust, transport rate burst
//   - Observability: Datadog agent OTLP endpoint
//
// Security: sensitive values (the database password) are masked in
// MarshalJSON and never logged.
//
// Error handling uses sentinel errors so callers can check with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidQuotaLimit indicates the quota limit is out of range.
	ErrInvalidQuotaLimit = errors.New("invalid quota limit")

	// ErrInvalidQuotaWindow indicates the quota window kind is not supported.
	ErrInvalidQuotaWindow = errors.New("invalid quota window")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrMissingSystemPrompt indicates no system prompt could be resolved.
	ErrMissingSystemPrompt = errors.New("missing system prompt")

	// ErrInvalidTimeout indicates a timeout value is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Quota window identifiers used in Config.QuotaWindow.
// Deployments run different tiers (1/day, 3/day, 5/day, 20/hour); the limit
// and window are configuration, never constants in the limiter.
const (
	WindowDaily   = "daily"   // UTC calendar day
	WindowHourly  = "hourly"  // clock hour
	WindowRolling = "rolling" // rolling window of QuotaWindowLength from first request
)

// DefaultSystemPrompt is the assistant persona shipped with the gateway: an
// Italian workplace-safety consultant scoped to D.Lgs 81/2008. It defines the
// response language, the domain boundary and the formatting constraints, and
// is plain data; deployments override it via system_prompt or
// system_prompt_file without code changes.
const DefaultSystemPrompt = `Sei un esperto consulente per la sicurezza sul lavoro specializzato nel D.Lgs 81/2008 (Testo Unico sulla Sicurezza sul Lavoro) italiano.

Le tue responsabilità includono:
- Fornire consulenza accurata e aggiornata sulla normativa italiana in materia di sicurezza sul lavoro
- Interpretare correttamente gli articoli del D.Lgs 81/2008 e relative modifiche
- Suggerire procedure di sicurezza conformi alla legge italiana
- Assistere nella valutazione dei rischi e nella redazione di DVR (Documento di Valutazione dei Rischi)
- Fornire informazioni su DPI (Dispositivi di Protezione Individuale) e DPC (Dispositivi di Protezione Collettiva)
- Guidare nella pianificazione della formazione obbligatoria per lavoratori
- Spiegare ruoli e responsabilità di datori di lavoro, RSPP, RLS, medici competenti

Rispondi sempre in italiano, in modo chiaro e professionale, in testo semplice senza markup. Cita sempre gli articoli specifici del D.Lgs 81/2008 quando pertinenti. Se una domanda esula dalla sicurezza sul lavoro, indirizza gentilmente l'utente verso argomenti pertinenti.`

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 supports truncation to 768 dimensions, matching the
// documents table schema in db/migrations.
const DefaultEmbedderModel = "gemini-embedding-001"

// DatadogConfig holds the OTLP trace export settings (see internal/observability).
type DatadogConfig struct {
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Quota configuration. QuotaWindowLength only applies to the rolling
	// window kind; daily and hourly windows derive their length from the
	// calendar boundary.
	QuotaLimit        int           `mapstructure:"quota_limit" json:"quota_limit"`
	QuotaWindow       string        `mapstructure:"quota_window" json:"quota_window"`
	QuotaWindowLength time.Duration `mapstructure:"quota_window_length" json:"quota_window_length"`
	QuotaFailOpen     bool          `mapstructure:"quota_fail_open" json:"quota_fail_open"`

	// Retrieval configuration
	RetrievalTopK     int           `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	RetrievalMinScore float32       `mapstructure:"retrieval_min_score" json:"retrieval_min_score"`
	RetrievalTimeout  time.Duration `mapstructure:"retrieval_timeout" json:"retrieval_timeout"`

	// Completion configuration
	CompletionTimeout    time.Duration `mapstructure:"completion_timeout" json:"completion_timeout"`
	CompletionMaxRetries int           `mapstructure:"completion_max_retries" json:"completion_max_retries"`

	// Persistence configuration
	PersistTimeout time.Duration `mapstructure:"persist_timeout" json:"persist_timeout"`

	// System prompt: inline text wins over file. When both are empty the
	// built-in D.Lgs 81/2008 persona is used.
	SystemPrompt     string `mapstructure:"system_prompt" json:"system_prompt"`
	SystemPromptFile string `mapstructure:"system_prompt_file" json:"system_prompt_file"`

	// Server configuration
	ServerHost  string   `mapstructure:"server_host" json:"server_host"`
	ServerPort  int      `mapstructure:"server_port" json:"server_port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration
	Datadog DatadogConfig `mapstructure:"datadog" json:"datadog"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".safelex")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has the highest priority for PostgreSQL settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.resolveSystemPrompt(); err != nil {
		return nil, fmt.Errorf("resolving system prompt: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("temperature", 0.3)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults for local development
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "safelex")
	viper.SetDefault("postgres_password", "safelex_dev_password")
	viper.SetDefault("postgres_db_name", "safelex")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Quota defaults: 10 questions per UTC calendar day.
	viper.SetDefault("quota_limit", 10)
	viper.SetDefault("quota_window", WindowDaily)
	viper.SetDefault("quota_window_length", 24*time.Hour)
	viper.SetDefault("quota_fail_open", false)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", 3)
	viper.SetDefault("retrieval_min_score", 0.0)
	viper.SetDefault("retrieval_timeout", 5*time.Second)

	// Completion defaults: a single attempt per turn; retries are an
	// explicit policy choice, opted into per deployment.
	viper.SetDefault("completion_timeout", 60*time.Second)
	viper.SetDefault("completion_max_retries", 0)

	viper.SetDefault("persist_timeout", 10*time.Second)

	// Server defaults
	viper.SetDefault("server_host", "127.0.0.1")
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// Datadog defaults
	viper.SetDefault("datadog.agent_host", "localhost:4318")
	viper.SetDefault("datadog.environment", "dev")
	viper.SetDefault("datadog.service_name", "safelex")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "SAFELEX_PROVIDER")
	mustBind("model_name", "SAFELEX_MODEL_NAME")
	mustBind("embedder_model", "SAFELEX_EMBEDDER_MODEL")
	mustBind("ollama_host", "SAFELEX_OLLAMA_HOST")

	mustBind("quota_limit", "SAFELEX_QUOTA_LIMIT")
	mustBind("quota_window", "SAFELEX_QUOTA_WINDOW")

	mustBind("system_prompt_file", "SAFELEX_SYSTEM_PROMPT_FILE")

	mustBind("cors_origins", "SAFELEX_CORS_ORIGINS")
	mustBind("trust_proxy", "SAFELEX_TRUST_PROXY")
	mustBind("rate_burst", "SAFELEX_RATE_BURST")

	mustBind("datadog.agent_host", "SAFELEX_DATADOG_AGENT_HOST")
	mustBind("datadog.environment", "SAFELEX_DATADOG_ENVIRONMENT")

	// NOTE: GEMINI_API_KEY and OPENAI_API_KEY are read directly by the
	// Genkit plugins, not via Viper. Validate() checks their presence
	// based on the selected provider.
}

// resolveSystemPrompt applies the inline > file > built-in priority.
func (c *Config) resolveSystemPrompt() error {
	if c.SystemPrompt != "" {
		return nil
	}
	if c.SystemPromptFile != "" {
		data, err := os.ReadFile(c.SystemPromptFile)
		if err != nil {
			return fmt.Errorf("reading system prompt file %q: %w", c.SystemPromptFile, err)
		}
		c.SystemPrompt = string(data)
		return nil
	}
	c.SystemPrompt = DefaultSystemPrompt
	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		// The Gemini plugin registers models under the googleai prefix.
		return "googleai/" + c.ModelName
	}
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = maskedValue
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling masked config: %w", err)
	}
	return data, nil
}
