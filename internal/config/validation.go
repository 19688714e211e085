package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Validation bounds.
const (
	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity).
	MinTemperature float32 = 0.0
	MaxTemperature float32 = 2.0

	// MaxTokens upper bound matches the Gemini 2.5 context limit.
	MinMaxTokens = 1
	MaxMaxTokens = 2_097_152

	// Quota limit upper bound: no deployment tier goes beyond 10k/window.
	MinQuotaLimit = 1
	MaxQuotaLimit = 10_000

	// Retrieval top-K bounds. The vector query is per-request; more than 10
	// passages makes the assembled user turn useless anyway.
	MinTopK = 1
	MaxTopK = 10
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the full configuration and fails fast with a sentinel
// error describing the first violation found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validateTimeouts()
}

func (c *Config) validateAI() error {
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if strings.TrimSpace(c.OllamaHost) == "" {
			return fmt.Errorf("%w: ollama_host must be set for provider %q", ErrInvalidOllamaHost, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < MinTemperature || c.Temperature > MaxTemperature {
		return fmt.Errorf("%w: must be between %.1f and %.1f, got %.2f",
			ErrInvalidTemperature, MinTemperature, MaxTemperature, c.Temperature)
	}
	if c.MaxTokens < MinMaxTokens || c.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: must be between %d and %d, got %d",
			ErrInvalidMaxTokens, MinMaxTokens, MaxMaxTokens, c.MaxTokens)
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("%w: system prompt resolved to an empty string", ErrMissingSystemPrompt)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.QuotaLimit < MinQuotaLimit || c.QuotaLimit > MaxQuotaLimit {
		return fmt.Errorf("%w: must be between %d and %d, got %d",
			ErrInvalidQuotaLimit, MinQuotaLimit, MaxQuotaLimit, c.QuotaLimit)
	}
	switch c.QuotaWindow {
	case WindowDaily, WindowHourly:
	case WindowRolling:
		if c.QuotaWindowLength <= 0 {
			return fmt.Errorf("%w: rolling window requires a positive quota_window_length, got %s",
				ErrInvalidQuotaWindow, c.QuotaWindowLength)
		}
	default:
		return fmt.Errorf("%w: %q (supported: daily, hourly, rolling)", ErrInvalidQuotaWindow, c.QuotaWindow)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.RetrievalTopK < MinTopK || c.RetrievalTopK > MaxTopK {
		return fmt.Errorf("%w: must be between %d and %d, got %d",
			ErrInvalidTopK, MinTopK, MaxTopK, c.RetrievalTopK)
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	for name, d := range map[string]time.Duration{
		"retrieval_timeout":  c.RetrievalTimeout,
		"completion_timeout": c.CompletionTimeout,
		"persist_timeout":    c.PersistTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidTimeout, name)
		}
	}
	if c.CompletionMaxRetries < 0 {
		return fmt.Errorf("%w: completion_max_retries must not be negative", ErrInvalidTimeout)
	}
	return nil
}
