package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate() with the
// ollama provider (no API key needed in the test environment).
func validConfig() *Config {
	return &Config{
		Provider:      ProviderOllama,
		OllamaHost:    "http://localhost:11434",
		ModelName:     "llama3.3",
		EmbedderModel: "nomic-embed-text",
		Temperature:   0.3,
		MaxTokens:     2048,
		SystemPrompt:  DefaultSystemPrompt,

		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresUser:    "safelex",
		PostgresDBName:  "safelex",
		PostgresSSLMode: "disable",

		QuotaLimit:        10,
		QuotaWindow:       WindowDaily,
		QuotaWindowLength: 24 * time.Hour,

		RetrievalTopK:    3,
		RetrievalTimeout: 5 * time.Second,

		CompletionTimeout: 60 * time.Second,
		PersistTimeout:    10 * time.Second,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() = %v, want ErrConfigNil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "watson" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "  " },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "empty embedder model",
			mutate:  func(c *Config) { c.EmbedderModel = "" },
			wantErr: ErrInvalidEmbedderModel,
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.Temperature = -0.1 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.MaxTokens = 0 },
			wantErr: ErrInvalidMaxTokens,
		},
		{
			name:    "empty system prompt",
			mutate:  func(c *Config) { c.SystemPrompt = "" },
			wantErr: ErrMissingSystemPrompt,
		},
		{
			name:    "missing ollama host",
			mutate:  func(c *Config) { c.OllamaHost = "" },
			wantErr: ErrInvalidOllamaHost,
		},
		{
			name:    "empty postgres host",
			mutate:  func(c *Config) { c.PostgresHost = "" },
			wantErr: ErrInvalidPostgresHost,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "empty db name",
			mutate:  func(c *Config) { c.PostgresDBName = "" },
			wantErr: ErrInvalidPostgresDBName,
		},
		{
			name:    "bad ssl mode",
			mutate:  func(c *Config) { c.PostgresSSLMode = "maybe" },
			wantErr: ErrInvalidPostgresSSLMode,
		},
		{
			name:    "zero quota limit",
			mutate:  func(c *Config) { c.QuotaLimit = 0 },
			wantErr: ErrInvalidQuotaLimit,
		},
		{
			name:    "unknown quota window",
			mutate:  func(c *Config) { c.QuotaWindow = "weekly" },
			wantErr: ErrInvalidQuotaWindow,
		},
		{
			name: "rolling window without length",
			mutate: func(c *Config) {
				c.QuotaWindow = WindowRolling
				c.QuotaWindowLength = 0
			},
			wantErr: ErrInvalidQuotaWindow,
		},
		{
			name:    "top-k too large",
			mutate:  func(c *Config) { c.RetrievalTopK = 50 },
			wantErr: ErrInvalidTopK,
		},
		{
			name:    "zero completion timeout",
			mutate:  func(c *Config) { c.CompletionTimeout = 0 },
			wantErr: ErrInvalidTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_QuotaTiers(t *testing.T) {
	// The deployed tiers must all be expressible as configuration.
	tiers := []struct {
		limit  int
		window string
	}{
		{1, WindowDaily},
		{3, WindowDaily},
		{5, WindowDaily},
		{20, WindowHourly},
	}

	for _, tier := range tiers {
		cfg := validConfig()
		cfg.QuotaLimit = tier.limit
		cfg.QuotaWindow = tier.window
		if err := cfg.Validate(); err != nil {
			t.Errorf("tier %d/%s: Validate() = %v, want nil", tier.limit, tier.window, err)
		}
	}
}

func TestMarshalJSON_MasksPassword(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "super secret pw"

	data, err := cfg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	if strings.Contains(string(data), "super secret pw") {
		t.Error("MarshalJSON() leaked the postgres password")
	}
	if !strings.Contains(string(data), maskedValue) {
		t.Error("MarshalJSON() did not substitute the mask placeholder")
	}
}
