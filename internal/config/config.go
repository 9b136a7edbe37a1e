// Package config loads Stratum's runtime configuration from defaults, an
// optional YAML file, and environment variables (highest priority),
// binding the fixed set of variables in §6.6.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// configPathEnvVar names the env var pointing at an optional YAML
// overlay, supplementing §6.6's fixed variable list.
const configPathEnvVar = "STRATUM_CONFIG"

// Config is the fully resolved runtime configuration (§6.6 plus the
// ambient LOG_FILE addition).
type Config struct {
	APIKey string `koanf:"api_key"`

	LLMProvider string `koanf:"llm_provider"`
	LLMAPIKey   string `koanf:"llm_api_key"`
	LLMURL      string `koanf:"llm_url"`

	BusURL      string `koanf:"bus_url"`
	ColumnarURL string `koanf:"columnar_url"`
	VectorURL   string `koanf:"vector_url"`

	Port     int    `koanf:"port"`
	LogLevel string `koanf:"log_level"`
	LogFile  string `koanf:"log_file"`
}

func defaults() map[string]any {
	return map[string]any{
		"api_key":      "",
		"llm_provider": "local",
		"llm_api_key":  "",
		"llm_url":      "http://localhost:11434",
		"bus_url":      "nats://localhost:4222",
		"columnar_url": "postgres://localhost:5432/stratum?sslmode=disable",
		"vector_url":   "localhost:6334",
		"port":         3000,
		"log_level":    "info",
		"log_file":     "",
	}
}

// envKeys is the fixed §6.6 variable list (plus LOG_FILE; STRATUM_CONFIG is read separately),
// mapped verbatim to lowercase koanf keys — these are flat names, not a
// nested hierarchy, so no prefix stripping is needed.
var envKeys = []string{
	"API_KEY", "LLM_PROVIDER", "LLM_API_KEY", "LLM_URL",
	"BUS_URL", "COLUMNAR_URL", "VECTOR_URL", "PORT", "LOG_LEVEL", "LOG_FILE",
}

// Load resolves configuration with priority defaults < file < env.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path := os.Getenv(configPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load file %s: %w", path, err)
			}
		}
	}

	known := make(map[string]bool, len(envKeys))
	for _, name := range envKeys {
		known[name] = true
	}
	if err := k.Load(env.Provider("", ".", func(s string) string {
		if !known[s] {
			return ""
		}
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.LLMProvider != "hosted" && c.LLMProvider != "local" {
		return fmt.Errorf("config: LLM_PROVIDER must be %q or %q, got %q", "hosted", "local", c.LLMProvider)
	}
	if c.Port <= 0 {
		return fmt.Errorf("config: PORT must be positive, got %d", c.Port)
	}
	return nil
}

// AuthEnabled reports whether API key auth is required (§4.2: optional,
// only enforced when API_KEY is set).
func (c *Config) AuthEnabled() bool { return c.APIKey != "" }
