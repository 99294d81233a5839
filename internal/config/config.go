// Package config loads and validates the conclave user configuration.
// Config lives at ~/.conclave/config.json; environment variables override
// credentials so a config file is never required just to run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
}

// Config is the persisted user configuration.
type Config struct {
	// Credentials. Env vars OPENROUTER_API_KEY / GEMINI_API_KEY take
	// precedence; API_KEY is a shared single-credential fallback.
	OpenRouterAPIKey string `json:"openrouter_api_key,omitempty"`
	GeminiAPIKey     string `json:"gemini_api_key,omitempty"`

	// Stage model bindings.
	GuardModel    string `json:"guard_model,omitempty"`
	ChairmanModel string `json:"chairman_model,omitempty"`

	// MemberModels maps a council member id to a model identifier,
	// overriding the built-in roster binding.
	MemberModels map[string]string `json:"member_models,omitempty"`

	// CallTimeoutSeconds bounds a single gateway call when the caller's
	// context has no deadline.
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty"`

	// SiteURL/SiteName are sent as OpenRouter attribution headers.
	SiteURL  string `json:"site_url,omitempty"`
	SiteName string `json:"site_name,omitempty"`

	Logging LoggingConfig `json:"logging,omitempty"`
}

// Default stage models, matching the reference council configuration.
const (
	DefaultGuardModel    = "google/gemini-2.0-flash-001"
	DefaultChairmanModel = "google/gemini-2.0-pro-exp-02-05"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		GuardModel:         DefaultGuardModel,
		ChairmanModel:      DefaultChairmanModel,
		CallTimeoutSeconds: 90,
		SiteName:           "conclave",
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultHome returns the conclave home directory (~/.conclave).
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conclave"
	}
	return filepath.Join(home, ".conclave")
}

// DefaultUserConfigPath returns the default config file path.
func DefaultUserConfigPath() string {
	return filepath.Join(DefaultHome(), "config.json")
}

// Load reads the config file at path, fills defaults for unset fields, and
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.fillDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.GuardModel == "" {
		c.GuardModel = DefaultGuardModel
	}
	if c.ChairmanModel == "" {
		c.ChairmanModel = DefaultChairmanModel
	}
	if c.CallTimeoutSeconds <= 0 {
		c.CallTimeoutSeconds = 90
	}
	if c.SiteName == "" {
		c.SiteName = "conclave"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnvOverrides() {
	shared := os.Getenv("API_KEY")

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.OpenRouterAPIKey = v
	} else if c.OpenRouterAPIKey == "" && shared != "" {
		c.OpenRouterAPIKey = shared
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GeminiAPIKey = v
	} else if c.GeminiAPIKey == "" && shared != "" {
		c.GeminiAPIKey = shared
	}

	if v := os.Getenv("CONCLAVE_GUARD_MODEL"); v != "" {
		c.GuardModel = v
	}
	if v := os.Getenv("CONCLAVE_CHAIRMAN_MODEL"); v != "" {
		c.ChairmanModel = v
	}
}

// CallTimeout returns the per-call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
