package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/coppicehq/coppice/internal/core/models"
)

// Config is the host-level configuration. Session limit policies layered on
// top of it are frozen per session at creation; this only supplies the
// defaults for new sessions.
type Config struct {
	DBPath         string             `toml:"db_path"`
	LogLevel       string             `toml:"log_level"`
	LogPretty      bool               `toml:"log_pretty"`
	PromptTemplate string             `toml:"prompt_template"`
	DefaultPolicy  models.LimitPolicy `toml:"default_policy"`
}

// Load reads config from ~/.config/coppice/config.toml, falling back to
// defaults for anything missing (or everything, when the file is absent).
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:      "info",
		DefaultPolicy: models.DefaultLimitPolicy(),
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil // Use defaults
	}
	cfg.DBPath = filepath.Join(home, ".config", "coppice", "coppice.db")

	tomlPath := filepath.Join(home, ".config", "coppice", "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, err
		}
	}

	// A custom prompt template file takes precedence over the inline option.
	promptPath := filepath.Join(home, ".config", "coppice", "prompt.mustache")
	if data, err := os.ReadFile(promptPath); err == nil {
		cfg.PromptTemplate = string(data)
	}

	if err := cfg.DefaultPolicy.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
