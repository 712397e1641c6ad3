package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the skein configuration
type Config struct {
	Watch  WatchConfig  `yaml:"watch"`
	Search SearchConfig `yaml:"search"`
}

// WatchConfig controls the live inbox watcher.
type WatchConfig struct {
	// Dir overrides the default <stateDir>/inbox drop directory.
	Dir string `yaml:"dir,omitempty"`
	// DebounceSeconds between a file event and the ingest pass (default 2).
	DebounceSeconds int `yaml:"debounce_seconds,omitempty"`
}

// SearchConfig controls message search behavior.
type SearchConfig struct {
	// DisableFTS forces the substring search path even when FTS5 is available.
	DisableFTS bool `yaml:"disable_fts,omitempty"`
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("SKEIN_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "skein"), nil
}

// GetStateDir returns the platform-specific state directory. The contact
// database and the ingest inbox live under it.
func GetStateDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("SKEIN_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Skein"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "skein"), nil
	}

	return filepath.Join(home, ".local", "share", "skein"), nil
}

// DatabasePath returns the path of the contact database file.
func DatabasePath() (string, error) {
	stateDir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "contacts", "contacts.sqlite"), nil
}

// InboxDir returns the drop directory watched for inbound message batches.
func (c *Config) InboxDir() (string, error) {
	if c != nil && c.Watch.Dir != "" {
		return c.Watch.Dir, nil
	}
	stateDir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "inbox"), nil
}

// Load loads config from the config file
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default empty config
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
