// Package config provides configuration loading and structs for the Fusen server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Anchor   AnchorConfig   `yaml:"anchor"`
	Reanchor ReanchorConfig `yaml:"reanchor"`
	Session  SessionConfig  `yaml:"session"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the annotation database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// AnchorConfig holds text-quote anchor settings.
type AnchorConfig struct {
	// ContextChars is how much quote prefix/suffix is captured at creation.
	ContextChars int `yaml:"context_chars"`
}

// ReanchorConfig tunes the relayout reanchoring pass.
type ReanchorConfig struct {
	RadiusPages     int `yaml:"radius_pages"`
	MinContextScore int `yaml:"min_context_score"`
}

// SessionConfig holds per-document session settings.
type SessionConfig struct {
	UndoDepth int `yaml:"undo_depth"`
}

// WatchConfig holds bundle drop directory watch settings.
type WatchConfig struct {
	// Directory is watched for *.json annotation bundles; leave empty to
	// disable the watcher.
	Directory string `yaml:"directory"`
	// DebounceMillis delays import after the last write event.
	DebounceMillis int `yaml:"debounce_millis"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
