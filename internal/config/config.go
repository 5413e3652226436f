// Package config loads the pagepilot config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/logging"
)

// FileName is the config file looked up in browser.ConfigDir.
const FileName = "config.yaml"

type Config struct {
	Browser browser.Config  `yaml:"browser"`
	Log     logging.Options `yaml:"log"`
	Store   StoreConfig     `yaml:"store"`
	MCP     MCPConfig       `yaml:"mcp"`
}

type StoreConfig struct {
	// Path of the SQLite snapshot store. Empty disables persistence.
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
	// Retention is how long a snapshot is kept by the scheduled prune run
	// in long-lived commands. Zero keeps snapshots forever.
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"pruneSchedule"`
}

type MCPConfig struct {
	Name string `yaml:"name"`
	// Addr serves MCP over streamable HTTP; empty means stdio.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Browser: browser.DefaultConfig(),
		Log:     logging.Options{Level: "info", Format: "text"},
		Store: StoreConfig{
			Path:          filepath.Join(browser.ConfigDir(), "snapshots.db"),
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@every 1h",
		},
		MCP: MCPConfig{Name: "pagepilot"},
	}
}

// DefaultPath is the config file location when none is given.
func DefaultPath() string {
	return filepath.Join(browser.ConfigDir(), FileName)
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	c := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if c.Store.Disabled {
		c.Store.Path = ""
	}
	return c, nil
}
