package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Config models taskline.yml.
type Config struct {
	History struct {
		Limit int `yaml:"limit"`
	} `yaml:"history"`
	IDs struct {
		Seed int `yaml:"seed"`
	} `yaml:"ids"`
	Storage struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.History.Limit < 0 {
		return fmt.Errorf("config.history.limit must not be negative")
	}
	if c.IDs.Seed < 0 {
		return fmt.Errorf("config.ids.seed must not be negative")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendCSV:
		if c.Storage.Path == "" {
			return fmt.Errorf("config.storage.path is required for the csv backend")
		}
	default:
		return fmt.Errorf("config.storage.backend must be one of memory, csv, sqlite; got %q", c.Storage.Backend)
	}
	if c.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			return fmt.Errorf("config.server.addr: %w", err)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// StoragePath resolves the csv file against the workspace.
func (c *Config) StoragePath(workspace string) string {
	if filepath.IsAbs(c.Storage.Path) {
		return c.Storage.Path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Storage.Path)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `history:
  # 0 keeps every viewed task
  limit: 0

ids:
  # first id handed out is seed+1
  seed: 0

storage:
  # memory | csv | sqlite
  backend: csv
  path: tasks.csv

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
