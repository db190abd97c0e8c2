// Package config loads settings for the state service and the seed data
// it starts from. Sources are layered: defaults, then a JSON or YAML file,
// then OBSERVABLE_* environment variables, then command line flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddr     = "127.0.0.1:8085"
	defaultObserver = "slog"
)

// Config holds state service settings.
type Config struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty" env:"OBSERVABLE_ADDR"`
	Observer string `json:"observer,omitempty" yaml:"observer,omitempty" env:"OBSERVABLE_OBSERVER"`
	SeedFile string `json:"seed,omitempty" yaml:"seed,omitempty" env:"OBSERVABLE_SEED"`
	Verbose  bool   `json:"verbose,omitempty" yaml:"verbose,omitempty" env:"OBSERVABLE_VERBOSE"`
}

// DefaultConfig returns a Config listening on localhost with slog events.
func DefaultConfig() Config {
	return Config{
		Addr:     defaultAddr,
		Observer: defaultObserver,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.SeedFile != "" {
		c.SeedFile = source.SeedFile
	}
	if source.Verbose {
		c.Verbose = true
	}
}

// LoadConfig reads a JSON or YAML config file, merges it with defaults, and
// returns the resulting Config. The format follows the file extension.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := decode(filename, data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

// ParseEnv merges OBSERVABLE_* environment variables into c.
func (c *Config) ParseEnv() error {
	var fromEnv Config
	if err := env.Parse(&fromEnv); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.Merge(&fromEnv)
	return nil
}

// LoadSeed reads the initial data object from a JSON or YAML file. An empty
// filename yields an empty object.
func LoadSeed(filename string) (map[string]any, error) {
	if filename == "" {
		return map[string]any{}, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	seed := map[string]any{}
	if err := decode(filename, data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if seed == nil {
		seed = map[string]any{}
	}
	return seed, nil
}

func decode(filename string, data []byte, target any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, target)
	default:
		return json.Unmarshal(data, target)
	}
}
