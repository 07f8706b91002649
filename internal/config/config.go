// Package config defines the tool settings for one invocation and loads
// them from the workspace config file. Precedence is defaults, then
// .quern.yaml, then command-line flags; the flag overlay is applied by
// the CLI layer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is looked up in the workspace root.
const FileName = ".quern.yaml"

// Config holds all settings the application needs to run.
type Config struct {
	// Workers is the number of concurrent build function invocations.
	Workers int `yaml:"workers"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
	// Rules is the rule file or directory, relative to the workspace.
	Rules string `yaml:"rules"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Workers:   runtime.NumCPU(),
		LogLevel:  "info",
		LogFormat: "text",
		Rules:     ".",
	}
}

// FromWorkspace layers the workspace config file, when present, over the
// defaults. Unknown keys in the file are errors.
func FromWorkspace(root string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(root, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", FileName, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse %s: %w", FileName, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize lowercases the enum-valued fields.
func (c *Config) Normalize() {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.LogFormat)
	}
	if c.Rules == "" {
		return errors.New("rules path must not be empty")
	}
	return nil
}
