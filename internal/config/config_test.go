package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWorkspace(t *testing.T) {
	t.Run("defaults without a config file", func(t *testing.T) {
		cfg, err := FromWorkspace(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName),
			[]byte("workers: 3\nlog_level: DEBUG\n"), 0o644))

		cfg, err := FromWorkspace(root)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Workers)
		assert.Equal(t, "debug", cfg.LogLevel, "enum fields are normalized")
		assert.Equal(t, Default().LogFormat, cfg.LogFormat, "untouched fields keep their defaults")
	})

	t.Run("unknown keys are errors", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName),
			[]byte("wrokers: 3\n"), 0o644))

		_, err := FromWorkspace(root)
		assert.Error(t, err)
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName), nil, 0o644))

		cfg, err := FromWorkspace(root)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -4 }},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"empty rules", func(c *Config) { c.Rules = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
