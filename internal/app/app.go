package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/vk/quern/internal/config"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/workspace"
)

// App encapsulates the application's dependencies and lifecycle. It owns
// an isolated logger so embedding callers and tests never touch global
// state.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *config.Config
	ws     *workspace.Workspace

	mu      sync.Mutex
	cache   *fingerprint.Cache
	outputs map[string]bool
}

// New builds an application instance for the workspace rooted at root.
// The configuration must already be validated.
func New(outW io.Writer, cfg *config.Config, root string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ws, err := workspace.New(root)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{outW: outW, logger: logger, cfg: cfg, ws: ws}, nil
}

// Workspace returns the workspace the app operates on.
func (a *App) Workspace() *workspace.Workspace {
	return a.ws
}

// Close releases the digest cache if one was opened.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil {
		return nil
	}
	err := a.cache.Close()
	a.cache = nil
	return err
}

// newLogger creates a logger instance without touching the global
// default. The level and format strings are pre-validated by the config.
func newLogger(level, format string, outW io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}

// rulesPath resolves the configured rules location against the workspace
// root.
func (a *App) rulesPath() string {
	if filepath.IsAbs(a.cfg.Rules) {
		return a.cfg.Rules
	}
	return filepath.Join(a.ws.Root(), a.cfg.Rules)
}

// digestCache lazily opens the on-disk digest cache. A cache that cannot
// be opened downgrades to hashing every file; the run still works.
func (a *App) digestCache() *fingerprint.Cache {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache != nil {
		return a.cache
	}
	cache, err := fingerprint.OpenCache(a.ws.CacheDir(), a.logger)
	if err != nil {
		a.logger.Warn("Digest cache unavailable, hashing without it.", "error", err)
		return nil
	}
	a.cache = cache
	return cache
}

// setOutputs remembers the declared outputs of the most recent rule load,
// so watch mode can tell generated files from sources.
func (a *App) setOutputs(outputs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outputs = make(map[string]bool, len(outputs))
	for _, o := range outputs {
		a.outputs[o] = true
	}
}

// generatedPath reports whether rel was a declared output at the last
// rule load.
func (a *App) generatedPath(rel string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outputs[rel]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
