// Package testutil provides the shared harness for system tests: scripted
// workspaces on a real filesystem and full pipeline runs with captured
// logs.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/app"
	"github.com/vk/quern/internal/config"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteWorkspace materializes the scripted files under a fresh temporary
// root. Keys are slash-separated workspace-relative paths; parent
// directories are created as needed.
func WriteWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	UpdateWorkspace(t, root, files)
	return root
}

// UpdateWorkspace writes or rewrites files under an existing root.
func UpdateWorkspace(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// RemoveFile deletes one workspace file.
func RemoveFile(t *testing.T, root, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(rel))))
}

// ReadFile returns the content of one workspace file.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// BuildResult holds the outcome of one harness pipeline run.
type BuildResult struct {
	Root      string
	Summary   *app.Summary
	Err       error
	LogOutput string
}

// RunBuild executes one full build pipeline over root with a default
// background context.
func RunBuild(t *testing.T, root string) *BuildResult {
	t.Helper()
	return RunBuildWithContext(context.Background(), t, root)
}

// RunBuildWithContext executes one full build pipeline over root. Each
// call constructs a fresh app, so consecutive calls exercise the
// snapshot handoff between runs.
func RunBuildWithContext(ctx context.Context, t *testing.T, root string) *BuildResult {
	t.Helper()

	logBuffer := &SafeBuffer{}
	cfg := config.Default()
	cfg.Workers = 4
	cfg.LogLevel = "debug"

	a, err := app.New(logBuffer, &cfg, root)
	require.NoError(t, err)
	defer a.Close()

	summary, runErr := a.Run(ctx)

	if os.Getenv("QUERN_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}
	return &BuildResult{
		Root:      root,
		Summary:   summary,
		Err:       runErr,
		LogOutput: logBuffer.String(),
	}
}
