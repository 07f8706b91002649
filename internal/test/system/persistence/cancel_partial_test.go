package system

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/testutil"
)

// Test for: an interrupted run persists the work that completed, so the
// next run retries only what was cut short.
func TestPersistence_InterruptedRunKeepsCompletedWork(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	// --- Arrange ---
	// The slow rule blocks until killed unless the marker file exists,
	// which it only does before the retry run.
	root := testutil.WriteWorkspace(t, map[string]string{
		"src/ok.txt": "fine\n",
		"build.hcl": `
rule "cat" "fast" {
  inputs = ["src/ok.txt"]
  output = "out/fast.txt"
}
rule "exec" "slow" {
  inputs  = ["src/ok.txt"]
  outputs = ["out/slow.txt"]
  command = ["sh", "-c", "test -f marker || sleep 30; mkdir -p out; cp src/ok.txt out/slow.txt"]
}
`,
	})

	// --- Act ---
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first := testutil.RunBuildWithContext(ctx, t, root)

	// --- Assert ---
	require.NotNil(t, first.Summary, "an interrupted run still persists and reports")
	assert.Equal(t, 1, first.Summary.Rebuilt)
	assert.Equal(t, "fine\n", testutil.ReadFile(t, root, "out/fast.txt"))
	assert.NoFileExists(t, filepath.Join(root, "out", "slow.txt"))

	// --- Act again: let the slow rule finish ---
	testutil.UpdateWorkspace(t, root, map[string]string{"marker": ""})
	second := testutil.RunBuild(t, root)

	// --- Assert ---
	require.NoError(t, second.Err)
	assert.Equal(t, 1, second.Summary.Scheduled, "completed work from the interrupted run is not redone")
	assert.Equal(t, "fine\n", testutil.ReadFile(t, root, "out/slow.txt"))
}
