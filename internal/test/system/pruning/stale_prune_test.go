package system

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/testutil"
)

// Test for: deleting a rule removes its output file and snapshot record
// on the next run, leaving every other node alone.
func TestPruning_RemovedRuleOutputIsDeleted(t *testing.T) {
	// --- Arrange ---
	root := testutil.WriteWorkspace(t, map[string]string{
		"src/keep.txt": "keep\n",
		"src/drop.txt": "drop\n",
		"build.hcl": `
rule "cat" "keep" {
  inputs = ["src/keep.txt"]
  output = "out/keep.txt"
}
rule "cat" "drop" {
  inputs = ["src/drop.txt"]
  output = "out/drop.txt"
}
`,
	})
	require.NoError(t, testutil.RunBuild(t, root).Err)
	assert.FileExists(t, filepath.Join(root, "out", "drop.txt"))

	// --- Act ---
	testutil.UpdateWorkspace(t, root, map[string]string{
		"build.hcl": `
rule "cat" "keep" {
  inputs = ["src/keep.txt"]
  output = "out/keep.txt"
}
`,
	})
	res := testutil.RunBuild(t, root)

	// --- Assert ---
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Summary.Pruned)
	assert.Zero(t, res.Summary.Invocations, "pruning does not rebuild anything")
	assert.NoFileExists(t, filepath.Join(root, "out", "drop.txt"))
	assert.Equal(t, "keep\n", testutil.ReadFile(t, root, "out/keep.txt"))

	// A third run stays quiet: the pruned node is gone from the snapshot
	// rather than being rediscovered as missing.
	third := testutil.RunBuild(t, root)
	require.NoError(t, third.Err)
	assert.Zero(t, third.Summary.Invocations)
}
