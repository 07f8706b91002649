package rulefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/builtin"
)

// writeTree lays out files under root, creating parent directories.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, data := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(data), 0o644))
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.txt":         "a",
		"src/b.txt":         "b",
		"static/one.css":    "1",
		"static/sub/two.js": "2",
		"build.hcl": `
rule "cat" "bundle" {
  inputs    = ["src/b.txt", "src/a.txt"]
  output    = "out/bundle.txt"
  separator = "\n"
}

rule "copy" "assets" {
  inputs     = ["static/**"]
  output_dir = "out/static"
}

rule "template" "index" {
  inputs = ["src/a.txt"]
  output = "out/index.html"
}
`,
	})

	prods, err := Load(context.Background(), filepath.Join(root, "build.hcl"), root)
	require.NoError(t, err)
	require.Len(t, prods, 4)

	bundle := prods[0]
	assert.Equal(t, "bundle", bundle.RuleName)
	assert.Equal(t, []string{"src/b.txt", "src/a.txt"}, bundle.Inputs,
		"literal inputs keep their declared order")
	assert.Equal(t, []string{"out/bundle.txt"}, bundle.Outputs)

	assert.Equal(t, "assets:one.css", prods[1].RuleName)
	assert.Equal(t, []string{"static/one.css"}, prods[1].Inputs)
	assert.Equal(t, []string{"out/static/one.css"}, prods[1].Outputs)
	assert.Equal(t, "assets:two.js", prods[2].RuleName)
	assert.Equal(t, []string{"out/static/two.js"}, prods[2].Outputs)

	assert.Equal(t, "index", prods[3].RuleName)

	for i, p := range prods {
		assert.Equal(t, i, p.DeclIndex)
		assert.NotNil(t, p.Fn)
	}
	assert.NotEqual(t, prods[0].Fn.Digest, prods[3].Fn.Digest,
		"different commands have different identities")
}

func TestLoadGlobSeesPendingOutputs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.txt": "a",
		"build.hcl": `
rule "cat" "gen" {
  inputs = ["src/a.txt"]
  output = "out/gen.txt"
}

rule "cat" "all" {
  inputs = ["out/*.txt"]
  output = "out/all.txt"
}

rule "cat" "late" {
  inputs = ["src/a.txt"]
  output = "out/late.txt"
}
`,
	})

	prods, err := Load(context.Background(), root, root)
	require.NoError(t, err)
	require.Len(t, prods, 3)

	all := prods[1]
	assert.Equal(t, []string{"out/gen.txt"}, all.Inputs,
		"the glob matches the declared output of an earlier rule, not its own and not later ones")
}

func TestLoadGlobSeesExpandedCopyOutputs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"static/a.css": "a",
		"static/b.css": "b",
		"build.hcl": `
rule "copy" "assets" {
  inputs     = ["static/*.css"]
  output_dir = "out/static"
}

rule "cat" "manifest" {
  inputs = ["out/static/*.css"]
  output = "out/manifest.txt"
}
`,
	})

	prods, err := Load(context.Background(), root, root)
	require.NoError(t, err)
	require.Len(t, prods, 3)

	manifest := prods[2]
	assert.Equal(t, []string{"out/static/a.css", "out/static/b.css"}, manifest.Inputs,
		"per-file copy outputs are matchable by later globs before they exist")
}

func TestLoadMergesDirectory(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.txt": "a",
		"rules/01.hcl": `
rule "cat" "first" {
  inputs = ["src/a.txt"]
  output = "out/first.txt"
}
`,
		"rules/02.hcl": `
rule "cat" "second" {
  inputs = ["out/first.txt"]
  output = "out/second.txt"
}
`,
	})

	prods, err := Load(context.Background(), filepath.Join(root, "rules"), root)
	require.NoError(t, err)
	require.Len(t, prods, 2)
	assert.Equal(t, "first", prods[0].RuleName)
	assert.Equal(t, "second", prods[1].RuleName)
}

func TestLoadExecEnv(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"build.hcl": `
rule "exec" "greet" {
  command = ["sh", "-c", "printf hi > out/hi.txt"]
  outputs = ["out/hi.txt"]
  env = {
    MODE     = "fast"
    GREETING = "hello"
  }
}
`,
	})

	prods, err := Load(context.Background(), root, root)
	require.NoError(t, err)
	require.Len(t, prods, 1)

	want, err := builtin.Exec(
		[]string{"sh", "-c", "printf hi > out/hi.txt"},
		[]string{"GREETING=hello", "MODE=fast"})
	require.NoError(t, err)
	assert.Equal(t, want.Digest, prods[0].Fn.Digest,
		"env pairs are normalized into the function identity")
}

func TestLoadErrors(t *testing.T) {
	load := func(t *testing.T, hcl string) error {
		t.Helper()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"build.hcl": hcl})
		_, err := Load(context.Background(), root, root)
		return err
	}

	t.Run("unknown rule kind", func(t *testing.T) {
		err := load(t, `
rule "zip" "x" {
  inputs = ["a"]
  output = "b"
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown rule kind "zip"`)
	})

	t.Run("duplicate rule name", func(t *testing.T) {
		err := load(t, `
rule "cat" "same" {
  inputs = ["a"]
  output = "out/1.txt"
}
rule "cat" "same" {
  inputs = ["a"]
  output = "out/2.txt"
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate rule name "same"`)
	})

	t.Run("missing required attribute", func(t *testing.T) {
		err := load(t, `
rule "cat" "x" {
  inputs = ["a"]
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "output")
	})

	t.Run("syntax error", func(t *testing.T) {
		err := load(t, `rule "cat" {`)
		assert.Error(t, err)
	})

	t.Run("glob in output", func(t *testing.T) {
		err := load(t, `
rule "cat" "x" {
  inputs = ["a"]
  output = "out/*.txt"
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "glob")
	})

	t.Run("escaping output path", func(t *testing.T) {
		err := load(t, `
rule "cat" "x" {
  inputs = ["a"]
  output = "../outside.txt"
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes the workspace")
	})

	t.Run("template with several inputs", func(t *testing.T) {
		err := load(t, `
rule "template" "x" {
  inputs = ["a.txt", "b.txt"]
  output = "out/x.html"
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one input")
	})

	t.Run("bad env type", func(t *testing.T) {
		err := load(t, `
rule "exec" "x" {
  command = ["true"]
  outputs = ["out/x"]
  env     = ["not", "a", "map"]
}
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "env")
	})

	t.Run("missing rules path", func(t *testing.T) {
		_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
		assert.Error(t, err)
	})
}
