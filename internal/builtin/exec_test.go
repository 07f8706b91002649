package builtin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/probe"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestExec(t *testing.T) {
	requireShell(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("abc"), 0o644))

	fn, err := Exec([]string{"sh", "-c", "tr a-z A-Z < in.txt > out.txt"}, nil)
	require.NoError(t, err)

	obs, err := probe.NewLocal(root).Run(context.Background(), fn, []string{"in.txt"}, []string{"out.txt"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(data))
	assert.Contains(t, obs.Reads, "in.txt", "declared inputs are recorded as reads")
}

func TestExecEnvironment(t *testing.T) {
	requireShell(t)

	root := t.TempDir()
	fn, err := Exec([]string{"sh", "-c", `printf %s "$GREETING" > env.txt`}, []string{"GREETING=hello"})
	require.NoError(t, err)

	_, err = probe.NewLocal(root).Run(context.Background(), fn, nil, []string{"env.txt"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExecFailureCarriesOutput(t *testing.T) {
	requireShell(t)

	fn, err := Exec([]string{"sh", "-c", "echo it broke >&2; exit 3"}, nil)
	require.NoError(t, err)

	_, err = probe.NewLocal(t.TempDir()).Run(context.Background(), fn, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "it broke")
}

func TestExecMissingInputFailsBeforeRunning(t *testing.T) {
	requireShell(t)

	root := t.TempDir()
	fn, err := Exec([]string{"sh", "-c", "touch ran.txt"}, nil)
	require.NoError(t, err)

	_, err = probe.NewLocal(root).Run(context.Background(), fn, []string{"absent.txt"}, nil)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "ran.txt"))
}

func TestExecIdentity(t *testing.T) {
	a, err := Exec([]string{"sh", "-c", "true"}, nil)
	require.NoError(t, err)
	b, err := Exec([]string{"sh", "-c", "true"}, nil)
	require.NoError(t, err)
	c, err := Exec([]string{"sh", "-c", "false"}, nil)
	require.NoError(t, err)
	d, err := Exec([]string{"sh"}, []string{"-c=true"})
	require.NoError(t, err)

	assert.Equal(t, a.Digest, b.Digest)
	assert.NotEqual(t, a.Digest, c.Digest)
	assert.NotEqual(t, a.Digest, d.Digest, "argv and env do not blur together")

	_, err = Exec(nil, nil)
	assert.Error(t, err)
}
