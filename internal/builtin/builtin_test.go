package builtin

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/rule"
)

// memIO is an in-memory rule.IO for exercising builtins without a
// workspace on disk.
type memIO struct {
	files map[string][]byte
}

func newMemIO(files map[string]string) *memIO {
	m := &memIO{files: make(map[string][]byte, len(files))}
	for p, data := range files {
		m.files[p] = []byte(data)
	}
	return m
}

func (m *memIO) ReadFile(p string) ([]byte, error) {
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, fs.ErrNotExist)
	}
	return data, nil
}

func (m *memIO) WriteFile(p string, data []byte) error {
	m.files[p] = data
	return nil
}

func runFn(t *testing.T, fn *rule.Function, mio *memIO, inputs []string, output string) string {
	t.Helper()
	require.NoError(t, fn.Execute(context.Background(), mio, inputs, []string{output}))
	data, ok := mio.files[output]
	require.True(t, ok, "output %s was not written", output)
	return string(data)
}

func TestCat(t *testing.T) {
	mio := newMemIO(map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	})

	t.Run("plain concatenation in declared order", func(t *testing.T) {
		fn, err := Cat(CatOptions{})
		require.NoError(t, err)
		got := runFn(t, fn, mio, []string{"b.txt", "a.txt"}, "out.txt")
		assert.Equal(t, "betaalpha", got)
	})

	t.Run("separator between inputs", func(t *testing.T) {
		fn, err := Cat(CatOptions{Separator: "\n"})
		require.NoError(t, err)
		got := runFn(t, fn, mio, []string{"a.txt", "b.txt"}, "out.txt")
		assert.Equal(t, "alpha\nbeta", got)
	})

	t.Run("upper transform", func(t *testing.T) {
		fn, err := Cat(CatOptions{Transform: TransformUpper})
		require.NoError(t, err)
		got := runFn(t, fn, mio, []string{"a.txt"}, "out.txt")
		assert.Equal(t, "ALPHA", got)
	})

	t.Run("gzip transform round-trips", func(t *testing.T) {
		fn, err := Cat(CatOptions{Transform: TransformGzip})
		require.NoError(t, err)
		got := runFn(t, fn, mio, []string{"a.txt", "b.txt"}, "out.gz")

		zr, err := gzip.NewReader(bytes.NewReader([]byte(got)))
		require.NoError(t, err)
		plain, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, "alphabeta", string(plain))
	})

	t.Run("unknown transform is rejected", func(t *testing.T) {
		_, err := Cat(CatOptions{Transform: "rot13"})
		assert.Error(t, err)
	})

	t.Run("missing input fails", func(t *testing.T) {
		fn, err := Cat(CatOptions{})
		require.NoError(t, err)
		err = fn.Execute(context.Background(), mio, []string{"absent.txt"}, []string{"out.txt"})
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("exactly one output", func(t *testing.T) {
		fn, err := Cat(CatOptions{})
		require.NoError(t, err)
		err = fn.Execute(context.Background(), mio, []string{"a.txt"}, []string{"x", "y"})
		assert.Error(t, err)
	})
}

func TestCatIdentity(t *testing.T) {
	plain1, err := Cat(CatOptions{})
	require.NoError(t, err)
	plain2, err := Cat(CatOptions{})
	require.NoError(t, err)
	upper, err := Cat(CatOptions{Transform: TransformUpper})
	require.NoError(t, err)
	sep, err := Cat(CatOptions{Separator: ","})
	require.NoError(t, err)

	assert.Equal(t, plain1.Digest, plain2.Digest, "same options, same identity")
	assert.NotEqual(t, plain1.Digest, upper.Digest)
	assert.NotEqual(t, plain1.Digest, sep.Digest)
	assert.NotEqual(t, upper.Digest, sep.Digest)
}

func TestCopy(t *testing.T) {
	mio := newMemIO(map[string]string{"static/logo.png": "PNG"})

	fn := Copy()
	got := runFn(t, fn, mio, []string{"static/logo.png"}, "out/static/logo.png")
	assert.Equal(t, "PNG", got)

	err := fn.Execute(context.Background(), mio, []string{"a", "b"}, []string{"c"})
	assert.Error(t, err, "copy is expanded to one production per file")
}
