package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceFile(t *testing.T) {
	ctx := context.Background()

	t.Run("without cache hashes directly", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

		svc := NewService(nil)
		got, err := svc.File(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, SumBytes([]byte("hello")), got)
	})

	t.Run("cache hit returns stored digest without rehashing", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

		cache, err := OpenCacheInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { cache.Close() })

		// Seed a sentinel entry under the file's current stat values. The
		// service returning the sentinel proves it trusted the cache.
		info, err := os.Stat(path)
		require.NoError(t, err)
		sentinel := Digest("cafe0000cafe0000cafe0000cafe0000cafe0000cafe0000cafe0000cafe0000")
		require.NoError(t, cache.Put(path, info.Size(), info.ModTime().UnixNano(), sentinel))

		svc := NewService(cache)
		got, err := svc.File(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, sentinel, got)
	})

	t.Run("stat mismatch falls back to rehash and repairs the entry", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

		cache, err := OpenCacheInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { cache.Close() })

		// Entry recorded under stat values that no longer match.
		require.NoError(t, cache.Put(path, 1, 1, Digest("dead")))

		svc := NewService(cache)
		got, err := svc.File(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, SumBytes([]byte("hello")), got)

		// The repaired entry is served on the next lookup.
		info, err := os.Stat(path)
		require.NoError(t, err)
		repaired, ok := cache.Get(path, info.Size(), info.ModTime().UnixNano())
		require.True(t, ok)
		assert.Equal(t, got, repaired)
	})

	t.Run("missing file errors even with cache", func(t *testing.T) {
		cache, err := OpenCacheInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { cache.Close() })

		svc := NewService(cache)
		_, err = svc.File(ctx, filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
	})
}

func TestCacheEntryCodec(t *testing.T) {
	val := encodeCacheEntry(42, 1700000000123456789, Digest("abcd"))
	size, mtime, digest, ok := decodeCacheEntry(val)
	require.True(t, ok)
	assert.Equal(t, int64(42), size)
	assert.Equal(t, int64(1700000000123456789), mtime)
	assert.Equal(t, Digest("abcd"), digest)

	_, _, _, ok = decodeCacheEntry([]byte("garbage"))
	assert.False(t, ok)
}
