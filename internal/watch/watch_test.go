package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

func startWatcher(t *testing.T, root string, ignore func(string) bool) (*Watcher, context.CancelFunc) {
	t.Helper()
	w, err := New(root, testDebounce, ignore)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)
	return w, cancel
}

func nextBatch(t *testing.T, w *Watcher) []string {
	t.Helper()
	select {
	case batch := <-w.Batches():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change batch")
		return nil
	}
}

func TestWatcherDeliversChange(t *testing.T) {
	root := t.TempDir()
	w, _ := startWatcher(t, root, nil)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	batch := nextBatch(t, w)
	assert.Contains(t, batch, "a.txt")
}

func TestWatcherBatchesBurst(t *testing.T) {
	root := t.TempDir()
	w, _ := startWatcher(t, root, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("world"), 0o644))
	}

	batch := nextBatch(t, w)
	assert.Equal(t, []string{"a.txt", "b.txt"}, batch, "a burst collapses into one sorted batch")
}

func TestWatcherIgnores(t *testing.T) {
	root := t.TempDir()
	ignore := func(rel string) bool { return rel == "out.txt" }
	w, _ := startWatcher(t, root, ignore)

	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("generated"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("dot"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("source"), 0o644))

	batch := nextBatch(t, w)
	assert.Equal(t, []string{"src.txt"}, batch)
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, _ := startWatcher(t, root, nil)

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "inner.txt"), []byte("deep"), 0o644))

	batch := nextBatch(t, w)
	assert.Contains(t, batch, "sub/inner.txt")
}

func TestWatcherStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	w, cancel := startWatcher(t, root, nil)

	cancel()

	select {
	case _, open := <-w.Batches():
		assert.False(t, open, "batch channel closes on shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the watcher to stop")
	}
}
