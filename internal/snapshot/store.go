package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/graph"
)

// Load reads the snapshot at path. A missing file yields an empty graph: a
// first run is just a full rebuild. An unparseable file yields the same,
// after a warning, since the worst a lost snapshot can cost is rebuilding
// everything. Real IO failures (permissions and the like) are returned.
func Load(ctx context.Context, path string) (*graph.Graph, error) {
	logger := ctxlog.FromContext(ctx)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("No snapshot on disk, starting from an empty graph.", "path", path)
			return graph.New(), nil
		}
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer f.Close()

	g, err := Decode(ctx, f)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			logger.Warn("Snapshot is unreadable; discarding it and scheduling a full rebuild.", "path", path, "error", perr)
			return graph.New(), nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	logger.Debug("Snapshot loaded.", "path", path, "nodes", g.Len())
	return g, nil
}

// Save writes the graph to path atomically and durably: encode to a temp
// file in the same directory, fsync, rename over the target, fsync the
// directory. A crash at any point leaves the previous snapshot or the new
// one intact.
func Save(ctx context.Context, path string, g *graph.Graph) error {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := writeFileAtomicDurable(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}

	ctxlog.FromContext(ctx).Debug("Snapshot saved.", "path", path, "nodes", g.Len(), "bytes", buf.Len())
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
