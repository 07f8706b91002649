// Package workspace locates the tool's on-disk state inside a build tree
// and enforces the single-writer rule with a pid lock file.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/vk/quern/internal/ctxlog"
)

// StateDirName is the directory holding the snapshot, cache, and lock,
// resolved against the workspace root.
const StateDirName = ".quern"

// Workspace is a build tree rooted at a directory.
type Workspace struct {
	root string
}

// New returns the workspace at root. The root is made absolute so paths
// stay valid if the process later changes directory.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// StateDir returns the state directory path.
func (w *Workspace) StateDir() string {
	return filepath.Join(w.root, StateDirName)
}

// SnapshotPath returns the persisted dependency graph path.
func (w *Workspace) SnapshotPath() string {
	return filepath.Join(w.StateDir(), "graph")
}

// CacheDir returns the fingerprint cache directory path.
func (w *Workspace) CacheDir() string {
	return filepath.Join(w.StateDir(), "cache")
}

// LockPath returns the lock file path.
func (w *Workspace) LockPath() string {
	return filepath.Join(w.StateDir(), "lock")
}

// EnsureStateDir creates the state directory if needed.
func (w *Workspace) EnsureStateDir() error {
	if err := os.MkdirAll(w.StateDir(), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return nil
}

// LockedError reports that another live process holds the workspace.
type LockedError struct {
	PID  int
	Path string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("workspace locked by process %d (%s)", e.PID, e.Path)
}

// Lock is a held workspace lock.
type Lock struct {
	path string
}

// Unlock releases the lock. Releasing twice is harmless.
func (l *Lock) Unlock() error {
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Lock takes the single-writer lock for the workspace. A lock file left
// behind by a process that no longer exists is removed and taken over
// once; a live holder yields *LockedError.
func (w *Workspace) Lock(ctx context.Context) (*Lock, error) {
	logger := ctxlog.FromContext(ctx)
	if err := w.EnsureStateDir(); err != nil {
		return nil, err
	}
	path := w.LockPath()

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock %s: %w", path, errors.Join(werr, cerr))
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		pid := readLockPID(path)
		if pid > 0 && processAlive(pid) {
			return nil, &LockedError{PID: pid, Path: path}
		}
		if attempt >= 1 {
			return nil, &LockedError{PID: pid, Path: path}
		}
		logger.Warn("Removing lock left by a dead process.", "path", path, "pid", pid)
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, rerr)
		}
	}
}

// readLockPID returns the pid recorded in the lock file, or 0 when the
// file is unreadable or malformed.
func readLockPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission)
}
