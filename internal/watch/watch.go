// Package watch delivers debounced batches of workspace file changes.
// Events are collected until the tree has been quiet for the debounce
// window, then emitted as one sorted, deduplicated batch of
// workspace-relative paths.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/quern/internal/ctxlog"
)

// DefaultDebounce is the quiet period before a batch is emitted.
const DefaultDebounce = 250 * time.Millisecond

// Watcher observes a workspace tree recursively. Directories whose name
// starts with a dot are never watched; the ignore predicate filters
// everything else, such as generated outputs that would otherwise
// retrigger the run that wrote them.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   func(rel string) bool
	fsw      *fsnotify.Watcher
	batches  chan []string
}

// New creates a watcher rooted at the workspace directory. The ignore
// predicate receives slash-separated workspace-relative paths and may be
// nil.
func New(root string, debounce time.Duration, ignore func(rel string) bool) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if ignore == nil {
		ignore = func(string) bool { return false }
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		debounce: debounce,
		ignore:   ignore,
		fsw:      fsw,
		batches:  make(chan []string, 1),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Batches returns the channel change batches are delivered on. It is
// closed when Run returns.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Run processes events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	defer close(w.batches)
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	logger.Debug("Watching workspace.", "root", w.root, "debounce", w.debounce)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			rel, inside := w.relPath(ev.Name)
			if !inside || hiddenPath(rel) || w.ignore(rel) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "path", rel, "error", err)
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error.", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})
			logger.Debug("Change batch ready.", "paths", len(batch))
			select {
			case w.batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// relPath converts an event path to a slash-separated workspace-relative
// path. Paths outside the root are reported as not inside.
func (w *Watcher) relPath(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
