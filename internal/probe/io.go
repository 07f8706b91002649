package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/fsutil"
)

// Observation is the file traffic of one invocation.
type Observation struct {
	// Reads maps each file read, as a workspace-relative slash path, to
	// the digest of its content at read time.
	Reads map[string]fingerprint.Digest
	// Writes lists written paths in first-write order.
	Writes []string
	// WrittenDigests maps each written path to the digest of the content
	// handed to WriteFile.
	WrittenDigests map[string]fingerprint.Digest
}

// IO is a workspace-rooted filesystem handle that satisfies rule.IO and
// records every access. One IO serves one invocation.
type IO struct {
	root string

	mu      sync.Mutex
	reads   map[string]fingerprint.Digest
	writes  []string
	written map[string]fingerprint.Digest
}

// NewIO returns a recording handle rooted at the workspace directory.
func NewIO(root string) *IO {
	return &IO{
		root:    root,
		reads:   make(map[string]fingerprint.Digest),
		written: make(map[string]fingerprint.Digest),
	}
}

// Root reports the workspace directory the handle resolves paths against.
func (w *IO) Root() string {
	return w.root
}

// ReadFile reads a workspace-relative file and records the access. Failed
// reads are not recorded.
func (w *IO) ReadFile(p string) ([]byte, error) {
	rel, err := fsutil.CleanRel(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	w.mu.Lock()
	w.reads[rel] = fingerprint.SumBytes(data)
	w.mu.Unlock()
	return data, nil
}

// WriteFile writes a workspace-relative file, creating parent directories
// as needed, and records the access.
func (w *IO) WriteFile(p string, data []byte) error {
	rel, err := fsutil.CleanRel(p)
	if err != nil {
		return err
	}
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}

	w.mu.Lock()
	if _, seen := w.written[rel]; !seen {
		w.writes = append(w.writes, rel)
	}
	w.written[rel] = fingerprint.SumBytes(data)
	w.mu.Unlock()
	return nil
}

// Observation returns a copy of everything recorded so far.
func (w *IO) Observation() *Observation {
	w.mu.Lock()
	defer w.mu.Unlock()

	obs := &Observation{
		Reads:          make(map[string]fingerprint.Digest, len(w.reads)),
		Writes:         append([]string(nil), w.writes...),
		WrittenDigests: make(map[string]fingerprint.Digest, len(w.written)),
	}
	for p, d := range w.reads {
		obs.Reads[p] = d
	}
	for p, d := range w.written {
		obs.WrittenDigests[p] = d
	}
	return obs
}
