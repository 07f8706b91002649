package fingerprint

import (
	"context"
	"os"

	"github.com/vk/quern/internal/ctxlog"
)

// Service hashes files, consulting an optional cache first. It is safe for
// concurrent use; BadgerDB transactions handle their own locking.
type Service struct {
	cache *Cache
}

// NewService returns a Service. A nil cache disables caching; every call
// then hashes the file content directly.
func NewService(cache *Cache) *Service {
	return &Service{cache: cache}
}

// File returns the content digest of path. With a cache attached, a stat
// call validates the cached entry; a hit skips reading the file entirely.
func (s *Service) File(ctx context.Context, path string) (Digest, error) {
	if s.cache == nil {
		return File(path)
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// Let the plain hasher produce the canonical wrapped error.
		return File(path)
	}

	size := info.Size()
	mtime := info.ModTime().UnixNano()
	if digest, ok := s.cache.Get(path, size, mtime); ok {
		return digest, nil
	}

	digest, err := File(path)
	if err != nil {
		return None, err
	}
	if err := s.cache.Put(path, size, mtime, digest); err != nil {
		// A cache write failure costs a rehash next run, nothing more.
		ctxlog.FromContext(ctx).Warn("Digest cache write failed.", "path", path, "error", err)
	}
	return digest, nil
}
