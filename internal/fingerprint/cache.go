package fingerprint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Cache is an on-disk digest cache backed by BadgerDB. Entries are keyed by
// path and validated against file size and mtime before the stored digest is
// trusted, so a stale entry can only cause a rehash, never a wrong answer.
type Cache struct {
	db *badger.DB
}

// cacheLogger adapts slog.Logger to BadgerDB's Logger interface.
type cacheLogger struct {
	logger *slog.Logger
}

func (l *cacheLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *cacheLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *cacheLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *cacheLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenCache opens (or creates) a digest cache in dir. The logger receives
// BadgerDB's internal messages at debug level; pass nil to silence them.
func OpenCache(dir string, logger *slog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir)
	opts = opts.WithSyncWrites(false)
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&cacheLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open digest cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// OpenCacheInMemory opens a cache without disk persistence, for tests.
func OpenCacheInMemory() (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory digest cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached digest for path if the stored size and mtime still
// match the given stat values.
func (c *Cache) Get(path string, size, mtimeNanos int64) (Digest, bool) {
	var digest Digest
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entrySize, entryMtime, entryDigest, ok := decodeCacheEntry(val)
			if !ok || entrySize != size || entryMtime != mtimeNanos {
				return badger.ErrKeyNotFound
			}
			digest = entryDigest
			return nil
		})
	})
	if err != nil {
		return None, false
	}
	return digest, true
}

// Put records the digest for path under the given stat values.
func (c *Cache) Put(path string, size, mtimeNanos int64, digest Digest) error {
	val := encodeCacheEntry(size, mtimeNanos, digest)
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), val)
	})
}

func encodeCacheEntry(size, mtimeNanos int64, digest Digest) []byte {
	return []byte(strconv.FormatInt(size, 10) + " " + strconv.FormatInt(mtimeNanos, 10) + " " + string(digest))
}

func decodeCacheEntry(val []byte) (size, mtimeNanos int64, digest Digest, ok bool) {
	parts := strings.SplitN(string(val), " ", 3)
	if len(parts) != 3 {
		return 0, 0, None, false
	}
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, None, false
	}
	mtimeNanos, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, None, false
	}
	return size, mtimeNanos, Digest(parts[2]), true
}
