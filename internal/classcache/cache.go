// Package classcache stores rewritten class bytes between runs.
//
// Entries are keyed by the hash of the original class bytes and the
// instrumentation fingerprint, so a change to either one is a miss. The
// cache is a pure optimization: callers treat every error as a miss.
package classcache

import (
	"context"
	"fmt"
)

// Backend names accepted by New.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Key addresses one rewritten class.
type Key struct {
	OriginalHash string
	Fingerprint  string
}

func (k Key) String() string {
	return k.Fingerprint + "/" + k.OriginalHash
}

func (k Key) valid() bool {
	return safeComponent(k.OriginalHash) && safeComponent(k.Fingerprint)
}

func safeComponent(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-' || r == '_') {
			return false
		}
	}

	return true
}

// Cache is a store of rewritten class bytes.
type Cache interface {
	// Get returns the bytes for key and whether they were present.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Put stores data under key, replacing any previous entry.
	Put(ctx context.Context, key Key, data []byte) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Dir is the cache directory for the fs backend and the database
	// location for the sqlite backend.
	Dir string
}

func (c *Config) defaults() error {
	if c.Backend == "" {
		c.Backend = BackendNone
	}

	if c.Backend != BackendNone && c.Dir == "" {
		return fmt.Errorf("cache dir is required for backend %q", c.Backend)
	}

	return nil
}

// New opens the configured cache backend.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Backend {
	case BackendNone:
		return Noop{}, nil
	case BackendFS:
		return NewFileCache(cfg.Dir)
	case BackendSQLite:
		return NewSQLiteCache(ctx, SQLiteConfig{DBPath: sqlitePath(cfg.Dir)})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, Key) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Put(context.Context, Key, []byte) error         { return nil }
func (Noop) Close() error                                   { return nil }
