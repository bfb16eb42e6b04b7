package classcache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"
)

// FileCache stores one file per entry under dir/<fingerprint>/<hash>.yaml.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, zerr.Wrap(err, "failed to create class cache directory")
	}

	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key Key) string {
	return filepath.Join(c.dir, key.Fingerprint, key.OriginalHash+".yaml")
}

// Get reads the entry for key.
func (c *FileCache) Get(_ context.Context, key Key) ([]byte, bool, error) {
	if !key.valid() {
		return nil, false, zerr.With(zerr.New("invalid cache key"), "key", key.String())
	}

	//nolint:gosec // Path is built from validated key components
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}

		return nil, false, zerr.Wrap(err, "failed to read class cache entry")
	}

	return data, true, nil
}

// Put writes the entry atomically through a temporary file.
func (c *FileCache) Put(_ context.Context, key Key, data []byte) error {
	if !key.valid() {
		return zerr.With(zerr.New("invalid cache key"), "key", key.String())
	}

	target := c.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create class cache directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return zerr.Wrap(err, "failed to create class cache entry")
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return zerr.Wrap(err, "failed to write class cache entry")
	}

	if err := tmp.Close(); err != nil {
		return zerr.Wrap(err, "failed to write class cache entry")
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return zerr.Wrap(err, "failed to commit class cache entry")
	}

	return nil
}

// Close is a no-op.
func (c *FileCache) Close() error { return nil }
