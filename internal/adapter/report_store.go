package adapter

import (
	"fmt"
	"os"
	"path/filepath"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

// RewriteStore persists rewritten classes.
type RewriteStore interface {
	// SaveClass stores the rewritten bytes of name and returns where they went.
	SaveClass(version m.PlatformVersion, name m.TypeName, data []byte) (string, error)
}

// LocalRewriteStore writes rewritten classes to <root>/<api>/<class>.yaml,
// the layout LocalArtifactAdapter reads.
type LocalRewriteStore struct {
	root string
}

// NewLocalRewriteStore returns a store writing below root.
func NewLocalRewriteStore(root string) *LocalRewriteStore {
	return &LocalRewriteStore{root: root}
}

// SaveClass writes data through a temporary file so readers never see a
// partial class.
func (s *LocalRewriteStore) SaveClass(version m.PlatformVersion, name m.TypeName, data []byte) (string, error) {
	dir := filepath.Join(s.root, fmt.Sprintf("%d", version.API))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, string(name)+ClassFileExt)

	tmp, err := os.CreateTemp(dir, ".rewrite-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	return path, nil
}
