package adapter

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
)

// GoFileAdapter reads and writes generated Go source so the workflow never
// touches hand-written files.
type GoFileAdapter interface {
	// Parse builds an AST using the provided file set and optional source bytes.
	Parse(ctx context.Context, fileSet *token.FileSet, filename string, src []byte) (*ast.File, error)

	// WriteGenerated writes src to path. An existing file is only replaced
	// when it carries a "Code generated ... DO NOT EDIT." header.
	WriteGenerated(ctx context.Context, path string, src []byte) error
}

// LocalGoFileAdapter provides a concrete GoFileAdapter backed by go/parser.
type LocalGoFileAdapter struct{}

// NewLocalGoFileAdapter constructs a LocalGoFileAdapter.
func NewLocalGoFileAdapter() *LocalGoFileAdapter {
	return &LocalGoFileAdapter{}
}

// Parse builds an AST for the provided filename/source pair.
func (a *LocalGoFileAdapter) Parse(ctx context.Context, fileSet *token.FileSet, filename string, src []byte) (*ast.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return parser.ParseFile(fileSet, filename, src, parser.ParseComments)
}

// WriteGenerated writes src to path, creating parent directories.
func (a *LocalGoFileAdapter) WriteGenerated(ctx context.Context, path string, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	existing, err := os.ReadFile(path)

	switch {
	case err == nil:
		file, perr := a.Parse(ctx, token.NewFileSet(), path, existing)
		if perr != nil || !ast.IsGenerated(file) {
			return fmt.Errorf("refusing to overwrite %s: not a generated file", path)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, src, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
