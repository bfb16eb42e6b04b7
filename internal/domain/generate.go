package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/facade"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

// GenerateArgs contains the arguments for generating typed facades.
type GenerateArgs struct {
	Version m.PlatformVersion
	// Packages limits generation to classes in these packages. Empty means
	// every class of the version.
	Packages []string
	// Package is the Go package name of the generated file.
	Package string
	// Output is the path of the generated file.
	Output string
}

// Generate writes one Go file holding a typed facade per platform class.
func (w *workflow) Generate(ctx context.Context, args GenerateArgs) error {
	if w.goFiles == nil {
		return fmt.Errorf("no Go file adapter configured")
	}

	names, err := w.artifacts.ListClasses(ctx, args.Version)
	if err != nil {
		return zerr.With(zerr.Wrap(m.ErrSandboxConstruction, err.Error()), "version", args.Version.String())
	}

	var defs []*classfile.Definition

	for _, name := range names {
		if !inPackages(name, args.Packages) {
			continue
		}

		raw, err := w.artifacts.ReadClass(ctx, args.Version, name)
		if err != nil {
			return zerr.With(zerr.Wrap(m.ErrSandboxConstruction, err.Error()), "class", string(name))
		}

		def, err := classfile.Decode(raw)
		if err != nil {
			return zerr.With(err, "class", string(name))
		}

		defs = append(defs, def)
	}

	if len(defs) == 0 {
		return zerr.With(zerr.Wrap(m.ErrConfiguration, "no classes to generate facades for"), "version", args.Version.String())
	}

	src, err := facade.Generate(args.Package, defs)
	if err != nil {
		return err
	}

	if err := w.goFiles.WriteGenerated(ctx, args.Output, src); err != nil {
		return err
	}

	slog.Debug("Facades generated", "path", args.Output, "classes", len(defs))
	w.DisplayGenerated(ctx, args.Output, len(defs))

	return nil
}

func inPackages(name m.TypeName, packages []string) bool {
	if len(packages) == 0 {
		return true
	}

	pkg := name.Package()

	for _, p := range packages {
		if pkg == p || strings.HasPrefix(pkg, p+".") {
			return true
		}
	}

	return false
}
