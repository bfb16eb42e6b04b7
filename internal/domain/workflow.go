// Package domain holds the workflows behind the shadowbox CLI commands.
package domain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/controller"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/rewrite"
	"shadowbox.dev/pkg/shadowbox/internal/sandbox"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
)

// Artifacts is where platform classes are read from.
type Artifacts interface {
	sandbox.ArtifactProvider
	// Versions lists the platform versions present.
	Versions() ([]m.PlatformVersion, error)
}

// RewriteArgs contains the arguments for rewriting platform classes.
type RewriteArgs struct {
	// Versions to rewrite; empty means every version present.
	Versions        []m.PlatformVersion
	Instrumentation *instrument.Configuration
	// Save writes rewritten classes to the rewrite store.
	Save    bool
	Workers int
}

// DiffArgs names one class to show the rewrite of.
type DiffArgs struct {
	Version         m.PlatformVersion
	Class           m.TypeName
	Instrumentation *instrument.Configuration
}

// Workflow defines the operations behind the CLI commands.
type Workflow interface {
	Rewrite(ctx context.Context, args RewriteArgs) ([]m.ClassReport, error)
	Diff(ctx context.Context, args DiffArgs) error
	Watch(ctx context.Context, args WatchArgs) error
	Inspect(ctx context.Context, args InspectArgs) (m.Inspection, error)
	Generate(ctx context.Context, args GenerateArgs) error
}

type workflow struct {
	artifacts Artifacts
	store     adapter.RewriteStore
	goFiles   adapter.GoFileAdapter
	cache     classcache.Cache
	catalog   *shadow.Catalog
	controller.UI
}

// NewWorkflow creates a new Workflow instance with the provided dependencies.
// store may be nil when rewritten classes are never saved.
func NewWorkflow(
	artifacts Artifacts,
	store adapter.RewriteStore,
	goFiles adapter.GoFileAdapter,
	cache classcache.Cache,
	catalog *shadow.Catalog,
	ui controller.UI,
) Workflow {
	if cache == nil {
		cache = classcache.Noop{}
	}

	return &workflow{
		artifacts: artifacts,
		store:     store,
		goFiles:   goFiles,
		cache:     cache,
		catalog:   catalog,
		UI:        ui,
	}
}

func (w *workflow) versions(requested []m.PlatformVersion) ([]m.PlatformVersion, error) {
	if len(requested) > 0 {
		return requested, nil
	}

	versions, err := w.artifacts.Versions()
	if err != nil {
		return nil, fmt.Errorf("list platform versions: %w", err)
	}

	if len(versions) == 0 {
		return nil, zerr.Wrap(m.ErrSandboxConstruction, "no platform versions found")
	}

	return versions, nil
}

// Rewrite rewrites every class of the requested versions and stops at the
// first class that cannot be rewritten.
func (w *workflow) Rewrite(ctx context.Context, args RewriteArgs) ([]m.ClassReport, error) {
	if args.Instrumentation == nil {
		return nil, zerr.Wrap(m.ErrConfiguration, "no instrumentation configuration")
	}

	if args.Save && w.store == nil {
		return nil, fmt.Errorf("no rewrite output configured")
	}

	versions, err := w.versions(args.Versions)
	if err != nil {
		return nil, err
	}

	rw := rewrite.NewCaching(rewrite.New(args.Instrumentation), w.cache)

	var (
		reports []m.ClassReport
		mu      sync.Mutex
	)

	group, groupCtx := errgroup.WithContext(ctx)
	if args.Workers > 0 {
		group.SetLimit(args.Workers)
	}

	for _, version := range versions {
		names, err := w.artifacts.ListClasses(ctx, version)
		if err != nil {
			_ = group.Wait()

			return nil, zerr.With(zerr.Wrap(m.ErrSandboxConstruction, err.Error()), "version", version.String())
		}

		for _, name := range names {
			group.Go(func() error {
				report, err := w.rewriteClass(groupCtx, rw, version, name, args.Save)
				if err != nil {
					return err
				}

				mu.Lock()
				reports = append(reports, report)
				mu.Unlock()

				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		slog.Error("Rewrite failed", "error", err)

		return nil, err
	}

	slices.SortFunc(reports, func(a, b m.ClassReport) int {
		if a.Version.API != b.Version.API {
			return a.Version.API - b.Version.API
		}

		return strings.Compare(string(a.Class), string(b.Class))
	})

	if err := w.DisplayRewrite(ctx, reports); err != nil {
		return reports, fmt.Errorf("display: %w", err)
	}

	return reports, nil
}

func (w *workflow) rewriteClass(
	ctx context.Context, rw *rewrite.CachingRewriter, version m.PlatformVersion, name m.TypeName, save bool,
) (m.ClassReport, error) {
	report := m.ClassReport{Version: version, Class: name}

	raw, err := w.artifacts.ReadClass(ctx, version, name)
	if err != nil {
		return report, zerr.With(zerr.With(zerr.Wrap(m.ErrSandboxConstruction, err.Error()), "class", string(name)), "version", version.String())
	}

	res, err := rw.RewriteBytes(ctx, raw)
	if err != nil {
		return report, zerr.With(zerr.With(err, "class", string(name)), "version", version.String())
	}

	report.Cached = res.Cached
	report.Instrumented = res.Definition.Rewrite != nil && res.Definition.Rewrite.Instrumented

	for _, method := range res.Definition.Methods {
		if method.Kind == classfile.KindIntercepted {
			report.Intercepted++
		}
	}

	if save {
		path, err := w.store.SaveClass(version, res.Definition.Name, res.Bytes)
		if err != nil {
			return report, err
		}

		report.Output = path
	}

	slog.Debug("Class rewritten", "class", string(name), "version", version.String(), "cached", res.Cached)

	return report, nil
}

// Diff shows the rewrite of one class.
func (w *workflow) Diff(ctx context.Context, args DiffArgs) error {
	if args.Instrumentation == nil {
		return zerr.Wrap(m.ErrConfiguration, "no instrumentation configuration")
	}

	raw, err := w.artifacts.ReadClass(ctx, args.Version, args.Class)
	if err != nil {
		return zerr.With(zerr.Wrap(m.ErrSandboxConstruction, err.Error()), "class", string(args.Class))
	}

	original, err := classfile.Decode(raw)
	if err != nil {
		return zerr.With(err, "class", string(args.Class))
	}

	rewritten, err := rewrite.New(args.Instrumentation).Rewrite(original)
	if err != nil {
		return err
	}

	diff, err := rewrite.Diff(original, rewritten)
	if err != nil {
		return fmt.Errorf("render diff: %w", err)
	}

	return w.DisplayDiff(ctx, args.Class, diff)
}
