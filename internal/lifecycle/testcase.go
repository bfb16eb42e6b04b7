// Package lifecycle drives one test execution per platform version: it
// resolves the configuration, binds a sandbox, runs the test with reset
// hooks around it and tears the per-test state down again.
package lifecycle

import (
	"context"
	"slices"
	"strings"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
)

// TestCase is one test to run in a sandbox.
type TestCase struct {
	// ID identifies the test in results and logs. Defaults to Class.Name.
	ID string
	// Package is the package of the test, used to select package-level
	// substitute entries.
	Package string
	// Class is the test class, used to select class-level entries.
	Class string
	Name  string
	// Versions overrides the versions chosen by the resolver.
	Versions []model.PlatformVersion
	// Shadows are method-level substitute entries.
	Shadows []shadow.Entry
	Setup   func(env *Env) error
	Body    func(env *Env) error
}

// Identifier returns ID or a name derived from Class and Name.
func (tc TestCase) Identifier() string {
	if tc.ID != "" {
		return tc.ID
	}

	if tc.Class == "" {
		return tc.Name
	}

	return tc.Class + "." + tc.Name
}

// Resolution is the configuration of one test for one platform version.
type Resolution struct {
	Version         model.PlatformVersion
	Instrumentation *instrument.Configuration
	// Sources are the partial substitute configurations, merged into the
	// shadow map in precedence order.
	Sources []shadow.Partial
}

// Resolver supplies the configurations a test runs under.
type Resolver interface {
	Resolve(ctx context.Context, tc TestCase) ([]Resolution, error)
}

// StaticResolver resolves every test against one fixed set of entries.
type StaticResolver struct {
	Versions        []model.PlatformVersion
	Instrumentation *instrument.Configuration
	Defaults        []shadow.Entry
	// Packages maps a package to its entries. Only the most specific
	// package enclosing the test's package applies.
	Packages map[string][]shadow.Entry
	// Classes maps a test class to its entries.
	Classes map[string][]shadow.Entry
}

// Resolve returns one resolution per version.
func (r *StaticResolver) Resolve(ctx context.Context, tc TestCase) ([]Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.Instrumentation == nil {
		return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, "no instrumentation configuration"), "test", tc.Identifier())
	}

	versions := tc.Versions
	if len(versions) == 0 {
		versions = r.Versions
	}

	if len(versions) == 0 {
		return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, "no platform version to run on"), "test", tc.Identifier())
	}

	var sources []shadow.Partial

	if len(r.Defaults) > 0 {
		sources = append(sources, shadow.Partial{Level: shadow.LevelDefault, Origin: "defaults", Entries: r.Defaults})
	}

	if pkg, ok := r.packageFor(tc.Package); ok {
		sources = append(sources, shadow.Partial{Level: shadow.LevelPackage, Origin: "package " + pkg, Entries: r.Packages[pkg]})
	}

	if entries, ok := r.Classes[tc.Class]; ok && tc.Class != "" {
		sources = append(sources, shadow.Partial{Level: shadow.LevelClass, Origin: "class " + tc.Class, Entries: entries})
	}

	if len(tc.Shadows) > 0 {
		sources = append(sources, shadow.Partial{Level: shadow.LevelMethod, Origin: "method " + tc.Identifier(), Entries: tc.Shadows})
	}

	out := make([]Resolution, 0, len(versions))
	for _, v := range versions {
		out = append(out, Resolution{Version: v, Instrumentation: r.Instrumentation, Sources: slices.Clone(sources)})
	}

	return out, nil
}

func (r *StaticResolver) packageFor(pkg string) (string, bool) {
	if pkg == "" {
		return "", false
	}

	best, found := "", false

	for p := range r.Packages {
		if pkg != p && !strings.HasPrefix(pkg, p+".") {
			continue
		}

		if !found || len(p) > len(best) {
			best, found = p, true
		}
	}

	return best, found
}
