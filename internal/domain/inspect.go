package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/dispatch"
	"shadowbox.dev/pkg/shadowbox/internal/lifecycle"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/sandbox"
)

// InspectArgs selects the sandbox and shadow map to inspect.
type InspectArgs struct {
	// Version to inspect; zero means the first version the resolver names.
	Version  m.PlatformVersion
	Resolver lifecycle.Resolver
	// Test selects the package and class level substitute entries.
	Test   lifecycle.TestCase
	Strict bool
}

// Inspect binds a sandbox the way a test run would and reports the dispatch
// table built for it, including intercepted methods no plan could be
// formed for.
func (w *workflow) Inspect(ctx context.Context, args InspectArgs) (m.Inspection, error) {
	if args.Resolver == nil {
		return m.Inspection{}, zerr.Wrap(m.ErrConfiguration, "no resolver configured")
	}

	registry, err := sandbox.NewRegistry(sandbox.RegistryConfig{
		Provider:     w.artifacts,
		Catalog:      w.catalog,
		Cache:        w.cache,
		MaxSandboxes: 1,
		Strict:       args.Strict,
	})
	if err != nil {
		return m.Inspection{}, err
	}
	defer registry.Close()

	coordinator, err := lifecycle.New(lifecycle.Config{Registry: registry, Resolver: args.Resolver})
	if err != nil {
		return m.Inspection{}, err
	}

	tc := args.Test
	if tc.Name == "" && tc.ID == "" {
		tc.Name = "inspect"
	}

	if args.Version != (m.PlatformVersion{}) {
		tc.Versions = []m.PlatformVersion{args.Version}
	}

	var in m.Inspection

	tc.Setup = nil
	tc.Body = func(env *lifecycle.Env) error {
		in = inspect(env)

		return nil
	}

	results := coordinator.Run(ctx, tc)
	if len(results) == 0 {
		return m.Inspection{}, zerr.Wrap(m.ErrConfiguration, "resolver returned no platform versions")
	}

	if err := results[0].Err; err != nil {
		return m.Inspection{}, err
	}

	if err := w.DisplayInspection(ctx, in); err != nil {
		return in, fmt.Errorf("display: %w", err)
	}

	return in, nil
}

func inspect(env *lifecycle.Env) m.Inspection {
	d := env.Dispatcher()
	sb := env.Sandbox()
	smap := env.ShadowMap()

	in := m.Inspection{
		Version:        env.Version(),
		SandboxID:      sb.ID(),
		MapFingerprint: smap.Fingerprint(),
	}

	for _, e := range smap.Entries() {
		line := fmt.Sprintf("%s -> %s", e.Real, e.ShadowType)
		if origin := smap.Origin(e.Real); origin != "" {
			line += " (" + origin + ")"
		}

		in.Shadows = append(in.Shadows, line)
	}

	seen := make(map[m.MethodKey]bool)

	for _, p := range d.Plans() {
		seen[p.Key] = true
		in.Rows = append(in.Rows, planRow(p))
	}

	var failed []m.PlanRow

	for _, key := range interceptedKeys(env) {
		if seen[key] {
			continue
		}

		seen[key] = true

		if p, err := d.Resolve(key.Type, key.Sig, key.Static); err != nil {
			failed = append(failed, failedRow(key, err))
		} else {
			in.Rows = append(in.Rows, planRow(*p))
		}
	}

	slices.SortFunc(in.Rows, func(a, b m.PlanRow) int { return strings.Compare(a.Method, b.Method) })
	in.Rows = append(in.Rows, failed...)

	return in
}

// interceptedKeys lists every method calls to which reach the dispatcher.
func interceptedKeys(env *lifecycle.Env) []m.MethodKey {
	sb := env.Sandbox()
	keys := sb.Configuration().InterceptedMethods()

	for sc := sb.Scope(); sc != nil; sc = sc.Parent() {
		for _, c := range sc.Classes() {
			for _, method := range c.Methods() {
				if method.Kind() == classfile.KindIntercepted {
					keys = append(keys, method.Key())
				}
			}
		}
	}

	slices.SortFunc(keys, func(a, b m.MethodKey) int { return strings.Compare(a.String(), b.String()) })

	return slices.Compact(keys)
}

func planRow(p dispatch.Plan) m.PlanRow {
	row := m.PlanRow{
		Method: p.Key.String(),
		Target: p.Target.String(),
		Path:   p.Path,
	}

	if p.Via != "" && p.Via != p.Key.Type {
		row.Via = p.Via
	}

	if p.Shadow != nil {
		row.Shadow = p.Shadow.String()
	}

	return row
}

func failedRow(key m.MethodKey, err error) m.PlanRow {
	row := m.PlanRow{Method: key.String(), Err: err.Error()}

	var re *dispatch.ResolutionError
	if errors.As(err, &re) {
		row.Path = re.Path
		row.Err = re.Reason
	}

	return row
}
