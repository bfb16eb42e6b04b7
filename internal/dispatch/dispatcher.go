package dispatch

import (
	"fmt"
	"log/slog"
	"slices"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

var _ vm.Interceptor = (*Dispatcher)(nil)

// Config configures a Dispatcher.
type Config struct {
	// Scope resolves declaring types.
	Scope   *vm.Scope
	Map     *shadow.Map
	Catalog *shadow.Catalog
	// Intercepted lists methods of shared classes that are routed through
	// the dispatcher in addition to rewritten methods.
	Intercepted []model.MethodKey
	// States holds the substitute state of the owning sandbox.
	States *shadow.States
}

func (c *Config) defaults() error {
	if c.Scope == nil {
		return fmt.Errorf("scope is required")
	}

	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}

	if c.Map == nil {
		c.Map = shadow.Empty(model.PlatformVersion{})
	}

	if c.States == nil {
		c.States = shadow.NewStates()
	}

	return nil
}

// Stats counts dispatch table activity.
type Stats struct {
	Resolutions int
	Hits        int
	Failures    int
	Size        int
}

// Dispatcher routes intercepted calls of one sandbox. Its plan table lives
// as long as the dispatcher. A Dispatcher is confined to the thread that
// owns the sandbox and is not safe for concurrent use.
type Dispatcher struct {
	scope       *vm.Scope
	smap        *shadow.Map
	catalog     *shadow.Catalog
	intercepted []model.MethodKey
	states      *shadow.States

	table map[model.MethodKey]*Plan
	stats Stats
}

// New returns a dispatcher for cfg.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher configuration: %w", err)
	}

	return &Dispatcher{
		scope:       cfg.Scope,
		smap:        cfg.Map,
		catalog:     cfg.Catalog,
		intercepted: slices.Clone(cfg.Intercepted),
		states:      cfg.States,
		table:       map[model.MethodKey]*Plan{},
	}, nil
}

// Map returns the shadow map the dispatcher resolves against.
func (d *Dispatcher) Map() *shadow.Map { return d.smap }

// Stats returns the table counters.
func (d *Dispatcher) Stats() Stats {
	s := d.stats
	s.Size = len(d.table)

	return s
}

// Plans returns the cached plans sorted by key.
func (d *Dispatcher) Plans() []Plan {
	out := make([]Plan, 0, len(d.table))
	for _, p := range d.table {
		out = append(out, *p)
	}

	slices.SortFunc(out, func(a, b Plan) int {
		switch ak, bk := a.Key.String(), b.Key.String(); {
		case ak < bk:
			return -1
		case ak > bk:
			return 1
		default:
			return 0
		}
	})

	return out
}

// Precompute resolves every intercepted method of the scope's own classes
// and every listed shared method, filling the plan table. Keys that fail
// to resolve are left for lazy resolution and reported again on call.
func (d *Dispatcher) Precompute() int {
	keys := slices.Clone(d.intercepted)

	for _, c := range d.scope.Classes() {
		for _, m := range c.Methods() {
			if m.Kind() == classfile.KindIntercepted {
				keys = append(keys, m.Key())
			}
		}
	}

	resolved := 0

	for _, k := range keys {
		if _, err := d.Resolve(k.Type, k.Sig, k.Static); err != nil {
			slog.Debug("Plan not precomputed", "method", k.String(), "error", err)

			continue
		}

		resolved++
	}

	return resolved
}

// Resolve returns the plan for a call of sig declared on typ. Plans are
// memoized; failures are not.
func (d *Dispatcher) Resolve(typ model.TypeName, sig model.Signature, static bool) (*Plan, error) {
	key := model.MethodKey{Type: typ, Sig: sig, Static: static}

	if p, ok := d.table[key]; ok {
		d.stats.Hits++

		return p, nil
	}

	p, err := d.resolve(key)
	if err != nil {
		d.stats.Failures++

		return nil, err
	}

	d.table[key] = p
	d.stats.Resolutions++

	return p, nil
}

func (d *Dispatcher) resolve(key model.MethodKey) (*Plan, error) {
	c, err := d.scope.Lookup(key.Type)
	if err != nil {
		return nil, &ResolutionError{Key: key, Path: PathLookup, Reason: err.Error()}
	}

	m, ok := c.Method(key.Sig, key.Static)
	if !ok {
		return nil, &ResolutionError{Key: key, Path: PathLookup, Reason: "method is not declared on the type"}
	}

	plan := &Plan{Key: key, Returns: m.Returns()}

	cfg, via, found := d.configFor(c)
	if !found {
		plan.Target, plan.Path = Real, PathNoShadow

		return plan, d.checkReal(plan, m)
	}

	plan.Via, plan.Config = via, cfg

	chain, err := d.catalog.Chain(cfg.ShadowType)
	if err != nil {
		return nil, &ResolutionError{Key: key, Path: PathExact, Reason: err.Error()}
	}

	if sm := find(chain, key.Sig, key.Static); sm != nil {
		plan.Target, plan.Path, plan.Shadow = Substitute, PathExact, sm

		return plan, nil
	}

	if cfg.LooseSignatures {
		if wide := key.Sig.Widen(); wide != key.Sig {
			if sm := find(chain, wide, key.Static); sm != nil {
				plan.Target, plan.Path, plan.Shadow = Substitute, PathLoose, sm

				return plan, nil
			}
		}
	}

	if cfg.CallThroughByDefault {
		plan.Target, plan.Path = Real, PathCallThrough

		return plan, d.checkReal(plan, m)
	}

	plan.Target, plan.Path = None, PathNone

	return plan, nil
}

// configFor returns the configuration applying to methods declared on c:
// its own, or the nearest configured ancestor's when that ancestor
// inherits implementation methods.
func (d *Dispatcher) configFor(c *vm.Class) (shadow.Config, model.TypeName, bool) {
	for i, k := range c.Lineage() {
		cfg, ok := d.smap.Get(k.Name())
		if !ok {
			continue
		}

		if i > 0 && !cfg.InheritImplementationMethods {
			return shadow.Config{}, "", false
		}

		return cfg, k.Name(), true
	}

	return shadow.Config{}, "", false
}

func (d *Dispatcher) checkReal(plan *Plan, m *vm.Method) error {
	orig := m.Original()
	if orig != nil && orig.HasBody() {
		return nil
	}

	if m.IsNative() && !m.Class().Scope().NativeDefaults() {
		return &ResolutionError{Key: plan.Key, Path: plan.Path, Reason: "native method has no implementation and no substitute"}
	}

	return nil
}

func find(chain []*shadow.Type, sig model.Signature, static bool) *shadow.Method {
	for _, t := range chain {
		if m, ok := t.Lookup(sig, static); ok {
			return m
		}
	}

	return nil
}

// Intercept routes one call according to its plan. Errors raised by the
// substitute or the original body are returned unchanged.
func (d *Dispatcher) Intercept(t *vm.Thread, m *vm.Method, self *vm.Instance, args []any) (any, error) {
	plan, err := d.Resolve(m.Class().Name(), m.Signature(), m.IsStatic())
	if err != nil {
		return nil, err
	}

	switch plan.Target {
	case Substitute:
		call := &shadow.Call{Thread: t, Method: m, Real: self, Args: args, States: d.states}

		if self != nil {
			// A substituted constructor replaces the super call too; the
			// substitute must exist before it runs.
			if m.IsConstructor() {
				if err := t.Register(self); err != nil {
					return nil, err
				}
			}

			sh, ok := vm.ShadowOf(self)
			if !ok {
				return nil, &ResolutionError{Key: plan.Key, Path: plan.Path, Reason: "no substitute instance linked to " + self.String()}
			}

			call.Shadow = sh
		}

		res, err := plan.Shadow.Invoke(call)
		if err != nil {
			return nil, err
		}

		out, err := model.Coerce(m.Returns(), res)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(model.ErrBadArgument, "substitute result: "+err.Error()), "method", plan.Shadow.String())
		}

		return out, nil
	case Real:
		return t.InvokeOriginal(m, self, args)
	default:
		return model.Zero(m.Returns()), nil
	}
}

// Constructed links a new real instance to a substitute created by the
// substitute type of its most-derived configured class. The VM calls it
// once the superclass constructors returned.
func (d *Dispatcher) Constructed(_ *vm.Thread, inst *vm.Instance) error {
	for _, c := range inst.Class().Lineage() {
		cfg, ok := d.smap.Get(c.Name())
		if !ok {
			continue
		}

		typ, ok := d.catalog.Lookup(cfg.ShadowType)
		if !ok || typ.IsStaticOnly() || typ.Constructor() == nil {
			return nil
		}

		return inst.Arena().Link(inst, typ.Constructor()(inst))
	}

	return nil
}

// ClassInit runs the substitute class initializer of c when its
// configuration provides one, otherwise the original one.
func (d *Dispatcher) ClassInit(t *vm.Thread, c *vm.Class) error {
	key := model.MethodKey{Type: c.Name(), Sig: model.NewSignature(model.ClassInitName), Static: true}

	plan, ok := d.table[key]
	if ok {
		d.stats.Hits++
	} else {
		plan = &Plan{Key: key, Target: Real, Path: PathClassInit, Returns: model.VoidType}

		if cfg, found := d.smap.Get(c.Name()); found {
			plan.Via, plan.Config = c.Name(), cfg

			if typ, ok := d.catalog.Lookup(cfg.ShadowType); ok {
				if sm, ok := typ.Lookup(key.Sig, true); ok {
					plan.Target, plan.Shadow = Substitute, sm
				}
			}
		}

		d.table[key] = plan
		d.stats.Resolutions++
	}

	if plan.Target != Substitute {
		return t.RunClassInitializer(c)
	}

	_, err := plan.Shadow.Invoke(&shadow.Call{Thread: t, Method: c.ClassInitializer(), States: d.states})

	return err
}
