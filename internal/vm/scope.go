// Package vm links class definitions into executable classes and runs them.
//
// A Scope is one loading scope: every Scope holds its own Class values and
// therefore its own static state. Sandbox scopes delegate unknown names to
// a shared parent scope. Execution happens on a Thread, an explicit context
// carrying the scope, the per-test arena and the dispatcher hooks.
package vm

import (
	"fmt"
	"slices"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Body is the Go implementation of a method.
type Body func(f *Frame) (any, error)

// BodyTable maps body symbols to implementations.
type BodyTable map[string]Body

// Register adds a body under symbol and returns the table.
func (t BodyTable) Register(symbol string, body Body) BodyTable {
	t[symbol] = body

	return t
}

// Method registers a body under the default symbol of owner and signature,
// e.g. Method("android.os.Clock", "now()", body).
func (t BodyTable) Method(owner model.TypeName, sig string, body Body) BodyTable {
	return t.Register(classfile.DefaultSymbol(owner, model.MustSignature(sig)), body)
}

// Interceptor receives the calls and hooks of rewritten classes.
type Interceptor interface {
	// Intercept handles a call to an intercepted method.
	Intercept(t *Thread, m *Method, self *Instance, args []any) (any, error)
	// Constructed runs once per new instance of a class rewritten for
	// construction, after its superclass constructors returned.
	Constructed(t *Thread, inst *Instance) error
	// ClassInit runs the class initialization of c.
	ClassInit(t *Thread, c *Class) error
}

// ScopeConfig configures a Scope.
type ScopeConfig struct {
	Name   string
	Parent *Scope
	Bodies BodyTable
	// Translate maps a requested type name to the name actually loaded.
	Translate func(model.TypeName) model.TypeName
	// Strict makes a missing method body a link error instead of a method
	// that returns the zero value.
	Strict bool
	// NativeDefaults lets native methods without implementation return zero values.
	NativeDefaults bool
	// Intercepted selects methods of parent-scope classes that are routed
	// through the interceptor of threads running in this scope.
	Intercepted func(model.MethodKey) bool
}

// Scope is a loading scope.
type Scope struct {
	name           string
	parent         *Scope
	bodies         BodyTable
	translate      func(model.TypeName) model.TypeName
	strict         bool
	nativeDefaults bool
	intercepted    func(model.MethodKey) bool

	defs    map[model.TypeName]*classfile.Definition
	classes map[model.TypeName]*Class
	linked  bool
}

// NewScope returns an empty scope.
func NewScope(cfg ScopeConfig) *Scope {
	if cfg.Bodies == nil {
		cfg.Bodies = BodyTable{}
	}

	if cfg.Translate == nil {
		cfg.Translate = func(n model.TypeName) model.TypeName { return n }
	}

	return &Scope{
		name:           cfg.Name,
		parent:         cfg.Parent,
		bodies:         cfg.Bodies,
		translate:      cfg.Translate,
		strict:         cfg.Strict,
		nativeDefaults: cfg.NativeDefaults,
		intercepted:    cfg.Intercepted,
		defs:           map[model.TypeName]*classfile.Definition{},
		classes:        map[model.TypeName]*Class{},
	}
}

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Parent returns the parent scope, or nil.
func (s *Scope) Parent() *Scope { return s.parent }

// NativeDefaults reports whether native methods return zero values.
func (s *Scope) NativeDefaults() bool { return s.nativeDefaults }

func (s *Scope) configError(msg string, name model.TypeName) error {
	return zerr.With(zerr.With(zerr.Wrap(model.ErrConfiguration, msg), "class", string(name)), "scope", s.name)
}

// Define adds a definition. Definitions are linked together by Link.
func (s *Scope) Define(def *classfile.Definition) error {
	if s.linked {
		return s.configError("scope is already linked", def.Name)
	}

	if _, dup := s.defs[def.Name]; dup {
		return s.configError("duplicate class definition", def.Name)
	}

	s.defs[def.Name] = def

	return nil
}

// Link resolves super types and method bodies of every defined class. On
// error the scope holds no classes.
func (s *Scope) Link() error {
	if s.linked {
		return nil
	}

	names := make([]model.TypeName, 0, len(s.defs))
	for n := range s.defs {
		names = append(names, n)
	}

	slices.Sort(names)

	visiting := map[model.TypeName]bool{}

	var link func(name model.TypeName) (*Class, error)

	link = func(name model.TypeName) (*Class, error) {
		if c, ok := s.classes[name]; ok {
			return c, nil
		}

		def, ok := s.defs[name]
		if !ok {
			if s.parent != nil {
				return s.parent.Lookup(name)
			}

			return nil, zerr.With(zerr.Wrap(model.ErrUnknownType, "unresolved type"), "class", string(name))
		}

		if visiting[name] {
			return nil, s.configError("cyclic class hierarchy", name)
		}

		visiting[name] = true
		defer delete(visiting, name)

		var super *Class

		if def.Super != "" {
			superName := s.translate(def.Super)

			sc, err := link(superName)

			switch {
			case err == nil:
				super = sc
			case superName == model.ObjectType:
				// The root type is implicit unless a scope defines it.
			default:
				return nil, s.configError(fmt.Sprintf("unresolved super class %s: %v", superName, err), name)
			}
		}

		c, err := newClass(s, def, super)
		if err != nil {
			return nil, err
		}

		s.classes[name] = c

		return c, nil
	}

	for _, n := range names {
		if _, err := link(n); err != nil {
			s.classes = map[model.TypeName]*Class{}

			return err
		}
	}

	s.linked = true

	return nil
}

// Lookup resolves name in this scope, then in the parent scope.
func (s *Scope) Lookup(name model.TypeName) (*Class, error) {
	name = s.translate(name)

	if c, ok := s.classes[name]; ok {
		return c, nil
	}

	if s.parent != nil {
		return s.parent.Lookup(name)
	}

	return nil, zerr.With(zerr.Wrap(model.ErrUnknownType, "type not loaded"), "class", string(name))
}

// Classes returns the classes owned by this scope, sorted by name.
func (s *Scope) Classes() []*Class {
	out := make([]*Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b *Class) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		default:
			return 0
		}
	})

	return out
}

// Owns reports whether c was linked in this scope.
func (s *Scope) Owns(c *Class) bool {
	return c != nil && c.scope == s
}

// ResetStatics restores the static defaults of every owned class and
// marks them uninitialized.
func (s *Scope) ResetStatics() {
	for _, c := range s.classes {
		c.ResetStatics()
	}
}

// intercepts reports whether m, declared outside this scope, is routed
// through the interceptor.
func (s *Scope) intercepts(m *Method) bool {
	return s.intercepted != nil && m.class.scope != s && s.intercepted(m.Key())
}

func (s *Scope) body(symbol string) Body {
	return s.bodies[symbol]
}
