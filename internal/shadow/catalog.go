package shadow

import (
	"fmt"
	"slices"
	"sync"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

// Impl is the Go implementation of a substitute method.
type Impl func(c *Call) (any, error)

// Call is what a substitute method sees of the intercepted call.
type Call struct {
	Thread *vm.Thread
	// Method is the intercepted platform method.
	Method *vm.Method
	// Real is the receiver, nil for static methods.
	Real *vm.Instance
	// Shadow is the substitute linked to Real, nil for static methods.
	Shadow any
	Args   []any
	// States is the state table of the sandbox the call runs in.
	States *States

	owner *Type
}

// State returns the state of the substitute type declaring the running
// method in the current sandbox, or nil when it keeps none.
func (c *Call) State() any {
	if c.States == nil {
		return nil
	}

	return c.States.Get(c.owner)
}

// CallReal runs the original implementation of the intercepted method with
// the original arguments. It does nothing for a substituted class
// initializer of a class that declares none.
func (c *Call) CallReal() (any, error) {
	if c.Method == nil {
		return nil, nil
	}

	return c.Thread.InvokeOriginal(c.Method, c.Real, c.Args)
}

// Arg returns argument i, or nil when out of range.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}

	return c.Args[i]
}

// Method is one substitute method.
type Method struct {
	owner  *Type
	sig    model.Signature
	static bool
	impl   Impl
}

func (m *Method) Owner() *Type               { return m.owner }
func (m *Method) Signature() model.Signature { return m.sig }
func (m *Method) IsStatic() bool             { return m.static }

// Invoke runs the implementation.
func (m *Method) Invoke(c *Call) (any, error) {
	c.owner = m.owner

	return m.impl(c)
}

func (m *Method) String() string {
	if m.static {
		return "static " + m.owner.name + "." + string(m.sig)
	}

	return m.owner.name + "." + string(m.sig)
}

type methodKey struct {
	sig    model.Signature
	static bool
}

// Type is a substitute type. Types are assembled with the chained setters
// and registered in a Catalog; they must not change after registration.
type Type struct {
	name       string
	extends    string
	newFn      func(real *vm.Instance) any
	staticOnly bool
	newState   func() any
	reset      func(state any)
	methods    map[methodKey]*Method
}

// NewType returns a substitute type. newFn creates the substitute linked to
// every constructed real instance; it may be nil for static-only types.
func NewType(name string, newFn func(real *vm.Instance) any) *Type {
	return &Type{name: name, newFn: newFn, methods: map[methodKey]*Method{}}
}

// Extending makes parent's methods visible after the type's own methods.
func (t *Type) Extending(parent string) *Type {
	t.extends = parent

	return t
}

// StaticOnly marks a type that only substitutes static methods and needs
// no instance constructor.
func (t *Type) StaticOnly() *Type {
	t.staticOnly = true

	return t
}

// WithState declares tracked state. newFn runs once per sandbox on first
// use; methods reach the result through Call.State.
func (t *Type) WithState(newFn func() any) *Type {
	t.newState = newFn

	return t
}

// WithReset sets the hook that restores the tracked state. It receives the
// state of the sandbox being reset, nil for a type without WithState.
func (t *Type) WithReset(fn func(state any)) *Type {
	t.reset = fn

	return t
}

// Method adds an instance method.
func (t *Type) Method(sig string, impl Impl) *Type {
	return t.add(sig, false, impl)
}

// StaticMethod adds a static method.
func (t *Type) StaticMethod(sig string, impl Impl) *Type {
	return t.add(sig, true, impl)
}

// ClassInit adds a substitute for the class initializer of the real type.
func (t *Type) ClassInit(impl Impl) *Type {
	return t.add(model.ClassInitName+"()", true, impl)
}

func (t *Type) add(sig string, static bool, impl Impl) *Type {
	s := model.MustSignature(sig)
	t.methods[methodKey{sig: s, static: static}] = &Method{owner: t, sig: s, static: static, impl: impl}

	return t
}

func (t *Type) Name() string       { return t.name }
func (t *Type) Extends() string    { return t.extends }
func (t *Type) IsStaticOnly() bool { return t.staticOnly }
func (t *Type) HasReset() bool     { return t.reset != nil || t.newState != nil }
func (t *Type) HasState() bool     { return t.newState != nil }

// Constructor returns the function creating substitutes, or nil.
func (t *Type) Constructor() func(real *vm.Instance) any { return t.newFn }

// Lookup returns the method declared on the type itself.
func (t *Type) Lookup(sig model.Signature, static bool) (*Method, bool) {
	m, ok := t.methods[methodKey{sig: sig, static: static}]

	return m, ok
}

// Methods returns the declared methods sorted by signature, statics last.
func (t *Type) Methods() []*Method {
	out := make([]*Method, 0, len(t.methods))
	for _, m := range t.methods {
		out = append(out, m)
	}

	slices.SortFunc(out, func(a, b *Method) int {
		if a.static != b.static {
			if a.static {
				return 1
			}

			return -1
		}

		switch {
		case a.sig < b.sig:
			return -1
		case a.sig > b.sig:
			return 1
		default:
			return 0
		}
	})

	return out
}

// Catalog is the registry of substitute types by name.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewCatalog returns a catalog holding types.
func NewCatalog(types ...*Type) (*Catalog, error) {
	c := &Catalog{types: map[string]*Type{}}
	for _, t := range types {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Register adds t. Registering a second type under the same name fails.
func (c *Catalog) Register(t *Type) error {
	if t == nil || t.name == "" {
		return zerr.Wrap(model.ErrConfiguration, "substitute type without name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.types[t.name]; dup {
		return zerr.With(zerr.Wrap(model.ErrConfiguration, "substitute type registered twice"), "shadow", t.name)
	}

	c.types[t.name] = t

	return nil
}

// MustRegister is Register that panics on error.
func (c *Catalog) MustRegister(types ...*Type) *Catalog {
	for _, t := range types {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}

	return c
}

// Lookup returns the type registered under name.
func (c *Catalog) Lookup(name string) (*Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.types[name]

	return t, ok
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.types))
	for n := range c.types {
		out = append(out, n)
	}

	slices.Sort(out)

	return out
}

// Chain returns the type registered under name followed by the types it
// extends, in search order.
func (c *Catalog) Chain(name string) ([]*Type, error) {
	var out []*Type

	seen := map[string]bool{}

	for n := name; n != ""; {
		if seen[n] {
			return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, fmt.Sprintf("cyclic substitute hierarchy at %s", n)), "shadow", name)
		}

		seen[n] = true

		t, ok := c.Lookup(n)
		if !ok {
			return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, fmt.Sprintf("unknown substitute type %s", n)), "shadow", name)
		}

		out = append(out, t)
		n = t.extends
	}

	return out, nil
}
