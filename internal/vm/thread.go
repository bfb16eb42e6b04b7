package vm

import (
	"fmt"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// DefaultMaxDepth bounds nested invocations on one thread.
const DefaultMaxDepth = 512

// ThreadConfig configures a Thread.
type ThreadConfig struct {
	Scope *Scope
	// Arena owns instances created by the running test.
	Arena *Arena
	// StaticArena owns instances created during class initialization. They
	// outlive single tests. Defaults to Arena.
	StaticArena *Arena
	Interceptor Interceptor
	MaxDepth    int
}

// Thread is the execution context of one test: all calls it makes run
// against its scope and allocate in its arena. A Thread is not safe for
// concurrent use.
type Thread struct {
	scope     *Scope
	arena     *Arena
	static    *Arena
	icpt      Interceptor
	maxDepth  int
	depth     int
	initDepth int
}

// NewThread returns a thread for cfg.
func NewThread(cfg ThreadConfig) *Thread {
	if cfg.Arena == nil {
		cfg.Arena = NewArena()
	}

	if cfg.StaticArena == nil {
		cfg.StaticArena = cfg.Arena
	}

	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	return &Thread{
		scope:    cfg.Scope,
		arena:    cfg.Arena,
		static:   cfg.StaticArena,
		icpt:     cfg.Interceptor,
		maxDepth: cfg.MaxDepth,
	}
}

func (t *Thread) Scope() *Scope            { return t.scope }
func (t *Thread) Arena() *Arena            { return t.arena }
func (t *Thread) StaticArena() *Arena      { return t.static }
func (t *Thread) Interceptor() Interceptor { return t.icpt }
func (t *Thread) Depth() int               { return t.depth }

// ShadowOf returns the substitute linked to inst.
func (t *Thread) ShadowOf(inst *Instance) (any, bool) { return ShadowOf(inst) }

func (t *Thread) allocArena() *Arena {
	if t.initDepth > 0 {
		return t.static
	}

	return t.arena
}

// LoadClass resolves name and runs its class initialization if needed.
func (t *Thread) LoadClass(name model.TypeName) (*Class, error) {
	c, err := t.scope.Lookup(name)
	if err != nil {
		return nil, err
	}

	if err := c.ensureInit(t); err != nil {
		return nil, err
	}

	return c, nil
}

// New creates an instance of name, selecting the constructor by arguments.
func (t *Thread) New(name model.TypeName, args ...any) (*Instance, error) {
	c, err := t.LoadClass(name)
	if err != nil {
		return nil, err
	}

	ctors := c.Constructors()
	if len(ctors) == 0 && len(args) == 0 {
		return t.construct(c, nil, nil)
	}

	ctor, err := selectOverload(c, ctors, args)
	if err != nil {
		return nil, err
	}

	return t.construct(c, ctor, args)
}

// NewWith creates an instance of name with the constructor sig.
func (t *Thread) NewWith(name model.TypeName, sig model.Signature, args ...any) (*Instance, error) {
	c, err := t.LoadClass(name)
	if err != nil {
		return nil, err
	}

	ctor, ok := c.Method(sig, false)
	if !ok || !ctor.IsConstructor() {
		return nil, noSuchMethod(c.name, sig)
	}

	return t.construct(c, ctor, args)
}

func (t *Thread) construct(c *Class, ctor *Method, args []any) (*Instance, error) {
	if c.IsAbstract() {
		return nil, zerr.With(zerr.Wrap(model.ErrBadArgument, "cannot instantiate abstract class"), "class", string(c.name))
	}

	inst, err := t.allocArena().alloc(c)
	if err != nil {
		return nil, err
	}

	inst.pending = c.construct && t.icpt != nil

	if ctor != nil {
		if _, err := t.Invoke(ctor, inst, args); err != nil {
			return nil, err
		}
	}

	if err := t.Register(inst); err != nil {
		return nil, err
	}

	return inst, nil
}

// Register runs the construction hook of an instance under construction.
// The hook runs once: when the first superclass constructor call on inst
// returns, before an intercepted call needs its substitute, or when the
// constructor returns, whichever comes first.
func (t *Thread) Register(inst *Instance) error {
	if inst == nil || !inst.pending {
		return nil
	}

	inst.pending = false

	return t.icpt.Constructed(t, inst)
}

// InvokeVirtual calls the instance method sig selected by the runtime class of self.
func (t *Thread) InvokeVirtual(self *Instance, sig model.Signature, args ...any) (any, error) {
	if self == nil {
		return nil, zerr.With(zerr.Wrap(model.ErrBadArgument, "nil receiver"), "method", string(sig))
	}

	m, ok := self.class.Virtual(sig)
	if !ok {
		return nil, noSuchMethod(self.class.name, sig)
	}

	return t.Invoke(m, self, args)
}

// InvokeStatic calls static method sig of type name.
func (t *Thread) InvokeStatic(name model.TypeName, sig model.Signature, args ...any) (any, error) {
	c, err := t.LoadClass(name)
	if err != nil {
		return nil, err
	}

	m, ok := c.FindStatic(sig)
	if !ok {
		return nil, noSuchMethod(c.name, sig)
	}

	return t.Invoke(m, nil, args)
}

// InvokeSpecial calls the instance method sig as declared on owner (or its
// ancestors), without virtual selection. Used for super calls and
// super-constructor calls.
func (t *Thread) InvokeSpecial(self *Instance, owner model.TypeName, sig model.Signature, args ...any) (any, error) {
	c, err := t.scope.Lookup(owner)
	if err != nil {
		return nil, err
	}

	if sig.Name() == model.ConstructorName {
		m, ok := c.Method(sig, false)
		if !ok {
			if sig.Arity() == 0 {
				return nil, t.Register(self)
			}

			return nil, noSuchMethod(c.name, sig)
		}

		if _, err := t.Invoke(m, self, args); err != nil {
			return nil, err
		}

		return nil, t.Register(self)
	}

	m, ok := c.Virtual(sig)
	if !ok {
		return nil, noSuchMethod(c.name, sig)
	}

	return t.Invoke(m, self, args)
}

// Call invokes the instance method called name whose parameters accept args.
func (t *Thread) Call(self *Instance, name string, args ...any) (any, error) {
	if self == nil {
		return nil, zerr.With(zerr.Wrap(model.ErrBadArgument, "nil receiver"), "method", name)
	}

	var candidates []*Method

	for sig, m := range self.class.vtable {
		if sig.Name() == name {
			candidates = append(candidates, m)
		}
	}

	m, err := selectOverload(self.class, candidates, args)
	if err != nil {
		return nil, err
	}

	return t.Invoke(m, self, args)
}

// CallStatic invokes the static method called name whose parameters accept args.
func (t *Thread) CallStatic(typ model.TypeName, name string, args ...any) (any, error) {
	c, err := t.LoadClass(typ)
	if err != nil {
		return nil, err
	}

	var candidates []*Method

	seen := map[model.Signature]bool{}

	for _, k := range c.lineage {
		for _, m := range k.methods {
			if m.static && m.name == name && !seen[m.sig] {
				seen[m.sig] = true
				candidates = append(candidates, m)
			}
		}
	}

	m, err := selectOverload(c, candidates, args)
	if err != nil {
		return nil, err
	}

	return t.Invoke(m, nil, args)
}

// GetStatic reads a static field after initializing the class.
func (t *Thread) GetStatic(typ model.TypeName, field string) (any, error) {
	c, err := t.LoadClass(typ)
	if err != nil {
		return nil, err
	}

	return c.Static(field)
}

// SetStatic writes a static field after initializing the class.
func (t *Thread) SetStatic(typ model.TypeName, field string, v any) error {
	c, err := t.LoadClass(typ)
	if err != nil {
		return err
	}

	if inst, ok := v.(*Instance); ok {
		if err := inst.check(); err != nil {
			return err
		}
	}

	return c.SetStatic(field, v)
}

// Invoke calls m. Intercepted methods are handed to the interceptor.
func (t *Thread) Invoke(m *Method, self *Instance, args []any) (any, error) {
	args, err := t.prepare(m, self, args)
	if err != nil {
		return nil, err
	}

	if m.abstract {
		return nil, zerr.With(zerr.Wrap(model.ErrAbstractMethod, "abstract method"), "method", m.String())
	}

	if m.static {
		if err := m.class.ensureInit(t); err != nil {
			return nil, err
		}
	}

	t.depth++
	defer func() { t.depth-- }()

	if t.depth > t.maxDepth {
		return nil, zerr.With(zerr.Wrap(model.ErrStackOverflow, "call depth exceeded"), "method", m.String())
	}

	if m.kind == classfile.KindIntercepted || (m.kind == classfile.KindPlain && t.scope.intercepts(m)) {
		if t.icpt != nil {
			if !m.IsConstructor() {
				if err := t.Register(self); err != nil {
					return nil, err
				}
			}

			return t.icpt.Intercept(t, m, self, args)
		}
	}

	return t.run(m.original, m, self, args)
}

// InvokeOriginal runs the original body of m without interception.
func (t *Thread) InvokeOriginal(m *Method, self *Instance, args []any) (any, error) {
	args, err := t.prepare(m, self, args)
	if err != nil {
		return nil, err
	}

	t.depth++
	defer func() { t.depth-- }()

	if t.depth > t.maxDepth {
		return nil, zerr.With(zerr.Wrap(model.ErrStackOverflow, "call depth exceeded"), "method", m.String())
	}

	return t.run(m.original, m, self, args)
}

// run executes body (nil for bodiless natives) on behalf of declared.
func (t *Thread) run(body, declared *Method, self *Instance, args []any) (any, error) {
	if body == nil || body.body == nil {
		if declared.native && !t.scope.nativeDefaults {
			return nil, zerr.With(zerr.Wrap(model.ErrNativeMethod, "native method"), "method", declared.String())
		}

		return model.Zero(declared.returns), nil
	}

	res, err := body.body(&Frame{Thread: t, Method: declared, Self: self, Args: args})
	if err != nil {
		return nil, err
	}

	return model.Coerce(declared.returns, res)
}

func (t *Thread) initialize(c *Class) error {
	t.initDepth++
	defer func() { t.initDepth-- }()

	if c.classInit && t.icpt != nil {
		return t.icpt.ClassInit(t, c)
	}

	if m := c.ClassInitializer(); m != nil {
		_, err := t.run(m, m, nil, nil)

		return err
	}

	return nil
}

// RunClassInitializer runs the original class initializer of c, if any.
// Interceptors call it when no substitute replaces class initialization.
func (t *Thread) RunClassInitializer(c *Class) error {
	m := c.ClassInitializer()
	if m == nil {
		return nil
	}

	_, err := t.run(m, m, nil, nil)

	return err
}

func (t *Thread) prepare(m *Method, self *Instance, args []any) ([]any, error) {
	if len(args) != len(m.params) {
		return nil, zerr.With(zerr.Wrap(model.ErrBadArgument,
			fmt.Sprintf("want %d arguments, got %d", len(m.params), len(args))), "method", m.String())
	}

	if m.static != (self == nil) {
		return nil, zerr.With(zerr.Wrap(model.ErrBadArgument, "receiver does not match static-ness"), "method", m.String())
	}

	if self != nil {
		if err := self.check(); err != nil {
			return nil, err
		}

		if !self.class.IsSubclassOf(m.class.name) {
			return nil, zerr.With(zerr.Wrap(model.ErrBadArgument,
				fmt.Sprintf("receiver %s is not a %s", self, m.class.name)), "method", m.String())
		}
	}

	out := make([]any, len(args))

	for i, a := range args {
		if inst, ok := a.(*Instance); ok {
			if err := inst.check(); err != nil {
				return nil, err
			}
		}

		v, err := model.Coerce(m.params[i], a)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(model.ErrBadArgument, fmt.Sprintf("argument %d: %v", i, err)), "method", m.String())
		}

		out[i] = v
	}

	return out, nil
}

func selectOverload(c *Class, candidates []*Method, args []any) (*Method, error) {
	var matches []*Method

	for _, m := range candidates {
		if len(m.params) != len(args) {
			continue
		}

		ok := true

		for i, a := range args {
			if _, err := model.Coerce(m.params[i], a); err != nil {
				ok = false

				break
			}
		}

		if ok {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return nil, zerr.With(zerr.With(zerr.Wrap(model.ErrNoSuchMethod, "no overload accepts the arguments"), "class", string(c.name)), "arity", len(args))
	case 1:
		return matches[0], nil
	default:
		return nil, zerr.With(zerr.With(zerr.Wrap(model.ErrAmbiguousMethod, "several overloads accept the arguments"), "class", string(c.name)), "arity", len(args))
	}
}

func noSuchMethod(typ model.TypeName, sig model.Signature) error {
	return zerr.With(zerr.With(zerr.Wrap(model.ErrNoSuchMethod, "no such method"), "class", string(typ)), "method", string(sig))
}
