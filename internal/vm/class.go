package vm

import (
	"fmt"
	"slices"
	"sync"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

type initState int

const (
	uninitialized initState = iota
	initializing
	initialized
	initFailed
)

type methodID struct {
	sig    model.Signature
	static bool
}

// Method is a linked method.
type Method struct {
	class    *Class
	name     string
	sig      model.Signature
	params   []string
	returns  string
	static   bool
	abstract bool
	native   bool
	private  bool
	kind     classfile.Kind
	body     Body
	original *Method
}

func (m *Method) Class() *Class              { return m.class }
func (m *Method) Name() string               { return m.name }
func (m *Method) Signature() model.Signature { return m.sig }
func (m *Method) Params() []string           { return slices.Clone(m.params) }
func (m *Method) Returns() string            { return m.returns }
func (m *Method) IsStatic() bool             { return m.static }
func (m *Method) IsAbstract() bool           { return m.abstract }
func (m *Method) IsNative() bool             { return m.native }
func (m *Method) IsPrivate() bool            { return m.private }
func (m *Method) Kind() classfile.Kind       { return m.kind }

// Key identifies the method by declaring type, signature and static-ness.
func (m *Method) Key() model.MethodKey {
	return model.MethodKey{Type: m.class.name, Sig: m.sig, Static: m.static}
}

// Original returns the method holding the original body: the alias of an
// intercepted method, or the method itself. It is nil for intercepted
// native methods.
func (m *Method) Original() *Method { return m.original }

// HasBody reports whether an implementation is bound.
func (m *Method) HasBody() bool { return m.body != nil }

// IsConstructor reports whether m is an instance constructor.
func (m *Method) IsConstructor() bool { return m.name == model.ConstructorName }

func (m *Method) String() string { return m.Key().String() }

// Class is a linked class with its own static storage.
type Class struct {
	name      model.TypeName
	def       *classfile.Definition
	scope     *Scope
	super     *Class
	lineage   []*Class
	methods   []*Method
	declared  map[methodID]*Method
	vtable    map[model.Signature]*Method
	fields    []classfile.Field
	fieldType map[string]string
	staticDef map[string]classfile.Field
	construct bool
	classInit bool

	mu      sync.Mutex
	inited  *sync.Cond
	statics map[string]any
	state   initState
	initBy  *Thread
	initErr error
}

func newClass(s *Scope, def *classfile.Definition, super *Class) (*Class, error) {
	c := &Class{
		name:      def.Name,
		def:       def,
		scope:     s,
		super:     super,
		declared:  map[methodID]*Method{},
		vtable:    map[model.Signature]*Method{},
		fieldType: map[string]string{},
		staticDef: map[string]classfile.Field{},
	}

	c.inited = sync.NewCond(&c.mu)
	c.lineage = []*Class{c}

	if super != nil {
		c.lineage = append(c.lineage, super.lineage...)
		c.fields = slices.Clone(super.fields)
		c.construct = super.construct

		for k, v := range super.vtable {
			c.vtable[k] = v
		}

		for k, v := range super.fieldType {
			c.fieldType[k] = v
		}
	}

	if def.Rewrite != nil {
		c.construct = c.construct || def.Rewrite.Construct
		c.classInit = def.Rewrite.ClassInit
	}

	for _, f := range def.Fields {
		if f.Static {
			c.staticDef[f.Name] = f

			continue
		}

		c.fields = append(c.fields, f)
		c.fieldType[f.Name] = f.Type
	}

	for _, md := range def.Methods {
		m := &Method{
			class:    c,
			name:     md.Name,
			sig:      md.Signature(),
			params:   slices.Clone(md.Params),
			returns:  md.ReturnType(),
			static:   md.Static,
			abstract: md.Abstract,
			native:   md.Native,
			private:  md.Private,
			kind:     md.Kind,
		}

		if md.Kind != classfile.KindIntercepted && !md.Abstract {
			m.body = s.body(md.BodySymbol(def.Name))
			if m.body == nil && !md.Native && s.strict {
				return nil, s.configError(fmt.Sprintf("no body bound for %s", md.BodySymbol(def.Name)), def.Name)
			}
		}

		c.methods = append(c.methods, m)
		c.declared[methodID{sig: m.sig, static: m.static}] = m
	}

	for i, m := range c.methods {
		md := def.Methods[i]

		switch {
		case md.Kind != classfile.KindIntercepted:
			m.original = m
		case md.Origin != "":
			orig, ok := c.declared[methodID{sig: model.NewSignature(md.Origin, md.Params...), static: md.Static}]
			if !ok || orig.kind != classfile.KindOriginal {
				return nil, s.configError(fmt.Sprintf("method %s: original %s not found", m.sig, md.Origin), def.Name)
			}

			m.original = orig
		}

		if !m.static && !m.private && !m.IsConstructor() {
			c.vtable[m.sig] = m
		}
	}

	c.statics = c.staticDefaults()

	return c, nil
}

func (c *Class) staticDefaults() map[string]any {
	out := make(map[string]any, len(c.staticDef))
	for name, f := range c.staticDef {
		if f.Value != nil {
			out[name] = f.Value
		} else {
			out[name] = model.Zero(f.Type)
		}
	}

	return out
}

func (c *Class) Name() model.TypeName              { return c.name }
func (c *Class) Super() *Class                     { return c.super }
func (c *Class) Scope() *Scope                     { return c.scope }
func (c *Class) Definition() *classfile.Definition { return c.def }
func (c *Class) IsAbstract() bool                  { return c.def.Abstract }

// Lineage returns the class followed by its ancestors, most-derived first.
func (c *Class) Lineage() []*Class { return slices.Clone(c.lineage) }

// Methods returns the declared methods in declaration order.
func (c *Class) Methods() []*Method { return slices.Clone(c.methods) }

// Instrumented reports whether the class was rewritten for interception.
func (c *Class) Instrumented() bool {
	return c.def.Rewrite != nil && c.def.Rewrite.Instrumented
}

// Method returns the declared method with the given signature.
func (c *Class) Method(sig model.Signature, static bool) (*Method, bool) {
	m, ok := c.declared[methodID{sig: sig, static: static}]

	return m, ok
}

// Virtual returns the instance method selected for sig on this class.
func (c *Class) Virtual(sig model.Signature) (*Method, bool) {
	m, ok := c.vtable[sig]

	return m, ok
}

// FindStatic returns the static method sig declared on the class or an ancestor.
func (c *Class) FindStatic(sig model.Signature) (*Method, bool) {
	for _, k := range c.lineage {
		if m, ok := k.declared[methodID{sig: sig, static: true}]; ok {
			return m, true
		}
	}

	return nil, false
}

// Constructors returns the declared instance constructors.
func (c *Class) Constructors() []*Method {
	var out []*Method

	for _, m := range c.methods {
		if m.IsConstructor() {
			out = append(out, m)
		}
	}

	return out
}

// ClassInitializer returns the method holding the class initializer body, or nil.
func (c *Class) ClassInitializer() *Method {
	for _, m := range c.methods {
		if !m.static || len(m.params) > 0 {
			continue
		}

		if m.name == model.ClassInitName || (m.kind == classfile.KindOriginal && m.name == classfile.AliasName(model.ClassInitName)) {
			return m
		}
	}

	return nil
}

// IsSubclassOf reports whether name is the class or one of its ancestors.
func (c *Class) IsSubclassOf(name model.TypeName) bool {
	for _, k := range c.lineage {
		if k.name == name {
			return true
		}
	}

	return false
}

// Static reads a static field declared on the class or an ancestor.
func (c *Class) Static(name string) (any, error) {
	owner := c.staticOwner(name)
	if owner == nil {
		return nil, zerr.With(zerr.With(zerr.Wrap(model.ErrNoSuchField, "no static field"), "class", string(c.name)), "field", name)
	}

	owner.mu.Lock()
	defer owner.mu.Unlock()

	return owner.statics[name], nil
}

// SetStatic writes a static field, converting the value to the field type.
func (c *Class) SetStatic(name string, v any) error {
	owner := c.staticOwner(name)
	if owner == nil {
		return zerr.With(zerr.With(zerr.Wrap(model.ErrNoSuchField, "no static field"), "class", string(c.name)), "field", name)
	}

	cv, err := model.Coerce(owner.staticDef[name].Type, v)
	if err != nil {
		return zerr.With(zerr.Wrap(model.ErrBadArgument, err.Error()), "field", name)
	}

	owner.mu.Lock()
	defer owner.mu.Unlock()

	owner.statics[name] = cv

	return nil
}

// StaticNames returns the names of the static fields declared on the class.
func (c *Class) StaticNames() []string {
	out := make([]string, 0, len(c.staticDef))
	for n := range c.staticDef {
		out = append(out, n)
	}

	slices.Sort(out)

	return out
}

// ResetStatics restores static defaults and forgets class initialization.
func (c *Class) ResetStatics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statics = c.staticDefaults()
	c.state = uninitialized
	c.initErr = nil
}

// Initialized reports whether class initialization completed.
func (c *Class) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == initialized
}

func (c *Class) staticOwner(name string) *Class {
	for _, k := range c.lineage {
		if _, ok := k.staticDef[name]; ok {
			return k
		}
	}

	return nil
}

// ensureInit runs class initialization once, super classes first. A class
// being initialized by the same thread (recursively) is treated as
// initialized; other threads wait for the initialization to finish.
func (c *Class) ensureInit(t *Thread) error {
	c.mu.Lock()

	for c.state == initializing && c.initBy != t {
		c.inited.Wait()
	}

	switch c.state {
	case initialized, initializing:
		c.mu.Unlock()

		return nil
	case initFailed:
		err := c.initErr
		c.mu.Unlock()

		return err
	}

	c.state = initializing
	c.initBy = t
	c.mu.Unlock()

	var err error
	if c.super != nil {
		err = c.super.ensureInit(t)
	}

	if err == nil {
		err = t.initialize(c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.inited.Broadcast()

	c.initBy = nil

	if err != nil {
		c.state = initFailed
		c.initErr = err

		return err
	}

	c.state = initialized

	return nil
}

func (c *Class) String() string {
	return string(c.name) + "@" + c.scope.name
}
