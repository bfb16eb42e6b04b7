package vm

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Instance is an object of a linked class, owned by an arena.
type Instance struct {
	class  *Class
	arena  *Arena
	id     uint64
	fields map[string]any
	// pending is set until the construction hook ran.
	pending bool
}

// Class returns the runtime class of the instance.
func (i *Instance) Class() *Class { return i.class }

// Arena returns the owning arena.
func (i *Instance) Arena() *Arena { return i.arena }

// Released reports whether the owning arena was freed.
func (i *Instance) Released() bool { return i.arena.Freed() }

// IsInstanceOf reports whether the runtime class is name or extends it.
func (i *Instance) IsInstanceOf(name model.TypeName) bool {
	return i.class.IsSubclassOf(name)
}

// Field reads an instance field.
func (i *Instance) Field(name string) (any, error) {
	if err := i.check(); err != nil {
		return nil, err
	}

	v, ok := i.fields[name]
	if !ok {
		return nil, zerr.With(zerr.With(zerr.Wrap(model.ErrNoSuchField, "no instance field"), "class", string(i.class.name)), "field", name)
	}

	return v, nil
}

// SetField writes an instance field, converting the value to the field type.
func (i *Instance) SetField(name string, v any) error {
	if err := i.check(); err != nil {
		return err
	}

	typ, ok := i.class.fieldType[name]
	if !ok {
		return zerr.With(zerr.With(zerr.Wrap(model.ErrNoSuchField, "no instance field"), "class", string(i.class.name)), "field", name)
	}

	cv, err := model.Coerce(typ, v)
	if err != nil {
		return zerr.With(zerr.Wrap(model.ErrBadArgument, err.Error()), "field", name)
	}

	i.fields[name] = cv

	return nil
}

func (i *Instance) check() error {
	if i.arena.Freed() {
		return zerr.With(zerr.With(zerr.Wrap(model.ErrInstanceReleased, "instance released"), "instance", i.String()), "arena", i.arena.id)
	}

	return nil
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s@%d", i.class.name, i.id)
}

// Arena owns the instances created while one test runs, together with the
// lookup-only association between real instances and their substitutes.
// Free releases everything at teardown; released instances refuse use.
type Arena struct {
	id    string
	mu    sync.Mutex
	next  uint64
	freed atomic.Bool

	instances []*Instance
	shadows   map[*Instance]any
	reals     map[any]*Instance
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{
		id:      ulid.Make().String(),
		shadows: map[*Instance]any{},
		reals:   map[any]*Instance{},
	}
}

// ID returns the arena identifier.
func (a *Arena) ID() string { return a.id }

// Freed reports whether Free was called.
func (a *Arena) Freed() bool { return a.freed.Load() }

// Len returns the number of live instances.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.instances)
}

func (a *Arena) alloc(c *Class) (*Instance, error) {
	if a.Freed() {
		return nil, zerr.With(zerr.Wrap(model.ErrInstanceReleased, "arena freed"), "arena", a.id)
	}

	inst := &Instance{class: c, arena: a, fields: make(map[string]any, len(c.fields))}

	for _, f := range c.fields {
		if f.Value != nil {
			inst.fields[f.Name] = f.Value
		} else {
			inst.fields[f.Name] = model.Zero(f.Type)
		}
	}

	a.mu.Lock()
	a.next++
	inst.id = a.next
	a.instances = append(a.instances, inst)
	a.mu.Unlock()

	return inst, nil
}

// Link associates a real instance with its substitute.
func (a *Arena) Link(real *Instance, shadow any) error {
	if a.Freed() {
		return zerr.With(zerr.Wrap(model.ErrInstanceReleased, "arena freed"), "arena", a.id)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.shadows[real] = shadow

	if shadow != nil && reflect.TypeOf(shadow).Comparable() {
		a.reals[shadow] = real
	}

	return nil
}

// ShadowOf returns the substitute linked to real.
func (a *Arena) ShadowOf(real *Instance) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.shadows[real]

	return s, ok
}

// RealOf returns the real instance a substitute is linked to.
func (a *Arena) RealOf(shadow any) (*Instance, bool) {
	if shadow == nil || !reflect.TypeOf(shadow).Comparable() {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.reals[shadow]

	return r, ok
}

// Free releases every instance and association and returns the number of
// released instances. Free is idempotent.
func (a *Arena) Free() int {
	if a.freed.Swap(true) {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.instances)
	a.instances = nil
	a.shadows = map[*Instance]any{}
	a.reals = map[any]*Instance{}

	return n
}

// ShadowOf returns the substitute linked to inst in its own arena.
func ShadowOf(inst *Instance) (any, bool) {
	if inst == nil {
		return nil, false
	}

	return inst.arena.ShadowOf(inst)
}

// ShadowAs returns the substitute of inst typed as T.
func ShadowAs[T any](inst *Instance) (T, bool) {
	var zero T

	s, ok := ShadowOf(inst)
	if !ok {
		return zero, false
	}

	typed, ok := s.(T)

	return typed, ok
}

// LeakedReferences returns the static fields of scope-owned classes that
// still point at instances of the freed arena a.
func LeakedReferences(s *Scope, a *Arena) []string {
	var out []string

	for _, c := range s.Classes() {
		for _, name := range c.StaticNames() {
			v, err := c.Static(name)
			if err != nil {
				continue
			}

			if inst, ok := v.(*Instance); ok && inst.arena == a {
				out = append(out, string(c.name)+"."+name)
			}
		}
	}

	return out
}
