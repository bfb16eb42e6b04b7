package vm

import (
	"fmt"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Frame is what a method body sees of its invocation.
type Frame struct {
	Thread *Thread
	Method *Method
	Self   *Instance
	Args   []any
}

// Class returns the declaring class of the running method.
func (f *Frame) Class() *Class { return f.Method.class }

// Arg returns argument i, or nil when out of range.
func (f *Frame) Arg(i int) any {
	if i < 0 || i >= len(f.Args) {
		return nil
	}

	return f.Args[i]
}

// BoolArg returns argument i as a boolean.
func (f *Frame) BoolArg(i int) bool {
	v, _ := f.Arg(i).(bool)

	return v
}

// IntArg returns argument i as an int.
func (f *Frame) IntArg(i int) int32 {
	v, _ := f.Arg(i).(int32)

	return v
}

// LongArg returns argument i as a long.
func (f *Frame) LongArg(i int) int64 {
	v, _ := f.Arg(i).(int64)

	return v
}

// DoubleArg returns argument i as a double.
func (f *Frame) DoubleArg(i int) float64 {
	v, _ := f.Arg(i).(float64)

	return v
}

// StringArg returns argument i as a string.
func (f *Frame) StringArg(i int) string {
	v, _ := f.Arg(i).(string)

	return v
}

// ObjectArg returns argument i as an instance.
func (f *Frame) ObjectArg(i int) *Instance {
	v, _ := f.Arg(i).(*Instance)

	return v
}

// Field reads a field of the receiver.
func (f *Frame) Field(name string) (any, error) { return f.Self.Field(name) }

// SetField writes a field of the receiver.
func (f *Frame) SetField(name string, v any) error { return f.Self.SetField(name, v) }

// Static reads a static field visible from the declaring class.
func (f *Frame) Static(name string) (any, error) { return f.Class().Static(name) }

// SetStatic writes a static field visible from the declaring class.
func (f *Frame) SetStatic(name string, v any) error {
	if inst, ok := v.(*Instance); ok {
		if err := inst.check(); err != nil {
			return err
		}
	}

	return f.Class().SetStatic(name, v)
}

// Super runs the super-class constructor that accepts args.
func (f *Frame) Super(args ...any) error {
	super := f.Class().super
	if super == nil {
		return f.Thread.Register(f.Self)
	}

	ctors := super.Constructors()
	if len(ctors) == 0 && len(args) == 0 {
		return f.Thread.Register(f.Self)
	}

	ctor, err := selectOverload(super, ctors, args)
	if err != nil {
		return err
	}

	if _, err := f.Thread.Invoke(ctor, f.Self, args); err != nil {
		return err
	}

	return f.Thread.Register(f.Self)
}

// Invoke calls the instance method sig on the receiver.
func (f *Frame) Invoke(sig string, args ...any) (any, error) {
	parsed, err := model.ParseSignature(sig)
	if err != nil {
		return nil, zerr.Wrap(model.ErrNoSuchMethod, err.Error())
	}

	return f.Thread.InvokeVirtual(f.Self, parsed, args...)
}

// As converts the result of a call to T. A nil result yields the zero T.
func As[T any](v any, err error) (T, error) {
	var zero T
	if err != nil || v == nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, zerr.With(zerr.Wrap(model.ErrBadArgument, fmt.Sprintf("result %v is a %T, want %T", v, v, zero)), "value", v)
	}

	return typed, nil
}
