package lifecycle

import (
	"context"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/dispatch"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/sandbox"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

// Env is the execution context of one running test. It is only valid
// between setup and teardown of that test.
type Env struct {
	ctx     context.Context
	testID  string
	binding *sandbox.Binding
	smap    *shadow.Map
}

func newEnv(ctx context.Context, testID string, b *sandbox.Binding, smap *shadow.Map) *Env {
	e := &Env{testID: testID, binding: b, smap: smap}
	e.ctx = WithEnv(ctx, e)

	return e
}

type envKey struct{}

// WithEnv returns a context carrying env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom returns the Env carried by ctx.
func EnvFrom(ctx context.Context) (*Env, bool) {
	env, ok := ctx.Value(envKey{}).(*Env)

	return env, ok
}

// Context returns the test context. It carries the Env.
func (e *Env) Context() context.Context { return e.ctx }

// TestID returns the identifier of the running test.
func (e *Env) TestID() string { return e.testID }

// Version returns the platform version the test runs on.
func (e *Env) Version() model.PlatformVersion { return e.binding.Sandbox().Version() }

// Sandbox returns the bound sandbox.
func (e *Env) Sandbox() *sandbox.Sandbox { return e.binding.Sandbox() }

// Thread returns the thread executing platform code for the test.
func (e *Env) Thread() *vm.Thread { return e.binding.Thread() }

// Dispatcher returns the dispatcher routing intercepted calls.
func (e *Env) Dispatcher() *dispatch.Dispatcher { return e.binding.Dispatcher() }

// ShadowMap returns the substitute mapping of the test.
func (e *Env) ShadowMap() *shadow.Map { return e.smap }

// LoadType resolves a platform type in the sandbox.
func (e *Env) LoadType(name model.TypeName) (*vm.Class, error) {
	return e.binding.Sandbox().LoadType(name)
}

// New constructs a platform instance owned by the test.
func (e *Env) New(name model.TypeName, args ...any) (*vm.Instance, error) {
	return e.binding.Thread().New(name, args...)
}

// ShadowOf returns the substitute linked to inst.
func (e *Env) ShadowOf(inst *vm.Instance) (any, bool) {
	return vm.ShadowOf(inst)
}

// RunOnSandboxThread runs work on the sandbox goroutine.
func (e *Env) RunOnSandboxThread(work func() error) error {
	return e.binding.Sandbox().RunOnSandboxThread(e.ctx, work)
}

// State returns the state the substitute type named shadowType keeps in
// the bound sandbox. The type must be part of the test's substitute map.
func (e *Env) State(shadowType string) (any, error) {
	for _, typ := range e.smap.Shadows() {
		if typ.Name() == shadowType {
			return e.binding.Sandbox().States().Get(typ), nil
		}
	}

	return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, "substitute type not bound to test"), "shadow", shadowType)
}
