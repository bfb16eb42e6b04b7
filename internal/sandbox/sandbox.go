// Package sandbox builds and caches isolated loading scopes of the platform,
// one per instrumentation configuration and platform version.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/dispatch"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

// ArtifactProvider supplies the raw class definitions of a platform version
// and the Go bodies of their methods.
type ArtifactProvider interface {
	ListClasses(ctx context.Context, version model.PlatformVersion) ([]model.TypeName, error)
	ReadClass(ctx context.Context, version model.PlatformVersion, name model.TypeName) ([]byte, error)
	Bodies(version model.PlatformVersion) vm.BodyTable
}

// Key identifies a sandbox.
type Key struct {
	Fingerprint string
	Version     model.PlatformVersion
}

func (k Key) String() string {
	return k.Fingerprint + "@" + k.Version.String()
}

// Sandbox is one rewritten copy of the platform. It is used by one test at
// a time: Bind hands out exclusive ownership until the binding is released.
type Sandbox struct {
	id        string
	key       Key
	cfg       *instrument.Configuration
	catalog   *shadow.Catalog
	scope     *vm.Scope
	static    *vm.Arena
	states    *shadow.States
	maxDepth  int
	footprint int64

	work      chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	owner     chan struct{}

	// Guarded by owner.
	dispatchers map[string]*dispatch.Dispatcher
	current     *dispatch.Dispatcher
	used        bool

	pins     atomic.Int32
	lastUsed atomic.Int64
}

func newSandbox(id string, key Key, cfg *instrument.Configuration, catalog *shadow.Catalog, scope *vm.Scope, footprint int64, maxDepth int) *Sandbox {
	s := &Sandbox{
		id:          id,
		key:         key,
		cfg:         cfg,
		catalog:     catalog,
		scope:       scope,
		static:      vm.NewArena(),
		states:      shadow.NewStates(),
		maxDepth:    maxDepth,
		footprint:   footprint,
		work:        make(chan func()),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		owner:       make(chan struct{}, 1),
		dispatchers: map[string]*dispatch.Dispatcher{},
	}

	s.touch()

	go s.loop()

	return s
}

func (s *Sandbox) loop() {
	defer close(s.stopped)

	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Sandbox) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// ID returns the sandbox identifier.
func (s *Sandbox) ID() string { return s.id }

// Key returns the registry key.
func (s *Sandbox) Key() Key { return s.key }

// Version returns the platform version.
func (s *Sandbox) Version() model.PlatformVersion { return s.key.Version }

// Configuration returns the instrumentation configuration.
func (s *Sandbox) Configuration() *instrument.Configuration { return s.cfg }

// Scope returns the loading scope of the acquired types.
func (s *Sandbox) Scope() *vm.Scope { return s.scope }

// Footprint returns the approximate size of the loaded classes in bytes.
func (s *Sandbox) Footprint() int64 { return s.footprint }

// LoadType resolves a type through the sandbox scope.
func (s *Sandbox) LoadType(name model.TypeName) (*vm.Class, error) {
	return s.scope.Lookup(name)
}

// Dispatcher returns the dispatcher of the current or last binding, or nil
// when the sandbox was never bound.
func (s *Sandbox) Dispatcher() *dispatch.Dispatcher { return s.current }

// States returns the substitute state of the sandbox.
func (s *Sandbox) States() *shadow.States { return s.states }

// ResetStatics restores the static state of every acquired class.
func (s *Sandbox) ResetStatics() { s.scope.ResetStatics() }

// Closed reports whether Close was called.
func (s *Sandbox) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// RunOnSandboxThread runs work on the sandbox goroutine and waits for it.
// Work items run one at a time. A panic in work is returned as an error.
func (s *Sandbox) RunOnSandboxThread(ctx context.Context, work func() error) error {
	result := make(chan error, 1)

	fn := func() {
		defer zerr.Defer(func(err error) { result <- err })

		result <- work()
	}

	select {
	case s.work <- fn:
	case <-s.done:
		return s.closedError()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bind takes exclusive ownership of the sandbox for one test and prepares
// a thread routing calls through a dispatcher for smap. It blocks while
// another binding is active.
func (s *Sandbox) Bind(ctx context.Context, smap *shadow.Map) (*Binding, error) {
	select {
	case s.owner <- struct{}{}:
	case <-s.done:
		return nil, s.closedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.Closed() {
		<-s.owner

		return nil, s.closedError()
	}

	d, ok := s.dispatchers[smap.Fingerprint()]
	if !ok {
		var err error

		d, err = dispatch.New(dispatch.Config{
			Scope:       s.scope,
			Map:         smap,
			Catalog:     s.catalog,
			Intercepted: s.cfg.InterceptedMethods(),
			States:      s.states,
		})
		if err != nil {
			<-s.owner

			return nil, fmt.Errorf("failed to create dispatcher: %w", err)
		}

		n := d.Precompute()
		slog.Debug("Dispatch table built", "sandbox_id", s.id, "map", smap.Fingerprint(), "plans", n)

		s.dispatchers[smap.Fingerprint()] = d
	}

	s.current = d

	arena := vm.NewArena()
	b := &Binding{
		sandbox:    s,
		arena:      arena,
		dispatcher: d,
		previously: s.used,
		thread: vm.NewThread(vm.ThreadConfig{
			Scope:       s.scope,
			Arena:       arena,
			StaticArena: s.static,
			Interceptor: d,
			MaxDepth:    s.maxDepth,
		}),
	}

	s.used = true
	s.touch()

	return b, nil
}

// Close stops the sandbox goroutine. Close is idempotent.
func (s *Sandbox) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
		slog.Debug("Sandbox closed", "sandbox_id", s.id, "key", s.key.String())
	})

	return nil
}

func (s *Sandbox) closedError() error {
	return zerr.With(zerr.Wrap(model.ErrSandboxClosed, "sandbox closed"), "sandbox_id", s.id)
}

// Binding is the exclusive use of a sandbox by one test.
type Binding struct {
	sandbox    *Sandbox
	thread     *vm.Thread
	arena      *vm.Arena
	dispatcher *dispatch.Dispatcher
	previously bool
	once       sync.Once
	leaks      []string
}

func (b *Binding) Sandbox() *Sandbox                { return b.sandbox }
func (b *Binding) Thread() *vm.Thread               { return b.thread }
func (b *Binding) Arena() *vm.Arena                 { return b.arena }
func (b *Binding) Dispatcher() *dispatch.Dispatcher { return b.dispatcher }

// PreviouslyUsed reports whether an earlier binding ran on the sandbox.
func (b *Binding) PreviouslyUsed() bool { return b.previously }

// Release frees the test arena and gives up ownership. It returns the
// static fields still referring to instances of the freed arena; using
// such an instance fails with ErrInstanceReleased. Release is idempotent.
func (b *Binding) Release() []string {
	b.once.Do(func() {
		b.arena.Free()

		for sc := b.sandbox.scope; sc != nil; sc = sc.Parent() {
			b.leaks = append(b.leaks, vm.LeakedReferences(sc, b.arena)...)
		}

		if len(b.leaks) > 0 {
			slog.Warn("Static fields refer to released instances", "sandbox_id", b.sandbox.id, "fields", b.leaks)
		}

		b.sandbox.touch()
		<-b.sandbox.owner
	})

	return b.leaks
}
