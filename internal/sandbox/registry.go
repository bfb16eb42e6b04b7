package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"

	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/rewrite"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

// DefaultMaxSandboxes bounds the number of cached sandboxes.
const DefaultMaxSandboxes = 4

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Provider ArtifactProvider
	Catalog  *shadow.Catalog
	// Cache holds rewritten class bytes. Defaults to no cache.
	Cache classcache.Cache
	// MaxSandboxes bounds the number of cached sandboxes.
	MaxSandboxes int
	// MaxBytes bounds the summed footprint of cached sandboxes. Zero means unbounded.
	MaxBytes int64
	// Strict makes methods without a registered body a link error.
	Strict   bool
	MaxDepth int
	Tracer   trace.Tracer
}

func (c *RegistryConfig) defaults() error {
	if c.Provider == nil {
		return fmt.Errorf("artifact provider is required")
	}

	if c.Catalog == nil {
		return fmt.Errorf("shadow catalog is required")
	}

	if c.Cache == nil {
		c.Cache = classcache.Noop{}
	}

	if c.MaxSandboxes <= 0 {
		c.MaxSandboxes = DefaultMaxSandboxes
	}

	if c.MaxBytes < 0 {
		return fmt.Errorf("max bytes must not be negative")
	}

	if c.MaxDepth <= 0 {
		c.MaxDepth = vm.DefaultMaxDepth
	}

	if c.Tracer == nil {
		c.Tracer = otel.Tracer("shadowbox.dev/pkg/shadowbox/sandbox")
	}

	return nil
}

type sharedKey struct {
	acquisition    string
	nativeDefaults bool
	version        model.PlatformVersion
}

// Registry builds sandboxes on demand and caches them by key. Lookups of
// built sandboxes only take a read lock; each key is built at most once
// at a time, and failed builds are not cached.
type Registry struct {
	cfg RegistryConfig

	mu      sync.RWMutex
	entries map[Key]*Sandbox
	closed  bool
	group   singleflight.Group

	sharedMu sync.Mutex
	shared   map[sharedKey]*vm.Scope
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid registry configuration: %w", err)
	}

	return &Registry{
		cfg:     cfg,
		entries: map[Key]*Sandbox{},
		shared:  map[sharedKey]*vm.Scope{},
	}, nil
}

// Catalog returns the shadow catalog sandboxes resolve substitutes in.
func (r *Registry) Catalog() *shadow.Catalog { return r.cfg.Catalog }

// Lease pins a sandbox in the registry until released.
type Lease struct {
	sandbox *Sandbox
	once    sync.Once
}

// Sandbox returns the pinned sandbox.
func (l *Lease) Sandbox() *Sandbox { return l.sandbox }

// Release unpins the sandbox. Release is idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.sandbox.touch()
		l.sandbox.pins.Add(-1)
	})
}

// Acquire returns the pinned sandbox for (cfg, version), building it if
// needed. Pinned sandboxes are never evicted.
func (r *Registry) Acquire(ctx context.Context, cfg *instrument.Configuration, version model.PlatformVersion) (*Lease, error) {
	key := Key{Fingerprint: cfg.Fingerprint(), Version: version}

	for {
		if sb, ok := r.pin(key); ok {
			return &Lease{sandbox: sb}, nil
		}

		if r.isClosed() {
			return nil, zerr.Wrap(model.ErrSandboxClosed, "registry closed")
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// The build outlives the caller that started it; every waiter
		// stops waiting on its own context.
		buildCtx := context.WithoutCancel(ctx)

		ch := r.group.DoChan(key.String(), func() (any, error) {
			r.mu.RLock()
			sb, ok := r.entries[key]
			r.mu.RUnlock()

			if ok {
				return sb, nil
			}

			sb, err := r.build(buildCtx, key, cfg)
			if err != nil {
				return nil, err
			}

			r.insert(key, sb)

			return sb, nil
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// The sandbox may have been evicted before it was pinned; retry.
	}
}

// Obtain returns the sandbox for (cfg, version) without pinning it.
func (r *Registry) Obtain(ctx context.Context, cfg *instrument.Configuration, version model.PlatformVersion) (*Sandbox, error) {
	lease, err := r.Acquire(ctx, cfg, version)
	if err != nil {
		return nil, err
	}

	defer lease.Release()

	return lease.Sandbox(), nil
}

func (r *Registry) pin(key Key) (*Sandbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sb, ok := r.entries[key]
	if !ok {
		return nil, false
	}

	sb.pins.Add(1)
	sb.touch()

	return sb, true
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.closed
}

func (r *Registry) insert(key Key, sb *Sandbox) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		_ = sb.Close()

		return
	}

	r.entries[key] = sb
	evicted := r.evictLocked(sb)
	r.mu.Unlock()

	for _, e := range evicted {
		slog.Debug("Sandbox evicted", "sandbox_id", e.id, "key", e.key.String())
		_ = e.Close()
	}
}

// evictLocked removes least recently used unpinned sandboxes other than
// keep until the registry is within its bounds.
func (r *Registry) evictLocked(keep *Sandbox) []*Sandbox {
	var evicted []*Sandbox

	for r.overLimitLocked() {
		var victim *Sandbox

		for _, sb := range r.entries {
			if sb == keep || sb.pins.Load() > 0 {
				continue
			}

			if victim == nil || sb.lastUsed.Load() < victim.lastUsed.Load() {
				victim = sb
			}
		}

		if victim == nil {
			break
		}

		delete(r.entries, victim.key)
		evicted = append(evicted, victim)
	}

	return evicted
}

func (r *Registry) overLimitLocked() bool {
	if len(r.entries) > r.cfg.MaxSandboxes {
		return true
	}

	if r.cfg.MaxBytes == 0 {
		return false
	}

	var total int64
	for _, sb := range r.entries {
		total += sb.footprint
	}

	return total > r.cfg.MaxBytes
}

// Len returns the number of cached sandboxes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Sandboxes returns the cached sandboxes.
func (r *Registry) Sandboxes() []*Sandbox {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Sandbox, 0, len(r.entries))
	for _, sb := range r.entries {
		out = append(out, sb)
	}

	return out
}

// Close closes every cached sandbox and the class cache.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = map[Key]*Sandbox{}
	r.mu.Unlock()

	for _, sb := range entries {
		_ = sb.Close()
	}

	return r.cfg.Cache.Close()
}

func (r *Registry) build(ctx context.Context, key Key, cfg *instrument.Configuration) (sb *Sandbox, err error) {
	ctx, span := r.cfg.Tracer.Start(ctx, "sandbox.build", trace.WithAttributes(
		attribute.String("sandbox.fingerprint", key.Fingerprint),
		attribute.Int("sandbox.api", key.Version.API),
	))

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	names, err := r.cfg.Provider.ListClasses(ctx, key.Version)
	if err != nil {
		return nil, r.constructionError(err, key, "failed to list platform classes")
	}

	bodies := r.cfg.Provider.Bodies(key.Version)
	rw := rewrite.NewCaching(rewrite.New(cfg), r.cfg.Cache)

	shared, err := r.sharedScope(ctx, cfg, key.Version, names, bodies)
	if err != nil {
		return nil, err
	}

	scope := vm.NewScope(vm.ScopeConfig{
		Name:           key.String(),
		Parent:         shared,
		Bodies:         bodies,
		Translate:      cfg.Translate,
		Strict:         r.cfg.Strict,
		NativeDefaults: cfg.NativeDefaults(),
		Intercepted:    cfg.IsIntercepted,
	})

	var (
		footprint int64
		cached    int
	)

	for _, name := range names {
		if !cfg.ShouldAcquire(name) {
			continue
		}

		raw, err := r.cfg.Provider.ReadClass(ctx, key.Version, name)
		if err != nil {
			return nil, r.constructionError(err, key, "failed to read class "+string(name))
		}

		res, err := rw.RewriteBytes(ctx, raw)
		if err != nil {
			if _, derr := classfile.Decode(raw); derr != nil {
				return nil, r.classError(derr, key, name)
			}

			return nil, zerr.With(err, "version", key.Version.String())
		}

		if res.Cached {
			cached++
		}

		footprint += int64(len(raw))

		if err := scope.Define(res.Definition); err != nil {
			return nil, err
		}
	}

	if err := scope.Link(); err != nil {
		return nil, zerr.With(err, "version", key.Version.String())
	}

	sb = newSandbox(ulid.Make().String(), key, cfg, r.cfg.Catalog, scope, footprint, r.cfg.MaxDepth)

	span.SetAttributes(
		attribute.String("sandbox.id", sb.id),
		attribute.Int("sandbox.classes", len(scope.Classes())),
		attribute.Int("sandbox.cached", cached),
	)
	slog.Debug("Sandbox built", "sandbox_id", sb.id, "key", key.String(), "classes", len(scope.Classes()), "cached", cached)

	return sb, nil
}

// sharedScope returns the scope of the types that are not acquired, built
// once per platform version and acquisition partition.
func (r *Registry) sharedScope(ctx context.Context, cfg *instrument.Configuration, version model.PlatformVersion,
	names []model.TypeName, bodies vm.BodyTable,
) (*vm.Scope, error) {
	key := sharedKey{acquisition: cfg.AcquisitionFingerprint(), nativeDefaults: cfg.NativeDefaults(), version: version}

	r.sharedMu.Lock()
	defer r.sharedMu.Unlock()

	if s, ok := r.shared[key]; ok {
		return s, nil
	}

	s := vm.NewScope(vm.ScopeConfig{
		Name:           "shared@" + version.String(),
		Bodies:         bodies,
		Strict:         r.cfg.Strict,
		NativeDefaults: cfg.NativeDefaults(),
	})

	for _, name := range names {
		if cfg.ShouldAcquire(name) {
			continue
		}

		raw, err := r.cfg.Provider.ReadClass(ctx, version, name)
		if err != nil {
			return nil, r.constructionError(err, Key{Version: version}, "failed to read class "+string(name))
		}

		def, err := classfile.Decode(raw)
		if err != nil {
			return nil, r.classError(err, Key{Version: version}, name)
		}

		if err := s.Define(def); err != nil {
			return nil, err
		}
	}

	if err := s.Link(); err != nil {
		return nil, zerr.With(err, "version", version.String())
	}

	r.shared[key] = s

	return s, nil
}

// classError reports a class that was read but cannot be used. The cause
// keeps its own sentinel, so a malformed definition matches both
// ErrConfiguration and ErrSandboxConstruction.
func (r *Registry) classError(err error, key Key, name model.TypeName) error {
	out := zerr.With(zerr.Wrap(model.ErrSandboxConstruction, "corrupt class "+string(name)), "version", key.Version.String())
	if key.Fingerprint != "" {
		out = zerr.With(out, "fingerprint", key.Fingerprint)
	}

	return fmt.Errorf("%w: %w", out, err)
}

func (r *Registry) constructionError(err error, key Key, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := zerr.With(zerr.Wrap(model.ErrSandboxConstruction, msg+": "+err.Error()), "version", key.Version.String())
	if key.Fingerprint != "" {
		out = zerr.With(out, "fingerprint", key.Fingerprint)
	}

	return out
}
