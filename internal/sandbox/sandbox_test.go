package sandbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/sandbox"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

var platformYAML = []string{`
name: android.os.Build
fields:
  - {name: MODEL, type: java.lang.String, static: true, value: "robot"}
  - {name: SDK_INT, type: int, static: true}
methods:
  - {name: <clinit>, static: true}
`, `
name: android.os.Counter
fields:
  - {name: count, type: int, static: true}
methods:
  - {name: next, returns: int, static: true}
`, `
name: android.os.Holder
fields:
  - {name: held, type: java.lang.Object, static: true}
methods:
  - {name: <init>}
`, `
name: java.util.Locale
fields:
  - {name: DEFAULT, type: java.lang.String, static: true, value: "en"}
methods:
  - {name: <init>}
`}

var (
	v30 = model.PlatformVersion{API: 30}
	v33 = model.PlatformVersion{API: 33}
)

func bodies(api int) vm.BodyTable {
	return vm.BodyTable{}.
		Method("android.os.Build", "<clinit>()", func(f *vm.Frame) (any, error) {
			return nil, f.SetStatic("SDK_INT", int32(api))
		}).
		Method("android.os.Counter", "next()", func(f *vm.Frame) (any, error) {
			v, err := f.Static("count")
			if err != nil {
				return nil, err
			}

			n := v.(int32) + 1

			return n, f.SetStatic("count", n)
		})
}

func provider(t *testing.T, apis ...int) *adapter.MemoryArtifactAdapter {
	t.Helper()

	p := adapter.NewMemoryArtifactAdapter()
	for _, api := range apis {
		require.NoError(t, p.Add(api, platformYAML...))
		p.SetBodies(api, bodies(api))
	}

	return p
}

func catalog(t *testing.T) *shadow.Catalog {
	t.Helper()

	c, err := shadow.NewCatalog(
		shadow.NewType("ShadowCounter", nil).StaticOnly().
			StaticMethod("next()", func(*shadow.Call) (any, error) { return int32(99), nil }),
	)
	require.NoError(t, err)

	return c
}

func instrumentation() *instrument.Configuration {
	return instrument.NewBuilder().InstrumentPackage("android").MustBuild()
}

func registry(t *testing.T, cfg sandbox.RegistryConfig) *sandbox.Registry {
	t.Helper()

	if cfg.Catalog == nil {
		cfg.Catalog = catalog(t)
	}

	r, err := sandbox.NewRegistry(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	return r
}

func bind(t *testing.T, sb *sandbox.Sandbox) *sandbox.Binding {
	t.Helper()

	b, err := sb.Bind(context.Background(), shadow.Empty(sb.Version()))
	require.NoError(t, err)

	return b
}

func TestRegistry_BuildsEachKeyOnce(t *testing.T) {
	p := provider(t, 30)
	r := registry(t, sandbox.RegistryConfig{Provider: p})
	cfg := instrumentation()

	const workers = 16

	var (
		wg  sync.WaitGroup
		got [workers]*sandbox.Sandbox
	)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sb, err := r.Obtain(context.Background(), cfg, v30)
			assert.NoError(t, err)

			got[i] = sb
		}()
	}

	wg.Wait()

	for _, sb := range got {
		assert.Same(t, got[0], sb)
	}

	assert.Equal(t, 1, p.Lists(30))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, sandbox.Key{Fingerprint: cfg.Fingerprint(), Version: v30}, got[0].Key())
}

func TestRegistry_EvictionSkipsPinnedSandboxes(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30), MaxSandboxes: 1})
	ctx := context.Background()

	cfgA := instrumentation()
	cfgB := instrument.NewBuilder().InstrumentPackage("android").NativeMethodsReturnDefault(true).MustBuild()
	cfgC := instrument.NewBuilder().InstrumentPackage("android").SkipObjectMethods(true).MustBuild()

	leaseA, err := r.Acquire(ctx, cfgA, v30)
	require.NoError(t, err)

	sbB, err := r.Obtain(ctx, cfgB, v30)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len(), "a pinned sandbox is never evicted")
	assert.False(t, leaseA.Sandbox().Closed())

	leaseA.Release()
	leaseA.Release()

	sbC, err := r.Obtain(ctx, cfgC, v30)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	assert.True(t, leaseA.Sandbox().Closed())
	assert.True(t, sbB.Closed())
	assert.False(t, sbC.Closed())

	again, err := r.Obtain(ctx, cfgA, v30)
	require.NoError(t, err)
	assert.NotSame(t, leaseA.Sandbox(), again, "an evicted key is rebuilt")
}

func TestRegistry_MaxBytes(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30, 33), MaxBytes: 1})
	ctx := context.Background()

	sb30, err := r.Obtain(ctx, instrumentation(), v30)
	require.NoError(t, err)
	assert.Positive(t, sb30.Footprint())

	_, err = r.Obtain(ctx, instrumentation(), v33)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	assert.True(t, sb30.Closed())
}

func TestRegistry_ConstructionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable artifacts", func(t *testing.T) {
		p := provider(t)
		r := registry(t, sandbox.RegistryConfig{Provider: p})

		p.Fail(31, errors.New("disk gone"))

		_, err := r.Obtain(ctx, instrumentation(), model.PlatformVersion{API: 31})
		require.ErrorIs(t, err, model.ErrSandboxConstruction)
		assert.Zero(t, r.Len(), "failed builds are not cached")

		p.Fail(31, nil)
		require.NoError(t, p.Add(31, platformYAML...))

		_, err = r.Obtain(ctx, instrumentation(), model.PlatformVersion{API: 31})
		require.NoError(t, err)
	})

	t.Run("corrupt acquired class", func(t *testing.T) {
		p := provider(t, 30)
		p.AddRaw(30, "android.os.Broken", []byte("name: [not a class"))
		r := registry(t, sandbox.RegistryConfig{Provider: p})

		_, err := r.Obtain(ctx, instrumentation(), v30)
		require.ErrorIs(t, err, model.ErrSandboxConstruction)
	})

	t.Run("corrupt shared class", func(t *testing.T) {
		p := provider(t, 30)
		p.AddRaw(30, "java.util.Broken", []byte("fields: 3"))
		r := registry(t, sandbox.RegistryConfig{Provider: p})

		_, err := r.Obtain(ctx, instrumentation(), v30)
		require.ErrorIs(t, err, model.ErrSandboxConstruction)
	})

	t.Run("duplicate method signature", func(t *testing.T) {
		for _, name := range []model.TypeName{"android.os.Dup", "java.util.Dup"} {
			p := provider(t, 30)
			p.AddRaw(30, name, []byte("name: "+string(name)+`
methods:
  - {name: now, returns: long}
  - {name: now, returns: long}
`))
			r := registry(t, sandbox.RegistryConfig{Provider: p})

			_, err := r.Obtain(ctx, instrumentation(), v30)
			require.ErrorIs(t, err, model.ErrConfiguration, string(name))
			require.ErrorIs(t, err, model.ErrSandboxConstruction, string(name))
			assert.Contains(t, err.Error(), "corrupt class "+string(name))
		}
	})

	t.Run("missing body in strict mode", func(t *testing.T) {
		p := provider(t, 30)
		p.SetBodies(30, vm.BodyTable{})
		r := registry(t, sandbox.RegistryConfig{Provider: p, Strict: true})

		_, err := r.Obtain(ctx, instrumentation(), v30)
		require.ErrorIs(t, err, model.ErrConfiguration)
		assert.NotErrorIs(t, err, model.ErrSandboxConstruction)
	})

	t.Run("canceled", func(t *testing.T) {
		r := registry(t, sandbox.RegistryConfig{Provider: adapter.NewLocalArtifactAdapter(t.TempDir())})

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := r.Obtain(canceled, instrumentation(), v30)
		require.ErrorIs(t, err, context.Canceled)
	})
}

// gatedProvider holds the first class listing until released.
type gatedProvider struct {
	*adapter.MemoryArtifactAdapter

	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedProvider) ListClasses(ctx context.Context, version model.PlatformVersion) ([]model.TypeName, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return g.MemoryArtifactAdapter.ListClasses(ctx, version)
}

func TestRegistry_CanceledWaiterLeavesBuildRunning(t *testing.T) {
	p := &gatedProvider{
		MemoryArtifactAdapter: provider(t, 30),
		entered:               make(chan struct{}),
		release:               make(chan struct{}),
	}
	r := registry(t, sandbox.RegistryConfig{Provider: p})

	first, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Obtain(first, instrumentation(), v30)
		firstErr <- err
	}()

	<-p.entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := r.Obtain(context.Background(), instrumentation(), v30)
		secondErr <- err
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(p.release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, p.Lists(30), "one build serves both callers")
}

func TestRegistry_VersionsAreIndependent(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30, 33)})
	ctx := context.Background()

	sb30, err := r.Obtain(ctx, instrumentation(), v30)
	require.NoError(t, err)

	sb33, err := r.Obtain(ctx, instrumentation(), v33)
	require.NoError(t, err)

	b30, b33 := bind(t, sb30), bind(t, sb33)
	defer b30.Release()
	defer b33.Release()

	sdk, err := b30.Thread().GetStatic("android.os.Build", "SDK_INT")
	require.NoError(t, err)
	assert.Equal(t, int32(30), sdk)

	sdk, err = b33.Thread().GetStatic("android.os.Build", "SDK_INT")
	require.NoError(t, err)
	assert.Equal(t, int32(33), sdk)

	require.NoError(t, b30.Thread().SetStatic("android.os.Build", "MODEL", "pixel"))

	model33, err := b33.Thread().GetStatic("android.os.Build", "MODEL")
	require.NoError(t, err)
	assert.Equal(t, "robot", model33)

	c30, err := sb30.LoadType("android.os.Build")
	require.NoError(t, err)

	c33, err := sb33.LoadType("android.os.Build")
	require.NoError(t, err)
	assert.NotSame(t, c30, c33)
}

func TestRegistry_SharesNonAcquiredTypes(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30)})
	ctx := context.Background()

	a, err := r.Obtain(ctx, instrumentation(), v30)
	require.NoError(t, err)

	b, err := r.Obtain(ctx, instrument.NewBuilder().InstrumentPackage("android").SkipObjectMethods(true).MustBuild(), v30)
	require.NoError(t, err)
	require.NotSame(t, a, b)

	la, err := a.LoadType("java.util.Locale")
	require.NoError(t, err)

	lb, err := b.LoadType("java.util.Locale")
	require.NoError(t, err)
	assert.Same(t, la, lb)

	ba, err := a.LoadType("android.os.Build")
	require.NoError(t, err)
	assert.True(t, a.Scope().Owns(ba))
	assert.False(t, a.Scope().Owns(la))
}

func TestRegistry_UsesClassCache(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for range 2 {
		cache, err := classcache.NewFileCache(dir)
		require.NoError(t, err)

		r, err := sandbox.NewRegistry(sandbox.RegistryConfig{Provider: provider(t, 30), Catalog: catalog(t), Cache: cache})
		require.NoError(t, err)

		sb, err := r.Obtain(ctx, instrumentation(), v30)
		require.NoError(t, err)

		c, err := sb.LoadType("android.os.Counter")
		require.NoError(t, err)
		assert.True(t, c.Instrumented())

		require.NoError(t, r.Close())
	}

	raw := []byte(platformYAML[1])
	cache, err := classcache.NewFileCache(dir)
	require.NoError(t, err)

	_, ok, err := cache.Get(ctx, classcache.Key{OriginalHash: classfile.Hash(raw), Fingerprint: instrumentation().Fingerprint()})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSandbox_RunOnSandboxThread(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30)})

	sb, err := r.Obtain(context.Background(), instrumentation(), v30)
	require.NoError(t, err)

	var ran int

	require.NoError(t, sb.RunOnSandboxThread(context.Background(), func() error {
		ran++

		return nil
	}))
	assert.Equal(t, 1, ran)

	errWork := errors.New("work failed")
	err = sb.RunOnSandboxThread(context.Background(), func() error { return errWork })
	assert.ErrorIs(t, err, errWork)

	err = sb.RunOnSandboxThread(context.Background(), func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.NoError(t, sb.Close())
	require.NoError(t, sb.Close())

	err = sb.RunOnSandboxThread(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, model.ErrSandboxClosed)
}

func TestSandbox_BindIsExclusive(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30)})

	sb, err := r.Obtain(context.Background(), instrumentation(), v30)
	require.NoError(t, err)

	first := bind(t, sb)
	assert.False(t, first.PreviouslyUsed())
	assert.Same(t, sb, first.Sandbox())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sb.Bind(ctx, shadow.Empty(v30))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	first.Release()
	first.Release()

	second := bind(t, sb)
	defer second.Release()

	assert.True(t, second.PreviouslyUsed())
	assert.Same(t, first.Dispatcher(), second.Dispatcher(), "dispatchers are reused per shadow map")
	assert.NotSame(t, first.Arena(), second.Arena())
	assert.True(t, first.Arena().Freed())
}

func TestSandbox_BindRoutesThroughShadowMap(t *testing.T) {
	cat := catalog(t)
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30), Catalog: cat})

	sb, err := r.Obtain(context.Background(), instrumentation(), v30)
	require.NoError(t, err)

	smap, err := shadow.NewBuilder(cat).Build(v30, shadow.Partial{
		Level:   shadow.LevelClass,
		Origin:  t.Name(),
		Entries: []shadow.Entry{{Real: "android.os.Counter", Config: shadow.Config{ShadowType: "ShadowCounter"}}},
	})
	require.NoError(t, err)

	b, err := sb.Bind(context.Background(), smap)
	require.NoError(t, err)

	got, err := b.Thread().InvokeStatic("android.os.Counter", "next()")
	require.NoError(t, err)
	assert.Equal(t, int32(99), got)
	assert.Same(t, b.Dispatcher(), sb.Dispatcher())
	b.Release()

	plain := bind(t, sb)
	defer plain.Release()

	got, err = plain.Thread().InvokeStatic("android.os.Counter", "next()")
	require.NoError(t, err)
	assert.Equal(t, int32(1), got)
	assert.NotSame(t, b.Dispatcher(), plain.Dispatcher())
}

func TestBinding_ReleaseReportsLeakedReferences(t *testing.T) {
	r := registry(t, sandbox.RegistryConfig{Provider: provider(t, 30)})

	sb, err := r.Obtain(context.Background(), instrumentation(), v30)
	require.NoError(t, err)

	b := bind(t, sb)
	th := b.Thread()

	held, err := th.New("android.os.Holder")
	require.NoError(t, err)
	require.NoError(t, th.SetStatic("android.os.Holder", "held", held))

	assert.Equal(t, []string{"android.os.Holder.held"}, b.Release())
	assert.True(t, held.Released())

	sb.ResetStatics()

	next := bind(t, sb)
	defer next.Release()

	v, err := next.Thread().GetStatic("android.os.Holder", "held")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRegistry_CloseStopsSandboxes(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, err := sandbox.NewRegistry(sandbox.RegistryConfig{Provider: provider(t, 30, 33), Catalog: catalog(t)})
	require.NoError(t, err)

	for _, v := range []model.PlatformVersion{v30, v33} {
		_, err := r.Obtain(context.Background(), instrumentation(), v)
		require.NoError(t, err)
	}

	built := r.Sandboxes()
	require.Len(t, built, 2)
	require.NoError(t, r.Close())

	for _, sb := range built {
		assert.True(t, sb.Closed())
	}

	assert.Zero(t, r.Len())

	_, err = r.Obtain(context.Background(), instrumentation(), v30)
	require.ErrorIs(t, err, model.ErrSandboxClosed)
}
