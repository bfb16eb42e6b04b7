package shadow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

type fakeClock struct{ now int64 }

func testCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := NewCatalog(
		NewType("FakeClock", func(*vm.Instance) any { return &fakeClock{now: 42} }).
			Method("now()", func(c *Call) (any, error) { return c.Shadow.(*fakeClock).now, nil }),
		NewType("OtherClock", func(*vm.Instance) any { return &fakeClock{} }),
		NewType("FakeBuild", nil).StaticOnly(),
		NewType("Broken", nil),
		NewType("ChildShadow", func(*vm.Instance) any { return struct{}{} }).Extending("FakeClock"),
	)
	require.NoError(t, err)

	return c
}

var v30 = model.PlatformVersion{API: 30}

func TestBuilder_MergeOrder(t *testing.T) {
	b := NewBuilder(testCatalog(t))

	m, err := b.Build(v30,
		Partial{Level: LevelClass, Origin: "ClockTest", Entries: []Entry{
			{Real: "android.os.Clock", Config: Config{ShadowType: "OtherClock", LooseSignatures: true}},
		}},
		Partial{Level: LevelDefault, Origin: "defaults", Entries: []Entry{
			{Real: "android.os.Clock", Config: Config{ShadowType: "FakeClock"}},
			{Real: "android.os.Build", Config: Config{ShadowType: "FakeBuild", CallThroughByDefault: true}},
		}},
		Partial{Level: LevelPackage, Origin: "android.os", Entries: nil},
	)
	require.NoError(t, err)

	want := []Entry{
		{Real: "android.os.Build", Config: Config{ShadowType: "FakeBuild", CallThroughByDefault: true}},
		{Real: "android.os.Clock", Config: Config{ShadowType: "OtherClock", LooseSignatures: true}},
	}
	assert.Empty(t, cmp.Diff(want, m.Entries()))
	assert.Equal(t, "ClockTest", m.Origin("android.os.Clock"))
	assert.Equal(t, "defaults", m.Origin("android.os.Build"))
	assert.Equal(t, 2, m.Len())

	var names []string
	for _, s := range m.Shadows() {
		names = append(names, s.Name())
	}

	assert.Equal(t, []string{"FakeBuild", "OtherClock"}, names)
}

func TestBuilder_RebuildIsEquivalent(t *testing.T) {
	b := NewBuilder(testCatalog(t))
	sources := []Partial{
		{Level: LevelDefault, Origin: "defaults", Entries: []Entry{
			{Real: "android.os.Clock", Config: Config{ShadowType: "FakeClock"}},
		}},
		{Level: LevelMethod, Origin: "testNow", Entries: []Entry{
			{Real: "android.os.Handler", Config: Config{ShadowType: "ChildShadow", InheritImplementationMethods: true}},
		}},
	}

	first, err := b.Build(v30, sources...)
	require.NoError(t, err)

	for range 5 {
		again, err := b.Build(v30, sources...)
		require.NoError(t, err)

		assert.True(t, first.Equal(again))
		assert.Equal(t, first.Fingerprint(), again.Fingerprint())
		assert.Empty(t, cmp.Diff(first.Entries(), again.Entries()))
	}

	other, err := b.Build(v30, sources[:1]...)
	require.NoError(t, err)
	assert.False(t, first.Equal(other))
	assert.NotEqual(t, first.Fingerprint(), other.Fingerprint())
}

func TestBuilder_VersionRange(t *testing.T) {
	b := NewBuilder(testCatalog(t))
	src := Partial{Level: LevelDefault, Entries: []Entry{
		{Real: "android.os.Clock", Config: Config{ShadowType: "FakeClock", MinAPI: 31}},
		{Real: "android.os.Build", Config: Config{ShadowType: "FakeBuild", MaxAPI: 30}},
	}}

	m30, err := b.Build(v30, src)
	require.NoError(t, err)
	assert.Equal(t, []model.TypeName{"android.os.Build"}, m30.Types())

	m33, err := b.Build(model.PlatformVersion{API: 33}, src)
	require.NoError(t, err)
	assert.Equal(t, []model.TypeName{"android.os.Clock"}, m33.Types())
	assert.Equal(t, 33, m33.Version().API)
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sources []Partial
	}{
		{
			name: "same level conflict",
			sources: []Partial{
				{Level: LevelPackage, Origin: "a", Entries: []Entry{{Real: "android.os.Clock", Config: Config{ShadowType: "FakeClock"}}}},
				{Level: LevelPackage, Origin: "b", Entries: []Entry{{Real: "android.os.Clock", Config: Config{ShadowType: "OtherClock"}}}},
			},
		},
		{
			name:    "unknown substitute",
			sources: []Partial{{Entries: []Entry{{Real: "android.os.Clock", Config: Config{ShadowType: "Nope"}}}}},
		},
		{
			name:    "no constructor",
			sources: []Partial{{Entries: []Entry{{Real: "android.os.Clock", Config: Config{ShadowType: "Broken"}}}}},
		},
		{
			name:    "missing substitute name",
			sources: []Partial{{Entries: []Entry{{Real: "android.os.Clock"}}}},
		},
		{
			name:    "invalid real type",
			sources: []Partial{{Entries: []Entry{{Real: "not a type", Config: Config{ShadowType: "FakeClock"}}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(testCatalog(t)).Build(v30, tt.sources...)
			require.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestBuilder_OverrideAtSameLevel(t *testing.T) {
	m, err := NewBuilder(testCatalog(t)).Build(v30,
		Partial{Level: LevelPackage, Origin: "a", Entries: []Entry{{Real: "android.os.Clock", Config: Config{ShadowType: "FakeClock"}}}},
		Partial{Level: LevelPackage, Origin: "b", Entries: []Entry{{Real: "android.os.Clock", Config: Config{ShadowType: "OtherClock"}, Override: true}}},
	)
	require.NoError(t, err)

	c, ok := m.Get("android.os.Clock")
	require.True(t, ok)
	assert.Equal(t, "OtherClock", c.ShadowType)
}

func TestCatalog(t *testing.T) {
	c := testCatalog(t)

	require.ErrorIs(t, c.Register(NewType("FakeClock", nil)), model.ErrConfiguration)
	assert.Equal(t, []string{"Broken", "ChildShadow", "FakeBuild", "FakeClock", "OtherClock"}, c.Names())

	chain, err := c.Chain("ChildShadow")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "FakeClock", chain[1].Name())

	_, err = c.Chain("Missing")
	require.ErrorIs(t, err, model.ErrConfiguration)

	c.MustRegister(NewType("LoopA", nil).Extending("LoopB"), NewType("LoopB", nil).Extending("LoopA"))
	_, err = c.Chain("LoopA")
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestType(t *testing.T) {
	typ := NewType("ShadowHandler", func(*vm.Instance) any { return 1 }).
		Method("post(java.lang.Object)", func(*Call) (any, error) { return true, nil }).
		StaticMethod("getMain()", func(*Call) (any, error) { return nil, nil }).
		ClassInit(func(*Call) (any, error) { return nil, nil })

	_, ok := typ.Lookup("post(java.lang.Object)", false)
	assert.True(t, ok)

	_, ok = typ.Lookup("post(java.lang.Object)", true)
	assert.False(t, ok, "static-ness is part of the key")

	_, ok = typ.Lookup("<clinit>()", true)
	assert.True(t, ok)

	methods := typ.Methods()
	require.Len(t, methods, 3)
	assert.Equal(t, "ShadowHandler.post(java.lang.Object)", methods[0].String())
	assert.True(t, methods[2].IsStatic())
	assert.False(t, typ.HasReset())
}

type counter struct{ n int }

func TestStates(t *testing.T) {
	typ := NewType("ShadowLooper", nil).StaticOnly().
		WithState(func() any { return &counter{} }).
		WithReset(func(state any) { state.(*counter).n = 0 }).
		StaticMethod("tick()", func(c *Call) (any, error) {
			c.State().(*counter).n++

			return nil, nil
		})

	tick, ok := typ.Lookup("tick()", true)
	require.True(t, ok)

	a, b := NewStates(), NewStates()

	for range 3 {
		_, err := tick.Invoke(&Call{States: a})
		require.NoError(t, err)
	}

	_, err := tick.Invoke(&Call{States: b})
	require.NoError(t, err)

	assert.Equal(t, 3, a.Get(typ).(*counter).n)
	assert.Equal(t, 1, b.Get(typ).(*counter).n)
	assert.Same(t, a.Get(typ), a.Get(typ))

	assert.True(t, b.Reset(typ))
	assert.Zero(t, b.Get(typ).(*counter).n)
	assert.Equal(t, 3, a.Get(typ).(*counter).n, "reset only touches its own table")
}

func TestStates_WithoutHook(t *testing.T) {
	stateful := NewType("ShadowToast", nil).WithState(func() any { return &counter{} })
	plain := NewType("Plain", nil)
	states := NewStates()

	first := states.Get(stateful).(*counter)
	first.n = 7

	assert.True(t, stateful.HasReset())
	assert.True(t, states.Reset(stateful))
	assert.NotSame(t, first, states.Get(stateful), "state without a hook is recreated")

	assert.False(t, plain.HasReset())
	assert.False(t, states.Reset(plain))
	assert.Nil(t, states.Get(plain))
	assert.Nil(t, (&Call{}).State())
}

func TestConfig_Supports(t *testing.T) {
	c := Config{MinAPI: 28, MaxAPI: 31}

	assert.False(t, c.Supports(model.PlatformVersion{API: 27}))
	assert.True(t, c.Supports(model.PlatformVersion{API: 28}))
	assert.True(t, c.Supports(model.PlatformVersion{API: 31}))
	assert.False(t, c.Supports(model.PlatformVersion{API: 33}))
	assert.True(t, Config{}.Supports(model.PlatformVersion{API: 1}))
	assert.Equal(t, "class", LevelClass.String())
}
