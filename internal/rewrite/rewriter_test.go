package rewrite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

const clockYAML = `
name: android.os.Clock
fields:
  - name: millis
    type: long
methods:
  - name: <init>
  - name: <clinit>
    static: true
  - name: now
    returns: long
  - name: setTime
    params: [long]
  - name: toString
    returns: java.lang.String
  - name: uptime
    returns: long
    static: true
    native: true
  - name: helper
    params: [android.os.Hidden]
`

func decode(t *testing.T, raw string) *classfile.Definition {
	t.Helper()

	def, err := classfile.Decode([]byte(raw))
	require.NoError(t, err)

	return def
}

func findMethod(t *testing.T, def *classfile.Definition, name string, static bool) classfile.Method {
	t.Helper()

	for _, m := range def.Methods {
		if m.Name == name && m.Static == static {
			return m
		}
	}

	require.Failf(t, "method not found", "%s static=%v", name, static)

	return classfile.Method{}
}

func TestRewrite_SplitsInstrumentableMethods(t *testing.T) {
	cfg := instrument.NewBuilder().
		InstrumentPackage("android").
		DoNotInstrumentMethod("android.os.Clock#setTime").
		TranslateClassName("android.os.Hidden", "android.os.Visible").
		MustBuild()

	out, err := New(cfg).Rewrite(decode(t, clockYAML))
	require.NoError(t, err)

	require.NotNil(t, out.Rewrite)
	assert.True(t, out.Rewrite.Instrumented)
	assert.True(t, out.Rewrite.Construct)
	assert.True(t, out.Rewrite.ClassInit)
	assert.Equal(t, cfg.Fingerprint(), out.Rewrite.Fingerprint)

	now := findMethod(t, out, "now", false)
	assert.Equal(t, classfile.KindIntercepted, now.Kind)
	assert.Equal(t, classfile.AliasPrefix+"now", now.Origin)
	assert.Empty(t, now.Body)

	alias := findMethod(t, out, classfile.AliasPrefix+"now", false)
	assert.Equal(t, classfile.KindOriginal, alias.Kind)
	assert.True(t, alias.Private)
	assert.Equal(t, "android.os.Clock#now()", alias.Body)

	ctor := findMethod(t, out, model.ConstructorName, false)
	assert.Equal(t, classfile.KindIntercepted, ctor.Kind)
	assert.Equal(t, classfile.AliasPrefix+"init", ctor.Origin)

	// The class initializer only exists as an alias run by the class-init hook.
	_, ok := out.Method(model.NewSignature(model.ClassInitName), true)
	assert.False(t, ok)
	clinit := findMethod(t, out, classfile.AliasPrefix+"clinit", true)
	assert.Equal(t, "android.os.Clock#<clinit>()", clinit.Body)

	toString := findMethod(t, out, "toString", false)
	assert.Equal(t, classfile.KindIntercepted, toString.Kind, "object methods are instrumentable by default")

	setTime := findMethod(t, out, "setTime", false)
	assert.Equal(t, classfile.KindPlain, setTime.Kind)
	assert.Equal(t, "android.os.Clock#setTime(long)", setTime.Body)

	uptime := findMethod(t, out, "uptime", true)
	assert.Equal(t, classfile.KindIntercepted, uptime.Kind)
	assert.True(t, uptime.Native)
	assert.Empty(t, uptime.Origin)

	helper := findMethod(t, out, "helper", false)
	assert.Equal(t, []string{"android.os.Visible"}, helper.Params)

	helperAlias := findMethod(t, out, classfile.AliasPrefix+"helper", false)
	assert.Equal(t, "android.os.Clock#helper(android.os.Hidden)", helperAlias.Body, "body symbols keep declared names")
}

func TestRewrite_UninstrumentedClass(t *testing.T) {
	cfg := instrument.NewBuilder().
		InstrumentPackage("android").
		DoNotInstrumentClass("android.os.Clock").
		MustBuild()

	in := decode(t, clockYAML)
	out, err := New(cfg).Rewrite(in)
	require.NoError(t, err)

	assert.False(t, out.Rewrite.Instrumented)
	assert.Len(t, out.Methods, len(in.Methods))

	for _, m := range out.Methods {
		assert.Equal(t, classfile.KindPlain, m.Kind, m.Name)
	}
}

func TestRewrite_DoesNotMutateInput(t *testing.T) {
	cfg := instrument.NewBuilder().InstrumentPackage("android").MustBuild()
	in := decode(t, clockYAML)
	before := in.Clone()

	_, err := New(cfg).Rewrite(in)
	require.NoError(t, err)
	assert.Equal(t, before, in)
}

func TestRewrite_Errors(t *testing.T) {
	cfg := instrument.NewBuilder().
		InstrumentPackage("a").
		TranslateClassName("a.X", "a.Y").
		MustBuild()
	rw := New(cfg)

	tests := []struct {
		name string
		def  *classfile.Definition
	}{
		{
			name: "already rewritten",
			def:  &classfile.Definition{Name: "a.B", Rewrite: &classfile.Marker{}},
		},
		{
			name: "alias collision",
			def:  &classfile.Definition{Name: "a.B", Methods: []classfile.Method{{Name: classfile.AliasPrefix + "f"}}},
		},
		{
			name: "translation creates duplicate overload",
			def: &classfile.Definition{Name: "a.B", Methods: []classfile.Method{
				{Name: "f", Params: []string{"a.X"}},
				{Name: "f", Params: []string{"a.Y"}},
			}},
		},
		{
			name: "invalid definition",
			def:  &classfile.Definition{Name: "a..B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rw.Rewrite(tt.def)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

type countingCache struct {
	classcache.Cache
	gets, puts int
	failPut    bool
}

func (c *countingCache) Get(ctx context.Context, key classcache.Key) ([]byte, bool, error) {
	c.gets++

	return c.Cache.Get(ctx, key)
}

func (c *countingCache) Put(ctx context.Context, key classcache.Key, data []byte) error {
	c.puts++
	if c.failPut {
		return errors.New("disk full")
	}

	return c.Cache.Put(ctx, key, data)
}

func TestCachingRewriter(t *testing.T) {
	ctx := context.Background()

	fileCache, err := classcache.NewFileCache(t.TempDir())
	require.NoError(t, err)

	cache := &countingCache{Cache: fileCache}
	cfg := instrument.NewBuilder().InstrumentPackage("android").MustBuild()
	rw := NewCaching(New(cfg), cache)

	first, err := rw.RewriteBytes(ctx, []byte(clockYAML))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, cache.puts)

	second, err := rw.RewriteBytes(ctx, []byte(clockYAML))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Bytes, second.Bytes)
	assert.Equal(t, first.Definition, second.Definition)
	assert.Equal(t, 1, cache.puts)

	other := NewCaching(New(instrument.NewBuilder().InstrumentPackage("android").SkipObjectMethods(true).MustBuild()), cache)
	third, err := other.RewriteBytes(ctx, []byte(clockYAML))
	require.NoError(t, err)
	assert.False(t, third.Cached, "a different fingerprint never reuses an entry")
}

func TestCachingRewriter_CacheFailureIsNotFatal(t *testing.T) {
	cfg := instrument.NewBuilder().InstrumentPackage("android").MustBuild()
	rw := NewCaching(New(cfg), &countingCache{Cache: classcache.Noop{}, failPut: true})

	res, err := rw.RewriteBytes(context.Background(), []byte(clockYAML))
	require.NoError(t, err)
	assert.True(t, res.Definition.Rewrite.Instrumented)
}

func TestCachingRewriter_MalformedInput(t *testing.T) {
	cfg := instrument.NewBuilder().InstrumentPackage("android").MustBuild()
	rw := NewCaching(New(cfg), nil)

	_, err := rw.RewriteBytes(context.Background(), []byte("name: [oops"))
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestDiff(t *testing.T) {
	cfg := instrument.NewBuilder().InstrumentPackage("android").MustBuild()
	in := decode(t, clockYAML)

	out, err := New(cfg).Rewrite(in)
	require.NoError(t, err)

	diff, err := Diff(in, out)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- android.os.Clock (original)")
	assert.Contains(t, diff, "+++ android.os.Clock (rewritten)")
	assert.Regexp(t, `(?m)^\+\s+kind: intercepted$`, diff)
}
