package classcache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbox.dev/pkg/shadowbox/internal/classcache"
)

func newCaches(t *testing.T) map[string]classcache.Cache {
	t.Helper()

	ctx := context.Background()

	fsCache, err := classcache.New(ctx, classcache.Config{Backend: classcache.BackendFS, Dir: t.TempDir()})
	require.NoError(t, err)

	sqliteCache, err := classcache.NewSQLiteCache(ctx, classcache.SQLiteConfig{
		DBPath: filepath.Join(t.TempDir(), "cache", "classes.db"),
	})
	require.NoError(t, err)

	caches := map[string]classcache.Cache{"fs": fsCache, "sqlite": sqliteCache}
	for _, c := range caches {
		t.Cleanup(func() { _ = c.Close() })
	}

	return caches
}

func TestCache_PutGet(t *testing.T) {
	for name, cache := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := classcache.Key{OriginalHash: "00ff00ff00ff00ff", Fingerprint: "1234abcd1234abcd"}

			_, ok, err := cache.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, cache.Put(ctx, key, []byte("v1")))
			require.NoError(t, cache.Put(ctx, key, []byte("v2")))

			data, ok, err := cache.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v2"), data)
		})
	}
}

func TestCache_FingerprintMismatchIsMiss(t *testing.T) {
	for name, cache := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := classcache.Key{OriginalHash: "aaaa", Fingerprint: "f1"}

			require.NoError(t, cache.Put(ctx, key, []byte("rewritten")))

			_, ok, err := cache.Get(ctx, classcache.Key{OriginalHash: "aaaa", Fingerprint: "f2"})
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = cache.Get(ctx, classcache.Key{OriginalHash: "bbbb", Fingerprint: "f1"})
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileCache_RejectsUnsafeKeys(t *testing.T) {
	cache, err := classcache.NewFileCache(t.TempDir())
	require.NoError(t, err)

	err = cache.Put(context.Background(), classcache.Key{OriginalHash: "../escape", Fingerprint: "f"}, []byte("x"))
	require.Error(t, err)

	_, _, err = cache.Get(context.Background(), classcache.Key{OriginalHash: "", Fingerprint: "f"})
	require.Error(t, err)
}

func TestSQLiteCache_Prune(t *testing.T) {
	ctx := context.Background()

	cache, err := classcache.NewSQLiteCache(ctx, classcache.SQLiteConfig{DBPath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)

	t.Cleanup(func() { _ = cache.Close() })

	require.NoError(t, cache.Put(ctx, classcache.Key{OriginalHash: "a", Fingerprint: "old"}, []byte("1")))
	require.NoError(t, cache.Put(ctx, classcache.Key{OriginalHash: "b", Fingerprint: "old"}, []byte("2")))
	require.NoError(t, cache.Put(ctx, classcache.Key{OriginalHash: "a", Fingerprint: "new"}, []byte("3")))

	n, err := cache.Prune(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, err := cache.Get(ctx, classcache.Key{OriginalHash: "a", Fingerprint: "new"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	c, err := classcache.New(ctx, classcache.Config{})
	require.NoError(t, err)
	assert.IsType(t, classcache.Noop{}, c)

	_, err = classcache.New(ctx, classcache.Config{Backend: classcache.BackendFS})
	require.Error(t, err)

	_, err = classcache.New(ctx, classcache.Config{Backend: "redis", Dir: t.TempDir()})
	require.Error(t, err)
}
