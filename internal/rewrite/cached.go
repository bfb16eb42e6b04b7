package rewrite

import (
	"context"
	"log/slog"

	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/classfile"
)

// Result is the outcome of rewriting raw class bytes.
type Result struct {
	Definition *classfile.Definition
	Bytes      []byte
	// Cached is set when the bytes came from the rewritten-class cache.
	Cached bool
}

// CachingRewriter consults a rewritten-class cache before rewriting.
// Cache failures are logged and never fail a rewrite.
type CachingRewriter struct {
	rewriter *Rewriter
	cache    classcache.Cache
}

// NewCaching wraps r with cache. A nil cache disables caching.
func NewCaching(r *Rewriter, cache classcache.Cache) *CachingRewriter {
	if cache == nil {
		cache = classcache.Noop{}
	}

	return &CachingRewriter{rewriter: r, cache: cache}
}

// Rewriter returns the wrapped rewriter.
func (c *CachingRewriter) Rewriter() *Rewriter {
	return c.rewriter
}

// RewriteBytes decodes, rewrites and encodes one class.
func (c *CachingRewriter) RewriteBytes(ctx context.Context, raw []byte) (*Result, error) {
	key := classcache.Key{
		OriginalHash: classfile.Hash(raw),
		Fingerprint:  c.rewriter.cfg.Fingerprint(),
	}

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Failed to read rewritten class cache", "key", key.String(), "error", err)
	}

	if ok {
		def, err := classfile.Decode(data)
		if err == nil && def.Rewrite != nil && def.Rewrite.Fingerprint == key.Fingerprint {
			return &Result{Definition: def, Bytes: data, Cached: true}, nil
		}

		slog.Warn("Discarding stale rewritten class cache entry", "key", key.String(), "error", err)
	}

	def, err := classfile.Decode(raw)
	if err != nil {
		return nil, err
	}

	out, err := c.rewriter.Rewrite(def)
	if err != nil {
		return nil, err
	}

	encoded, err := classfile.Encode(out)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(ctx, key, encoded); err != nil {
		slog.Warn("Failed to write rewritten class cache", "key", key.String(), "class", string(out.Name), "error", err)
	}

	return &Result{Definition: out, Bytes: encoded}, nil
}
