package shadow

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Map is the merged, read-only mapping from real types to configurations
// for one platform version.
type Map struct {
	version model.PlatformVersion
	entries map[model.TypeName]Config
	origins map[model.TypeName]string
	types   []*Type
	fp      string
}

// Empty returns a map without entries.
func Empty(version model.PlatformVersion) *Map {
	m := &Map{version: version, entries: map[model.TypeName]Config{}, origins: map[model.TypeName]string{}}
	m.fp = m.fingerprint()

	return m
}

// Version returns the platform version the map was built for.
func (m *Map) Version() model.PlatformVersion { return m.version }

// Get returns the configuration of the real type name.
func (m *Map) Get(name model.TypeName) (Config, bool) {
	c, ok := m.entries[name]

	return c, ok
}

// Origin returns the name of the source the entry for name came from.
func (m *Map) Origin(name model.TypeName) string { return m.origins[name] }

// Len returns the number of mapped real types.
func (m *Map) Len() int { return len(m.entries) }

// Types returns the mapped real types, sorted.
func (m *Map) Types() []model.TypeName {
	return slices.Sorted(maps.Keys(m.entries))
}

// Entries returns the mapping sorted by real type.
func (m *Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, name := range m.Types() {
		out = append(out, Entry{Real: name, Config: m.entries[name]})
	}

	return out
}

// Shadows returns every substitute type the map refers to, including the
// types they extend, sorted by name.
func (m *Map) Shadows() []*Type { return slices.Clone(m.types) }

// Fingerprint identifies the mapping by value.
func (m *Map) Fingerprint() string { return m.fp }

// Equal reports whether both maps hold the same mapping.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}

	return maps.Equal(m.entries, o.entries)
}

func (m *Map) fingerprint() string {
	h := xxhash.New()

	for _, e := range m.Entries() {
		_, _ = h.WriteString(string(e.Real))
		_, _ = h.WriteString("\x00" + e.ShadowType)
		_, _ = h.WriteString("\x00" + strconv.FormatBool(e.CallThroughByDefault))
		_, _ = h.WriteString("\x00" + strconv.FormatBool(e.InheritImplementationMethods))
		_, _ = h.WriteString("\x00" + strconv.FormatBool(e.LooseSignatures))
		_, _ = h.WriteString(fmt.Sprintf("\x00%d\x00%d\n", e.MinAPI, e.MaxAPI))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

// Builder merges configuration sources into maps, validating every
// referenced substitute type against a catalog.
type Builder struct {
	catalog *Catalog
}

// NewBuilder returns a builder resolving substitute types in catalog.
func NewBuilder(catalog *Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// Build merges sources for version. Sources are applied by ascending level,
// keeping the given order within a level; a later entry for a real type
// replaces an earlier one. Two entries of the same level mapping a real
// type to different substitutes conflict unless the later one is marked
// Override. Entries whose API range excludes version are ignored.
func (b *Builder) Build(version model.PlatformVersion, sources ...Partial) (*Map, error) {
	ordered := slices.Clone(sources)
	slices.SortStableFunc(ordered, func(x, y Partial) int { return int(x.Level) - int(y.Level) })

	m := Empty(version)

	type seenAt struct {
		level  Level
		shadow string
		origin string
	}

	seen := map[model.TypeName]seenAt{}

	for _, p := range ordered {
		for _, e := range p.Entries {
			if !e.Supports(version) {
				continue
			}

			if err := b.check(e, p); err != nil {
				return nil, err
			}

			if prev, ok := seen[e.Real]; ok && prev.level == p.Level && prev.shadow != e.ShadowType && !e.Override {
				err := zerr.Wrap(model.ErrConfiguration, fmt.Sprintf(
					"%s is mapped to %s by %s and to %s by %s at %s level", e.Real, prev.shadow, prev.origin, e.ShadowType, p.Origin, p.Level))

				return nil, zerr.With(zerr.With(err, "real", string(e.Real)), "version", version.String())
			}

			seen[e.Real] = seenAt{level: p.Level, shadow: e.ShadowType, origin: p.Origin}
			m.entries[e.Real] = e.Config
			m.origins[e.Real] = p.Origin
		}
	}

	types := map[string]*Type{}

	for _, c := range m.entries {
		chain, err := b.catalog.Chain(c.ShadowType)
		if err != nil {
			return nil, err
		}

		for _, t := range chain {
			types[t.name] = t
		}
	}

	for _, name := range slices.Sorted(maps.Keys(types)) {
		m.types = append(m.types, types[name])
	}

	m.fp = m.fingerprint()

	return m, nil
}

func (b *Builder) check(e Entry, p Partial) error {
	invalid := func(msg string) error {
		return zerr.With(zerr.With(zerr.Wrap(model.ErrConfiguration, msg), "real", string(e.Real)), "source", p.Origin)
	}

	if !e.Real.Valid() {
		return invalid(fmt.Sprintf("invalid real type %q", e.Real))
	}

	if e.ShadowType == "" {
		return invalid("entry names no substitute type")
	}

	t, ok := b.catalog.Lookup(e.ShadowType)
	if !ok {
		return invalid(fmt.Sprintf("unknown substitute type %s", e.ShadowType))
	}

	if t.newFn == nil && !t.staticOnly {
		return invalid(fmt.Sprintf("substitute type %s has no constructor", e.ShadowType))
	}

	return nil
}
