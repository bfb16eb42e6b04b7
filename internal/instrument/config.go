// Package instrument describes which platform types are loaded per sandbox
// and which of their methods are rewritten for interception.
package instrument

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// FormatVersion is bumped whenever rewritten output changes shape, so
// fingerprints (and cached rewrites) of older releases stop matching.
const FormatVersion = 1

var objectMethods = map[model.Signature]struct{}{
	model.NewSignature("equals", model.ObjectType): {},
	model.NewSignature("hashCode"):                 {},
	model.NewSignature("toString"):                 {},
}

// Configuration is an immutable instrumentation configuration. Build one
// with a Builder.
type Configuration struct {
	packages          []string
	doNotAcquire      []string
	excludedClasses   map[model.TypeName]struct{}
	excludedMethods   map[string]struct{}
	translations      map[model.TypeName]model.TypeName
	intercepted       map[model.MethodKey]struct{}
	skipObjectMethods bool
	nativeDefaults    bool

	fingerprint string
	acquisition string
}

// Builder accumulates configuration entries.
type Builder struct {
	c Configuration
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{c: Configuration{
		excludedClasses: map[model.TypeName]struct{}{},
		excludedMethods: map[string]struct{}{},
		translations:    map[model.TypeName]model.TypeName{},
		intercepted:     map[model.MethodKey]struct{}{},
	}}
}

// InstrumentPackage adds a package (and its sub-packages) to the allow-list.
func (b *Builder) InstrumentPackage(pkgs ...string) *Builder {
	b.c.packages = append(b.c.packages, pkgs...)

	return b
}

// DoNotAcquirePackage keeps a package out of sandbox scopes even when an
// allowed package contains it.
func (b *Builder) DoNotAcquirePackage(pkgs ...string) *Builder {
	b.c.doNotAcquire = append(b.c.doNotAcquire, pkgs...)

	return b
}

// DoNotInstrumentClass loads the class per sandbox but leaves its methods unmodified.
func (b *Builder) DoNotInstrumentClass(names ...model.TypeName) *Builder {
	for _, n := range names {
		b.c.excludedClasses[n] = struct{}{}
	}

	return b
}

// DoNotInstrumentMethod excludes one method ("Type#name(params)") or every
// overload of a name ("Type#name").
func (b *Builder) DoNotInstrumentMethod(refs ...string) *Builder {
	for _, r := range refs {
		b.c.excludedMethods[r] = struct{}{}
	}

	return b
}

// TranslateClassName replaces every reference to from with to.
func (b *Builder) TranslateClassName(from, to model.TypeName) *Builder {
	b.c.translations[from] = to

	return b
}

// InterceptMethod routes calls to a method of a class outside the sandbox
// scope through the dispatcher.
func (b *Builder) InterceptMethod(keys ...model.MethodKey) *Builder {
	for _, k := range keys {
		b.c.intercepted[k] = struct{}{}
	}

	return b
}

// SkipObjectMethods leaves equals, hashCode and toString uninstrumented.
func (b *Builder) SkipObjectMethods(skip bool) *Builder {
	b.c.skipObjectMethods = skip

	return b
}

// NativeMethodsReturnDefault lets native methods without a substitute
// return the zero value of their result type.
func (b *Builder) NativeMethodsReturnDefault(v bool) *Builder {
	b.c.nativeDefaults = v

	return b
}

// Build validates the entries and returns an immutable configuration.
func (b *Builder) Build() (*Configuration, error) {
	c := Configuration{
		packages:          normalize(b.c.packages),
		doNotAcquire:      normalize(b.c.doNotAcquire),
		excludedClasses:   maps.Clone(b.c.excludedClasses),
		excludedMethods:   maps.Clone(b.c.excludedMethods),
		translations:      maps.Clone(b.c.translations),
		intercepted:       maps.Clone(b.c.intercepted),
		skipObjectMethods: b.c.skipObjectMethods,
		nativeDefaults:    b.c.nativeDefaults,
	}

	for _, p := range slices.Concat(c.packages, c.doNotAcquire) {
		if p != "" && !model.TypeName(p).Valid() {
			return nil, fmt.Errorf("%w: invalid package %q", model.ErrConfiguration, p)
		}
	}

	for from, to := range c.translations {
		if !from.Valid() || !to.Valid() || from == to {
			return nil, fmt.Errorf("%w: invalid class translation %s -> %s", model.ErrConfiguration, from, to)
		}

		if _, chained := c.translations[to]; chained {
			return nil, fmt.Errorf("%w: chained class translation %s -> %s", model.ErrConfiguration, from, to)
		}
	}

	c.fingerprint = c.hash(true)
	c.acquisition = c.hash(false)

	return &c, nil
}

// MustBuild is like Build but panics on invalid entries.
func (b *Builder) MustBuild() *Configuration {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}

	return c
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, strings.TrimSuffix(strings.TrimSpace(p), "."))
	}

	slices.Sort(out)

	return slices.Compact(out)
}

// ShouldAcquire reports whether the type is loaded per sandbox rather than
// shared between sandboxes of one platform version.
func (c *Configuration) ShouldAcquire(name model.TypeName) bool {
	for _, p := range c.doNotAcquire {
		if name.InPackage(p) {
			return false
		}
	}

	for _, p := range c.packages {
		if name.InPackage(p) {
			return true
		}
	}

	return false
}

// ShouldInstrument reports whether an acquired type gets rewritten.
func (c *Configuration) ShouldInstrument(name model.TypeName) bool {
	if _, excluded := c.excludedClasses[name]; excluded {
		return false
	}

	return c.ShouldAcquire(name)
}

// ShouldInstrumentMethod reports whether one method of an instrumented type is rewritten.
func (c *Configuration) ShouldInstrumentMethod(owner model.TypeName, sig model.Signature) bool {
	if _, excluded := c.excludedMethods[string(owner)+"#"+string(sig)]; excluded {
		return false
	}

	if _, excluded := c.excludedMethods[string(owner)+"#"+sig.Name()]; excluded {
		return false
	}

	if c.skipObjectMethods {
		if _, ok := objectMethods[sig]; ok {
			return false
		}
	}

	return true
}

// Translate returns the replacement for name, or name itself.
func (c *Configuration) Translate(name model.TypeName) model.TypeName {
	if to, ok := c.translations[name]; ok {
		return to
	}

	return name
}

// Translations returns a copy of the class-name translation table.
func (c *Configuration) Translations() map[model.TypeName]model.TypeName {
	return maps.Clone(c.translations)
}

// IsIntercepted reports whether calls to key are routed through the dispatcher
// even though its class is not rewritten.
func (c *Configuration) IsIntercepted(key model.MethodKey) bool {
	_, ok := c.intercepted[key]

	return ok
}

// InterceptedMethods returns the methods of shared types routed through the
// dispatcher, sorted.
func (c *Configuration) InterceptedMethods() []model.MethodKey {
	out := slices.Collect(maps.Keys(c.intercepted))
	slices.SortFunc(out, func(a, b model.MethodKey) int { return strings.Compare(a.String(), b.String()) })

	return out
}

// NativeDefaults reports whether native methods without a substitute return zero values.
func (c *Configuration) NativeDefaults() bool {
	return c.nativeDefaults
}

// Fingerprint identifies the configuration by value.
func (c *Configuration) Fingerprint() string {
	return c.fingerprint
}

// AcquisitionFingerprint identifies only the acquired-type partition; it
// keys the scope shared by sandboxes of one platform version.
func (c *Configuration) AcquisitionFingerprint() string {
	return c.acquisition
}

func (c *Configuration) hash(full bool) string {
	h := xxhash.New()

	write := func(section string, items []string) {
		_, _ = h.WriteString(section)
		_, _ = h.WriteString("\x00")

		for _, it := range items {
			_, _ = h.WriteString(it)
			_, _ = h.WriteString("\x00")
		}
	}

	write("format", []string{fmt.Sprint(FormatVersion)})
	write("packages", c.packages)
	write("doNotAcquire", c.doNotAcquire)

	if full {
		write("excludedClasses", sortedKeys(c.excludedClasses, func(k model.TypeName) string { return string(k) }))
		write("excludedMethods", sortedKeys(c.excludedMethods, func(k string) string { return k }))

		translations := make([]string, 0, len(c.translations))
		for from, to := range c.translations {
			translations = append(translations, string(from)+"="+string(to))
		}

		slices.Sort(translations)
		write("translations", translations)
		write("intercepted", sortedKeys(c.intercepted, model.MethodKey.String))
		write("flags", []string{fmt.Sprint(c.skipObjectMethods), fmt.Sprint(c.nativeDefaults)})
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

func sortedKeys[K comparable](m map[K]struct{}, str func(K) string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, str(k))
	}

	slices.Sort(out)

	return out
}
