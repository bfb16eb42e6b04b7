package adapter

import (
	"bytes"
	"fmt"
	"os"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/lifecycle"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
)

// ResolverConfig is the on-disk form of a static resolver.
type ResolverConfig struct {
	// Versions are parsed with model.ParsePlatformVersion ("30" or "33:T").
	Versions        []string              `yaml:"versions"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation"`
	Shadows         ShadowsConfig         `yaml:"shadows"`
}

// InstrumentationConfig lists the instrumentation builder entries.
type InstrumentationConfig struct {
	Packages               []string                  `yaml:"packages"`
	DoNotAcquire           []string                  `yaml:"doNotAcquire"`
	DoNotInstrumentClasses []m.TypeName              `yaml:"doNotInstrumentClasses"`
	DoNotInstrumentMethods []string                  `yaml:"doNotInstrumentMethods"`
	Translations           map[m.TypeName]m.TypeName `yaml:"translations"`
	Intercept              []InterceptedMethodConfig `yaml:"intercept"`
	SkipObjectMethods      bool                      `yaml:"skipObjectMethods"`
	NativeDefaults         bool                      `yaml:"nativeMethodsReturnDefault"`
}

// InterceptedMethodConfig names a method of a shared type to intercept.
type InterceptedMethodConfig struct {
	Type   m.TypeName `yaml:"type"`
	Sig    string     `yaml:"sig"`
	Static bool       `yaml:"static"`
}

// ShadowsConfig holds the substitute entries per precedence level.
type ShadowsConfig struct {
	Defaults []shadow.Entry            `yaml:"defaults"`
	Packages map[string][]shadow.Entry `yaml:"packages"`
	Classes  map[string][]shadow.Entry `yaml:"classes"`
}

// LoadResolverConfig reads a resolver configuration file.
func LoadResolverConfig(path string) (*lifecycle.StaticResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resolver configuration %s: %w", path, err)
	}

	r, err := ParseResolverConfig(raw)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}

	return r, nil
}

// WriteResolverConfig writes cfg to path. It fails when cfg does not build a
// resolver or when path already exists.
func WriteResolverConfig(path string, cfg ResolverConfig) error {
	if _, err := cfg.Resolver(); err != nil {
		return zerr.With(err, "path", path)
	}

	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode resolver configuration: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode resolver configuration: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create resolver configuration %s: %w", path, err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write resolver configuration %s: %w", path, err)
	}

	return f.Close()
}

// ParseResolverConfig decodes a resolver configuration.
func ParseResolverConfig(raw []byte) (*lifecycle.StaticResolver, error) {
	var cfg ResolverConfig

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return nil, zerr.Wrap(m.ErrConfiguration, "malformed resolver configuration: "+err.Error())
	}

	return cfg.Resolver()
}

// Resolver builds the static resolver the configuration describes.
func (c ResolverConfig) Resolver() (*lifecycle.StaticResolver, error) {
	versions := make([]m.PlatformVersion, 0, len(c.Versions))

	for _, s := range c.Versions {
		v, err := m.ParsePlatformVersion(s)
		if err != nil {
			return nil, zerr.Wrap(m.ErrConfiguration, err.Error())
		}

		versions = append(versions, v)
	}

	inst, err := c.Instrumentation.Build()
	if err != nil {
		return nil, err
	}

	return &lifecycle.StaticResolver{
		Versions:        versions,
		Instrumentation: inst,
		Defaults:        c.Shadows.Defaults,
		Packages:        c.Shadows.Packages,
		Classes:         c.Shadows.Classes,
	}, nil
}

// Build returns the instrumentation configuration.
func (c InstrumentationConfig) Build() (*instrument.Configuration, error) {
	b := instrument.NewBuilder().
		InstrumentPackage(c.Packages...).
		DoNotAcquirePackage(c.DoNotAcquire...).
		DoNotInstrumentClass(c.DoNotInstrumentClasses...).
		DoNotInstrumentMethod(c.DoNotInstrumentMethods...).
		SkipObjectMethods(c.SkipObjectMethods).
		NativeMethodsReturnDefault(c.NativeDefaults)

	for from, to := range c.Translations {
		b.TranslateClassName(from, to)
	}

	for _, im := range c.Intercept {
		sig, err := m.ParseSignature(im.Sig)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(m.ErrConfiguration, "invalid intercepted method: "+err.Error()), "type", string(im.Type))
		}

		b.InterceptMethod(m.MethodKey{Type: im.Type, Sig: sig, Static: im.Static})
	}

	return b.Build()
}
