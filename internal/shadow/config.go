// Package shadow holds substitute types and the per-test map from real
// platform types to the substitute configuration that handles them.
package shadow

import (
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Config tells the dispatcher how calls on one real type are handled.
// Config is a comparable value.
type Config struct {
	// ShadowType names the substitute type in the catalog.
	ShadowType string `yaml:"shadow" json:"shadow"`
	// CallThroughByDefault runs the original body of methods the
	// substitute does not implement instead of returning zero values.
	CallThroughByDefault bool `yaml:"callThroughByDefault,omitempty" json:"callThroughByDefault,omitempty"`
	// InheritImplementationMethods applies this configuration to methods
	// declared on subtypes that have no configuration of their own.
	InheritImplementationMethods bool `yaml:"inheritImplementationMethods,omitempty" json:"inheritImplementationMethods,omitempty"`
	// LooseSignatures matches substitute methods whose reference
	// parameters are widened to java.lang.Object.
	LooseSignatures bool `yaml:"looseSignatures,omitempty" json:"looseSignatures,omitempty"`
	// MinAPI and MaxAPI bound the platform versions the entry applies to.
	// Zero means unbounded.
	MinAPI int `yaml:"minApi,omitempty" json:"minApi,omitempty"`
	MaxAPI int `yaml:"maxApi,omitempty" json:"maxApi,omitempty"`
}

// Supports reports whether the configuration applies to v.
func (c Config) Supports(v model.PlatformVersion) bool {
	if c.MinAPI > 0 && v.API < c.MinAPI {
		return false
	}

	return c.MaxAPI <= 0 || v.API <= c.MaxAPI
}

// Level is the precedence of a configuration source.
type Level int

const (
	LevelDefault Level = iota
	LevelPackage
	LevelClass
	LevelMethod
)

func (l Level) String() string {
	switch l {
	case LevelDefault:
		return "default"
	case LevelPackage:
		return "package"
	case LevelClass:
		return "class"
	case LevelMethod:
		return "method"
	default:
		return "unknown"
	}
}

// Entry maps one real type to a configuration.
type Entry struct {
	Real   model.TypeName `yaml:"real" json:"real"`
	Config `yaml:",inline"`
	// Override marks an intended replacement of another entry for the same
	// real type at the same level.
	Override bool `yaml:"override,omitempty" json:"override,omitempty"`
}

// Partial is one configuration source.
type Partial struct {
	Level Level
	// Origin names the source in errors, e.g. a package or test name.
	Origin  string
	Entries []Entry
}
