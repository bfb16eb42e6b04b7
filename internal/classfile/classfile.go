// Package classfile reads and writes platform class definitions.
//
// A class definition is a YAML document describing one platform type: its
// super type, fields with defaults, and methods. Method bodies are Go
// functions looked up by symbol in a body table when the class is linked.
package classfile

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Kind tells how a method body behaves after rewriting.
type Kind string

const (
	// KindPlain methods run their own body.
	KindPlain Kind = ""
	// KindIntercepted methods hand every call to the dispatcher.
	KindIntercepted Kind = "intercepted"
	// KindOriginal methods hold a preserved original body under an alias.
	KindOriginal Kind = "original"
)

// AliasPrefix starts the name of every preserved original method.
const AliasPrefix = "$$shadowbox$$"

// AliasName returns the alias holding the original body of method name.
func AliasName(name string) string {
	switch name {
	case model.ConstructorName:
		return AliasPrefix + "init"
	case model.ClassInitName:
		return AliasPrefix + "clinit"
	default:
		return AliasPrefix + name
	}
}

// IsAlias reports whether name is a preserved original.
func IsAlias(name string) bool {
	return strings.HasPrefix(name, AliasPrefix)
}

// Field is a field declaration.
type Field struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Static bool   `yaml:"static,omitempty"`
	Value  any    `yaml:"value,omitempty"`
}

// Method is a method declaration.
type Method struct {
	Name     string   `yaml:"name"`
	Params   []string `yaml:"params,omitempty"`
	Returns  string   `yaml:"returns,omitempty"`
	Static   bool     `yaml:"static,omitempty"`
	Abstract bool     `yaml:"abstract,omitempty"`
	Native   bool     `yaml:"native,omitempty"`
	Private  bool     `yaml:"private,omitempty"`
	Kind     Kind     `yaml:"kind,omitempty"`
	// Origin names the alias holding the original body of an intercepted method.
	Origin string `yaml:"origin,omitempty"`
	// Body is the body-table symbol; empty means the default symbol.
	Body string `yaml:"body,omitempty"`
}

// Signature returns the canonical method signature.
func (m Method) Signature() model.Signature {
	return model.NewSignature(m.Name, m.Params...)
}

// ReturnType returns the declared result type, void when unset.
func (m Method) ReturnType() string {
	if m.Returns == "" {
		return model.VoidType
	}

	return m.Returns
}

// BodySymbol returns the body-table symbol of the method declared on owner.
func (m Method) BodySymbol(owner model.TypeName) string {
	if m.Body != "" {
		return m.Body
	}

	return DefaultSymbol(owner, m.Signature())
}

// DefaultSymbol is the body-table symbol used when a method names none:
// "owner#name(params)".
func DefaultSymbol(owner model.TypeName, sig model.Signature) string {
	return string(owner) + "#" + string(sig)
}

// Marker records how a definition was rewritten.
type Marker struct {
	Fingerprint  string `yaml:"fingerprint"`
	Instrumented bool   `yaml:"instrumented"`
	// Construct is set when constructed instances are reported to the dispatcher.
	Construct bool `yaml:"construct,omitempty"`
	// ClassInit is set when class initialization is routed through the dispatcher.
	ClassInit bool `yaml:"classInit,omitempty"`
}

// Definition is one platform class.
type Definition struct {
	Name     model.TypeName `yaml:"name"`
	Super    model.TypeName `yaml:"super,omitempty"`
	Abstract bool           `yaml:"abstract,omitempty"`
	Fields   []Field        `yaml:"fields,omitempty"`
	Methods  []Method       `yaml:"methods,omitempty"`
	Rewrite  *Marker        `yaml:"rewrite,omitempty"`
}

// Rewritten reports whether the definition carries a rewrite marker.
func (d *Definition) Rewritten() bool {
	return d.Rewrite != nil
}

// Method returns the declared method with the given signature and static-ness.
func (d *Definition) Method(sig model.Signature, static bool) (*Method, bool) {
	for i := range d.Methods {
		if d.Methods[i].Static == static && d.Methods[i].Signature() == sig {
			return &d.Methods[i], true
		}
	}

	return nil, false
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	out := *d
	out.Fields = slices.Clone(d.Fields)
	out.Methods = make([]Method, len(d.Methods))

	for i, m := range d.Methods {
		m.Params = slices.Clone(m.Params)
		out.Methods[i] = m
	}

	if d.Rewrite != nil {
		marker := *d.Rewrite
		out.Rewrite = &marker
	}

	return &out
}

// Decode parses and validates a class definition.
func Decode(raw []byte) (*Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode(&def); err != nil {
		return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, "malformed class definition: "+err.Error()), "hash", Hash(raw))
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Encode writes a definition in its canonical form.
func Encode(def *Definition) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("failed to encode class %s: %w", def.Name, err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode class %s: %w", def.Name, err)
	}

	return buf.Bytes(), nil
}

// Hash returns the content hash of raw class bytes.
func Hash(raw []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))
}

type methodID struct {
	sig    model.Signature
	static bool
}

// Validate checks names and types, rejects duplicates and coerces field
// defaults to their declared types.
func (d *Definition) Validate() error {
	invalid := func(msg string) error {
		return zerr.With(zerr.Wrap(model.ErrConfiguration, msg), "class", string(d.Name))
	}

	if !d.Name.Valid() {
		return invalid(fmt.Sprintf("invalid class name %q", d.Name))
	}

	if d.Super != "" && !d.Super.Valid() {
		return invalid(fmt.Sprintf("invalid super class %q", d.Super))
	}

	if d.Super == d.Name {
		return invalid("class extends itself")
	}

	fields := make(map[string]struct{}, len(d.Fields))

	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" || !model.ValidType(f.Type) || f.Type == model.VoidType {
			return invalid(fmt.Sprintf("invalid field %q of type %q", f.Name, f.Type))
		}

		if _, dup := fields[f.Name]; dup {
			return invalid(fmt.Sprintf("duplicate field %q", f.Name))
		}

		fields[f.Name] = struct{}{}

		if f.Value != nil {
			v, err := model.Coerce(f.Type, f.Value)
			if err != nil {
				return invalid(fmt.Sprintf("field %q: %v", f.Name, err))
			}

			f.Value = v
		}
	}

	methods := make(map[methodID]struct{}, len(d.Methods))

	for i := range d.Methods {
		m := &d.Methods[i]

		sig, err := model.ParseSignature(string(m.Signature()))
		if err != nil {
			return invalid(err.Error())
		}

		if !model.ValidType(m.ReturnType()) {
			return invalid(fmt.Sprintf("method %s: invalid return type %q", sig, m.Returns))
		}

		if m.Name == model.ClassInitName && (!m.Static || len(m.Params) > 0) {
			return invalid("class initializer must be static and take no parameters")
		}

		if m.Name == model.ConstructorName && m.Static {
			return invalid("constructor cannot be static")
		}

		if m.Abstract && (m.Static || m.Native) {
			return invalid(fmt.Sprintf("method %s: abstract cannot be static or native", sig))
		}

		if m.Abstract && !d.Abstract {
			return invalid(fmt.Sprintf("method %s: abstract method in concrete class", sig))
		}

		if m.Kind == KindIntercepted && m.Origin == "" && !m.Native && !m.Abstract {
			return invalid(fmt.Sprintf("method %s: intercepted method without origin", sig))
		}

		id := methodID{sig: sig, static: m.Static}
		if _, dup := methods[id]; dup {
			return invalid(fmt.Sprintf("duplicate method %s", sig))
		}

		methods[id] = struct{}{}
	}

	return nil
}
