// Package rewrite turns platform class definitions into interceptable ones.
//
// Every instrumentable method keeps its original body under an alias and
// is replaced by a stub that hands the call to the dispatcher. Constructors
// and class initializers get registration hooks.
package rewrite

import (
	"fmt"
	"strings"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Rewriter rewrites definitions for one instrumentation configuration.
type Rewriter struct {
	cfg *instrument.Configuration
}

// New returns a rewriter for cfg.
func New(cfg *instrument.Configuration) *Rewriter {
	return &Rewriter{cfg: cfg}
}

// Configuration returns the configuration the rewriter applies.
func (r *Rewriter) Configuration() *instrument.Configuration {
	return r.cfg
}

// Rewrite returns a rewritten copy of def. Malformed input is a configuration error.
func (r *Rewriter) Rewrite(def *classfile.Definition) (*classfile.Definition, error) {
	fail := func(msg string) error {
		return zerr.With(zerr.Wrap(model.ErrConfiguration, msg), "class", string(def.Name))
	}

	if def.Rewritten() {
		return nil, fail("class is already rewritten")
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	out := def.Clone()

	// Body symbols are bound to the names the platform declared, before
	// any translation applies.
	for i := range out.Methods {
		if m := &out.Methods[i]; !m.Abstract && (!m.Native || m.Body != "") {
			m.Body = def.Methods[i].BodySymbol(def.Name)
		}
	}

	r.translate(out)

	out.Rewrite = &classfile.Marker{Fingerprint: r.cfg.Fingerprint()}

	if !r.cfg.ShouldInstrument(def.Name) {
		return out, nil
	}

	out.Rewrite.Instrumented = true
	out.Rewrite.Construct = true
	out.Rewrite.ClassInit = true

	methods := make([]classfile.Method, 0, 2*len(out.Methods))

	for i, m := range out.Methods {
		if classfile.IsAlias(m.Name) {
			return nil, fail(fmt.Sprintf("method %s collides with the alias namespace", m.Signature()))
		}

		if m.Kind != classfile.KindPlain {
			return nil, fail(fmt.Sprintf("method %s is already rewritten", m.Signature()))
		}

		symbol := m.Body

		switch {
		case m.Abstract:
			methods = append(methods, m)
		case m.Name == model.ClassInitName:
			// The class initializer runs through the class-init hook.
			orig := m
			orig.Name = classfile.AliasName(m.Name)
			orig.Kind = classfile.KindOriginal
			orig.Private = true
			orig.Body = symbol
			methods = append(methods, orig)
		case !r.cfg.ShouldInstrumentMethod(def.Name, def.Methods[i].Signature()):
			methods = append(methods, m)
		case m.Native:
			stub := m
			stub.Kind = classfile.KindIntercepted
			stub.Body = ""
			methods = append(methods, stub)
		default:
			alias := classfile.AliasName(m.Name)

			orig := m
			orig.Name = alias
			orig.Kind = classfile.KindOriginal
			orig.Private = true
			orig.Body = symbol

			stub := m
			stub.Kind = classfile.KindIntercepted
			stub.Origin = alias
			stub.Body = ""

			methods = append(methods, stub, orig)
		}
	}

	out.Methods = methods

	if err := out.Validate(); err != nil {
		return nil, err
	}

	return out, nil
}

// translate applies class-name translations to every type reference.
func (r *Rewriter) translate(def *classfile.Definition) {
	tr := func(t string) string {
		if model.IsPrimitive(t) || t == model.VoidType || t == "" {
			return t
		}

		if base, ok := strings.CutSuffix(t, "[]"); ok {
			return string(r.cfg.Translate(model.TypeName(base))) + "[]"
		}

		return string(r.cfg.Translate(model.TypeName(t)))
	}

	if def.Super != "" {
		def.Super = model.TypeName(tr(string(def.Super)))
	}

	for i := range def.Fields {
		def.Fields[i].Type = tr(def.Fields[i].Type)
	}

	for i := range def.Methods {
		m := &def.Methods[i]
		m.Returns = tr(m.Returns)

		for j := range m.Params {
			m.Params[j] = tr(m.Params[j])
		}
	}
}
