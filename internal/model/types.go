// Package model defines the data structures shared by the substitution engine.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// ObjectType is the universal reference type used by loose signature matching.
	ObjectType = "java.lang.Object"
	// StringType is the platform string type, carried as a Go string.
	StringType = "java.lang.String"
	// VoidType is the return type of methods without a result.
	VoidType = "void"

	// ConstructorName is the method name of instance constructors.
	ConstructorName = "<init>"
	// ClassInitName is the method name of class initializers.
	ClassInitName = "<clinit>"
)

// TypeName is a fully-qualified platform type name, e.g. "android.os.Build".
type TypeName string

// Package returns the package part of the name ("" for the default package).
func (t TypeName) Package() string {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return string(t[:i])
	}

	return ""
}

// Simple returns the name without its package.
func (t TypeName) Simple() string {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return string(t[i+1:])
	}

	return string(t)
}

// InPackage reports whether the type belongs to pkg or one of its sub-packages.
func (t TypeName) InPackage(pkg string) bool {
	if pkg == "" {
		return true
	}

	p := t.Package()

	return p == pkg || strings.HasPrefix(p, pkg+".")
}

// Valid reports whether the name is a well-formed dotted identifier.
func (t TypeName) Valid() bool {
	if t == "" {
		return false
	}

	for _, part := range strings.Split(string(t), ".") {
		if !validIdent(part) {
			return false
		}
	}

	return true
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}

// Signature identifies a method by name and erased parameter types, in the
// canonical form "name(type1,type2)".
type Signature string

// NewSignature builds the canonical signature for name and params.
func NewSignature(name string, params ...string) Signature {
	return Signature(name + "(" + strings.Join(params, ",") + ")")
}

// ParseSignature parses "name(type1, type2)" into canonical form.
func ParseSignature(s string) (Signature, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')

	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", fmt.Errorf("malformed signature %q", s)
	}

	name := strings.TrimSpace(s[:open])
	if name != ConstructorName && name != ClassInitName && !validIdent(name) {
		return "", fmt.Errorf("malformed method name in signature %q", s)
	}

	inner := strings.TrimSpace(s[open+1 : len(s)-1])
	if inner == "" {
		return NewSignature(name), nil
	}

	params := strings.Split(inner, ",")
	for i, p := range params {
		p = strings.TrimSpace(p)
		if !ValidType(p) || p == VoidType {
			return "", fmt.Errorf("malformed parameter type %q in signature %q", p, s)
		}

		params[i] = p
	}

	return NewSignature(name, params...), nil
}

// MustSignature is like ParseSignature but panics on malformed input.
func MustSignature(s string) Signature {
	sig, err := ParseSignature(s)
	if err != nil {
		panic(err)
	}

	return sig
}

// Name returns the method name.
func (s Signature) Name() string {
	if i := strings.IndexByte(string(s), '('); i >= 0 {
		return string(s[:i])
	}

	return string(s)
}

// Params returns the erased parameter types.
func (s Signature) Params() []string {
	open := strings.IndexByte(string(s), '(')
	if open < 0 || len(s) < open+2 {
		return nil
	}

	inner := string(s[open+1 : len(s)-1])
	if inner == "" {
		return nil
	}

	return strings.Split(inner, ",")
}

// Arity returns the number of parameters.
func (s Signature) Arity() int {
	return len(s.Params())
}

// Widen replaces every reference-typed parameter with ObjectType.
func (s Signature) Widen() Signature {
	params := s.Params()
	for i, p := range params {
		if IsReference(p) {
			params[i] = ObjectType
		}
	}

	return NewSignature(s.Name(), params...)
}

// MethodKey identifies a method on a declaring type.
type MethodKey struct {
	Type   TypeName
	Sig    Signature
	Static bool
}

func (k MethodKey) String() string {
	if k.Static {
		return "static " + string(k.Type) + "." + string(k.Sig)
	}

	return string(k.Type) + "." + string(k.Sig)
}

// PlatformVersion describes one platform release (API level).
type PlatformVersion struct {
	API      int    `yaml:"api" json:"api"`
	Codename string `yaml:"codename,omitempty" json:"codename,omitempty"`
}

func (v PlatformVersion) String() string {
	if v.Codename == "" {
		return strconv.Itoa(v.API)
	}

	return strconv.Itoa(v.API) + " (" + v.Codename + ")"
}

// ParsePlatformVersion parses "30" or "30:R".
func ParsePlatformVersion(s string) (PlatformVersion, error) {
	api, codename, _ := strings.Cut(strings.TrimSpace(s), ":")

	n, err := strconv.Atoi(api)
	if err != nil || n <= 0 {
		return PlatformVersion{}, fmt.Errorf("invalid platform version %q", s)
	}

	return PlatformVersion{API: n, Codename: codename}, nil
}
