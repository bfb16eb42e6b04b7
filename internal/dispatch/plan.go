// Package dispatch decides, for every intercepted call, whether the
// substitute, the original implementation or neither runs.
package dispatch

import (
	"fmt"
	"strings"

	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
)

// Target is where a call is routed.
type Target int

const (
	// Substitute runs the substitute method.
	Substitute Target = iota
	// Real runs the original implementation.
	Real
	// None runs nothing and yields the zero value of the return type.
	None
)

func (t Target) String() string {
	switch t {
	case Substitute:
		return "SUBSTITUTE"
	case Real:
		return "REAL"
	case None:
		return "NONE"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// Resolution paths recorded on plans and errors.
const (
	PathExact       = "exact"
	PathLoose       = "loose"
	PathCallThrough = "call-through"
	PathNone        = "none"
	PathNoShadow    = "no-shadow"
	PathClassInit   = "class-init"
	PathLookup      = "lookup"
)

// Plan is the cached routing decision for one (type, signature, static) key.
type Plan struct {
	Key    model.MethodKey
	Target Target
	Path   string
	// Via is the real type whose configuration applied; empty when none did.
	Via    model.TypeName
	Config shadow.Config
	// Shadow is the substitute method for Substitute plans.
	Shadow  *shadow.Method
	Returns string
}

func (p *Plan) String() string {
	var b strings.Builder

	b.WriteString(p.Target.String())
	b.WriteString(" ")
	b.WriteString(p.Key.String())

	if p.Shadow != nil {
		b.WriteString(" -> ")
		b.WriteString(p.Shadow.String())
	}

	b.WriteString(" (")
	b.WriteString(p.Path)

	if p.Via != "" && p.Via != p.Key.Type {
		b.WriteString(" via ")
		b.WriteString(string(p.Via))
	}

	b.WriteString(")")

	return b.String()
}

// ResolutionError reports that no plan could be formed for a call.
type ResolutionError struct {
	Key model.MethodKey
	// Path is the resolution step that failed.
	Path   string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("dispatch resolution failed for %s (path %s): %s", e.Key, e.Path, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return model.ErrDispatchResolution }
