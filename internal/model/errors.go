package model

import "go.trai.ch/zerr"

// Error taxonomy. Attach context with zerr.With on a wrapped sentinel so
// errors.Is keeps matching:
//
//	zerr.With(zerr.Wrap(model.ErrConfiguration, "duplicate class"), "class", name)
var (
	// ErrConfiguration marks ambiguous or missing substitute mappings and
	// malformed rewrite targets. Fatal before any test uses the configuration.
	ErrConfiguration = zerr.New("configuration error")
	// ErrDispatchResolution marks a call for which no invocation plan could be formed.
	ErrDispatchResolution = zerr.New("dispatch resolution error")
	// ErrSandboxConstruction marks unavailable or corrupt platform artifacts.
	ErrSandboxConstruction = zerr.New("sandbox construction error")

	// ErrUnknownType is returned when a type name cannot be resolved in a scope.
	ErrUnknownType = zerr.New("unknown type")
	// ErrNoSuchMethod is returned when no method matches a signature.
	ErrNoSuchMethod = zerr.New("no such method")
	// ErrNoSuchField is returned when a field does not exist.
	ErrNoSuchField = zerr.New("no such field")
	// ErrAmbiguousMethod is returned when a by-name call matches several overloads.
	ErrAmbiguousMethod = zerr.New("ambiguous method")
	// ErrAbstractMethod is returned when an abstract method is invoked.
	ErrAbstractMethod = zerr.New("abstract method invoked")
	// ErrNativeMethod is returned when a native method without implementation is invoked.
	ErrNativeMethod = zerr.New("native method has no implementation")
	// ErrInstanceReleased is returned when an instance is used after its arena was freed.
	ErrInstanceReleased = zerr.New("instance used after test teardown")
	// ErrStackOverflow is returned when the call depth limit is exceeded.
	ErrStackOverflow = zerr.New("call depth exceeded")
	// ErrBadArgument is returned when an argument does not match the parameter type.
	ErrBadArgument = zerr.New("bad argument")
	// ErrSandboxClosed is returned when work is submitted to a closed sandbox.
	ErrSandboxClosed = zerr.New("sandbox closed")
)
