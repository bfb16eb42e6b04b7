package shadowbox

import (
	"fmt"
	"log/slog"
	"testing"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/lifecycle"
	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/sandbox"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

// TypeName is a fully qualified platform type name.
type TypeName = model.TypeName

// PlatformVersion identifies a platform API level.
type PlatformVersion = model.PlatformVersion

// Instance is a platform object living in a sandbox.
type Instance = vm.Instance

// Frame is what a platform method body sees of its invocation.
type Frame = vm.Frame

// BodyTable maps body symbols to the Go bodies of platform methods.
type BodyTable = vm.BodyTable

// Env is the execution context handed to test code.
type Env = lifecycle.Env

// TestCase is one test to run in a sandbox per platform version.
type TestCase = lifecycle.TestCase

// Result is the outcome of one test on one platform version.
type Result = lifecycle.Result

// Resolver supplies the platform versions, instrumentation and substitute
// entries of a test case.
type Resolver = lifecycle.Resolver

// StaticResolver is a Resolver layering defaults, package, class and test
// entries.
type StaticResolver = lifecycle.StaticResolver

// Event is a lifecycle phase transition; Observer receives them.
type (
	Event    = lifecycle.Event
	Observer = lifecycle.Observer
)

// PanicError is the error of a test whose setup or body panicked.
type PanicError = lifecycle.PanicError

// Coordinator runs test cases in sandboxes.
type Coordinator = lifecycle.Coordinator

// ShadowConfig tells the dispatcher how calls on one real type are handled.
type ShadowConfig = shadow.Config

// Entry maps one real type to a ShadowConfig.
type Entry = shadow.Entry

// ShadowType is a substitute type; Catalog holds them by name.
type (
	ShadowType = shadow.Type
	Catalog    = shadow.Catalog
)

// Call is what a substitute method sees of the intercepted call.
type Call = shadow.Call

// ArtifactProvider supplies platform class definitions and method bodies.
type ArtifactProvider = sandbox.ArtifactProvider

// ClassCache stores rewritten class bytes between runs.
type ClassCache = classcache.Cache

// Error taxonomy, matched with errors.Is.
var (
	ErrConfiguration       = model.ErrConfiguration
	ErrDispatchResolution  = model.ErrDispatchResolution
	ErrSandboxConstruction = model.ErrSandboxConstruction
	ErrInstanceReleased    = model.ErrInstanceReleased
)

var (
	// NewShadowType declares a substitute type. newFn builds the substitute
	// linked to a real instance and is nil for static-only types.
	NewShadowType = shadow.NewType
	// NewCatalog returns a catalog holding types.
	NewCatalog = shadow.NewCatalog
	// NewLocalArtifacts reads class definitions from <root>/<api>/*.yaml.
	NewLocalArtifacts = adapter.NewLocalArtifactAdapter
	// LoadResolver reads a YAML resolver configuration.
	LoadResolver = adapter.LoadResolverConfig
	// EnvFrom returns the Env carried by a context.
	EnvFrom = lifecycle.EnvFrom
)

// As converts a value returned by the VM to T.
func As[T any](v any, err error) (T, error) {
	return vm.As[T](v, err)
}

// ShadowOf returns the substitute of type T linked to inst.
func ShadowOf[T any](inst *Instance) (T, bool) {
	return vm.ShadowAs[T](inst)
}

// StateOf returns the state of type T the substitute type named shadowType
// keeps in the sandbox env is bound to.
func StateOf[T any](env *Env, shadowType string) (T, error) {
	var zero T

	state, err := env.State(shadowType)
	if err != nil {
		return zero, err
	}

	v, ok := state.(T)
	if !ok {
		return zero, fmt.Errorf("state of %s is %T, not %T", shadowType, state, zero)
	}

	return v, nil
}

// Config configures a Harness.
type Config struct {
	Provider ArtifactProvider
	Catalog  *Catalog
	Resolver Resolver
	// Cache holds rewritten classes. Defaults to no cache.
	Cache ClassCache
	// MaxSandboxes bounds the cached sandboxes.
	MaxSandboxes int
	// Strict makes platform methods without a registered body a link error.
	Strict bool
	// ResetClassStatics restores platform statics between tests sharing a sandbox.
	ResetClassStatics bool
	Observer          Observer
	Logger            *slog.Logger
}

// Harness is a Coordinator owning its sandbox registry.
type Harness struct {
	*Coordinator
}

// New returns a harness.
func New(cfg Config) (*Harness, error) {
	reg, err := sandbox.NewRegistry(sandbox.RegistryConfig{
		Provider:     cfg.Provider,
		Catalog:      cfg.Catalog,
		Cache:        cfg.Cache,
		MaxSandboxes: cfg.MaxSandboxes,
		Strict:       cfg.Strict,
	})
	if err != nil {
		return nil, err
	}

	coord, err := lifecycle.New(lifecycle.Config{
		Registry:          reg,
		Resolver:          cfg.Resolver,
		ResetClassStatics: cfg.ResetClassStatics,
		Observer:          cfg.Observer,
		Logger:            cfg.Logger,
	})
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	return &Harness{Coordinator: coord}, nil
}

// Close stops every sandbox of the harness.
func (h *Harness) Close() error {
	return h.Registry().Close()
}

// Run runs tc on every resolved platform version and reports each failed
// version on t.
func Run(t testing.TB, h *Harness, tc TestCase) []Result {
	t.Helper()

	results := h.Coordinator.Run(t.Context(), tc)
	for _, r := range results {
		if !r.Passed() {
			t.Errorf("%s", describe(r))
		}
	}

	return results
}

func describe(r Result) string {
	if r.Version == (PlatformVersion{}) {
		return fmt.Sprintf("%s failed in %s: %v", r.TestID, r.FailedIn, r.Err)
	}

	return fmt.Sprintf("%s on API %s failed in %s: %v", r.TestID, r.Version, r.FailedIn, r.Err)
}
