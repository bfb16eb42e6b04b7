package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/sandbox"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
)

// Config configures a Coordinator.
type Config struct {
	Registry *sandbox.Registry
	Resolver Resolver
	// ResetClassStatics restores the static fields of every acquired class
	// before a test runs on a previously used sandbox.
	ResetClassStatics bool
	Observer          Observer
	Logger            *slog.Logger
	Tracer            trace.Tracer
}

func (c *Config) defaults() error {
	if c.Registry == nil {
		return fmt.Errorf("sandbox registry is required")
	}

	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}

	if c.Observer == nil {
		c.Observer = func(Event) {}
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.Tracer == nil {
		c.Tracer = otel.Tracer("shadowbox.dev/pkg/shadowbox/lifecycle")
	}

	return nil
}

// Result is the outcome of one test on one platform version.
type Result struct {
	TestID    string
	Version   model.PlatformVersion
	SandboxID string
	// Trace lists the phases entered, starting and ending with IDLE.
	Trace []Phase
	// FailedIn is the phase the first error occurred in.
	FailedIn Phase
	Err      error
	// Resets counts the reset hooks run; Skipped names the substitute types
	// without one.
	Resets  int
	Skipped []string
	// Leaks lists static fields still referring to instances of the test.
	Leaks    []string
	Duration time.Duration
}

// Passed reports whether the test succeeded.
func (r Result) Passed() bool { return r.Err == nil }

// Coordinator runs tests in sandboxes.
type Coordinator struct {
	cfg Config

	mu     sync.Mutex
	broken map[sandbox.Key]error
}

// New returns a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid lifecycle configuration: %w", err)
	}

	return &Coordinator{cfg: cfg, broken: map[sandbox.Key]error{}}, nil
}

// Registry returns the sandbox registry.
func (c *Coordinator) Registry() *sandbox.Registry { return c.cfg.Registry }

// Run runs tc once per resolved platform version. Versions run one after
// the other on the calling goroutine.
func (c *Coordinator) Run(ctx context.Context, tc TestCase) []Result {
	resolutions, err := c.cfg.Resolver.Resolve(ctx, tc)
	if err != nil {
		res := Result{TestID: tc.Identifier(), Trace: []Phase{PhaseIdle}, FailedIn: PhaseConfigResolved, Err: err}
		c.logFailure(ctx, res)

		return []Result{res}
	}

	out := make([]Result, 0, len(resolutions))
	for _, r := range resolutions {
		out = append(out, c.runVersion(ctx, tc, r))
	}

	return out
}

// RunAll runs tests on up to workers goroutines and returns their results
// in test order. A version whose sandbox cannot be built fails every test
// of that version without being built again.
func (c *Coordinator) RunAll(ctx context.Context, tests []TestCase, workers int) []Result {
	if workers <= 0 {
		workers = 1
	}

	perTest := make([][]Result, len(tests))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, tc := range tests {
		g.Go(func() error {
			perTest[i] = c.Run(ctx, tc)

			return nil
		})
	}

	_ = g.Wait()

	var out []Result
	for _, rs := range perTest {
		out = append(out, rs...)
	}

	return out
}

type execution struct {
	c      *Coordinator
	tc     TestCase
	res    Result
	phase  Phase
	span   trace.Span
	start  time.Time
	failed bool
}

func (e *execution) enter(to Phase) {
	from := e.phase
	e.phase = to
	e.res.Trace = append(e.res.Trace, to)
	e.span.AddEvent(to.String())
	e.c.cfg.Observer(Event{TestID: e.res.TestID, Version: e.res.Version, From: from, To: to, At: time.Now()})
}

func (e *execution) fail(err error) {
	if err == nil || e.failed {
		return
	}

	e.failed = true
	e.res.Err = err
	e.res.FailedIn = e.phase
}

// abort fails the execution in phase p, which was never entered, and
// returns to IDLE.
func (e *execution) abort(p Phase, err error) Result {
	e.fail(err)
	e.res.FailedIn = p
	e.enter(PhaseIdle)

	return e.finish()
}

func (e *execution) finish() Result {
	e.res.Duration = time.Since(e.start)

	if e.res.Err != nil {
		e.span.RecordError(e.res.Err)
		e.span.SetStatus(codes.Error, e.res.Err.Error())
	}

	e.span.End()

	return e.res
}

func (c *Coordinator) runVersion(ctx context.Context, tc TestCase, r Resolution) Result {
	ctx, span := c.cfg.Tracer.Start(ctx, "lifecycle.run", trace.WithAttributes(
		attribute.String("test.id", tc.Identifier()),
		attribute.Int("platform.api", r.Version.API),
	))

	e := &execution{
		c:     c,
		tc:    tc,
		span:  span,
		start: time.Now(),
		res:   Result{TestID: tc.Identifier(), Version: r.Version, Trace: []Phase{PhaseIdle}},
	}

	res := c.execute(ctx, e, r)
	if !res.Passed() {
		c.logFailure(ctx, res)
	}

	return res
}

func (c *Coordinator) execute(ctx context.Context, e *execution, r Resolution) Result {
	if r.Instrumentation == nil {
		return e.abort(PhaseConfigResolved, zerr.Wrap(model.ErrConfiguration, "resolution without instrumentation configuration"))
	}

	smap, err := shadow.NewBuilder(c.cfg.Registry.Catalog()).Build(r.Version, r.Sources...)
	if err != nil {
		return e.abort(PhaseConfigResolved, err)
	}

	e.enter(PhaseConfigResolved)

	key := sandbox.Key{Fingerprint: r.Instrumentation.Fingerprint(), Version: r.Version}
	if err := c.brokenErr(key); err != nil {
		return e.abort(PhaseSandboxBound, err)
	}

	lease, err := c.cfg.Registry.Acquire(ctx, r.Instrumentation, r.Version)
	if err != nil {
		if errors.Is(err, model.ErrSandboxConstruction) || errors.Is(err, model.ErrConfiguration) {
			c.markBroken(key, err)
		}

		return e.abort(PhaseSandboxBound, err)
	}
	defer lease.Release()

	binding, err := lease.Sandbox().Bind(ctx, smap)
	if err != nil {
		return e.abort(PhaseSandboxBound, err)
	}

	e.res.SandboxID = lease.Sandbox().ID()
	e.enter(PhaseSandboxBound)

	env := newEnv(ctx, e.res.TestID, binding, smap)

	e.enter(PhaseRunning)

	if binding.PreviouslyUsed() {
		e.fail(e.reset(smap, binding.Sandbox().States()))

		if c.cfg.ResetClassStatics {
			binding.Sandbox().ResetStatics()
		}
	}

	if !e.failed && e.tc.Setup != nil {
		e.fail(protect(e.tc.Setup, env))
	}

	if !e.failed && e.tc.Body != nil {
		e.fail(protect(e.tc.Body, env))
	}

	e.enter(PhaseTeardown)

	e.fail(e.reset(smap, binding.Sandbox().States()))
	e.res.Leaks = binding.Release()

	e.enter(PhaseIdle)

	return e.finish()
}

// reset restores the state every substitute type of smap keeps in the
// bound sandbox. Types without state or hook are skipped.
func (e *execution) reset(smap *shadow.Map, states *shadow.States) (err error) {
	defer zerr.Defer(func(perr error) { err = newPanicError(perr) })

	for _, typ := range smap.Shadows() {
		if states.Reset(typ) {
			e.res.Resets++

			continue
		}

		if e.phase == PhaseTeardown {
			slog.Debug("Substitute has no reset hook", "shadow", typ.Name(), "test", e.res.TestID)
			e.res.Skipped = append(e.res.Skipped, typ.Name())
		}
	}

	return nil
}

func (c *Coordinator) brokenErr(key sandbox.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.broken[key]
}

func (c *Coordinator) markBroken(key sandbox.Key, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken[key] = err
}

func (c *Coordinator) logFailure(ctx context.Context, res Result) {
	err := zerr.With(zerr.With(zerr.With(res.Err, "test", res.TestID), "version", res.Version.String()), "phase", res.FailedIn.String())
	zerr.Log(ctx, c.cfg.Logger, err)
}

// PanicError is a panic recovered from test code.
type PanicError struct {
	Err error
	// Stack lists the frames of the panicking goroutine without the
	// frames of the dispatcher and VM.
	Stack []string
}

func (e *PanicError) Error() string { return "test panicked: " + e.Err.Error() }
func (e *PanicError) Unwrap() error { return e.Err }

var internalFrames = []string{
	"/internal/vm.",
	"/internal/dispatch.",
	"/internal/shadow.",
	"/internal/lifecycle.",
	"go.trai.ch/zerr.",
}

func newPanicError(err error) *PanicError {
	pe := &PanicError{Err: err}

	var zr *zerr.Error
	if !errors.As(err, &zr) {
		return pe
	}

	for _, line := range strings.Split(zr.StackTrace(), "\n") {
		if line == "" || isInternalFrame(line) {
			continue
		}

		pe.Stack = append(pe.Stack, line)
	}

	return pe
}

func isInternalFrame(line string) bool {
	// Lines read "file:line function"; match on the function.
	i := strings.LastIndexByte(line, ' ')
	if i < 0 {
		return false
	}

	fn := line[i+1:]

	for _, f := range internalFrames {
		if strings.Contains(fn, f) {
			return true
		}
	}

	return false
}

func protect(fn func(*Env) error, env *Env) (err error) {
	defer zerr.Defer(func(perr error) { err = newPanicError(perr) })

	return fn(env)
}
