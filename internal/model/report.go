package model

// ClassReport is the outcome of rewriting one platform class.
type ClassReport struct {
	Version PlatformVersion
	Class   TypeName
	// Instrumented is false for classes the configuration leaves untouched.
	Instrumented bool
	// Intercepted counts the interception stubs of the rewritten class.
	Intercepted int
	// Cached is set when the rewrite came from the rewritten-class cache.
	Cached bool
	// Output is where the rewritten class was written, if anywhere.
	Output string
	Err    error
}

// RewriteSummary totals a set of class reports.
type RewriteSummary struct {
	Classes      int
	Instrumented int
	Intercepted  int
	Cached       int
	Failed       int
}

// Summarize totals reports.
func Summarize(reports []ClassReport) RewriteSummary {
	var s RewriteSummary

	for _, r := range reports {
		s.Classes++

		if r.Err != nil {
			s.Failed++
			continue
		}

		if r.Instrumented {
			s.Instrumented++
		}

		if r.Cached {
			s.Cached++
		}

		s.Intercepted += r.Intercepted
	}

	return s
}

// PlanRow is one routing decision of a dispatch table.
type PlanRow struct {
	Method string
	Target string
	Path   string
	// Via is the real type whose configuration applied, when it is not the
	// declaring type.
	Via    TypeName
	Shadow string
	// Err is set for methods no plan could be formed for.
	Err string
}

// Inspection describes the dispatch table of one sandbox for one shadow map.
type Inspection struct {
	Version   PlatformVersion
	SandboxID string
	// MapFingerprint identifies the shadow map.
	MapFingerprint string
	// Shadows lists "real -> substitute (origin)" lines of the map.
	Shadows []string
	Rows    []PlanRow
}

// Failed counts rows without a plan.
func (in Inspection) Failed() int {
	n := 0

	for _, r := range in.Rows {
		if r.Err != "" {
			n++
		}
	}

	return n
}
