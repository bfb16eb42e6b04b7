package lifecycle

import (
	"time"

	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// Phase is a state of one test execution.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConfigResolved
	PhaseSandboxBound
	PhaseRunning
	PhaseTeardown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConfigResolved:
		return "CONFIG_RESOLVED"
	case PhaseSandboxBound:
		return "SANDBOX_BOUND"
	case PhaseRunning:
		return "RUNNING"
	case PhaseTeardown:
		return "TEARDOWN"
	default:
		return "UNKNOWN"
	}
}

// Event is one phase transition.
type Event struct {
	TestID  string
	Version model.PlatformVersion
	From    Phase
	To      Phase
	At      time.Time
}

// Observer is notified of every phase transition. It is called from the
// goroutine running the test and must not block.
type Observer func(Event)
