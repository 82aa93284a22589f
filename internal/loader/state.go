package loader

import (
	"fmt"

	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

// Phase is one state of a load's lifecycle.
type Phase int

const (
	PhaseQueued Phase = iota
	PhaseLoading
	PhaseRetrying
	PhaseFallback
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseLoading:
		return "loading"
	case PhaseRetrying:
		return "retrying"
	case PhaseFallback:
		return "fallback"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Event drives a phase transition.
type Event int

const (
	// EventDispatch: the scheduler handed the request to the loader.
	EventDispatch Event = iota
	// EventRetry: a transient attempt failed and a retry begins.
	EventRetry
	// EventAdvance: the current candidate's budget is exhausted; the
	// next fallback candidate begins.
	EventAdvance
	// EventSucceed: a candidate was served.
	EventSucceed
	// EventExhaust: every candidate failed.
	EventExhaust
)

func (e Event) String() string {
	switch e {
	case EventDispatch:
		return "dispatch"
	case EventRetry:
		return "retry"
	case EventAdvance:
		return "advance"
	case EventSucceed:
		return "succeed"
	case EventExhaust:
		return "exhaust"
	default:
		return "invalid"
	}
}

// StateMachine tracks the lifecycle of one load:
//
//	queued → loading → retrying(n) → fallback(n) → succeeded | failed
//
// The transition table is the unit of test; it carries no timers and no
// I/O. Attempt and candidate counters advance with their transitions so
// the machine's state fully describes where a load stands.
type StateMachine struct {
	phase     Phase
	attempt   int
	candidate int
}

func NewStateMachine() *StateMachine {
	return &StateMachine{phase: PhaseQueued, attempt: 1}
}

func (m *StateMachine) Phase() Phase {
	return m.phase
}

// Attempt is the 1-based attempt counter within the current candidate.
func (m *StateMachine) Attempt() int {
	return m.attempt
}

// Candidate is the 0-based index into the fallback chain.
func (m *StateMachine) Candidate() int {
	return m.candidate
}

// Apply advances the machine by one event. Transitions not present in
// the table are invariant violations and leave the machine untouched.
func (m *StateMachine) Apply(event Event) failure.ClassifiedError {
	next, err := m.transition(event)
	if err != nil {
		return err
	}
	m.phase = next
	return nil
}

func (m *StateMachine) transition(event Event) (Phase, failure.ClassifiedError) {
	switch event {
	case EventDispatch:
		if m.phase == PhaseQueued {
			return PhaseLoading, nil
		}

	case EventRetry:
		switch m.phase {
		case PhaseLoading, PhaseRetrying:
			m.attempt++
			return PhaseRetrying, nil
		case PhaseFallback:
			// fallback candidates may carry a small budget too
			m.attempt++
			return PhaseFallback, nil
		}

	case EventAdvance:
		switch m.phase {
		case PhaseLoading, PhaseRetrying, PhaseFallback:
			m.candidate++
			m.attempt = 1
			return PhaseFallback, nil
		}

	case EventSucceed:
		switch m.phase {
		case PhaseLoading, PhaseRetrying, PhaseFallback:
			return PhaseSucceeded, nil
		}

	case EventExhaust:
		switch m.phase {
		case PhaseLoading, PhaseRetrying, PhaseFallback:
			return PhaseFailed, nil
		}
	}

	return m.phase, &MachineError{
		Message: fmt.Sprintf("event %q not allowed in phase %q", event, m.phase),
		Cause:   ErrCauseIllegalTransition,
	}
}

// Terminal reports whether the machine reached a final phase.
func (m *StateMachine) Terminal() bool {
	return m.phase == PhaseSucceeded || m.phase == PhaseFailed
}

type MachineErrorCause string

const (
	ErrCauseIllegalTransition = "illegal transition"
)

type MachineError struct {
	Message string
	Cause   MachineErrorCause
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("state machine error: %s: %s", e.Cause, e.Message)
}

func (e *MachineError) Severity() failure.Severity {
	return failure.SeverityFatal
}
