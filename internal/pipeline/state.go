package pipeline

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// StateKind tags a pipeline state.
type StateKind string

const (
	Start            StateKind = "Start"
	Extracting       StateKind = "Extracting"
	Validating       StateKind = "Validating"
	SecurityChecking StateKind = "SecurityChecking"
	Executing        StateKind = "Executing"
	Repairing        StateKind = "Repairing"
	Succeeded        StateKind = "Succeeded"
	Failed           StateKind = "Failed"
)

// State is the tagged state of one run. Attempt counts model requests
// issued so far, including failed ones.
type State struct {
	Kind    StateKind
	Attempt int
}

func (s State) String() string {
	return fmt.Sprintf("%s(attempt %d)", s.Kind, s.Attempt)
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s.Kind == Succeeded || s.Kind == Failed
}

// Event is the outcome of the work done in a state.
type Event string

const (
	EvResponse    Event = "response"     // model returned text
	EvModelFailed Event = "model_failed" // model returned a ModelError
	EvPassed      Event = "passed"       // the current stage found no defect
	EvDefects     Event = "defects"      // the current stage produced a failure
	EvCanceled    Event = "canceled"     // caller gave up
)

// ErrIllegalTransition is returned for an event the state cannot accept.
var ErrIllegalTransition = errors.New("illegal transition")

// Machine is the pure transition function of a run. It has no side effects
// and holds only the parameters that shape the graph.
type Machine struct {
	MaxAttempts int
	// Code selects the snippet path, which adds SecurityChecking.
	Code bool
}

// Next returns the state after ev.
func (m Machine) Next(s State, ev Event) (State, error) {
	if s.Terminal() {
		return s, errors.Wrapf(ErrIllegalTransition, "%s is terminal", s.Kind)
	}
	if ev == EvCanceled {
		return State{Kind: Failed, Attempt: s.Attempt}, nil
	}

	switch s.Kind {
	case Start, Repairing:
		switch ev {
		case EvResponse:
			return State{Kind: Extracting, Attempt: s.Attempt + 1}, nil
		case EvModelFailed:
			return m.afterFailure(s.Attempt + 1), nil
		}

	case Extracting, Validating, SecurityChecking, Executing:
		if ev == EvDefects {
			return m.afterFailure(s.Attempt), nil
		}
		if ev == EvPassed {
			return State{Kind: m.stageAfter(s.Kind), Attempt: s.Attempt}, nil
		}
	}
	return s, errors.Wrapf(ErrIllegalTransition, "%s on %s", ev, s.Kind)
}

func (m Machine) stageAfter(k StateKind) StateKind {
	switch k {
	case Extracting:
		return Validating
	case Validating:
		if m.Code {
			return SecurityChecking
		}
		return Executing
	case SecurityChecking:
		return Executing
	default:
		return Succeeded
	}
}

// afterFailure charges a full attempt regardless of how many defects the
// failing attempt fixed.
func (m Machine) afterFailure(attempt int) State {
	if attempt >= m.MaxAttempts {
		return State{Kind: Failed, Attempt: attempt}
	}
	return State{Kind: Repairing, Attempt: attempt}
}
