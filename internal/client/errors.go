package client

import (
	"errors"
	"fmt"

	"github.com/halfmap/gameclient/internal/session"
)

// Kind classifies a session error for policy lookup.
type Kind int

const (
	KindUnknown Kind = iota
	KindRegistration
	KindHalfMap
	KindNetwork
	KindSend
	KindMovement
	KindPacingInterrupted
	KindUnknownPhase
	KindInterrupted
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	KindRegistration:      "RegistrationError",
	KindHalfMap:           "HalfMapError",
	KindNetwork:           "NetworkError",
	KindSend:              "SendError",
	KindMovement:          "MovementError",
	KindPacingInterrupted: "PacingInterrupted",
	KindUnknownPhase:      "UnknownPhaseError",
	KindInterrupted:       "Interrupted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrRegistration      = &Error{Kind: KindRegistration}
	ErrHalfMap           = &Error{Kind: KindHalfMap}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrSend              = &Error{Kind: KindSend}
	ErrMovement          = &Error{Kind: KindMovement}
	ErrPacingInterrupted = &Error{Kind: KindPacingInterrupted}
	ErrUnknownPhase      = &Error{Kind: KindUnknownPhase}
	ErrInterrupted       = &Error{Kind: KindInterrupted}
)

// Error wraps a collaborator failure with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var sessionErr *Error
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind
	}
	return KindUnknown
}

// Action is what the orchestrator does with an error of a given kind.
type Action int

const (
	// ActionSwallow logs the error and continues.
	ActionSwallow Action = iota
	// ActionTerminate ends the session immediately with the policy outcome.
	ActionTerminate
	// ActionPropagate returns the error to Run, which ends the session with the policy outcome.
	ActionPropagate
)

func (a Action) String() string {
	switch a {
	case ActionSwallow:
		return "swallow"
	case ActionTerminate:
		return "terminate"
	case ActionPropagate:
		return "propagate"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Policy pairs an action with the outcome used when the action ends the session.
type Policy struct {
	Action  Action
	Outcome session.Outcome
}

var policies = map[Kind]Policy{
	KindRegistration:      {Action: ActionSwallow},
	KindHalfMap:           {Action: ActionSwallow},
	KindNetwork:           {Action: ActionTerminate, Outcome: session.OutcomeServerFailure},
	KindSend:              {Action: ActionSwallow},
	KindMovement:          {Action: ActionPropagate, Outcome: session.OutcomeGeneralFailure},
	KindPacingInterrupted: {Action: ActionTerminate, Outcome: session.OutcomeGeneralFailure},
	KindUnknownPhase:      {Action: ActionTerminate, Outcome: session.OutcomeServerFailure},
	KindInterrupted:       {Action: ActionTerminate, Outcome: session.OutcomeGeneralFailure},
}

// PolicyFor returns the handling policy for kind. Unclassified errors
// propagate and end the session as a general failure.
func PolicyFor(kind Kind) Policy {
	if policy, ok := policies[kind]; ok {
		return policy
	}
	return Policy{Action: ActionPropagate, Outcome: session.OutcomeGeneralFailure}
}

// Termination is the terminal record of a session. It is returned as an
// error to unwind the loops back to Run.
type Termination struct {
	Outcome     session.Outcome
	Description string
}

func (t *Termination) Error() string {
	return fmt.Sprintf("session terminated with %s: %s", t.Outcome, t.Description)
}
