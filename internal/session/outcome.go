package session

// Outcome is the terminal result of a session.
type Outcome string

const (
	// OutcomeNone means the session has not terminated.
	OutcomeNone Outcome = ""
	// OutcomeNormalWon means the authority reported a win.
	OutcomeNormalWon Outcome = "NormalWon"
	// OutcomeNormalLost means the authority reported a loss.
	OutcomeNormalLost Outcome = "NormalLost"
	// OutcomeServerFailure means the authority could not be queried.
	OutcomeServerFailure Outcome = "ServerFailure"
	// OutcomeGeneralFailure covers local fatal errors.
	OutcomeGeneralFailure Outcome = "GeneralFailure"
)

// Process exit codes per outcome. ExitCodeSetup is used for failures before
// a session exists.
const (
	ExitCodeWon            = 0
	ExitCodeSetup          = 1
	ExitCodeLost           = 2
	ExitCodeServerFailure  = 3
	ExitCodeGeneralFailure = 4
)

// ExitCode maps the outcome onto a process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeNormalWon:
		return ExitCodeWon
	case OutcomeNormalLost:
		return ExitCodeLost
	case OutcomeServerFailure:
		return ExitCodeServerFailure
	case OutcomeGeneralFailure:
		return ExitCodeGeneralFailure
	default:
		return ExitCodeSetup
	}
}

// Normal reports whether the game ended by the authority's decision.
func (o Outcome) Normal() bool {
	return o == OutcomeNormalWon || o == OutcomeNormalLost
}
