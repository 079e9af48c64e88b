package game

import "strings"

// Phase is the authority-reported turn state of a session.
type Phase int

const (
	// PhaseNotPolled marks a bundle that has not been filled by a successful poll.
	PhaseNotPolled Phase = iota
	// PhaseMustWait means another player is acting.
	PhaseMustWait
	// PhaseMustAct grants this client permission to submit one move.
	PhaseMustAct
	// PhaseWon is terminal: this player won.
	PhaseWon
	// PhaseLost is terminal: this player lost.
	PhaseLost
	// PhaseUnrecognized is any value the authority sent that is not listed above.
	PhaseUnrecognized
)

var phaseNames = map[Phase]string{
	PhaseNotPolled:    "NotPolled",
	PhaseMustWait:     "MustWait",
	PhaseMustAct:      "MustAct",
	PhaseWon:          "Won",
	PhaseLost:         "Lost",
	PhaseUnrecognized: "Unrecognized",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "Unrecognized"
}

// IsTerminal reports whether the phase ends the session.
func (p Phase) IsTerminal() bool {
	return p == PhaseWon || p == PhaseLost
}

// ParsePhase maps a wire value onto a Phase. Matching ignores case and
// surrounding whitespace; anything else is PhaseUnrecognized.
func ParsePhase(value string) Phase {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "mustwait":
		return PhaseMustWait
	case "mustact":
		return PhaseMustAct
	case "won":
		return PhaseWon
	case "lost":
		return PhaseLost
	default:
		return PhaseUnrecognized
	}
}

// ReplyBundle holds the latest phase and map snapshot returned by a poll.
type ReplyBundle struct {
	Phase Phase
	// RawPhase is the unparsed wire value, kept for logging unrecognized phases.
	RawPhase string
	Map      Map
}

// Reset clears the bundle phase so a poll that fills nothing is detectable.
// The previous map is kept.
func (b *ReplyBundle) Reset() {
	if b == nil {
		return
	}
	b.Phase = PhaseNotPolled
	b.RawPhase = ""
}
