package table

import "fmt"

// Phase is the table lifecycle state. The machine is cyclic; there is no
// terminal phase.
type Phase uint8

const (
	Lobby Phase = iota
	Waiting
	Starting
	Dealing
	PreFlop
	Flop
	Turn
	River
	ShowdownReveal
	PayoutAnimation
	SocialBanter
)

// String returns the wire representation of a phase.
func (p Phase) String() string {
	switch p {
	case Lobby:
		return "Lobby"
	case Waiting:
		return "Waiting"
	case Starting:
		return "Starting"
	case Dealing:
		return "Dealing"
	case PreFlop:
		return "PreFlop"
	case Flop:
		return "Flop"
	case Turn:
		return "Turn"
	case River:
		return "River"
	case ShowdownReveal:
		return "ShowdownReveal"
	case PayoutAnimation:
		return "PayoutAnimation"
	case SocialBanter:
		return "SocialBanter"
	default:
		return "Unknown"
	}
}

// Betting reports whether the phase is a betting street.
func (p Phase) Betting() bool {
	return p >= PreFlop && p <= River
}

// HandInProgress reports whether a hand is live, from dealing through payout.
func (p Phase) HandInProgress() bool {
	return p >= Dealing && p <= PayoutAnimation
}

// Action is a betting action.
type Action uint8

const (
	Fold Action = iota
	Check
	Call
	Raise
	AllIn
)

// String returns the wire form used in REQ_ACTION and PLAYER_ACTION.
func (a Action) String() string {
	switch a {
	case Fold:
		return "FOLD"
	case Check:
		return "CHECK"
	case Call:
		return "CALL"
	case Raise:
		return "RAISE"
	case AllIn:
		return "ALL_IN"
	default:
		return "UNKNOWN"
	}
}

// ParseAction converts a wire action name.
func ParseAction(s string) (Action, error) {
	switch s {
	case "FOLD":
		return Fold, nil
	case "CHECK":
		return Check, nil
	case "CALL":
		return Call, nil
	case "RAISE":
		return Raise, nil
	case "ALL_IN":
		return AllIn, nil
	default:
		return 0, fmt.Errorf("table: unknown action %q", s)
	}
}
