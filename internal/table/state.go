package table

import (
	"time"

	"github.com/cardroom/cardroom/internal/deck"
	"github.com/cardroom/cardroom/internal/evaluator"
	"github.com/cardroom/cardroom/internal/pot"
)

// Config carries the per-table parameters. Durations default from the
// server configuration; tests shrink them.
type Config struct {
	ID          string
	MaxSeats    int
	SmallBlind  int64
	BigBlind    int64
	TurnTimeout time.Duration
	Countdown   time.Duration
	PayoutDelay time.Duration
	BanterDelay time.Duration
}

// Player is a table-local binding. Hole cards never leave the table process
// except through the serializer.
type Player struct {
	ID         string
	Name       string
	Seat       int
	Stack      int64
	StartStack int64 // stack at the start of the current hand
	HoleCards  []deck.Card
	RoundBet   int64 // wager in the current betting round
	Folded     bool
	AllIn      bool
	Acted      bool // has acted this betting round
	Ready      bool
	Leaving    bool // unseat requested mid-hand; removed at hand end
	Result     *evaluator.Result
}

// InHand reports whether the player was dealt in and has not folded.
func (p *Player) InHand() bool {
	return p != nil && len(p.HoleCards) == 2 && !p.Folded
}

// CanAct reports whether the player can still take a betting action.
func (p *Player) CanAct() bool {
	return p.InHand() && !p.AllIn
}

// State is the god state: the complete authoritative view of one table,
// including the undealt deck and every hole card. It is owned by the table's
// run-loop and never shared.
type State struct {
	Config     Config
	Phase      Phase
	Seq        uint64
	HandNum    uint64
	Deck       *deck.Deck
	Community  []deck.Card
	Pot        *pot.Manager
	CurrentBet int64
	MinRaise   int64
	Dealer     int // seat index, -1 before the first hand
	Acting     int // seat index, -1 when nobody is to act
	Seats      []*Player
	Paused     bool // ledger failure; does not advance until cleared
}

// Seated returns the occupied seats in seat order.
func (s *State) Seated() []*Player {
	out := make([]*Player, 0, len(s.Seats))
	for _, p := range s.Seats {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PlayerByID finds a seated player.
func (s *State) PlayerByID(id string) *Player {
	for _, p := range s.Seats {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// SeatsFilled counts occupied seats.
func (s *State) SeatsFilled() int {
	n := 0
	for _, p := range s.Seats {
		if p != nil {
			n++
		}
	}
	return n
}

// stillIn returns players dealt in and not folded, in seat order.
func (s *State) stillIn() []*Player {
	out := make([]*Player, 0, len(s.Seats))
	for _, p := range s.Seats {
		if p.InHand() {
			out = append(out, p)
		}
	}
	return out
}

// nextSeat scans clockwise starting at from (inclusive) for a seat whose
// player satisfies pred, returning -1 if none.
func (s *State) nextSeat(from int, pred func(*Player) bool) int {
	n := len(s.Seats)
	if n == 0 {
		return -1
	}
	for i := 0; i < n; i++ {
		seat := ((from+i)%n + n) % n
		if p := s.Seats[seat]; p != nil && pred(p) {
			return seat
		}
	}
	return -1
}

// clockwiseFrom returns the ids of still-in players in clockwise seat order
// starting from the given seat. Used for the deterministic odd-chip rule.
func (s *State) clockwiseFrom(seat int) []string {
	n := len(s.Seats)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := s.Seats[(seat+i)%n]
		if p.InHand() {
			out = append(out, p.ID)
		}
	}
	return out
}
