// Package view renders per-viewer projections of table state. The snapshot
// type has no deck field at all, so the undealt deck cannot leak through
// serialization; hole cards pass through an explicit redaction marker.
package view

import (
	"encoding/json"
	"slices"

	"github.com/cardroom/cardroom/internal/deck"
	"github.com/cardroom/cardroom/internal/table"
)

// HoleCards is the redaction marker for a seat's hole cards. It marshals as
// null when no cards are dealt, the string "hidden" for cards the viewer may
// not see, and a card array otherwise.
type HoleCards struct {
	Hidden bool
	Cards  []string
}

func (h HoleCards) MarshalJSON() ([]byte, error) {
	if h.Hidden {
		return json.Marshal("hidden")
	}
	if h.Cards == nil {
		return []byte("null"), nil
	}
	return json.Marshal(h.Cards)
}

func (h *HoleCards) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "hidden" {
			h.Hidden = true
			h.Cards = nil
			return nil
		}
	}
	h.Hidden = false
	return json.Unmarshal(b, &h.Cards)
}

// Seat is one occupied seat as a viewer sees it.
type Seat struct {
	SeatIndex int       `json:"seatIndex"`
	SteamID   string    `json:"steamId"`
	Name      string    `json:"name"`
	Stack     int64     `json:"stack"`
	RoundBet  int64     `json:"roundBet"`
	Folded    bool      `json:"folded"`
	AllIn     bool      `json:"allIn"`
	Ready     bool      `json:"ready"`
	HoleCards HoleCards `json:"holeCards"`
	HandRank  string    `json:"handRank,omitempty"`
}

func (s *Seat) equal(o *Seat) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.SeatIndex == o.SeatIndex &&
		s.SteamID == o.SteamID &&
		s.Name == o.Name &&
		s.Stack == o.Stack &&
		s.RoundBet == o.RoundBet &&
		s.Folded == o.Folded &&
		s.AllIn == o.AllIn &&
		s.Ready == o.Ready &&
		s.HoleCards.Hidden == o.HoleCards.Hidden &&
		slices.Equal(s.HoleCards.Cards, o.HoleCards.Cards) &&
		s.HandRank == o.HandRank
}

// Snapshot is the full per-viewer table state delivered as GAME_SNAPSHOT.
type Snapshot struct {
	TableID    string   `json:"tableId"`
	SequenceID uint64   `json:"sequenceId"`
	HandNum    uint64   `json:"handNum"`
	Phase      string   `json:"phase"`
	Community  []string `json:"community"`
	Pot        int64    `json:"pot"`
	CurrentBet int64    `json:"currentBet"`
	MinRaise   int64    `json:"minRaise"`
	DealerSeat int      `json:"dealerSeat"`
	ActingSeat int      `json:"actingSeat"`
	Seats      []*Seat  `json:"seats"`
	Paused     bool     `json:"paused,omitempty"`
}

// Personal projects the god state for one viewer. The viewer sees their own
// hole cards; everyone else's stay hidden until the hand reaches showdown,
// where still-in evaluated hands are open to the table. A fold-out win
// reveals nothing.
func Personal(st *table.State, viewerID string) *Snapshot {
	snap := &Snapshot{
		TableID:    st.Config.ID,
		SequenceID: st.Seq,
		HandNum:    st.HandNum,
		Phase:      st.Phase.String(),
		Community:  cardStrings(st.Community),
		Pot:        st.Pot.Total(),
		CurrentBet: st.CurrentBet,
		MinRaise:   st.MinRaise,
		DealerSeat: st.Dealer,
		ActingSeat: st.Acting,
		Seats:      make([]*Seat, len(st.Seats)),
		Paused:     st.Paused,
	}
	for i, p := range st.Seats {
		if p == nil {
			continue
		}
		seat := &Seat{
			SeatIndex: i,
			SteamID:   p.ID,
			Name:      p.Name,
			Stack:     p.Stack,
			RoundBet:  p.RoundBet,
			Folded:    p.Folded,
			AllIn:     p.AllIn,
			Ready:     p.Ready,
		}
		switch {
		case len(p.HoleCards) == 0:
			// not dealt in; marshals as null
		case p.ID == viewerID:
			seat.HoleCards.Cards = cardStrings(p.HoleCards)
		case p.Result != nil && !p.Folded:
			seat.HoleCards.Cards = cardStrings(p.HoleCards)
			seat.HandRank = p.Result.Category.String()
		default:
			seat.HoleCards.Hidden = true
		}
		if p.ID == viewerID && p.Result != nil {
			seat.HandRank = p.Result.Category.String()
		}
		snap.Seats[i] = seat
	}
	return snap
}

// Validate audits a rendered snapshot against the redaction rules: a seat
// that is not the viewer's may expose cards only once the hand has reached
// showdown, and a folded seat never opens to anyone else. Projection tests
// run every snapshot through it before asserting anything finer.
func Validate(snap *Snapshot, viewerID string) bool {
	reveal := snap.Phase == table.ShowdownReveal.String() ||
		snap.Phase == table.PayoutAnimation.String() ||
		snap.Phase == table.SocialBanter.String()
	for _, s := range snap.Seats {
		if s == nil || s.SteamID == viewerID || s.HoleCards.Cards == nil {
			continue
		}
		if !reveal || s.Folded {
			return false
		}
	}
	return true
}

func cardStrings(cards []deck.Card) []string {
	if cards == nil {
		return nil
	}
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.String()
	}
	return out
}

// Patch is a field-level delta between two snapshots, delivered as
// STATE_PATCH. Absent fields are unchanged; sequenceId is always present so
// clients can detect gaps even through patches that change nothing visible
// to them.
type Patch struct {
	SequenceID uint64        `json:"sequenceId"`
	HandNum    *uint64       `json:"handNum,omitempty"`
	Phase      *string       `json:"phase,omitempty"`
	Community  *[]string     `json:"community,omitempty"`
	Pot        *int64        `json:"pot,omitempty"`
	CurrentBet *int64        `json:"currentBet,omitempty"`
	MinRaise   *int64        `json:"minRaise,omitempty"`
	DealerSeat *int          `json:"dealerSeat,omitempty"`
	ActingSeat *int          `json:"actingSeat,omitempty"`
	Seats      map[int]*Seat `json:"seats,omitempty"`
	Paused     *bool         `json:"paused,omitempty"`
}

// Empty reports whether the patch changes nothing beyond the sequence.
func (p *Patch) Empty() bool {
	return p.HandNum == nil && p.Phase == nil && p.Community == nil &&
		p.Pot == nil && p.CurrentBet == nil && p.MinRaise == nil &&
		p.DealerSeat == nil && p.ActingSeat == nil &&
		len(p.Seats) == 0 && p.Paused == nil
}

// Diff computes the patch that transforms old into new for the same viewer.
func Diff(old, new *Snapshot) *Patch {
	p := &Patch{SequenceID: new.SequenceID}
	if old.HandNum != new.HandNum {
		p.HandNum = &new.HandNum
	}
	if old.Phase != new.Phase {
		p.Phase = &new.Phase
	}
	if !slices.Equal(old.Community, new.Community) {
		community := new.Community
		if community == nil {
			community = []string{}
		}
		p.Community = &community
	}
	if old.Pot != new.Pot {
		p.Pot = &new.Pot
	}
	if old.CurrentBet != new.CurrentBet {
		p.CurrentBet = &new.CurrentBet
	}
	if old.MinRaise != new.MinRaise {
		p.MinRaise = &new.MinRaise
	}
	if old.DealerSeat != new.DealerSeat {
		p.DealerSeat = &new.DealerSeat
	}
	if old.ActingSeat != new.ActingSeat {
		p.ActingSeat = &new.ActingSeat
	}
	if old.Paused != new.Paused {
		p.Paused = &new.Paused
	}
	for i := range new.Seats {
		var o *Seat
		if i < len(old.Seats) {
			o = old.Seats[i]
		}
		if !new.Seats[i].equal(o) {
			if p.Seats == nil {
				p.Seats = make(map[int]*Seat)
			}
			p.Seats[i] = new.Seats[i]
		}
	}
	return p
}
