package table

import (
	"time"

	"github.com/cardroom/cardroom/internal/deck"
)

// HandAction is one entry in a hand's action log.
type HandAction struct {
	Seat   int    `json:"seat"`
	Street string `json:"street"`
	Action string `json:"action"`
	Amount int64  `json:"amount,omitempty"`
}

// HandPlayer is the per-player section of a hand record.
type HandPlayer struct {
	Seat       int         `json:"seat"`
	SteamID    string      `json:"steamId"`
	Name       string      `json:"name"`
	StartStack int64       `json:"startStack"`
	EndStack   int64       `json:"endStack"`
	HoleCards  []deck.Card `json:"holeCards,omitempty"` // only if not folded
	HandRank   string      `json:"handRank,omitempty"`
	Folded     bool        `json:"folded"`
}

// HandPot is one pot in the breakdown.
type HandPot struct {
	Amount   int64    `json:"amount"`
	Eligible []string `json:"eligible"`
}

// HandWinner records one payout.
type HandWinner struct {
	SteamID string `json:"steamId"`
	Amount  int64  `json:"amount"`
}

// HandRecord is the append-only hand history document persisted by the
// ledger at hand end.
type HandRecord struct {
	TableID   string       `json:"tableId"`
	HandNum   uint64       `json:"handNum"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
	Players   []HandPlayer `json:"players"`
	Community []deck.Card  `json:"community"`
	Actions   []HandAction `json:"actions"`
	Pots      []HandPot    `json:"pots"`
	Winners   []HandWinner `json:"winners"`
	PotTotal  int64        `json:"potTotal"`
}
