// Package pot aggregates per-player wagers across a hand and partitions them
// into a main pot and side pots at showdown.
package pot

import (
	"sort"

	"github.com/cardroom/cardroom/internal/evaluator"
)

// Pot is a main or side pot. Eligible lists the player ids that can win it,
// in seat order.
type Pot struct {
	Amount   int64
	Eligible []string
}

// Manager accumulates contributions during a hand. Contributions are totals
// across the whole hand, not per round.
type Manager struct {
	contrib map[string]int64
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{contrib: make(map[string]int64)}
}

// Add accumulates a committed amount for a player.
func (m *Manager) Add(player string, amount int64) {
	m.contrib[player] += amount
}

// Total returns the sum of all contributions.
func (m *Manager) Total() int64 {
	var total int64
	for _, amt := range m.contrib {
		total += amt
	}
	return total
}

// Contribution returns a single player's total.
func (m *Manager) Contribution(player string) int64 {
	return m.contrib[player]
}

// Reset zeroes the manager for the next hand.
func (m *Manager) Reset() {
	m.contrib = make(map[string]int64)
}

// Pots partitions the pooled chips by the distinct contribution levels of
// the still-in players. stillIn must be in seat order so pot eligibility
// lists come out deterministic. Folded players fund pots level by level with
// no eligibility; any excess above the top still-in level lands in the
// lowest pot they funded.
func (m *Manager) Pots(stillIn []string) []Pot {
	in := make(map[string]bool, len(stillIn))
	levelSet := make(map[int64]bool)
	for _, p := range stillIn {
		in[p] = true
		if c := m.contrib[p]; c > 0 {
			levelSet[c] = true
		}
	}
	if len(levelSet) == 0 {
		return nil
	}

	levels := make([]int64, 0, len(levelSet))
	for l := range levelSet {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	pots := make([]Pot, 0, len(levels))
	var prev int64
	for _, level := range levels {
		pot := Pot{}
		for _, p := range stillIn {
			if m.contrib[p] >= level {
				pot.Eligible = append(pot.Eligible, p)
			}
		}
		for _, c := range m.contrib {
			slice := minInt64(c, level) - prev
			if slice > 0 {
				pot.Amount += slice
			}
		}
		pots = append(pots, pot)
		prev = level
	}

	top := levels[len(levels)-1]
	for player, c := range m.contrib {
		if !in[player] && c > top {
			pots[0].Amount += c - top
		}
	}

	return pots
}

// Distribute pays each pot to its best-scoring eligible players. On a tie
// the pot splits by integer floor and the remainder is awarded one chip per
// winner in the given order, which must start from the first seat clockwise
// of the dealer. Distribution conserves chips exactly.
func Distribute(pots []Pot, scores map[string]evaluator.Score, order []string) map[string]int64 {
	payouts := make(map[string]int64)

	for _, pot := range pots {
		if pot.Amount == 0 {
			continue
		}

		var best evaluator.Score
		var winners []string
		for _, p := range pot.Eligible {
			score, ok := scores[p]
			if !ok {
				continue
			}
			switch {
			case score > best || len(winners) == 0:
				best = score
				winners = []string{p}
			case score == best:
				winners = append(winners, p)
			}
		}
		if len(winners) == 0 {
			// No eligible player was scored; should not happen with a
			// correctly built still-in set. Pay the first eligible.
			winners = pot.Eligible[:1]
		}

		share := pot.Amount / int64(len(winners))
		remainder := pot.Amount % int64(len(winners))
		isWinner := make(map[string]bool, len(winners))
		for _, w := range winners {
			payouts[w] += share
			isWinner[w] = true
		}
		for _, p := range order {
			if remainder == 0 {
				break
			}
			if isWinner[p] {
				payouts[p]++
				remainder--
			}
		}
	}

	return payouts
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
