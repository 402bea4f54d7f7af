// Package evaluator ranks 7-card poker hands by their best 5-card hand.
//
// Evaluate is a pure function. The returned Score imposes a total order: for
// any two 7-card inputs the winner's score is strictly greater, and equal
// only on a true split tie.
package evaluator

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/cardroom/cardroom/internal/deck"
)

// Category enumerates hand categories from weakest to strongest.
type Category uint8

const (
	HighCard Category = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

// String returns a human-readable category label.
func (c Category) String() string {
	switch c {
	case HighCard:
		return "High Card"
	case Pair:
		return "Pair"
	case TwoPair:
		return "Two Pair"
	case ThreeOfAKind:
		return "Three of a Kind"
	case Straight:
		return "Straight"
	case Flush:
		return "Flush"
	case FullHouse:
		return "Full House"
	case FourOfAKind:
		return "Four of a Kind"
	case StraightFlush:
		return "Straight Flush"
	case RoyalFlush:
		return "Royal Flush"
	default:
		return "Unknown"
	}
}

// Score is a packed hand strength. Higher is stronger. Layout, most
// significant first: category ordinal, then five rank nibbles whose meaning
// is category specific (primary group, secondary group, kickers descending).
type Score uint32

// Category extracts the category encoded in a score.
func (s Score) Category() Category {
	return Category(s >> 20)
}

// Result is the outcome of evaluating a 7-card hand.
type Result struct {
	Category Category
	Score    Score
	Best     []deck.Card // 5-card witness
}

// Evaluate returns the best 5-card result for exactly 7 cards. Any other
// cardinality is a programming error and panics; the state machine never
// calls it with other sizes.
func Evaluate(cards []deck.Card) Result {
	if len(cards) != 7 {
		panic(fmt.Sprintf("evaluator: expected 7 cards, got %d", len(cards)))
	}

	var counts [15]uint8
	var suitMasks [4]uint16
	var rankMask uint16
	for _, c := range cards {
		counts[c.Rank]++
		suitMasks[c.Suit] |= 1 << c.Rank
		rankMask |= 1 << c.Rank
	}

	// Straight flush and royal flush.
	for suit, mask := range suitMasks {
		if bits.OnesCount16(mask) < 5 {
			continue
		}
		if high := straightHigh(mask); high > 0 {
			cat := StraightFlush
			if high == deck.Ace {
				cat = RoyalFlush
			}
			return Result{
				Category: cat,
				Score:    pack(cat, deck.Rank(high)),
				Best:     straightWitness(cards, deck.Rank(high), deck.Suit(suit), true),
			}
		}
	}

	// Group ranks by multiplicity, strongest rank first within each group.
	var quads, trips, pairs, singles []deck.Rank
	for r := deck.Ace; r >= deck.Two; r-- {
		switch counts[r] {
		case 4:
			quads = append(quads, r)
		case 3:
			trips = append(trips, r)
		case 2:
			pairs = append(pairs, r)
		case 1:
			singles = append(singles, r)
		}
	}

	if len(quads) > 0 {
		q := quads[0]
		kicker := bestRankExcept(counts, q)
		return Result{
			Category: FourOfAKind,
			Score:    pack(FourOfAKind, q, kicker),
			Best:     groupWitness(cards, []groupSpec{{q, 4}, {kicker, 1}}),
		}
	}

	// Two sets of trips make a full house of the higher trips over the lower.
	if len(trips) > 0 && (len(trips) > 1 || len(pairs) > 0) {
		t := trips[0]
		var p deck.Rank
		if len(trips) > 1 {
			p = trips[1]
		}
		if len(pairs) > 0 && pairs[0] > p {
			p = pairs[0]
		}
		return Result{
			Category: FullHouse,
			Score:    pack(FullHouse, t, p),
			Best:     groupWitness(cards, []groupSpec{{t, 3}, {p, 2}}),
		}
	}

	for suit, mask := range suitMasks {
		if bits.OnesCount16(mask) < 5 {
			continue
		}
		top := topRanks(mask, 5)
		return Result{
			Category: Flush,
			Score:    pack(Flush, top...),
			Best:     flushWitness(cards, deck.Suit(suit), top),
		}
	}

	if high := straightHigh(rankMask); high > 0 {
		return Result{
			Category: Straight,
			Score:    pack(Straight, deck.Rank(high)),
			Best:     straightWitness(cards, deck.Rank(high), 0, false),
		}
	}

	if len(trips) > 0 {
		t := trips[0]
		k := kickers(singles, 2)
		return Result{
			Category: ThreeOfAKind,
			Score:    pack(ThreeOfAKind, append([]deck.Rank{t}, k...)...),
			Best:     groupWitness(cards, []groupSpec{{t, 3}, {k[0], 1}, {k[1], 1}}),
		}
	}

	if len(pairs) >= 2 {
		hi, lo := pairs[0], pairs[1]
		kicker := bestRankExcept(counts, hi, lo)
		return Result{
			Category: TwoPair,
			Score:    pack(TwoPair, hi, lo, kicker),
			Best:     groupWitness(cards, []groupSpec{{hi, 2}, {lo, 2}, {kicker, 1}}),
		}
	}

	if len(pairs) == 1 {
		p := pairs[0]
		k := kickers(singles, 3)
		return Result{
			Category: Pair,
			Score:    pack(Pair, append([]deck.Rank{p}, k...)...),
			Best:     groupWitness(cards, []groupSpec{{p, 2}, {k[0], 1}, {k[1], 1}, {k[2], 1}}),
		}
	}

	k := kickers(singles, 5)
	specs := make([]groupSpec, len(k))
	for i, r := range k {
		specs[i] = groupSpec{r, 1}
	}
	return Result{
		Category: HighCard,
		Score:    pack(HighCard, k...),
		Best:     groupWitness(cards, specs),
	}
}

// straightHigh returns the high-card rank of the best straight in a rank
// bitmask, or 0 if none. The wheel A-2-3-4-5 is a straight whose high card
// is the 5, not the ace.
func straightHigh(mask uint16) deck.Rank {
	for high := deck.Ace; high >= deck.Six; high-- {
		run := uint16(0b11111) << (high - 4)
		if mask&run == run {
			return high
		}
	}
	const wheel = 1<<deck.Ace | 1<<deck.Five | 1<<deck.Four | 1<<deck.Three | 1<<deck.Two
	if mask&wheel == wheel {
		return deck.Five
	}
	return 0
}

func pack(cat Category, ranks ...deck.Rank) Score {
	s := Score(cat) << 20
	shift := 16
	for _, r := range ranks {
		s |= Score(r) << shift
		shift -= 4
	}
	return s
}

func topRanks(mask uint16, n int) []deck.Rank {
	out := make([]deck.Rank, 0, n)
	for r := deck.Ace; r >= deck.Two && len(out) < n; r-- {
		if mask&(1<<r) != 0 {
			out = append(out, r)
		}
	}
	return out
}

func bestRankExcept(counts [15]uint8, except ...deck.Rank) deck.Rank {
	for r := deck.Ace; r >= deck.Two; r-- {
		if counts[r] == 0 {
			continue
		}
		skip := false
		for _, e := range except {
			if r == e {
				skip = true
				break
			}
		}
		if !skip {
			return r
		}
	}
	return 0
}

func kickers(singles []deck.Rank, n int) []deck.Rank {
	if n > len(singles) {
		n = len(singles)
	}
	return singles[:n]
}

type groupSpec struct {
	rank deck.Rank
	n    int
}

// groupWitness picks concrete cards matching the rank groups, in group order.
func groupWitness(cards []deck.Card, specs []groupSpec) []deck.Card {
	best := make([]deck.Card, 0, 5)
	used := make([]bool, len(cards))
	for _, spec := range specs {
		taken := 0
		for i, c := range cards {
			if taken == spec.n {
				break
			}
			if !used[i] && c.Rank == spec.rank {
				used[i] = true
				best = append(best, c)
				taken++
			}
		}
	}
	return best
}

func flushWitness(cards []deck.Card, suit deck.Suit, top []deck.Rank) []deck.Card {
	best := make([]deck.Card, 0, 5)
	for _, r := range top {
		for _, c := range cards {
			if c.Suit == suit && c.Rank == r {
				best = append(best, c)
				break
			}
		}
	}
	return best
}

func straightWitness(cards []deck.Card, high deck.Rank, suit deck.Suit, suited bool) []deck.Card {
	ranks := straightRanks(high)
	best := make([]deck.Card, 0, 5)
	for _, r := range ranks {
		for _, c := range cards {
			if c.Rank != r {
				continue
			}
			if suited && c.Suit != suit {
				continue
			}
			best = append(best, c)
			break
		}
	}
	return best
}

func straightRanks(high deck.Rank) []deck.Rank {
	if high == deck.Five {
		return []deck.Rank{deck.Five, deck.Four, deck.Three, deck.Two, deck.Ace}
	}
	ranks := make([]deck.Rank, 5)
	for i := range ranks {
		ranks[i] = high - deck.Rank(i)
	}
	return ranks
}

// SortDesc orders cards by rank, high first. Used for presentation.
func SortDesc(cards []deck.Card) {
	sort.Slice(cards, func(i, j int) bool { return cards[i].Rank > cards[j].Rank })
}
