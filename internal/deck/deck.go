package deck

import (
	"errors"
	rand "math/rand/v2"
)

// ErrExhausted is returned when a deal or burn would pass the end of the deck.
var ErrExhausted = errors.New("deck: exhausted")

// Deck is an ordered 52-card sequence with a pointer to the next undealt
// index. One deck exists per table per hand; Reset reinitialises it.
type Deck struct {
	cards [52]Card
	next  int
	rng   *rand.Rand
}

// New creates a shuffled deck with an explicit RNG. The RNG must come from
// randutil.NewCrypto in production; tests may inject a seeded source.
func New(rng *rand.Rand) *Deck {
	d := &Deck{rng: rng}
	d.Reset()
	return d
}

// Reset restores the canonical 52-card sequence then applies an in-place
// Fisher-Yates permutation.
func (d *Deck) Reset() {
	i := 0
	for suit := Hearts; suit <= Spades; suit++ {
		for rank := Two; rank <= Ace; rank++ {
			d.cards[i] = NewCard(rank, suit)
			i++
		}
	}
	d.next = 0
	d.shuffle()
}

func (d *Deck) shuffle() {
	for i := len(d.cards) - 1; i > 0; i-- {
		j := d.rng.IntN(i + 1)
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	}
}

// Deal returns the next k cards and advances the pointer.
func (d *Deck) Deal(k int) ([]Card, error) {
	if d.next+k > len(d.cards) {
		return nil, ErrExhausted
	}
	cards := make([]Card, k)
	copy(cards, d.cards[d.next:d.next+k])
	d.next += k
	return cards, nil
}

// Burn discards the next card.
func (d *Deck) Burn() error {
	if d.next >= len(d.cards) {
		return ErrExhausted
	}
	d.next++
	return nil
}

// Remaining returns the number of undealt cards.
func (d *Deck) Remaining() int {
	return len(d.cards) - d.next
}
