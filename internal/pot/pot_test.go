package pot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroom/cardroom/internal/evaluator"
)

func TestSidePotsThreeWayAllIn(t *testing.T) {
	t.Parallel()

	// Scenario: stacks 100/200/300 all committed preflop.
	m := New()
	m.Add("p1", 100)
	m.Add("p2", 200)
	m.Add("p3", 300)

	pots := m.Pots([]string{"p1", "p2", "p3"})
	require.Len(t, pots, 3)

	assert.Equal(t, int64(300), pots[0].Amount)
	assert.Equal(t, []string{"p1", "p2", "p3"}, pots[0].Eligible)

	assert.Equal(t, int64(200), pots[1].Amount)
	assert.Equal(t, []string{"p2", "p3"}, pots[1].Eligible)

	assert.Equal(t, int64(100), pots[2].Amount)
	assert.Equal(t, []string{"p3"}, pots[2].Eligible)

	var sum int64
	for _, p := range pots {
		sum += p.Amount
	}
	assert.Equal(t, m.Total(), sum)
}

func TestPotsFoldedContributionsStayInPool(t *testing.T) {
	t.Parallel()

	m := New()
	m.Add("p1", 50)
	m.Add("p2", 50)
	m.Add("folded", 30)

	pots := m.Pots([]string{"p1", "p2"})
	require.Len(t, pots, 1)
	assert.Equal(t, int64(130), pots[0].Amount)
	assert.Equal(t, []string{"p1", "p2"}, pots[0].Eligible)
}

func TestPotsFoldedExcessGoesToLowestPot(t *testing.T) {
	t.Parallel()

	// Folded player committed more than the highest still-in level; the
	// excess funds the main pot without eligibility.
	m := New()
	m.Add("p1", 100)
	m.Add("p2", 200)
	m.Add("folded", 250)

	pots := m.Pots([]string{"p1", "p2"})
	require.Len(t, pots, 2)
	// Level 100: p1 100 + p2 100 + folded 100, plus folded excess 50.
	assert.Equal(t, int64(350), pots[0].Amount)
	// Level 200: p2 100 + folded 100.
	assert.Equal(t, int64(200), pots[1].Amount)

	var sum int64
	for _, p := range pots {
		sum += p.Amount
	}
	assert.Equal(t, m.Total(), sum)
}

func TestDistributeSingleWinnerPerPot(t *testing.T) {
	t.Parallel()

	pots := []Pot{
		{Amount: 300, Eligible: []string{"p1", "p2", "p3"}},
		{Amount: 200, Eligible: []string{"p2", "p3"}},
		{Amount: 100, Eligible: []string{"p3"}},
	}
	// p1 strongest, then p2, then p3.
	scores := map[string]evaluator.Score{"p1": 3000, "p2": 2000, "p3": 1000}

	payouts := Distribute(pots, scores, []string{"p2", "p3", "p1"})
	assert.Equal(t, int64(300), payouts["p1"])
	assert.Equal(t, int64(200), payouts["p2"])
	assert.Equal(t, int64(100), payouts["p3"])
}

func TestDistributeSplitWithOddChip(t *testing.T) {
	t.Parallel()

	pots := []Pot{{Amount: 61, Eligible: []string{"p1", "p2", "p3"}}}
	scores := map[string]evaluator.Score{"p1": 500, "p2": 500, "p3": 100}

	// Order starts from the first seat clockwise of the dealer; p2 sits
	// there, so p2 collects the odd chip. Never random.
	payouts := Distribute(pots, scores, []string{"p2", "p3", "p1"})
	assert.Equal(t, int64(31), payouts["p2"])
	assert.Equal(t, int64(30), payouts["p1"])
	assert.Zero(t, payouts["p3"])
}

func TestDistributeConservesChips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		pots   []Pot
		scores map[string]evaluator.Score
	}{
		{
			name:   "three way tie",
			pots:   []Pot{{Amount: 100, Eligible: []string{"a", "b", "c"}}},
			scores: map[string]evaluator.Score{"a": 1, "b": 1, "c": 1},
		},
		{
			name: "layered side pots",
			pots: []Pot{
				{Amount: 301, Eligible: []string{"a", "b", "c"}},
				{Amount: 77, Eligible: []string{"b", "c"}},
			},
			scores: map[string]evaluator.Score{"a": 9, "b": 9, "c": 2},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var total int64
			for _, p := range tc.pots {
				total += p.Amount
			}
			payouts := Distribute(tc.pots, tc.scores, []string{"a", "b", "c"})
			var paid int64
			for _, amt := range payouts {
				paid += amt
			}
			assert.Equal(t, total, paid)
		})
	}
}

func TestResetZeroes(t *testing.T) {
	t.Parallel()

	m := New()
	m.Add("p1", 40)
	require.Equal(t, int64(40), m.Total())

	m.Reset()
	assert.Zero(t, m.Total())
	assert.Zero(t, m.Contribution("p1"))
}
