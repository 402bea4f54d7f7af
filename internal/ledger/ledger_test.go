package ledger

import (
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroom/cardroom/internal/table"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.Context(), ":memory:", log.New(nil))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFindOrCreateSeedsOnce(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	u, err := s.FindOrCreate(ctx, "76561198000000001", "alice", 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, u.Chips)

	// A second login keeps the balance but refreshes the name.
	require.NoError(t, s.Adjust(ctx, u.SteamID, -400))
	u, err = s.FindOrCreate(ctx, u.SteamID, "alice2", 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 600, u.Chips)
	assert.Equal(t, "alice2", u.DisplayName)
}

func TestAdjustRejectsOverdraft(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	_, err := s.FindOrCreate(ctx, "p1", "alice", 100)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Adjust(ctx, "p1", -101), ErrInsufficientChips)
	balance, err := s.Balance(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance, "failed debit leaves the balance alone")

	assert.ErrorIs(t, s.Adjust(ctx, "ghost", -1), ErrUnknownUser)
	_, err = s.Balance(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func record(handNum uint64) *table.HandRecord {
	return &table.HandRecord{
		TableID:   "t1",
		HandNum:   handNum,
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		PotTotal:  60,
		Winners:   []table.HandWinner{{SteamID: "p1", Amount: 60}},
	}
}

func TestCommitHandIsAtomic(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	_, err := s.FindOrCreate(ctx, "p1", "alice", 1000)
	require.NoError(t, err)
	_, err = s.FindOrCreate(ctx, "p2", "bob", 1000)
	require.NoError(t, err)

	deltas := map[string]int64{"p1": 40, "p2": -40}
	require.NoError(t, s.CommitHand(ctx, "t1", deltas, record(1)))

	b1, _ := s.Balance(ctx, "p1")
	b2, _ := s.Balance(ctx, "p2")
	assert.EqualValues(t, 1040, b1)
	assert.EqualValues(t, 960, b2)

	hands, err := s.Hands(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, hands, 1)
	assert.EqualValues(t, 1, hands[0].HandNum)
	assert.EqualValues(t, 60, hands[0].PotTotal)
}

// A delta that cannot be applied rolls back the whole settlement: no
// balance moves and no history row appears.
func TestCommitHandRollsBackTogether(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	_, err := s.FindOrCreate(ctx, "p1", "alice", 1000)
	require.NoError(t, err)
	_, err = s.FindOrCreate(ctx, "p2", "bob", 10)
	require.NoError(t, err)

	deltas := map[string]int64{"p1": 500, "p2": -500}
	err = s.CommitHand(ctx, "t1", deltas, record(1))
	assert.ErrorIs(t, err, ErrInsufficientChips)

	b1, _ := s.Balance(ctx, "p1")
	b2, _ := s.Balance(ctx, "p2")
	assert.EqualValues(t, 1000, b1, "winner credit rolled back")
	assert.EqualValues(t, 10, b2)

	hands, err := s.Hands(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, hands, "no history row for an unsettled hand")
}

func TestCommitHandUnknownPlayerFails(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	_, err := s.FindOrCreate(ctx, "p1", "alice", 1000)
	require.NoError(t, err)

	err = s.CommitHand(ctx, "t1", map[string]int64{"p1": -10, "ghost": 10}, record(1))
	assert.ErrorIs(t, err, ErrUnknownUser)

	b1, _ := s.Balance(ctx, "p1")
	assert.EqualValues(t, 1000, b1)
}

func TestAdjustManyAllOrNothing(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	_, err := s.FindOrCreate(ctx, "p1", "alice", 100)
	require.NoError(t, err)
	_, err = s.FindOrCreate(ctx, "p2", "bob", 100)
	require.NoError(t, err)

	require.NoError(t, s.AdjustMany(ctx, map[string]int64{"p1": -30, "p2": 30}))
	b1, _ := s.Balance(ctx, "p1")
	b2, _ := s.Balance(ctx, "p2")
	assert.EqualValues(t, 70, b1)
	assert.EqualValues(t, 130, b2)

	err = s.AdjustMany(ctx, map[string]int64{"p1": -200, "p2": 200})
	assert.ErrorIs(t, err, ErrInsufficientChips)
	b1, _ = s.Balance(ctx, "p1")
	b2, _ = s.Balance(ctx, "p2")
	assert.EqualValues(t, 70, b1, "failed batch leaves both untouched")
	assert.EqualValues(t, 130, b2)
}

func TestSaveHandStandalone(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	require.NoError(t, s.SaveHand(ctx, record(7)))
	hands, err := s.Hands(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, hands, 1)
	assert.EqualValues(t, 7, hands[0].HandNum)
	require.Len(t, hands[0].Winners, 1)
	assert.Equal(t, "p1", hands[0].Winners[0].SteamID)
}

func TestHandsNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := t.Context()

	_, err := s.FindOrCreate(ctx, "p1", "alice", 1000)
	require.NoError(t, err)
	for n := uint64(1); n <= 3; n++ {
		require.NoError(t, s.CommitHand(ctx, "t1", map[string]int64{}, record(n)))
	}

	hands, err := s.Hands(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, hands, 2)
	assert.EqualValues(t, 3, hands[0].HandNum)
	assert.EqualValues(t, 2, hands[1].HandNum)

	none, err := s.Hands(ctx, "empty", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
