package table

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroom/cardroom/internal/protocol"
	"github.com/cardroom/cardroom/internal/randutil"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	updates int
	lastSeq uint64
	events  []string
}

func (b *fakeBroadcaster) TableUpdated(st *State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates++
	b.lastSeq = st.Seq
}

func (b *fakeBroadcaster) Deliver(event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) DeliverTo(_, event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) seen(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeLedger struct {
	mu      sync.Mutex
	commits int
	err     error
}

func (l *fakeLedger) CommitHand(_ context.Context, _ string, _ map[string]int64, _ *HandRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits++
	return l.err
}

// phase round-trips through Summary, which doubles as a synchronization
// point: commands are processed in order, so the answer reflects every
// timer command enqueued before it.
func phase(t *testing.T, l *Loop) string {
	t.Helper()
	s, err := l.Summary(context.Background())
	require.NoError(t, err)
	return s.Phase
}

func TestLoopPlaysTimedHand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := quartz.NewMock(t)
	cfg := testConfig()
	b := &fakeBroadcaster{}
	led := &fakeLedger{}

	m := NewMachine(cfg, randutil.New(11), log.New(nil), func() time.Time { return clock.Now() })
	l := NewLoop(m, clock, led, b, log.New(nil))
	go l.Run()
	defer l.Close()

	require.NoError(t, l.Seat(ctx, "a", "alice", 0, 1000))
	require.NoError(t, l.Seat(ctx, "b", "bob", 1, 1000))
	require.NoError(t, l.Ready(ctx, "a"))
	require.NoError(t, l.Ready(ctx, "b"))
	require.Equal(t, "Starting", phase(t, l))

	clock.Advance(cfg.Countdown).MustWait(ctx)
	require.Equal(t, "PreFlop", phase(t, l))

	// Nobody acts; the turn timer folds the small blind and heads-up that
	// ends the hand immediately.
	clock.Advance(cfg.TurnTimeout).MustWait(ctx)
	require.Equal(t, "PayoutAnimation", phase(t, l))

	led.mu.Lock()
	commits := led.commits
	led.mu.Unlock()
	assert.Equal(t, 1, commits, "one durable commit per hand")
	assert.True(t, b.seen(protocol.EventPlayerAction))
	assert.True(t, b.seen(protocol.EventHandResult))

	clock.Advance(cfg.PayoutDelay).MustWait(ctx)
	require.Equal(t, "SocialBanter", phase(t, l))

	// Ready is sticky, so the banter window rolls straight into the next
	// countdown.
	clock.Advance(cfg.BanterDelay).MustWait(ctx)
	require.Equal(t, "Starting", phase(t, l))
}

func TestLoopActingTimerCanceledByAction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := quartz.NewMock(t)
	cfg := testConfig()
	b := &fakeBroadcaster{}

	m := NewMachine(cfg, randutil.New(12), log.New(nil), func() time.Time { return clock.Now() })
	l := NewLoop(m, clock, &fakeLedger{}, b, log.New(nil))
	go l.Run()
	defer l.Close()

	require.NoError(t, l.Seat(ctx, "a", "alice", 0, 1000))
	require.NoError(t, l.Seat(ctx, "b", "bob", 1, 1000))
	require.NoError(t, l.Ready(ctx, "a"))
	require.NoError(t, l.Ready(ctx, "b"))
	clock.Advance(cfg.Countdown).MustWait(ctx)
	require.Equal(t, "PreFlop", phase(t, l))

	// Dealer burns a third of the clock, then acts. The original deadline
	// passes without anyone being folded.
	clock.Advance(10 * time.Second).MustWait(ctx)
	require.NoError(t, l.Act(ctx, "a", Call, 0))
	clock.Advance(20 * time.Second).MustWait(ctx)
	require.Equal(t, "PreFlop", phase(t, l))

	// The rearmed timer belongs to the big blind; letting it run out folds
	// them and ends the heads-up hand.
	clock.Advance(10 * time.Second).MustWait(ctx)
	require.Equal(t, "PayoutAnimation", phase(t, l))
}

func TestLoopRejectsBadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := quartz.NewMock(t)
	b := &fakeBroadcaster{}

	m := NewMachine(testConfig(), randutil.New(13), log.New(nil), func() time.Time { return clock.Now() })
	l := NewLoop(m, clock, &fakeLedger{}, b, log.New(nil))
	go l.Run()
	defer l.Close()

	require.NoError(t, l.Seat(ctx, "a", "alice", 0, 1000))

	err := l.Seat(ctx, "b", "bob", 0, 1000)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, protocol.CodeSeatTaken, terr.Code)

	updatesBefore := func() int {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.updates
	}()

	// Refresh broadcasts even without a state change.
	require.NoError(t, l.Refresh(ctx))
	b.mu.Lock()
	assert.Greater(t, b.updates, updatesBefore)
	b.mu.Unlock()
}

func TestResetKeepsSequenceClimbing(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	b := &fakeBroadcaster{}

	m := NewMachine(testConfig(), randutil.New(14), log.New(nil), func() time.Time { return clock.Now() })
	require.NoError(t, m.Seat("a", "alice", 0, 1000))
	require.NoError(t, m.Seat("b", "bob", 1, 1000))
	before := m.State().Seq
	require.NotZero(t, before)

	l := NewLoop(m, clock, &fakeLedger{}, b, log.New(nil))
	l.reset()

	assert.Equal(t, before+1, l.m.State().Seq, "counter carries across the rebuild")
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, before+1, b.lastSeq, "reset broadcast must not look stale to viewers")
	assert.Contains(t, b.events, protocol.EventError)
}
