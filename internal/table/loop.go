package table

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/cardroom/cardroom/internal/protocol"
)

const (
	ledgerTimeout  = 2 * time.Second
	ledgerAttempts = 3
	ledgerBackoff  = 250 * time.Millisecond
)

// Ledger persists a finished hand: balance deltas and the history record
// commit or fail as one unit.
type Ledger interface {
	CommitHand(ctx context.Context, tableID string, deltas map[string]int64, record *HandRecord) error
}

// Broadcaster fans table output out to connected sessions. Every method is
// invoked synchronously from the table's run-loop goroutine; implementations
// may read the passed state during the call but must not retain it.
type Broadcaster interface {
	// TableUpdated is called after every mutation; implementations diff
	// against their per-viewer caches and deliver snapshots or patches.
	TableUpdated(st *State)
	// Deliver broadcasts an event to every viewer of the table.
	Deliver(event string, data any)
	// DeliverTo sends an event to a single player.
	DeliverTo(playerID, event string, data any)
}

type cmdKind uint8

const (
	cmdSeat cmdKind = iota
	cmdUnseat
	cmdReady
	cmdAct
	cmdRefresh
	cmdSummary
	cmdTurnTimer
	cmdPhaseTimer
)

type command struct {
	kind cmdKind

	playerID string
	name     string
	seat     int
	buyIn    int64
	action   Action
	amount   int64

	gen   uint64
	phase Phase

	reply   chan error
	summary chan protocol.TableSummary
}

// Loop is the actor that owns a Machine. All table input is serialized
// through its command channel; timers and ledger commits are the only
// suspension points.
type Loop struct {
	m      *Machine
	clock  quartz.Clock
	ledger Ledger
	b      Broadcaster
	log    *log.Logger

	cmds chan command
	done chan struct{}

	turnTimer  *quartz.Timer
	phaseTimer *quartz.Timer
	turnGen    uint64
	phaseGen   uint64
}

// NewLoop wires a machine to its collaborators. Run must be called on its
// own goroutine before any public method.
func NewLoop(m *Machine, clock quartz.Clock, ledger Ledger, b Broadcaster, logger *log.Logger) *Loop {
	return &Loop{
		m:      m,
		clock:  clock,
		ledger: ledger,
		b:      b,
		log:    logger.With("table", m.State().Config.ID),
		cmds:   make(chan command, 64),
		done:   make(chan struct{}),
	}
}

// Run processes commands until Close. A panic in the machine destroys the
// in-flight hand state and restarts the table clean rather than taking the
// process down.
func (l *Loop) Run() {
	defer l.stopTimers()
	for {
		select {
		case <-l.done:
			return
		case cmd := <-l.cmds:
			l.handle(cmd)
		}
	}
}

// Close stops the loop. Pending commands are dropped.
func (l *Loop) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// Seat requests a seat for a player.
func (l *Loop) Seat(ctx context.Context, id, name string, seat int, buyIn int64) error {
	return l.send(ctx, command{kind: cmdSeat, playerID: id, name: name, seat: seat, buyIn: buyIn})
}

// Unseat removes a player, folding them first if a hand is live.
func (l *Loop) Unseat(ctx context.Context, id string) error {
	return l.send(ctx, command{kind: cmdUnseat, playerID: id})
}

// Ready marks a player ready for the next hand.
func (l *Loop) Ready(ctx context.Context, id string) error {
	return l.send(ctx, command{kind: cmdReady, playerID: id})
}

// Act submits a betting action.
func (l *Loop) Act(ctx context.Context, id string, action Action, amount int64) error {
	return l.send(ctx, command{kind: cmdAct, playerID: id, action: action, amount: amount})
}

// Refresh forces a broadcast pass even without a state change, so a viewer
// that just (re)joined receives a current snapshot.
func (l *Loop) Refresh(ctx context.Context) error {
	return l.send(ctx, command{kind: cmdRefresh})
}

// Summary returns the public listing entry for the table.
func (l *Loop) Summary(ctx context.Context) (protocol.TableSummary, error) {
	cmd := command{kind: cmdSummary, summary: make(chan protocol.TableSummary, 1)}
	if err := l.send(ctx, cmd); err != nil {
		return protocol.TableSummary{}, err
	}
	select {
	case s := <-cmd.summary:
		return s, nil
	case <-ctx.Done():
		return protocol.TableSummary{}, ctx.Err()
	case <-l.done:
		return protocol.TableSummary{}, context.Canceled
	}
}

func (l *Loop) send(ctx context.Context, cmd command) error {
	if cmd.reply == nil {
		cmd.reply = make(chan error, 1)
	}
	select {
	case l.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

func (l *Loop) handle(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("table loop panic, resetting table", "panic", r)
			l.reset()
		}
	}()

	st := l.m.State()
	seqBefore := st.Seq
	var err error

	switch cmd.kind {
	case cmdSeat:
		err = l.m.Seat(cmd.playerID, cmd.name, cmd.seat, cmd.buyIn)
	case cmdUnseat:
		err = l.m.Unseat(cmd.playerID)
	case cmdReady:
		err = l.m.Ready(cmd.playerID)
	case cmdAct:
		err = l.m.Apply(cmd.playerID, cmd.action, cmd.amount)
	case cmdRefresh:
		// broadcast below regardless of seq
	case cmdSummary:
		cmd.summary <- protocol.TableSummary{
			ID:          st.Config.ID,
			SeatsFilled: st.SeatsFilled(),
			MaxSeats:    len(st.Seats),
			Phase:       st.Phase.String(),
			SmallBlind:  st.Config.SmallBlind,
			BigBlind:    st.Config.BigBlind,
		}
	case cmdTurnTimer:
		if cmd.gen == l.turnGen {
			l.m.TurnTimeout(cmd.seat)
		}
	case cmdPhaseTimer:
		if cmd.gen == l.phaseGen {
			switch cmd.phase {
			case Starting:
				l.m.CountdownElapsed()
			case PayoutAnimation:
				l.m.PayoutElapsed()
			case SocialBanter:
				l.m.BanterElapsed()
			}
		}
	}

	l.processEvents()

	if st.Seq != seqBefore || cmd.kind == cmdRefresh {
		l.b.TableUpdated(st)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// processEvents drains the machine's event queue, looping because handling
// HandFinished feeds LedgerCommitted back in and produces further events.
func (l *Loop) processEvents() {
	for {
		events := l.m.TakeEvents()
		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			l.handleEvent(ev)
		}
	}
}

func (l *Loop) handleEvent(ev Event) {
	switch ev := ev.(type) {
	case ArmTurnTimer:
		l.armTurnTimer(ev.Seat)
	case CancelTurnTimer:
		l.cancelTurnTimer()
	case ArmPhaseTimer:
		l.armPhaseTimer(ev.Phase, ev.After)
	case PlayerActed:
		l.b.Deliver(protocol.EventPlayerAction, protocol.PlayerAction{
			SteamID: ev.PlayerID,
			Action:  ev.Action.String(),
			Amount:  ev.Amount,
			NewPot:  ev.NewPot,
		})
	case HandFinished:
		err := l.commitHand(ev)
		if err == nil {
			l.b.Deliver(protocol.EventHandResult, ev.Result)
		}
		l.m.LedgerCommitted(err)
	case TableError:
		data := protocol.ErrorData{Code: ev.Code, Message: ev.Message}
		if ev.PlayerID == "" {
			l.b.Deliver(protocol.EventError, data)
		} else {
			l.b.DeliverTo(ev.PlayerID, protocol.EventError, data)
		}
	}
}

// commitHand persists the hand synchronously; the table accepts no input
// until the ledger answers. Transient failures are retried a few times
// before the table pauses.
func (l *Loop) commitHand(ev HandFinished) error {
	var err error
	for attempt := 1; attempt <= ledgerAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		err = l.ledger.CommitHand(ctx, ev.Record.TableID, ev.Deltas, ev.Record)
		cancel()
		if err == nil {
			return nil
		}
		l.log.Warn("ledger commit failed", "attempt", attempt, "error", err)
		if attempt < ledgerAttempts {
			t := l.clock.NewTimer(ledgerBackoff)
			select {
			case <-t.C:
			case <-l.done:
				t.Stop()
				return err
			}
		}
	}
	return err
}

func (l *Loop) armTurnTimer(seat int) {
	l.cancelTurnTimer()
	gen := l.turnGen
	d := l.m.State().Config.TurnTimeout
	l.turnTimer = l.clock.AfterFunc(d, func() {
		select {
		case l.cmds <- command{kind: cmdTurnTimer, seat: seat, gen: gen}:
		case <-l.done:
		}
	})
}

func (l *Loop) cancelTurnTimer() {
	l.turnGen++
	if l.turnTimer != nil {
		l.turnTimer.Stop()
		l.turnTimer = nil
	}
}

func (l *Loop) armPhaseTimer(phase Phase, after time.Duration) {
	l.phaseGen++
	gen := l.phaseGen
	if l.phaseTimer != nil {
		l.phaseTimer.Stop()
	}
	l.phaseTimer = l.clock.AfterFunc(after, func() {
		select {
		case l.cmds <- command{kind: cmdPhaseTimer, phase: phase, gen: gen}:
		case <-l.done:
		}
	})
}

func (l *Loop) stopTimers() {
	if l.turnTimer != nil {
		l.turnTimer.Stop()
	}
	if l.phaseTimer != nil {
		l.phaseTimer.Stop()
	}
}

// reset rebuilds a clean machine after a panic so one corrupted hand cannot
// wedge the table forever. Seated players are dropped; the ledger was never
// told about the aborted hand, so balances are untouched.
func (l *Loop) reset() {
	st := l.m.State()
	l.stopTimers()
	l.turnGen++
	l.phaseGen++
	fresh := NewMachine(st.Config, l.m.rng, l.log, l.m.now)
	// The viewer-facing counter must keep climbing through the rebuild;
	// clients drop anything at or below their last-seen sequence id.
	fresh.st.Seq = st.Seq + 1
	l.m = fresh
	l.b.Deliver(protocol.EventError, protocol.ErrorData{
		Code:    protocol.CodeInternal,
		Message: "table reset after internal error",
	})
	l.b.TableUpdated(l.m.State())
}
