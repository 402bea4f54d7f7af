package table

import (
	"fmt"
	rand "math/rand/v2"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cardroom/cardroom/internal/deck"
	"github.com/cardroom/cardroom/internal/evaluator"
	"github.com/cardroom/cardroom/internal/pot"
	"github.com/cardroom/cardroom/internal/protocol"
)

// Machine is the authoritative hand lifecycle reducer. All methods must be
// called from the owning run-loop; the machine itself does no locking and
// never blocks.
//
// Each successful mutating input bumps the sequence counter exactly once,
// so the counter is strictly monotone without gaps across everything a
// viewer can observe.
type Machine struct {
	st  *State
	rng *rand.Rand
	log *log.Logger
	now func() time.Time

	events    []Event
	handStart time.Time
	actionLog []HandAction
}

// NewMachine creates a table in the Lobby phase.
func NewMachine(cfg Config, rng *rand.Rand, logger *log.Logger, now func() time.Time) *Machine {
	st := &State{
		Config: cfg,
		Phase:  Lobby,
		Pot:    pot.New(),
		Deck:   deck.New(rng),
		Dealer: -1,
		Acting: -1,
		Seats:  make([]*Player, cfg.MaxSeats),
	}
	return &Machine{
		st:  st,
		rng: rng,
		log: logger.With("table", cfg.ID),
		now: now,
	}
}

// State exposes the god state for the loop and serializer. Callers outside
// the run-loop must never touch it.
func (m *Machine) State() *State {
	return m.st
}

// TakeEvents drains the pending event list.
func (m *Machine) TakeEvents() []Event {
	ev := m.events
	m.events = nil
	return ev
}

func (m *Machine) emit(ev Event) {
	m.events = append(m.events, ev)
}

func (m *Machine) bump() {
	m.st.Seq++
}

// Seat binds a player to a seat with the given buy-in. Accepted only in
// Lobby, Waiting, or SocialBanter.
func (m *Machine) Seat(id, name string, seat int, buyIn int64) error {
	st := m.st
	switch st.Phase {
	case Lobby, Waiting, SocialBanter:
	default:
		return errInvalidAction("cannot sit during a hand")
	}
	if seat < 0 || seat >= len(st.Seats) {
		return errInvalidAction(fmt.Sprintf("seat %d out of range", seat))
	}
	if buyIn <= 0 {
		return errInvalidAction("buy-in must be positive")
	}
	if st.PlayerByID(id) != nil {
		return errAlreadySeated()
	}
	if st.SeatsFilled() == len(st.Seats) {
		return errTableFull()
	}
	if st.Seats[seat] != nil {
		return errSeatTaken()
	}

	st.Seats[seat] = &Player{
		ID:    id,
		Name:  name,
		Seat:  seat,
		Stack: buyIn,
	}
	m.log.Info("player seated", "player", id, "seat", seat, "buyIn", buyIn)

	if st.Phase == Lobby {
		st.Phase = Waiting
	}
	m.bump()
	return nil
}

// Unseat removes a player. Mid-hand this is an immediate fold; the seat
// empties at hand end.
func (m *Machine) Unseat(id string) error {
	st := m.st
	p := st.PlayerByID(id)
	if p == nil {
		return nil
	}

	if st.Phase.HandInProgress() && p.InHand() {
		p.Leaving = true
		p.Ready = false
		m.log.Info("player leaving mid-hand, folding", "player", id, "seat", p.Seat)
		m.forceFold(p)
		m.bump()
		return nil
	}

	st.Seats[p.Seat] = nil
	m.log.Info("player unseated", "player", id, "seat", p.Seat)
	if st.SeatsFilled() == 0 && !st.Phase.HandInProgress() {
		st.Phase = Lobby
	}
	m.maybeStart()
	m.bump()
	return nil
}

// Ready marks a player ready. Calling it twice has no additional effect.
func (m *Machine) Ready(id string) error {
	p := m.st.PlayerByID(id)
	if p == nil {
		return errInvalidAction("not seated")
	}
	p.Ready = true
	m.maybeStart()
	m.bump()
	return nil
}

// maybeStart transitions Waiting -> Starting when at least two seated
// chip-positive players exist and every chip-positive player is ready.
func (m *Machine) maybeStart() {
	st := m.st
	if st.Phase != Waiting {
		return
	}
	eligible := 0
	for _, p := range st.Seated() {
		if p.Stack <= 0 {
			continue
		}
		if !p.Ready {
			return
		}
		eligible++
	}
	if eligible < 2 {
		return
	}
	st.Phase = Starting
	m.emit(ArmPhaseTimer{Phase: Starting, After: st.Config.Countdown})
	m.log.Info("countdown started", "players", eligible)
}

// CountdownElapsed fires at the end of the Starting countdown.
func (m *Machine) CountdownElapsed() {
	if m.st.Phase != Starting {
		return
	}
	m.beginHand()
	m.bump()
}

func (m *Machine) beginHand() {
	st := m.st

	participants := 0
	for _, p := range st.Seated() {
		if p.Stack > 0 {
			participants++
		}
	}
	if participants < 2 {
		st.Phase = Waiting
		return
	}

	st.HandNum++
	m.handStart = m.now()
	m.actionLog = nil
	st.Deck.Reset()
	st.Community = nil
	st.Pot.Reset()
	st.CurrentBet = 0
	st.MinRaise = st.Config.BigBlind

	for _, p := range st.Seated() {
		p.HoleCards = nil
		p.RoundBet = 0
		p.Folded = false
		p.AllIn = false
		p.Acted = false
		p.Result = nil
		p.StartStack = p.Stack
	}

	// Dealer button advances one still-chip-positive seat clockwise.
	chipPositive := func(p *Player) bool { return p.Stack > 0 }
	st.Dealer = st.nextSeat(st.Dealer+1, chipPositive)

	st.Phase = Dealing

	// Heads-up: the dealer posts the small blind and acts first preflop.
	var sbSeat int
	if participants == 2 {
		sbSeat = st.Dealer
	} else {
		sbSeat = st.nextSeat(st.Dealer+1, chipPositive)
	}
	bbSeat := st.nextSeat(sbSeat+1, chipPositive)

	for _, p := range st.Seated() {
		if p.Stack <= 0 {
			continue
		}
		cards, err := st.Deck.Deal(2)
		if err != nil {
			panic(fmt.Sprintf("table %s: deck exhausted dealing hole cards: %v", st.Config.ID, err))
		}
		p.HoleCards = cards
	}

	m.postBlind(st.Seats[sbSeat], st.Config.SmallBlind, "SMALL_BLIND")
	m.postBlind(st.Seats[bbSeat], st.Config.BigBlind, "BIG_BLIND")
	st.CurrentBet = st.Config.BigBlind

	st.Phase = PreFlop
	m.log.Info("hand started",
		"hand", st.HandNum, "dealer", st.Dealer, "sb", sbSeat, "bb", bbSeat)

	st.Acting = st.nextSeat(bbSeat+1, (*Player).CanAct)
	if st.Acting == -1 {
		// Blinds put everyone all-in; run the board out.
		m.advanceStreet()
		return
	}
	m.emit(ArmTurnTimer{Seat: st.Acting})
}

// postBlind takes a forced wager, going all-in if short.
func (m *Machine) postBlind(p *Player, amount int64, label string) {
	pay := amount
	if pay > p.Stack {
		pay = p.Stack
	}
	p.Stack -= pay
	p.RoundBet += pay
	m.st.Pot.Add(p.ID, pay)
	if p.Stack == 0 {
		p.AllIn = true
	}
	m.actionLog = append(m.actionLog, HandAction{
		Seat:   p.Seat,
		Street: PreFlop.String(),
		Action: label,
		Amount: pay,
	})
}

// Apply validates and executes a betting action from a player. Violations
// return an Error delivered only to the offender; the state is unchanged.
func (m *Machine) Apply(id string, act Action, amount int64) error {
	st := m.st
	if !st.Phase.Betting() {
		return errInvalidAction("no betting round in progress")
	}
	if st.Acting < 0 || st.Seats[st.Acting] == nil || st.Seats[st.Acting].ID != id {
		return errNotYourTurn()
	}
	p := st.Seats[st.Acting]
	if !p.CanAct() {
		return errInvalidAction("cannot act")
	}

	var wireAmount int64
	switch act {
	case Fold:
		p.Folded = true

	case Check:
		if p.RoundBet != st.CurrentBet {
			return errInvalidAction(fmt.Sprintf("cannot check, %d to call", st.CurrentBet-p.RoundBet))
		}

	case Call:
		delta := st.CurrentBet - p.RoundBet
		if delta <= 0 {
			return errInvalidAction("nothing to call")
		}
		pay := delta
		if pay > p.Stack {
			// Short call is an all-in that never reopens action.
			pay = p.Stack
		}
		m.commit(p, pay)
		wireAmount = pay

	case Raise:
		if p.Acted {
			// An under-raise all-in moved the bet without reopening action;
			// players who already acted may only call or fold.
			return errInvalidAction("action has not been reopened")
		}
		if amount <= st.CurrentBet {
			return errInvalidAction("raise must exceed the current bet")
		}
		if amount-st.CurrentBet < st.MinRaise {
			return errInvalidAction(fmt.Sprintf("minimum raise is to %d", st.CurrentBet+st.MinRaise))
		}
		if amount-p.RoundBet > p.Stack {
			return errInvalidAction("raise exceeds stack")
		}
		m.commit(p, amount-p.RoundBet)
		st.MinRaise = amount - st.CurrentBet
		st.CurrentBet = amount
		m.reopenAction(p)
		wireAmount = amount

	case AllIn:
		if p.Stack <= 0 {
			return errInvalidAction("no chips to commit")
		}
		m.commit(p, p.Stack)
		if p.RoundBet > st.CurrentBet {
			raisedBy := p.RoundBet - st.CurrentBet
			if raisedBy >= st.MinRaise {
				st.MinRaise = raisedBy
				st.CurrentBet = p.RoundBet
				m.reopenAction(p)
			} else {
				// Under-raise all-in: the bet to match moves but action is
				// not reopened for players who already acted.
				st.CurrentBet = p.RoundBet
			}
		}
		wireAmount = p.RoundBet

	default:
		return errInvalidAction("unknown action")
	}

	p.Acted = true
	m.actionLog = append(m.actionLog, HandAction{
		Seat:   p.Seat,
		Street: st.Phase.String(),
		Action: act.String(),
		Amount: wireAmount,
	})
	m.emit(CancelTurnTimer{})
	m.emit(PlayerActed{
		PlayerID: id,
		Action:   act,
		Amount:   wireAmount,
		NewPot:   st.Pot.Total(),
	})
	m.log.Debug("action applied", "player", id, "action", act, "amount", wireAmount)

	m.afterAction()
	m.bump()
	return nil
}

// commit moves chips from stack to the current round wager and the pot.
func (m *Machine) commit(p *Player, pay int64) {
	p.Stack -= pay
	p.RoundBet += pay
	m.st.Pot.Add(p.ID, pay)
	if p.Stack == 0 {
		p.AllIn = true
	}
}

// reopenAction clears has-acted for every still-in, not-all-in player other
// than the raiser; they must act again.
func (m *Machine) reopenAction(raiser *Player) {
	for _, p := range m.st.stillIn() {
		if p != raiser && !p.AllIn {
			p.Acted = false
		}
	}
}

// forceFold folds a player out of turn (disconnect, leave).
func (m *Machine) forceFold(p *Player) {
	p.Folded = true
	p.Acted = true
	m.actionLog = append(m.actionLog, HandAction{
		Seat:   p.Seat,
		Street: m.st.Phase.String(),
		Action: Fold.String(),
	})
	m.emit(PlayerActed{
		PlayerID: p.ID,
		Action:   Fold,
		NewPot:   m.st.Pot.Total(),
	})
	if m.st.Phase.Betting() {
		if m.st.Acting == p.Seat {
			m.emit(CancelTurnTimer{})
		}
		m.afterAction()
	}
}

// afterAction advances turn order, closes the betting round, or ends the
// hand after each accepted action.
func (m *Machine) afterAction() {
	st := m.st

	if len(st.stillIn()) == 1 {
		m.foldoutWin()
		return
	}
	if m.roundClosed() {
		m.advanceStreet()
		return
	}

	st.Acting = st.nextSeat(st.Acting+1, func(p *Player) bool {
		return p.CanAct() && (!p.Acted || p.RoundBet != st.CurrentBet)
	})
	if st.Acting == -1 {
		// Round not closed but nobody can act; treat as closed.
		m.advanceStreet()
		return
	}
	m.emit(ArmTurnTimer{Seat: st.Acting})
}

// roundClosed implements the closure rules: every still-in, not-all-in
// player has acted and matched the bet, or every still-in player is all-in.
func (m *Machine) roundClosed() bool {
	st := m.st
	for _, p := range st.stillIn() {
		if p.AllIn {
			continue
		}
		if !p.Acted || p.RoundBet != st.CurrentBet {
			return false
		}
	}
	return true
}

// advanceStreet closes the current betting round and deals the next street,
// running out the board when no further action is possible.
func (m *Machine) advanceStreet() {
	st := m.st

	for _, p := range st.Seated() {
		p.RoundBet = 0
		p.Acted = false
	}
	st.CurrentBet = 0
	st.MinRaise = st.Config.BigBlind
	st.Acting = -1

	deal := func(n int) {
		if err := st.Deck.Burn(); err != nil {
			panic(fmt.Sprintf("table %s: deck exhausted on burn: %v", st.Config.ID, err))
		}
		cards, err := st.Deck.Deal(n)
		if err != nil {
			panic(fmt.Sprintf("table %s: deck exhausted on street deal: %v", st.Config.ID, err))
		}
		st.Community = append(st.Community, cards...)
	}

	switch st.Phase {
	case PreFlop:
		st.Phase = Flop
		deal(3)
	case Flop:
		st.Phase = Turn
		deal(1)
	case Turn:
		st.Phase = River
		deal(1)
	case River:
		m.enterShowdown()
		return
	default:
		return
	}

	st.Acting = st.nextSeat(st.Dealer+1, (*Player).CanAct)
	if st.Acting == -1 || m.roundClosed() {
		// Everyone live is all-in; keep dealing to showdown.
		m.advanceStreet()
		return
	}
	m.emit(ArmTurnTimer{Seat: st.Acting})
}

// foldoutWin pays the whole pool to the lone remaining player without
// evaluation or reveal.
func (m *Machine) foldoutWin() {
	st := m.st
	winner := st.stillIn()[0]
	total := st.Pot.Total()
	winner.Stack += total
	st.Acting = -1
	st.Phase = PayoutAnimation

	m.emit(CancelTurnTimer{})
	m.log.Info("hand won by fold-out", "hand", st.HandNum, "winner", winner.ID, "amount", total)
	m.finishHand(map[string]int64{winner.ID: total}, []pot.Pot{{Amount: total, Eligible: []string{winner.ID}}}, false)
}

// enterShowdown evaluates every still-in hand, partitions and distributes
// the pots, and hands the result to the ledger.
func (m *Machine) enterShowdown() {
	st := m.st
	st.Phase = ShowdownReveal
	st.Acting = -1

	stillIn := st.stillIn()
	ids := make([]string, len(stillIn))
	scores := make(map[string]evaluator.Score, len(stillIn))
	for i, p := range stillIn {
		ids[i] = p.ID
		combined := make([]deck.Card, 0, 7)
		combined = append(combined, p.HoleCards...)
		combined = append(combined, st.Community...)
		res := evaluator.Evaluate(combined)
		p.Result = &res
		scores[p.ID] = res.Score
	}

	pots := st.Pot.Pots(ids)
	payouts := pot.Distribute(pots, scores, st.clockwiseFrom(st.Dealer+1))
	for id, amount := range payouts {
		st.PlayerByID(id).Stack += amount
	}

	m.log.Info("showdown", "hand", st.HandNum, "pots", len(pots), "total", st.Pot.Total())
	m.finishHand(payouts, pots, true)
}

// finishHand builds the hand record, the HAND_RESULT broadcast, and the
// zero-sum ledger deltas (ending minus starting stack per player).
func (m *Machine) finishHand(payouts map[string]int64, pots []pot.Pot, showdown bool) {
	st := m.st

	record := &HandRecord{
		TableID:   st.Config.ID,
		HandNum:   st.HandNum,
		StartedAt: m.handStart,
		EndedAt:   m.now(),
		Community: st.Community,
		Actions:   m.actionLog,
		PotTotal:  st.Pot.Total(),
	}

	deltas := make(map[string]int64)
	for _, p := range st.Seated() {
		if len(p.HoleCards) == 0 {
			continue // sat out this hand
		}
		hp := HandPlayer{
			Seat:       p.Seat,
			SteamID:    p.ID,
			Name:       p.Name,
			StartStack: p.StartStack,
			EndStack:   p.Stack,
			Folded:     p.Folded,
		}
		if !p.Folded {
			hp.HoleCards = p.HoleCards
			if p.Result != nil {
				hp.HandRank = p.Result.Category.String()
			}
		}
		record.Players = append(record.Players, hp)
		if d := p.Stack - p.StartStack; d != 0 {
			deltas[p.ID] = d
		}
	}

	result := protocol.HandResult{}
	for _, po := range pots {
		record.Pots = append(record.Pots, HandPot{Amount: po.Amount, Eligible: po.Eligible})
		result.Pots = append(result.Pots, protocol.PotEntry{Amount: po.Amount, Eligible: po.Eligible})
	}
	for _, p := range st.Seated() {
		amount, won := payouts[p.ID]
		if !won || amount == 0 {
			continue
		}
		record.Winners = append(record.Winners, HandWinner{SteamID: p.ID, Amount: amount})
		entry := protocol.WinnerEntry{SteamID: p.ID, Amount: amount}
		if showdown {
			for _, c := range p.HoleCards {
				entry.Cards = append(entry.Cards, c.String())
			}
			if p.Result != nil {
				entry.HandRank = p.Result.Category.String()
				best := slices.Clone(p.Result.Best)
				evaluator.SortDesc(best)
				for _, c := range best {
					entry.BestFive = append(entry.BestFive, c.String())
				}
			}
		}
		result.Winners = append(result.Winners, entry)
	}

	m.emit(HandFinished{Deltas: deltas, Record: record, Result: result})
}

// LedgerCommitted is called by the loop once the hand's ledger unit of work
// resolves. Failure pauses the table without advancing the dealer button.
func (m *Machine) LedgerCommitted(err error) {
	st := m.st
	if err != nil {
		st.Paused = true
		m.log.Error("ledger commit failed, table paused", "hand", st.HandNum, "error", err)
		m.emit(TableError{Code: protocol.CodeInternal, Message: "hand settlement failed"})
		m.bump()
		return
	}
	if st.Phase == ShowdownReveal {
		st.Phase = PayoutAnimation
	}
	m.emit(ArmPhaseTimer{Phase: PayoutAnimation, After: st.Config.PayoutDelay})
	m.bump()
}

// PayoutElapsed fires at the end of the payout animation window.
func (m *Machine) PayoutElapsed() {
	st := m.st
	if st.Phase != PayoutAnimation || st.Paused {
		return
	}
	st.Phase = SocialBanter
	m.emit(ArmPhaseTimer{Phase: SocialBanter, After: st.Config.BanterDelay})
	m.bump()
}

// BanterElapsed ends the social window and resets for the next hand.
func (m *Machine) BanterElapsed() {
	st := m.st
	if st.Phase != SocialBanter {
		return
	}

	for _, p := range st.Seated() {
		if p.Leaving {
			st.Seats[p.Seat] = nil
			continue
		}
		p.HoleCards = nil
		p.RoundBet = 0
		p.Folded = false
		p.AllIn = false
		p.Acted = false
		p.Result = nil
		p.StartStack = 0
	}
	st.Community = nil
	st.Pot.Reset()
	st.CurrentBet = 0
	st.MinRaise = 0
	st.Acting = -1

	if st.SeatsFilled() == 0 {
		st.Phase = Lobby
	} else {
		st.Phase = Waiting
		m.maybeStart()
	}
	m.bump()
}

// TurnTimeout auto-folds the acting player when the turn timer fires.
func (m *Machine) TurnTimeout(seat int) {
	st := m.st
	if !st.Phase.Betting() || st.Acting != seat {
		return
	}
	p := st.Seats[seat]
	if p == nil || !p.CanAct() {
		return
	}
	m.log.Info("turn timeout, auto-folding", "player", p.ID, "seat", seat)
	m.forceFold(p)
	m.bump()
}
