// Package registry owns the set of live tables and routes player traffic to
// them. It enforces the one-table-per-player rule and implements the fan-out
// path: per-viewer snapshots on join, field-level patches after.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardroom/cardroom/internal/metrics"
	"github.com/cardroom/cardroom/internal/protocol"
	"github.com/cardroom/cardroom/internal/randutil"
	"github.com/cardroom/cardroom/internal/session"
	"github.com/cardroom/cardroom/internal/social"
	"github.com/cardroom/cardroom/internal/table"
	"github.com/cardroom/cardroom/internal/view"
)

// ErrTableExists is returned when creating a duplicate table id.
var ErrTableExists = errors.New("registry: table already exists")

type binding struct {
	tableID string
	seat    int // -1 while spectating
}

type entry struct {
	id     string
	loop   *table.Loop
	hub    *social.Hub
	cancel context.CancelFunc

	mu sync.Mutex
	// viewers maps player id to the last snapshot rendered for them; nil
	// means the next broadcast must be a full snapshot.
	viewers map[string]*view.Snapshot
}

// Registry is the table directory and traffic router.
type Registry struct {
	clock    quartz.Clock
	ledger   table.Ledger
	sessions *session.Manager
	met      *metrics.Metrics
	tickHz   int
	log      *log.Logger

	mu       sync.Mutex
	tables   map[string]*entry
	bindings map[string]*binding
}

// New creates an empty registry.
func New(clock quartz.Clock, ledger table.Ledger, sessions *session.Manager, met *metrics.Metrics, socialTickHz int, logger *log.Logger) *Registry {
	return &Registry{
		clock:    clock,
		ledger:   ledger,
		sessions: sessions,
		met:      met,
		tickHz:   socialTickHz,
		log:      logger.WithPrefix("registry"),
		tables:   map[string]*entry{},
		bindings: map[string]*binding{},
	}
}

// Create starts a table. Its goroutines live until Destroy or ctx cancel.
func (r *Registry) Create(ctx context.Context, cfg table.Config) error {
	e := &entry{id: cfg.ID, viewers: map[string]*view.Snapshot{}}
	m := table.NewMachine(cfg, randutil.NewCrypto(), r.log, func() time.Time { return r.clock.Now() })
	led := timedLedger{inner: r.ledger, obs: r.met.LedgerCommitTime}
	e.loop = table.NewLoop(m, r.clock, led, &broadcaster{r: r, e: e}, r.log)
	e.hub = social.NewHub(cfg.ID, r.clock, r.tickHz, r)

	r.mu.Lock()
	if _, ok := r.tables[cfg.ID]; ok {
		r.mu.Unlock()
		return ErrTableExists
	}
	tctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	r.tables[cfg.ID] = e
	r.mu.Unlock()

	go e.loop.Run()
	go func() {
		_ = e.hub.Run(tctx)
	}()
	go func() {
		<-tctx.Done()
		e.loop.Close()
	}()

	r.met.TablesActive.Inc()
	r.log.Info("table created", "table", cfg.ID, "seats", cfg.MaxSeats,
		"blinds", fmt.Sprintf("%d/%d", cfg.SmallBlind, cfg.BigBlind))
	return nil
}

// Destroy stops a table and unbinds everyone watching it. Seated players
// are unseated first so their stacks are released before the loop stops.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	e := r.tables[id]
	var seated []string
	if e != nil {
		delete(r.tables, id)
		for player, b := range r.bindings {
			if b.tableID == id {
				if b.seat >= 0 {
					seated = append(seated, player)
				}
				delete(r.bindings, player)
			}
		}
	}
	r.mu.Unlock()
	if e == nil {
		return
	}
	for _, player := range seated {
		if err := e.loop.Unseat(context.Background(), player); err != nil {
			r.log.Warn("unseat on destroy failed", "player", player, "table", id, "error", err)
		}
	}
	e.cancel()
	r.met.TablesActive.Dec()
	r.log.Info("table destroyed", "table", id)
}

// List returns the public summaries for every table.
func (r *Registry) List(ctx context.Context) []protocol.TableSummary {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.tables))
	for _, e := range r.tables {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]protocol.TableSummary, 0, len(entries))
	for _, e := range entries {
		s, err := e.loop.Summary(ctx)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Join binds a player to a table as a spectator and pushes them a full
// snapshot. A player may watch exactly one table.
func (r *Registry) Join(ctx context.Context, playerID, tableID string) error {
	r.mu.Lock()
	if b := r.bindings[playerID]; b != nil && b.tableID != tableID {
		r.mu.Unlock()
		return &table.Error{Code: protocol.CodeAlreadyInTable, Message: "already at table " + b.tableID}
	}
	e := r.tables[tableID]
	if e == nil {
		r.mu.Unlock()
		return &table.Error{Code: protocol.CodeTableNotFound, Message: "no such table"}
	}
	if r.bindings[playerID] == nil {
		r.bindings[playerID] = &binding{tableID: tableID, seat: -1}
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.viewers[playerID] = nil
	e.mu.Unlock()

	return e.loop.Refresh(ctx)
}

// Resync invalidates a reconnecting viewer's patch baseline so their next
// delivery is a full snapshot, whatever their lastSequenceId claims.
func (r *Registry) Resync(ctx context.Context, playerID string) error {
	e := r.entryFor(playerID)
	if e == nil {
		return &table.Error{Code: protocol.CodeTableNotFound, Message: "not at a table"}
	}
	e.mu.Lock()
	e.viewers[playerID] = nil
	e.mu.Unlock()
	return e.loop.Refresh(ctx)
}

// Leave unbinds a player, vacating their seat if they hold one.
func (r *Registry) Leave(ctx context.Context, playerID string) error {
	r.mu.Lock()
	b := r.bindings[playerID]
	var e *entry
	if b != nil {
		e = r.tables[b.tableID]
		delete(r.bindings, playerID)
	}
	r.mu.Unlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	delete(e.viewers, playerID)
	e.mu.Unlock()

	return e.loop.Unseat(ctx, playerID)
}

// Sit claims a seat at the player's bound table.
func (r *Registry) Sit(ctx context.Context, playerID, name string, seat int, buyIn int64) error {
	e, b := r.entryAndBinding(playerID)
	if e == nil {
		return &table.Error{Code: protocol.CodeTableNotFound, Message: "join a table first"}
	}
	if err := e.loop.Seat(ctx, playerID, name, seat, buyIn); err != nil {
		return err
	}
	r.mu.Lock()
	b.seat = seat
	r.mu.Unlock()
	return nil
}

// Ready marks the player ready at their table.
func (r *Registry) Ready(ctx context.Context, playerID string) error {
	e := r.entryFor(playerID)
	if e == nil {
		return &table.Error{Code: protocol.CodeTableNotFound, Message: "join a table first"}
	}
	return e.loop.Ready(ctx, playerID)
}

// Act submits a betting action for the player.
func (r *Registry) Act(ctx context.Context, playerID string, action table.Action, amount int64) error {
	e := r.entryFor(playerID)
	if e == nil {
		return &table.Error{Code: protocol.CodeTableNotFound, Message: "join a table first"}
	}
	if err := e.loop.Act(ctx, playerID, action, amount); err != nil {
		return err
	}
	r.met.ActionsTotal.WithLabelValues(action.String()).Inc()
	return nil
}

// Social posts an emote from a seated player.
func (r *Registry) Social(playerID, typ string, targetSeat *int) error {
	r.mu.Lock()
	b := r.bindings[playerID]
	var e *entry
	if b != nil {
		e = r.tables[b.tableID]
	}
	r.mu.Unlock()
	if e == nil || b.seat < 0 {
		return &table.Error{Code: protocol.CodeInvalidAction, Message: "take a seat to emote"}
	}
	before := e.hub.Dropped()
	e.hub.Post(b.seat, typ, targetSeat)
	if d := e.hub.Dropped() - before; d > 0 {
		r.met.SocialDropped.Add(float64(d))
	}
	return nil
}

// SessionExpired is wired to the session manager's grace expiry.
func (r *Registry) SessionExpired(playerID, tableID string) {
	if err := r.Leave(context.Background(), playerID); err != nil {
		r.log.Warn("expiry unseat failed", "player", playerID, "table", tableID, "error", err)
	}
}

// DeliverSocial implements social.Sink.
func (r *Registry) DeliverSocial(tableID string, events []protocol.SocialEvent) {
	r.mu.Lock()
	e := r.tables[tableID]
	r.mu.Unlock()
	if e == nil {
		return
	}
	for _, ev := range events {
		for _, viewer := range e.viewerIDs() {
			if r.sessions.Send(viewer, protocol.EventSocial, ev) == nil {
				r.met.MessagesSent.Inc()
			}
		}
	}
}

func (r *Registry) entryFor(playerID string) *entry {
	e, _ := r.entryAndBinding(playerID)
	return e
}

func (r *Registry) entryAndBinding(playerID string) (*entry, *binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bindings[playerID]
	if b == nil {
		return nil, nil
	}
	return r.tables[b.tableID], b
}

func (e *entry) viewerIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.viewers))
	for id := range e.viewers {
		out = append(out, id)
	}
	return out
}

// timedLedger observes settlement latency around the real store, failed
// commits included.
type timedLedger struct {
	inner table.Ledger
	obs   prometheus.Observer
}

func (tl timedLedger) CommitHand(ctx context.Context, tableID string, deltas map[string]int64, record *table.HandRecord) error {
	start := time.Now()
	err := tl.inner.CommitHand(ctx, tableID, deltas, record)
	tl.obs.Observe(time.Since(start).Seconds())
	return err
}

// broadcaster adapts one table's output to the session layer. Its methods
// run on the table's loop goroutine.
type broadcaster struct {
	r *Registry
	e *entry
}

func (b *broadcaster) TableUpdated(st *table.State) {
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	for viewer, cached := range b.e.viewers {
		snap := view.Personal(st, viewer)
		var (
			event   string
			payload any
		)
		if cached == nil {
			event, payload = protocol.EventGameSnapshot, snap
		} else {
			event, payload = protocol.EventStatePatch, view.Diff(cached, snap)
		}
		b.e.viewers[viewer] = snap
		if b.r.sessions.Send(viewer, event, payload) == nil {
			b.r.met.MessagesSent.Inc()
			if s := b.r.sessions.Get(viewer); s != nil {
				s.SetLastSeq(snap.SequenceID)
			}
		}
	}
}

func (b *broadcaster) Deliver(event string, data any) {
	if event == protocol.EventHandResult {
		b.r.met.HandsPlayed.Inc()
	}
	for _, viewer := range b.e.viewerIDs() {
		if b.r.sessions.Send(viewer, event, data) == nil {
			b.r.met.MessagesSent.Inc()
		}
	}
}

func (b *broadcaster) DeliverTo(playerID, event string, data any) {
	if b.r.sessions.Send(playerID, event, data) == nil {
		b.r.met.MessagesSent.Inc()
	}
}
