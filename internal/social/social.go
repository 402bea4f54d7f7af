// Package social handles the non-authoritative table chatter: emotes and
// canned reactions. Events are best-effort; they never touch the game state
// or the sequence counter, and a slow table simply drops the oldest ones.
package social

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/cardroom/cardroom/internal/protocol"
)

const (
	// queueCap bounds the per-table outbox; beyond it the oldest events drop.
	queueCap = 64
	// burstLimit is the number of events one seat may send per window.
	burstLimit  = 5
	burstWindow = time.Second
)

// Sink receives flushed batches in arrival order.
type Sink interface {
	DeliverSocial(tableID string, events []protocol.SocialEvent)
}

// Hub queues social events for one table and flushes them on a fixed tick,
// so a spam burst costs at most one broadcast per tick.
type Hub struct {
	tableID string
	clock   quartz.Clock
	tick    time.Duration
	sink    Sink

	mu      sync.Mutex
	queue   []protocol.SocialEvent
	dropped int
	recent  map[int][]time.Time // per-seat send times inside the window
}

// NewHub creates a hub flushing at the given rate.
func NewHub(tableID string, clock quartz.Clock, tickHz int, sink Sink) *Hub {
	if tickHz <= 0 {
		tickHz = 10
	}
	return &Hub{
		tableID: tableID,
		clock:   clock,
		tick:    time.Second / time.Duration(tickHz),
		sink:    sink,
		recent:  map[int][]time.Time{},
	}
}

// Run flushes until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	return h.clock.TickerFunc(ctx, h.tick, func() error {
		h.Flush()
		return nil
	}, "social-flush").Wait()
}

// Post enqueues an event from a seat. Over-limit senders are silently
// throttled; the sender still sees their own emote locally so there is
// nothing useful to report back.
func (h *Hub) Post(fromSeat int, typ string, targetSeat *int) {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	times := h.recent[fromSeat]
	live := times[:0]
	for _, ts := range times {
		if now.Sub(ts) < burstWindow {
			live = append(live, ts)
		}
	}
	if len(live) >= burstLimit {
		h.recent[fromSeat] = live
		return
	}
	h.recent[fromSeat] = append(live, now)

	if len(h.queue) >= queueCap {
		h.queue = h.queue[1:]
		h.dropped++
	}
	h.queue = append(h.queue, protocol.SocialEvent{
		FromSeat:   fromSeat,
		Type:       typ,
		TargetSeat: targetSeat,
	})
}

// Flush delivers everything queued since the last tick.
func (h *Hub) Flush() {
	h.mu.Lock()
	batch := h.queue
	h.queue = nil
	h.mu.Unlock()

	if len(batch) > 0 {
		h.sink.DeliverSocial(h.tableID, batch)
	}
}

// Dropped reports how many events were shed to the queue bound.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
