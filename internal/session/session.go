// Package session tracks authenticated connections and survives transport
// drops: a disconnected player keeps their seat for a grace window and can
// rebind a fresh socket to the same session with their session token.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardroom/cardroom/internal/protocol"
)

var (
	// ErrUnknownSession means the token matches nothing live; the grace
	// window has passed or the token was never issued.
	ErrUnknownSession = errors.New("session: unknown or expired session token")
	// ErrNotConnected means the player has no attached transport.
	ErrNotConnected = errors.New("session: player not connected")
)

// Conn is the transport half of a session. The server's websocket
// connection implements it; tests use in-memory fakes.
type Conn interface {
	Send(msg *protocol.Message) error
	Close()
}

// Session is one authenticated player binding.
type Session struct {
	Token    string
	PlayerID string
	Name     string
	TableID  string

	mu      sync.Mutex
	conn    Conn
	lastSeq uint64
	expiry  *quartz.Timer
}

// LastSeq returns the highest sequence id delivered on this session.
func (s *Session) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// SetLastSeq records a delivered sequence id.
func (s *Session) SetLastSeq(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

// Connected reports whether a transport is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Manager owns every live session on the server.
type Manager struct {
	clock  quartz.Clock
	grace  time.Duration
	log    *log.Logger
	active prometheus.Gauge

	// onExpire fires after the grace window with no rebind; the registry
	// uses it to vacate the player's seat.
	onExpire func(playerID, tableID string)

	mu       sync.Mutex
	byToken  map[string]*Session
	byPlayer map[string]*Session
}

// NewManager creates a session manager. The gauge tracks live sessions
// through the grace window; onExpire may be nil.
func NewManager(clock quartz.Clock, grace time.Duration, logger *log.Logger, active prometheus.Gauge, onExpire func(playerID, tableID string)) *Manager {
	return &Manager{
		clock:    clock,
		grace:    grace,
		log:      logger.WithPrefix("session"),
		active:   active,
		onExpire: onExpire,
		byToken:  map[string]*Session{},
		byPlayer: map[string]*Session{},
	}
}

// Open creates a session for an authenticated player and attaches the
// transport. An existing session for the same player is torn down first;
// one player, one session.
func (m *Manager) Open(playerID, name, tableID string, conn Conn) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.byPlayer[playerID]; old != nil {
		m.dropLocked(old)
		old.mu.Lock()
		if old.conn != nil {
			old.conn.Close()
		}
		old.mu.Unlock()
	}

	s := &Session{
		Token:    newToken(),
		PlayerID: playerID,
		Name:     name,
		TableID:  tableID,
		conn:     conn,
	}
	m.byToken[s.Token] = s
	m.byPlayer[playerID] = s
	m.active.Inc()
	m.log.Info("session opened", "player", playerID, "table", tableID)
	return s
}

// Rebind attaches a new transport to a disconnected session. It fails once
// the grace window has elapsed.
func (m *Manager) Rebind(token string, conn Conn) (*Session, error) {
	m.mu.Lock()
	s := m.byToken[token]
	m.mu.Unlock()
	if s == nil {
		return nil, ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	m.log.Info("session rebound", "player", s.PlayerID, "table", s.TableID)
	return s, nil
}

// Disconnect detaches the transport and starts the grace timer. The seat is
// kept; blinds and timeouts keep applying to the absent player.
func (m *Manager) Disconnect(playerID string) {
	m.mu.Lock()
	s := m.byPlayer[playerID]
	m.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.expiry = m.clock.AfterFunc(m.grace, func() {
		m.expire(s)
	})
	m.log.Info("session disconnected, grace running", "player", playerID, "grace", m.grace)
}

// Close ends a session immediately with no grace window (explicit leave).
func (m *Manager) Close(playerID string) {
	m.mu.Lock()
	s := m.byPlayer[playerID]
	if s != nil {
		m.dropLocked(s)
	}
	m.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func (m *Manager) expire(s *Session) {
	m.mu.Lock()
	// A rebind may have raced the timer; only expire if still detached.
	s.mu.Lock()
	live := s.conn != nil
	s.mu.Unlock()
	if live || m.byToken[s.Token] != s {
		m.mu.Unlock()
		return
	}
	m.dropLocked(s)
	m.mu.Unlock()

	m.log.Info("session expired", "player", s.PlayerID, "table", s.TableID)
	if m.onExpire != nil {
		m.onExpire(s.PlayerID, s.TableID)
	}
}

func (m *Manager) dropLocked(s *Session) {
	delete(m.byToken, s.Token)
	delete(m.byPlayer, s.PlayerID)
	m.active.Dec()
}

// Lookup returns the session a token names without touching its transport.
func (m *Manager) Lookup(token string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byToken[token]
}

// Get returns the live session for a player, if any.
func (m *Manager) Get(playerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPlayer[playerID]
}

// Send delivers an event to a player's transport. Detached sessions drop
// the message; the client recovers state on rebind.
func (m *Manager) Send(playerID, event string, data any) error {
	s := m.Get(playerID)
	if s == nil {
		return ErrUnknownSession
	}
	msg, err := protocol.NewMessage(event, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("session: system entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
