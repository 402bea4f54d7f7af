package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/cardroom/cardroom/internal/auth"
	"github.com/cardroom/cardroom/internal/ledger"
	"github.com/cardroom/cardroom/internal/protocol"
	"github.com/cardroom/cardroom/internal/table"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// ErrConnectionClosed is returned when sending on a torn-down connection.
var ErrConnectionClosed = websocket.ErrCloseSent

// Connection wraps one client websocket. It implements session.Conn; after
// authentication every outbound event goes through the session manager,
// which holds a reference to this connection until the grace window ends.
type Connection struct {
	conn   *websocket.Conn
	send   chan *protocol.Message
	srv    *Server
	logger *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	playerID string
}

func newConnection(conn *websocket.Conn, srv *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:   conn,
		send:   make(chan *protocol.Message, 256),
		srv:    srv,
		logger: srv.log.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close tears the socket down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		_ = c.conn.Close()
	})
}

// Send implements session.Conn. A full buffer means the client cannot keep
// up; dropping the connection lets them recover through a reconnect.
func (c *Connection) Send(msg *protocol.Message) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("send on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("send buffer full, closing connection", "player", c.player())
		c.Close()
		return ErrConnectionClosed
	}
}

func (c *Connection) setPlayer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = id
}

func (c *Connection) player() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

func (c *Connection) readPump() {
	defer func() {
		c.Close()
		if id := c.player(); id != "" {
			// Keep the seat; the session manager runs the grace window.
			c.srv.sessions.Disconnect(id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) handleMessage(msg *protocol.Message) {
	c.logger.Debug("received message", "event", msg.Event, "player", c.player())

	switch msg.Event {
	case protocol.EventReqJoin:
		var data protocol.ReqJoin
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(protocol.CodeInvalidAction, "malformed REQ_JOIN payload")
			return
		}
		c.handleJoin(data)

	case protocol.EventReqReconnect:
		var data protocol.ReqReconnect
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(protocol.CodeInvalidAction, "malformed REQ_RECONNECT payload")
			return
		}
		c.handleReconnect(data)

	case protocol.EventReqSit:
		var data protocol.ReqSit
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(protocol.CodeInvalidAction, "malformed REQ_SIT payload")
			return
		}
		c.handleSit(data)

	case protocol.EventReqReady:
		c.authed(func(id string) error {
			return c.srv.registry.Ready(c.ctx, id)
		})

	case protocol.EventReqAction:
		var data protocol.ReqAction
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(protocol.CodeInvalidAction, "malformed REQ_ACTION payload")
			return
		}
		c.handleAction(data)

	case protocol.EventReqSocial:
		var data protocol.ReqSocial
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(protocol.CodeInvalidAction, "malformed REQ_SOCIAL payload")
			return
		}
		c.authed(func(id string) error {
			return c.srv.registry.Social(id, data.Type, data.TargetSeat)
		})

	case protocol.EventReqLeave:
		c.handleLeave()

	default:
		c.sendError(protocol.CodeInvalidAction, "unknown event "+msg.Event)
	}
}

func (c *Connection) handleJoin(data protocol.ReqJoin) {
	identity, err := c.srv.verifier.Verify(c.ctx, data.AuthTicket)
	if err != nil {
		c.sendAuthFailure(err)
		return
	}

	user, err := c.srv.ledger.FindOrCreate(c.ctx, identity.SteamID, identity.DisplayName, c.srv.defaultBuyIn)
	if err != nil {
		c.logger.Error("ledger lookup failed", "steamId", identity.SteamID, "error", err)
		c.sendError(protocol.CodeInternal, "account unavailable")
		return
	}

	sess := c.srv.sessions.Open(user.SteamID, user.DisplayName, data.TableID, c)
	c.setPlayer(user.SteamID)

	c.sendEvent(protocol.EventAuthSuccess, protocol.AuthSuccess{
		SteamID:      user.SteamID,
		DisplayName:  user.DisplayName,
		SessionToken: sess.Token,
	})

	if err := c.srv.registry.Join(c.ctx, user.SteamID, data.TableID); err != nil {
		c.sendTableError(err)
	}
}

func (c *Connection) handleReconnect(data protocol.ReqReconnect) {
	identity, err := c.srv.verifier.Verify(c.ctx, data.AuthTicket)
	if err != nil {
		c.sendAuthFailure(err)
		return
	}

	// The ticket, not the token, is the proof of identity: rebind targets
	// whatever session the verified player still holds. A supplied token
	// must match, so one player cannot probe another's session state.
	sess := c.srv.sessions.Get(identity.SteamID)
	if sess == nil || (data.SessionToken != "" && data.SessionToken != sess.Token) {
		c.sendEvent(protocol.EventAuthFailure, protocol.AuthFailure{
			Code:    protocol.CodeInvalidTicket,
			Message: "session expired, join again",
		})
		return
	}
	if _, err := c.srv.sessions.Rebind(sess.Token, c); err != nil {
		c.sendEvent(protocol.EventAuthFailure, protocol.AuthFailure{
			Code:    protocol.CodeInvalidTicket,
			Message: "session expired, join again",
		})
		return
	}
	c.setPlayer(sess.PlayerID)

	c.sendEvent(protocol.EventAuthSuccess, protocol.AuthSuccess{
		SteamID:      sess.PlayerID,
		DisplayName:  sess.Name,
		SessionToken: sess.Token,
	})

	// Whatever lastSequenceId the client claims, a full snapshot is the
	// only baseline the server can vouch for after a gap.
	if err := c.srv.registry.Resync(c.ctx, sess.PlayerID); err != nil {
		c.sendTableError(err)
	}
}

func (c *Connection) handleSit(data protocol.ReqSit) {
	c.authed(func(id string) error {
		balance, err := c.srv.ledger.Balance(c.ctx, id)
		if err != nil {
			return err
		}
		if data.BuyIn <= 0 || data.BuyIn > balance {
			return &table.Error{
				Code:    protocol.CodeInsufficientChips,
				Message: "buy-in exceeds ledger balance",
			}
		}
		sess := c.srv.sessions.Get(id)
		name := id
		if sess != nil {
			name = sess.Name
		}
		return c.srv.registry.Sit(c.ctx, id, name, data.SeatIndex, data.BuyIn)
	})
}

func (c *Connection) handleAction(data protocol.ReqAction) {
	c.authed(func(id string) error {
		action, err := table.ParseAction(data.Type)
		if err != nil {
			return &table.Error{Code: protocol.CodeInvalidAction, Message: err.Error()}
		}
		return c.srv.registry.Act(c.ctx, id, action, data.Amount)
	})
}

func (c *Connection) handleLeave() {
	id := c.player()
	if id == "" {
		return
	}
	if err := c.srv.registry.Leave(c.ctx, id); err != nil {
		c.sendTableError(err)
		return
	}
	c.srv.sessions.Close(id)
	c.setPlayer("")
}

// authed runs fn with the authenticated player id, reporting failures to
// the client as protocol errors.
func (c *Connection) authed(fn func(id string) error) {
	id := c.player()
	if id == "" {
		c.sendError(protocol.CodeAuthFailed, "authenticate with REQ_JOIN first")
		return
	}
	if err := fn(id); err != nil {
		c.sendTableError(err)
	}
}

func (c *Connection) sendTableError(err error) {
	var terr *table.Error
	switch {
	case errors.As(err, &terr):
		c.sendError(terr.Code, terr.Message)
	case errors.Is(err, ledger.ErrInsufficientChips):
		c.sendError(protocol.CodeInsufficientChips, "insufficient chips")
	default:
		c.logger.Error("request failed", "player", c.player(), "error", err)
		c.sendError(protocol.CodeInternal, "internal error")
	}
}

func (c *Connection) sendAuthFailure(err error) {
	code := protocol.CodeInvalidTicket
	msg := "ticket rejected"
	if errors.Is(err, auth.ErrUnavailable) {
		code = protocol.CodeAuthFailed
		msg = "verification unavailable, retry"
	}
	c.sendEvent(protocol.EventAuthFailure, protocol.AuthFailure{Code: code, Message: msg})
}

func (c *Connection) sendError(code, message string) {
	c.sendEvent(protocol.EventError, protocol.ErrorData{Code: code, Message: message})
}

func (c *Connection) sendEvent(event string, data any) {
	msg, err := protocol.NewMessage(event, data)
	if err != nil {
		c.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	_ = c.Send(msg)
}
