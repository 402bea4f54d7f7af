package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroom/cardroom/internal/auth"
	"github.com/cardroom/cardroom/internal/ledger"
	"github.com/cardroom/cardroom/internal/metrics"
	"github.com/cardroom/cardroom/internal/protocol"
	"github.com/cardroom/cardroom/internal/registry"
	"github.com/cardroom/cardroom/internal/session"
	"github.com/cardroom/cardroom/internal/table"
	"github.com/cardroom/cardroom/internal/view"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	logger := log.New(nil)
	clock := quartz.NewReal()

	store, err := ledger.Open(t.Context(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	var reg *registry.Registry
	sessions := session.NewManager(clock, time.Minute, logger, met.SessionsActive, func(player, tableID string) {
		reg.SessionExpired(player, tableID)
	})
	reg = registry.New(clock, store, sessions, met, 10, logger)
	require.NoError(t, reg.Create(t.Context(), table.Config{
		ID:          "t1",
		MaxSeats:    6,
		SmallBlind:  10,
		BigBlind:    20,
		TurnTimeout: 30 * time.Second,
		Countdown:   time.Hour, // never fires during tests
		PayoutDelay: time.Second,
		BanterDelay: time.Second,
	}))

	s := New(":0", 1000, auth.MockVerifier{}, store, sessions, reg, promReg, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	msg, err := protocol.NewMessage(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

// await reads until the wanted event arrives, failing on timeout.
func await(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			return msg.Data
		}
	}
	t.Fatalf("timed out waiting for %s", event)
	return nil
}

func TestHealthTablesAndMetrics(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/tables")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listing struct {
		Tables []protocol.TableSummary `json:"tables"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Tables, 1)
	assert.Equal(t, "t1", listing.Tables[0].ID)
	assert.Equal(t, "Lobby", listing.Tables[0].Phase)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cardroom_tables_active 1")

	resp, err = http.Get(ts.URL + "/tables/t1/hands")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinSitOverWebSocket(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, protocol.EventReqJoin, protocol.ReqJoin{
		AuthTicket: "mock:100:alice",
		TableID:    "t1",
	})

	var success protocol.AuthSuccess
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.EventAuthSuccess), &success))
	assert.Equal(t, "100", success.SteamID)
	assert.Equal(t, "alice", success.DisplayName)
	assert.NotEmpty(t, success.SessionToken)

	var snap view.Snapshot
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.EventGameSnapshot), &snap))
	assert.Equal(t, "t1", snap.TableID)

	send(t, conn, protocol.EventReqSit, protocol.ReqSit{SeatIndex: 2, BuyIn: 500})
	var patch view.Patch
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.EventStatePatch), &patch))
	require.Contains(t, patch.Seats, 2)
	assert.EqualValues(t, 500, patch.Seats[2].Stack)

	// A buy-in beyond the ledger balance is refused.
	send(t, conn, protocol.EventReqSit, protocol.ReqSit{SeatIndex: 3, BuyIn: 5000})
	var errData protocol.ErrorData
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.EventError), &errData))
	assert.Equal(t, protocol.CodeInsufficientChips, errData.Code)
}

func TestAuthRequiredBeforePlay(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, protocol.EventReqAction, protocol.ReqAction{Type: "FOLD"})
	var errData protocol.ErrorData
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.EventError), &errData))
	assert.Equal(t, protocol.CodeAuthFailed, errData.Code)
}

func TestBadTicketRejected(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, protocol.EventReqJoin, protocol.ReqJoin{
		AuthTicket: "garbage",
		TableID:    "t1",
	})
	var failure protocol.AuthFailure
	require.NoError(t, json.Unmarshal(await(t, conn, protocol.EventAuthFailure), &failure))
	assert.Equal(t, protocol.CodeInvalidTicket, failure.Code)
}

func TestReconnectFlow(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	first := dial(t, ts)
	send(t, first, protocol.EventReqJoin, protocol.ReqJoin{
		AuthTicket: "mock:200:bob",
		TableID:    "t1",
	})
	var success protocol.AuthSuccess
	require.NoError(t, json.Unmarshal(await(t, first, protocol.EventAuthSuccess), &success))
	await(t, first, protocol.EventGameSnapshot)
	send(t, first, protocol.EventReqSit, protocol.ReqSit{SeatIndex: 0, BuyIn: 300})
	await(t, first, protocol.EventStatePatch)
	first.Close()

	second := dial(t, ts)
	send(t, second, protocol.EventReqReconnect, protocol.ReqReconnect{
		AuthTicket:   "mock:200:bob",
		SessionToken: success.SessionToken,
		TableID:      "t1",
	})
	require.NoError(t, json.Unmarshal(await(t, second, protocol.EventAuthSuccess), &success))

	var snap view.Snapshot
	require.NoError(t, json.Unmarshal(await(t, second, protocol.EventGameSnapshot), &snap))
	require.NotNil(t, snap.Seats[0], "seat survived the drop")
	assert.EqualValues(t, 300, snap.Seats[0].Stack)

	// A token from someone else's session is useless.
	third := dial(t, ts)
	send(t, third, protocol.EventReqReconnect, protocol.ReqReconnect{
		AuthTicket:   "mock:999:mallory",
		SessionToken: success.SessionToken,
		TableID:      "t1",
	})
	var failure protocol.AuthFailure
	require.NoError(t, json.Unmarshal(await(t, third, protocol.EventAuthFailure), &failure))
	assert.Equal(t, protocol.CodeInvalidTicket, failure.Code)
}
