package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steamStub(t *testing.T, ticketStatus int, ticketBody, summariesBody string) *SteamVerifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ISteamUserAuth/AuthenticateUserTicket/v1/":
			assert.Equal(t, "key1", r.URL.Query().Get("key"))
			assert.Equal(t, "480", r.URL.Query().Get("appid"))
			w.WriteHeader(ticketStatus)
			w.Write([]byte(ticketBody))
		case "/ISteamUser/GetPlayerSummaries/v2/":
			w.Write([]byte(summariesBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	v := NewSteamVerifier("key1", "480", log.New(nil))
	v.BaseURL = srv.URL
	return v
}

func TestSteamVerifyOK(t *testing.T) {
	t.Parallel()
	v := steamStub(t, http.StatusOK,
		`{"response":{"params":{"result":"OK","steamid":"7656119800000"}}}`,
		`{"response":{"players":[{"steamid":"7656119800000","personaname":"alice"}]}}`)

	id, err := v.Verify(t.Context(), "ticket-bytes")
	require.NoError(t, err)
	assert.Equal(t, "7656119800000", id.SteamID)
	assert.Equal(t, "alice", id.DisplayName)
}

func TestSteamVerifyRejected(t *testing.T) {
	t.Parallel()
	v := steamStub(t, http.StatusOK,
		`{"response":{"error":{"errorcode":101,"errordesc":"Invalid ticket"}}}`, `{}`)

	_, err := v.Verify(t.Context(), "bad")
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestSteamVerifyUnavailable(t *testing.T) {
	t.Parallel()
	v := steamStub(t, http.StatusBadGateway, `oops`, `{}`)

	_, err := v.Verify(t.Context(), "ticket")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSteamVerifyPersonaLookupBestEffort(t *testing.T) {
	t.Parallel()
	v := steamStub(t, http.StatusOK,
		`{"response":{"params":{"result":"OK","steamid":"7656119800000"}}}`,
		`not json`)

	id, err := v.Verify(t.Context(), "ticket")
	require.NoError(t, err)
	assert.Equal(t, "7656119800000", id.DisplayName, "falls back to the steam id")
}

func TestMockVerifier(t *testing.T) {
	t.Parallel()
	v := MockVerifier{}

	id, err := v.Verify(t.Context(), "mock:123:dev-alice")
	require.NoError(t, err)
	assert.Equal(t, "123", id.SteamID)
	assert.Equal(t, "dev-alice", id.DisplayName)

	for _, bad := range []string{"", "mock:", "mock::name", "real-ticket", "mock:123"} {
		_, err := v.Verify(t.Context(), bad)
		assert.ErrorIs(t, err, ErrInvalidTicket, bad)
	}
}
