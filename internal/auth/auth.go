// Package auth validates platform session tickets and resolves them to a
// stable player identity. The server trusts the ticket issuer for identity
// only; chips and state are always our own.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrInvalidTicket means the issuer rejected the ticket.
	ErrInvalidTicket = errors.New("auth: invalid ticket")
	// ErrUnavailable means the issuer could not be reached; callers should
	// tell the client to retry rather than treat it as a bad ticket.
	ErrUnavailable = errors.New("auth: verification service unavailable")
)

// Identity is a verified player.
type Identity struct {
	SteamID     string
	DisplayName string
}

// Verifier turns an opaque auth ticket into an identity.
type Verifier interface {
	Verify(ctx context.Context, ticket string) (Identity, error)
}

const defaultSteamAPI = "https://api.steampowered.com"

// SteamVerifier validates tickets against the Steam web API and resolves
// the persona name in a second call.
type SteamVerifier struct {
	APIKey  string
	AppID   string
	BaseURL string
	Client  *http.Client
	Log     *log.Logger
}

// NewSteamVerifier builds a verifier with sane HTTP defaults.
func NewSteamVerifier(apiKey, appID string, logger *log.Logger) *SteamVerifier {
	return &SteamVerifier{
		APIKey:  apiKey,
		AppID:   appID,
		BaseURL: defaultSteamAPI,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Log:     logger.WithPrefix("auth"),
	}
}

type authTicketResponse struct {
	Response struct {
		Params struct {
			Result  string `json:"result"`
			SteamID string `json:"steamid"`
		} `json:"params"`
		Error *struct {
			Code int    `json:"errorcode"`
			Desc string `json:"errordesc"`
		} `json:"error"`
	} `json:"response"`
}

type playerSummariesResponse struct {
	Response struct {
		Players []struct {
			SteamID     string `json:"steamid"`
			PersonaName string `json:"personaname"`
		} `json:"players"`
	} `json:"response"`
}

// Verify implements Verifier.
func (v *SteamVerifier) Verify(ctx context.Context, ticket string) (Identity, error) {
	var ticketResp authTicketResponse
	err := v.get(ctx, "/ISteamUserAuth/AuthenticateUserTicket/v1/", url.Values{
		"key":    {v.APIKey},
		"appid":  {v.AppID},
		"ticket": {ticket},
	}, &ticketResp)
	if err != nil {
		return Identity{}, err
	}
	params := ticketResp.Response.Params
	if ticketResp.Response.Error != nil || params.Result != "OK" || params.SteamID == "" {
		return Identity{}, ErrInvalidTicket
	}

	id := Identity{SteamID: params.SteamID, DisplayName: params.SteamID}

	var summaries playerSummariesResponse
	err = v.get(ctx, "/ISteamUser/GetPlayerSummaries/v2/", url.Values{
		"key":      {v.APIKey},
		"steamids": {params.SteamID},
	}, &summaries)
	if err != nil {
		// Identity is established; a missing persona name is cosmetic.
		v.Log.Warn("persona lookup failed", "steamId", params.SteamID, "error", err)
		return id, nil
	}
	for _, p := range summaries.Response.Players {
		if p.SteamID == params.SteamID && p.PersonaName != "" {
			id.DisplayName = p.PersonaName
		}
	}
	return id, nil
}

func (v *SteamVerifier) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("auth: build request: %w", err)
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrInvalidTicket
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}

// MockVerifier accepts tickets of the form "mock:<steamid>:<name>" and is
// only wired up behind the --dev flag.
type MockVerifier struct{}

// Verify implements Verifier.
func (MockVerifier) Verify(_ context.Context, ticket string) (Identity, error) {
	parts := strings.SplitN(ticket, ":", 3)
	if len(parts) != 3 || parts[0] != "mock" || parts[1] == "" {
		return Identity{}, ErrInvalidTicket
	}
	return Identity{SteamID: parts[1], DisplayName: parts[2]}, nil
}
