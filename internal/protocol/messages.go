// Package protocol defines the wire messages exchanged with clients. Every
// message is a tagged JSON record with a string event name and an object
// payload; no framing beyond what the transport provides.
package protocol

import "encoding/json"

// Message is the envelope for every client and server event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage marshals a payload into an envelope.
func NewMessage(event string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{Event: event, Data: raw}, nil
}

// Client -> server event names.
const (
	EventReqJoin      = "REQ_JOIN"
	EventReqReconnect = "REQ_RECONNECT"
	EventReqSit       = "REQ_SIT"
	EventReqReady     = "REQ_READY"
	EventReqAction    = "REQ_ACTION"
	EventReqSocial    = "REQ_SOCIAL"
	EventReqLeave     = "REQ_LEAVE"
)

// Server -> client event names.
const (
	EventAuthSuccess  = "AUTH_SUCCESS"
	EventAuthFailure  = "AUTH_FAILURE"
	EventGameSnapshot = "GAME_SNAPSHOT"
	EventStatePatch   = "STATE_PATCH"
	EventPlayerAction = "PLAYER_ACTION"
	EventHandResult   = "HAND_RESULT"
	EventSocial       = "SOCIAL"
	EventError        = "ERROR"
)

// Stable error codes. Messages are human-readable; codes are the contract.
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeInvalidTicket     = "INVALID_TICKET"
	CodeTableFull         = "TABLE_FULL"
	CodeSeatTaken         = "SEAT_TAKEN"
	CodeInvalidAction     = "INVALID_ACTION"
	CodeNotYourTurn       = "NOT_YOUR_TURN"
	CodeInsufficientChips = "INSUFFICIENT_CHIPS"
	CodeAlreadyInTable    = "ALREADY_IN_TABLE"
	CodeTableNotFound     = "TABLE_NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// Client -> server payloads.

type ReqJoin struct {
	AuthTicket string `json:"authTicket"`
	TableID    string `json:"tableId"`
}

type ReqReconnect struct {
	AuthTicket     string `json:"authTicket"`
	SessionToken   string `json:"sessionToken"`
	TableID        string `json:"tableId"`
	LastSequenceID uint64 `json:"lastSequenceId"`
}

type ReqSit struct {
	SeatIndex int   `json:"seatIndex"`
	BuyIn     int64 `json:"buyIn"`
}

type ReqAction struct {
	Type   string `json:"type"` // FOLD, CHECK, CALL, RAISE, ALL_IN
	Amount int64  `json:"amount,omitempty"`
}

type ReqSocial struct {
	Type       string `json:"type"`
	TargetSeat *int   `json:"targetSeat,omitempty"`
}

// Server -> client payloads.

type AuthSuccess struct {
	SteamID      string `json:"steamId"`
	DisplayName  string `json:"displayName"`
	SessionToken string `json:"sessionToken"`
}

type AuthFailure struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PlayerAction struct {
	SteamID string `json:"steamId"`
	Action  string `json:"action"`
	Amount  int64  `json:"amount,omitempty"`
	NewPot  int64  `json:"newPot"`
}

type WinnerEntry struct {
	SteamID  string   `json:"steamId"`
	Cards    []string `json:"cards"`
	BestFive []string `json:"bestFive,omitempty"`
	HandRank string   `json:"handRank"`
	Amount   int64    `json:"amount"`
}

type PotEntry struct {
	Amount   int64    `json:"amount"`
	Eligible []string `json:"eligible"`
}

type HandResult struct {
	Winners []WinnerEntry `json:"winners"`
	Pots    []PotEntry    `json:"pots"`
}

type SocialEvent struct {
	FromSeat   int    `json:"fromSeat"`
	Type       string `json:"type"`
	TargetSeat *int   `json:"targetSeat,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TableSummary is the public listing entry served by GET /tables.
type TableSummary struct {
	ID          string `json:"id"`
	SeatsFilled int    `json:"seatsFilled"`
	MaxSeats    int    `json:"maxSeats"`
	Phase       string `json:"phase"`
	SmallBlind  int64  `json:"smallBlind"`
	BigBlind    int64  `json:"bigBlind"`
}
