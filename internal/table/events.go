package table

import (
	"time"

	"github.com/cardroom/cardroom/internal/protocol"
)

// Event is emitted by the machine and drained by the run-loop after each
// processed command. Events carry everything the loop needs to manage
// timers, fan out broadcasts, and persist the ledger.
type Event interface{ isEvent() }

// ArmTurnTimer asks the loop to start the turn timer for the acting seat.
type ArmTurnTimer struct{ Seat int }

// CancelTurnTimer cancels any armed turn timer.
type CancelTurnTimer struct{}

// ArmPhaseTimer asks the loop to schedule the timed transition out of the
// current phase.
type ArmPhaseTimer struct {
	Phase Phase
	After time.Duration
}

// PlayerActed is broadcast to the table as PLAYER_ACTION.
type PlayerActed struct {
	PlayerID string
	Action   Action
	Amount   int64
	NewPot   int64
}

// HandFinished carries the ledger unit of work and the HAND_RESULT
// broadcast. The loop must persist Deltas and Record as one unit before
// processing further commands.
type HandFinished struct {
	Deltas map[string]int64
	Record *HandRecord
	Result protocol.HandResult
}

// TableError is delivered as an ERROR event. An empty PlayerID addresses
// every seated player.
type TableError struct {
	PlayerID string
	Code     string
	Message  string
}

func (ArmTurnTimer) isEvent()    {}
func (CancelTurnTimer) isEvent() {}
func (ArmPhaseTimer) isEvent()   {}
func (PlayerActed) isEvent()     {}
func (HandFinished) isEvent()    {}
func (TableError) isEvent()      {}

// Error is a protocol-visible rejection with a stable code from the closed
// set in the protocol package. The state machine makes no mutation when
// returning one.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func errSeatTaken() *Error {
	return &Error{Code: protocol.CodeSeatTaken, Message: "seat is occupied"}
}

func errTableFull() *Error {
	return &Error{Code: protocol.CodeTableFull, Message: "every seat is occupied"}
}

func errAlreadySeated() *Error {
	return &Error{Code: protocol.CodeAlreadyInTable, Message: "player already holds a seat"}
}

func errInvalidAction(msg string) *Error {
	return &Error{Code: protocol.CodeInvalidAction, Message: msg}
}

func errNotYourTurn() *Error {
	return &Error{Code: protocol.CodeNotYourTurn, Message: "not your turn to act"}
}
