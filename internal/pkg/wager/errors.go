package wager

import "errors"

// The closed error set callers are expected to discriminate with errors.Is.
// Validation errors are rejected before any side effect, state errors
// represent races or stale client state, verification errors leave the match
// untouched apart from the audit trail, and escrow errors keep the match in a
// recoverable state.
var (
	ErrUnsupportedGame  = errors.New("unsupported game type")
	ErrWagerOutOfRange  = errors.New("wager out of range")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrPendingMatchOpen = errors.New("player already has a pending match")

	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMatchExpired           = errors.New("match expired")
	ErrMatchNotAvailable      = errors.New("match not available")
	ErrAlreadyJoined          = errors.New("already joined")
	ErrNotParticipant         = errors.New("not a participant")
	ErrUnauthorized           = errors.New("not authorized")

	ErrInvalidSignature  = errors.New("invalid result signature")
	ErrWinnerMismatch    = errors.New("claimed winner mismatch")
	ErrAntiCheatRejected = errors.New("rejected by anti-cheat screening")

	ErrEscrowFailure = errors.New("escrow operation failed")

	ErrMatchNotFound = errors.New("match not found")
	ErrConflict      = errors.New("concurrent modification conflict")
)
