package verifier

import (
	"github.com/vreid/shobu/internal/pkg/wager"
)

// Claim is a client-submitted assertion of who won a match, endorsed by the
// trusted verification authority. Timestamp is unix seconds; Signature is the
// hex-encoded Ed25519 signature over the canonical payload digest.
type Claim struct {
	MatchID   string         `json:"match_id"`
	GameType  wager.GameType `json:"game_type"`
	Player1ID string         `json:"player1_id"`
	Player2ID string         `json:"player2_id"`
	WinnerID  string         `json:"winner_id"`
	GameData  wager.GameData `json:"game_data"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`
}

// Reason codes raised by the pipeline stages.
const (
	FlagSignatureMalformed = "signature_malformed"
	FlagSignatureMismatch  = "signature_mismatch"
	FlagSignatureExpired   = "signature_expired"

	FlagUnsupportedGame = "unsupported_game"
	FlagInvalidGameData = "invalid_game_data"
	FlagGameTie         = "game_tie"
	FlagWinnerMismatch  = "winner_mismatch"

	FlagHighFrequencyPlay = "high_frequency_play"
	FlagWinRateOutlier    = "win_rate_outlier"
	FlagStaleTimestamp    = "stale_timestamp"
	FlagLowConfidence     = "low_confidence"
)

const (
	StageSignature = "signature"
	StageGameLogic = "game_logic"
	StageAntiCheat = "anti_cheat"
)

// StageResult is what a single pipeline stage reports.
type StageResult struct {
	Valid      bool     `json:"valid"`
	Confidence int      `json:"confidence"`
	Flags      []string `json:"flags,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Outcome is the immutable evidence record produced for one submission
// attempt. Confidence is the minimum across stages; FailedStage names the
// first stage that rejected the claim, empty when the claim passed.
type Outcome struct {
	Valid         bool     `json:"valid"`
	Confidence    int      `json:"confidence"`
	Flags         []string `json:"flags,omitempty"`
	FailedStage   string   `json:"failed_stage,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// Err maps a rejection to its error kind. Passing outcomes map to nil.
func (o *Outcome) Err() error {
	if o.Valid {
		return nil
	}

	switch o.FailedStage {
	case StageSignature:
		for _, flag := range o.Flags {
			if flag == FlagInvalidGameData {
				return wager.ErrInvalidPayload
			}
		}

		return wager.ErrInvalidSignature
	case StageGameLogic:
		for _, flag := range o.Flags {
			switch flag {
			case FlagUnsupportedGame:
				return wager.ErrUnsupportedGame
			case FlagInvalidGameData:
				return wager.ErrInvalidPayload
			}
		}

		return wager.ErrWinnerMismatch
	default:
		return wager.ErrAntiCheatRejected
	}
}
