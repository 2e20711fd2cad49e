package verifier

import (
	"fmt"

	"github.com/vreid/shobu/internal/pkg/wager"
)

// Per-game confidence ceilings. Kept as tunables rather than per-call magic:
// the more deterministic the game transcript, the higher the ceiling.
const (
	ConfidenceCoinFlip          = 90
	ConfidenceRockPaperScissors = 95
	ConfidenceDiceRoll          = 85
)

// validateGameLogic recomputes the true winner from the submitted transcript
// and compares it against the claimed one. Pure; no lookups.
func validateGameLogic(m *wager.Match, claim *Claim) StageResult {
	if claim.GameType != m.GameType {
		return gameFailure(FlagInvalidGameData,
			fmt.Sprintf("claim game type %s does not match %s", claim.GameType, m.GameType))
	}

	dataType, ok := claim.GameData.Type()
	if !ok {
		return gameFailure(FlagInvalidGameData, "game data must carry exactly one payload")
	}

	if dataType != m.GameType {
		return gameFailure(FlagInvalidGameData,
			fmt.Sprintf("game data payload %s does not match %s", dataType, m.GameType))
	}

	switch m.GameType {
	case wager.GameCoinFlip:
		return validateCoinFlip(m, claim)
	case wager.GameRockPaperScissors:
		return validateRockPaperScissors(m, claim)
	case wager.GameDiceRoll:
		return validateDiceRoll(m, claim)
	default:
		return gameFailure(FlagUnsupportedGame, fmt.Sprintf("no validator for game type %s", m.GameType))
	}
}

func validateCoinFlip(m *wager.Match, claim *Claim) StageResult {
	data := claim.GameData.CoinFlip

	if !coinSide(data.Player1Choice) || !coinSide(data.Player2Choice) || !coinSide(data.Result) {
		return gameFailure(FlagInvalidGameData, "coin flip choices and result must be heads or tails")
	}

	if data.Player1Choice == data.Player2Choice {
		return gameFailure(FlagInvalidGameData, "players cannot pick the same side")
	}

	winner := *m.Player2
	if data.Player1Choice == data.Result {
		winner = m.Player1
	}

	return compareWinner(winner, claim.WinnerID, ConfidenceCoinFlip)
}

func validateRockPaperScissors(m *wager.Match, claim *Claim) StageResult {
	data := claim.GameData.RockPaperScissors

	if !rpsChoice(data.Player1Choice) || !rpsChoice(data.Player2Choice) {
		return gameFailure(FlagInvalidGameData, "choices must be rock, paper or scissors")
	}

	// 1v1 matches cannot legitimately tie under this design.
	if data.Player1Choice == data.Player2Choice {
		return gameFailure(FlagGameTie, "equal choices cannot settle a match")
	}

	winner := *m.Player2
	if rpsBeats(data.Player1Choice, data.Player2Choice) {
		winner = m.Player1
	}

	return compareWinner(winner, claim.WinnerID, ConfidenceRockPaperScissors)
}

func validateDiceRoll(m *wager.Match, claim *Claim) StageResult {
	data := claim.GameData.DiceRoll

	if data.Player1Roll < 1 || data.Player1Roll > 6 || data.Player2Roll < 1 || data.Player2Roll > 6 {
		return gameFailure(FlagInvalidGameData, "rolls must be between 1 and 6")
	}

	// No tie-break rule is defined for dice; equal rolls cannot settle and
	// the honest party may resubmit a fresh transcript.
	if data.Player1Roll == data.Player2Roll {
		return gameFailure(FlagGameTie, "equal rolls cannot settle a match")
	}

	winner := *m.Player2
	if data.Player1Roll > data.Player2Roll {
		winner = m.Player1
	}

	return compareWinner(winner, claim.WinnerID, ConfidenceDiceRoll)
}

func compareWinner(computed, claimed string, confidence int) StageResult {
	if computed != claimed {
		return gameFailure(FlagWinnerMismatch,
			fmt.Sprintf("transcript says %s won, claim says %s", computed, claimed))
	}

	return StageResult{
		Valid:      true,
		Confidence: confidence,
	}
}

func gameFailure(flag, reason string) StageResult {
	return StageResult{
		Valid:      false,
		Confidence: 0,
		Flags:      []string{flag},
		Reason:     reason,
	}
}

func coinSide(s string) bool {
	return s == "heads" || s == "tails"
}

func rpsChoice(s string) bool {
	return s == "rock" || s == "paper" || s == "scissors"
}

func rpsBeats(a, b string) bool {
	return (a == "rock" && b == "scissors") ||
		(a == "paper" && b == "rock") ||
		(a == "scissors" && b == "paper")
}
