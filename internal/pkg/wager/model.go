package wager

import (
	"time"

	"github.com/shopspring/decimal"
)

type GameType string

const (
	GameCoinFlip          GameType = "coin_flip"
	GameRockPaperScissors GameType = "rock_paper_scissors"
	GameDiceRoll          GameType = "dice_roll"
)

func (g GameType) Supported() bool {
	switch g {
	case GameCoinFlip, GameRockPaperScissors, GameDiceRoll:
		return true
	}

	return false
}

type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

type CoinFlipData struct {
	Player1Choice string `json:"player1_choice"`
	Player2Choice string `json:"player2_choice"`
	Result        string `json:"result"`
}

type RockPaperScissorsData struct {
	Player1Choice string `json:"player1_choice"`
	Player2Choice string `json:"player2_choice"`
}

type DiceRollData struct {
	Player1Roll int `json:"player1_roll"`
	Player2Roll int `json:"player2_roll"`
}

// GameData is a tagged union over the supported game payloads.
// Exactly one variant is set for a well-formed claim.
type GameData struct {
	CoinFlip          *CoinFlipData          `json:"coin_flip,omitempty"`
	RockPaperScissors *RockPaperScissorsData `json:"rock_paper_scissors,omitempty"`
	DiceRoll          *DiceRollData          `json:"dice_roll,omitempty"`
}

func (d GameData) Type() (GameType, bool) {
	set := 0

	var result GameType

	if d.CoinFlip != nil {
		set++
		result = GameCoinFlip
	}

	if d.RockPaperScissors != nil {
		set++
		result = GameRockPaperScissors
	}

	if d.DiceRoll != nil {
		set++
		result = GameDiceRoll
	}

	if set != 1 {
		return "", false
	}

	return result, true
}

type Match struct {
	ID       string          `json:"id"`
	GameType GameType        `json:"game_type"`
	Wager    decimal.Decimal `json:"wager"`
	State    State           `json:"state"`

	Player1 string  `json:"player1"`
	Player2 *string `json:"player2,omitempty"`

	EscrowAddress *string `json:"escrow_address,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	Expiry    time.Time  `json:"expiry"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`

	Winner          *string   `json:"winner,omitempty"`
	Result          *GameData `json:"result,omitempty"`
	ResultSignature *string   `json:"result_signature,omitempty"`

	// Version implements optimistic concurrency in the repository;
	// it is bumped on every successful update.
	Version uint64 `json:"version"`
}

func (m *Match) Terminal() bool {
	return m.State == StateCompleted || m.State == StateCancelled
}

func (m *Match) Expired(now time.Time) bool {
	return m.State == StatePending && !now.Before(m.Expiry)
}

func (m *Match) Participant(playerID string) bool {
	if playerID == m.Player1 {
		return true
	}

	return m.Player2 != nil && playerID == *m.Player2
}
