package match

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vreid/shobu/internal/pkg/wager"
)

// Config bounds what the lifecycle accepts. Wager limits are inclusive.
type Config struct {
	MinWager      decimal.Decimal
	MaxWager      decimal.Decimal
	DefaultExpiry time.Duration
	MaxExpiry     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinWager:      decimal.RequireFromString("0.01"),
		MaxWager:      decimal.RequireFromString("100"),
		DefaultExpiry: 30 * time.Minute,
		MaxExpiry:     24 * time.Hour,
	}
}

type CreateRequest struct {
	GameType      string `json:"game_type"      validate:"required"`
	Wager         string `json:"wager"          validate:"required"`
	ExpiryMinutes int    `json:"expiry_minutes" validate:"omitempty,gt=0"`
}

type SubmitResultRequest struct {
	WinnerID  string         `json:"winner_id" validate:"required"`
	GameData  wager.GameData `json:"game_data"`
	Timestamp int64          `json:"timestamp" validate:"required"`
	Signature string         `json:"signature" validate:"required"`
}

type ForceCancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}
