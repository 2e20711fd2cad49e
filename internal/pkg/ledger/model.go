package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// FeeSplit is derived from the wager, never stored independently. All parts
// reconcile exactly: PlatformFee + WinnerPayout == TotalPot and
// TreasuryShare + ReferralShare == PlatformFee.
type FeeSplit struct {
	Wager         decimal.Decimal `json:"wager"`
	TotalPot      decimal.Decimal `json:"total_pot"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	WinnerPayout  decimal.Decimal `json:"winner_payout"`
	TreasuryShare decimal.Decimal `json:"treasury_share"`
	ReferralShare decimal.Decimal `json:"referral_share"`
}

// Event types journaled for the forensic trail.
const (
	EventVerificationPassed = "verification_passed"
	EventVerificationFailed = "verification_failed"
	EventMatchSettled       = "match_settled"
	EventMatchCancelled     = "match_cancelled"
	EventMatchExpired       = "match_expired"
	EventAdminOverride      = "admin_override"
)

// SecurityEvent is an append-only audit entry. Events are never deleted; the
// journal is the only forensic trail for disputing a settlement after the
// fact.
type SecurityEvent struct {
	ID        string            `json:"id"`
	MatchID   string            `json:"match_id"`
	EventType string            `json:"event_type"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Journal persists security events. Append-only by contract.
type Journal interface {
	Append(ctx context.Context, event *SecurityEvent) error
	ListByMatch(ctx context.Context, matchID string) ([]*SecurityEvent, error)
}
