package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vreid/shobu/internal/pkg/verifier"
	"go.uber.org/zap"
)

var two = decimal.NewFromInt(2)

// Service derives fee splits and records settlement decisions. The split is a
// total function over positive wagers; it never errors.
type Service struct {
	feeRate       decimal.Decimal
	treasuryRatio decimal.Decimal

	journal Journal
	logger  *zap.Logger

	now func() time.Time
}

func New(feeRate, treasuryRatio decimal.Decimal, journal Journal, logger *zap.Logger) *Service {
	return &Service{
		feeRate:       feeRate,
		treasuryRatio: treasuryRatio,
		journal:       journal,
		logger:        logger,
		now:           time.Now,
	}
}

// Split computes the payout breakdown for a wager. Decimal multiplication is
// exact, and both remainders are derived by subtraction, so the parts always
// sum back to the pot without rounding leaks.
func (s *Service) Split(wager decimal.Decimal) FeeSplit {
	totalPot := wager.Mul(two)
	platformFee := totalPot.Mul(s.feeRate)
	winnerPayout := totalPot.Sub(platformFee)
	treasuryShare := platformFee.Mul(s.treasuryRatio)
	referralShare := platformFee.Sub(treasuryShare)

	return FeeSplit{
		Wager:         wager,
		TotalPot:      totalPot,
		PlatformFee:   platformFee,
		WinnerPayout:  winnerPayout,
		TreasuryShare: treasuryShare,
		ReferralShare: referralShare,
	}
}

// RecordVerification journals one verification attempt, pass or fail.
func (s *Service) RecordVerification(ctx context.Context, matchID, submitterID string, outcome *verifier.Outcome) error {
	eventType := EventVerificationFailed
	if outcome.Valid {
		eventType = EventVerificationPassed
	}

	details := map[string]string{
		"submitter":  submitterID,
		"confidence": fmt.Sprintf("%d", outcome.Confidence),
	}

	if len(outcome.Flags) > 0 {
		details["flags"] = fmt.Sprintf("%v", outcome.Flags)
	}

	if outcome.FailedStage != "" {
		details["failed_stage"] = outcome.FailedStage
		details["failure_reason"] = outcome.FailureReason
	}

	return s.record(ctx, matchID, eventType, details)
}

// RecordSettlement journals the payout decision for a completed match.
func (s *Service) RecordSettlement(ctx context.Context, matchID, winnerID string, split FeeSplit) error {
	return s.record(ctx, matchID, EventMatchSettled, map[string]string{
		"winner":         winnerID,
		"total_pot":      split.TotalPot.String(),
		"platform_fee":   split.PlatformFee.String(),
		"winner_payout":  split.WinnerPayout.String(),
		"treasury_share": split.TreasuryShare.String(),
		"referral_share": split.ReferralShare.String(),
	})
}

// RecordCancellation journals a cancel or expiry path.
func (s *Service) RecordCancellation(ctx context.Context, matchID, eventType, requesterID string) error {
	return s.record(ctx, matchID, eventType, map[string]string{
		"requester": requesterID,
	})
}

// RecordOverride journals an admin-style override.
func (s *Service) RecordOverride(ctx context.Context, matchID, adminID, reason string) error {
	return s.record(ctx, matchID, EventAdminOverride, map[string]string{
		"admin":  adminID,
		"reason": reason,
	})
}

// Events returns the journal entries for a match, oldest first.
func (s *Service) Events(ctx context.Context, matchID string) ([]*SecurityEvent, error) {
	events, err := s.journal.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}

	return events, nil
}

func (s *Service) record(ctx context.Context, matchID, eventType string, details map[string]string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate event ID: %w", err)
	}

	event := &SecurityEvent{
		ID:        id.String(),
		MatchID:   matchID,
		EventType: eventType,
		Details:   details,
		Timestamp: s.now(),
	}

	err = s.journal.Append(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to append security event: %w", err)
	}

	s.logger.Info("security event recorded",
		zap.String("match_id", matchID),
		zap.String("event_type", eventType))

	return nil
}
