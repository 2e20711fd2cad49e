package verifier

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vreid/shobu/internal/pkg/wager"
	"go.uber.org/zap"
)

// Config holds the pipeline tunables. Penalties are soft: the anti-cheat
// stage is a risk score, not a binary gate, and only the combined
// MinimumConfidence rule can reject on its behalf.
type Config struct {
	SignatureExpiry   time.Duration
	StaleClaimAge     time.Duration
	MinimumConfidence int

	HighFrequencyWindow    time.Duration
	HighFrequencyThreshold int
	HighFrequencyPenalty   int

	WinRateFloor     float64
	WinRateCeiling   float64
	WinRateMinSample int
	WinRatePenalty   int

	StaleClaimPenalty int
}

func DefaultConfig() Config {
	return Config{
		SignatureExpiry:   5 * time.Minute,
		StaleClaimAge:     2 * time.Minute,
		MinimumConfidence: 50,

		HighFrequencyWindow:    60 * time.Second,
		HighFrequencyThreshold: 5,
		HighFrequencyPenalty:   25,

		WinRateFloor:     0.05,
		WinRateCeiling:   0.95,
		WinRateMinSample: 10,
		WinRatePenalty:   30,

		StaleClaimPenalty: 10,
	}
}

// Service runs the three-stage verification pipeline: signature authenticity,
// per-game logic validation, anti-cheat scoring. It never moves funds.
type Service struct {
	publicKey ed25519.PublicKey
	history   wager.History
	logger    *zap.Logger
	config    Config

	now func() time.Time
}

func New(publicKey ed25519.PublicKey, history wager.History, logger *zap.Logger, config Config) *Service {
	return &Service{
		publicKey: publicKey,
		history:   history,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Verify runs every stage and combines them: overall confidence is the
// minimum across stages, overall validity requires every stage valid and the
// combined confidence above the threshold. The returned Outcome is produced
// fresh per attempt and never mutated afterward. The error return is reserved
// for infrastructure failures in the history lookups.
func (s *Service) Verify(ctx context.Context, m *wager.Match, claim *Claim) (*Outcome, error) {
	signature := s.verifySignature(claim)
	game := validateGameLogic(m, claim)

	antiCheat, err := s.scoreAntiCheat(ctx, m, claim)
	if err != nil {
		return nil, fmt.Errorf("failed to score anti-cheat stage: %w", err)
	}

	outcome := &Outcome{
		Valid:      true,
		Confidence: 100,
	}

	for _, stage := range []struct {
		name   string
		result StageResult
	}{
		{StageSignature, signature},
		{StageGameLogic, game},
		{StageAntiCheat, antiCheat},
	} {
		outcome.Flags = append(outcome.Flags, stage.result.Flags...)

		if stage.result.Confidence < outcome.Confidence {
			outcome.Confidence = stage.result.Confidence
		}

		if !stage.result.Valid && outcome.FailedStage == "" {
			outcome.Valid = false
			outcome.FailedStage = stage.name
			outcome.FailureReason = stage.result.Reason
		}
	}

	if outcome.Valid && outcome.Confidence <= s.config.MinimumConfidence {
		outcome.Valid = false
		outcome.FailedStage = StageAntiCheat
		outcome.FailureReason = fmt.Sprintf("combined confidence %d below threshold", outcome.Confidence)
		outcome.Flags = append(outcome.Flags, FlagLowConfidence)
	}

	s.logger.Debug("verified result claim",
		zap.String("match_id", m.ID),
		zap.Bool("valid", outcome.Valid),
		zap.Int("confidence", outcome.Confidence),
		zap.Strings("flags", outcome.Flags),
		zap.String("failed_stage", outcome.FailedStage))

	return outcome, nil
}

func (s *Service) verifySignature(claim *Claim) StageResult {
	digest, err := ClaimDigest(claim)
	if err != nil {
		return StageResult{
			Valid:  false,
			Flags:  []string{FlagInvalidGameData},
			Reason: "claim cannot be serialized: " + err.Error(),
		}
	}

	signature, err := hex.DecodeString(claim.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return StageResult{
			Valid:  false,
			Flags:  []string{FlagSignatureMalformed},
			Reason: "signature is not a hex-encoded ed25519 signature",
		}
	}

	if !ed25519.Verify(s.publicKey, digest, signature) {
		return StageResult{
			Valid:  false,
			Flags:  []string{FlagSignatureMismatch},
			Reason: "signature does not match the verifier key",
		}
	}

	// Bounds replay risk: the claim timestamp must sit inside the expiry
	// window on both sides, so neither stale claims nor future-dated ones
	// under clock skew check out.
	claimedAt := time.Unix(claim.Timestamp, 0)

	age := s.now().Sub(claimedAt)
	if age > s.config.SignatureExpiry || age < -s.config.SignatureExpiry {
		return StageResult{
			Valid:  false,
			Flags:  []string{FlagSignatureExpired},
			Reason: "claim timestamp is outside the signature freshness window",
		}
	}

	return StageResult{
		Valid:      true,
		Confidence: 100,
	}
}

// scoreAntiCheat starts at full confidence and subtracts penalties. It never
// hard-fails on its own checks; legitimate high-variance players exist.
func (s *Service) scoreAntiCheat(ctx context.Context, m *wager.Match, claim *Claim) (StageResult, error) {
	result := StageResult{
		Valid:      true,
		Confidence: 100,
	}

	participants := []string{m.Player1}
	if m.Player2 != nil {
		participants = append(participants, *m.Player2)
	}

	since := s.now().Add(-s.config.HighFrequencyWindow)

	for _, playerID := range participants {
		count, err := s.history.CountRecentMatches(ctx, playerID, since)
		if err != nil {
			return StageResult{}, fmt.Errorf("failed to count recent matches for %s: %w", playerID, err)
		}

		if count > s.config.HighFrequencyThreshold {
			result.Confidence -= s.config.HighFrequencyPenalty
			result.Flags = append(result.Flags, FlagHighFrequencyPlay)

			break
		}
	}

	for _, playerID := range participants {
		wins, played, err := s.history.WinStats(ctx, playerID)
		if err != nil {
			return StageResult{}, fmt.Errorf("failed to load win stats for %s: %w", playerID, err)
		}

		if played < s.config.WinRateMinSample {
			continue
		}

		rate := float64(wins) / float64(played)
		if rate < s.config.WinRateFloor || rate > s.config.WinRateCeiling {
			result.Confidence -= s.config.WinRatePenalty
			result.Flags = append(result.Flags, FlagWinRateOutlier)
		}
	}

	claimedAt := time.Unix(claim.Timestamp, 0)
	if s.now().Sub(claimedAt) > s.config.StaleClaimAge {
		result.Confidence -= s.config.StaleClaimPenalty
		result.Flags = append(result.Flags, FlagStaleTimestamp)
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}

	return result, nil
}
