package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vreid/shobu/internal/pkg/escrow"
	"github.com/vreid/shobu/internal/pkg/ledger"
	"github.com/vreid/shobu/internal/pkg/verifier"
	"github.com/vreid/shobu/internal/pkg/wager"
	"go.uber.org/zap"
)

// Service owns the match state machine: Pending -> InProgress -> Completed,
// with Pending -> Cancelled on cancel/expiry. The repository is the single
// source of truth; the escrow client is the only mutator of real funds, and
// no transition is reported committed before the escrow call settled.
type Service struct {
	config   Config
	repo     wager.Repository
	escrow   escrow.Client
	verifier *verifier.Service
	ledger   *ledger.Service
	logger   *zap.Logger

	// Per-match mutual exclusion; unrelated matches proceed in parallel.
	locks sync.Map

	now func() time.Time
}

func New(
	config Config,
	repo wager.Repository,
	escrowClient escrow.Client,
	verifierService *verifier.Service,
	ledgerService *ledger.Service,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:   config,
		repo:     repo,
		escrow:   escrowClient,
		verifier: verifierService,
		ledger:   ledgerService,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) lockFor(matchID string) *sync.Mutex {
	value, _ := s.locks.LoadOrStore(matchID, &sync.Mutex{})

	//nolint:forcetypeassert
	return value.(*sync.Mutex)
}

// Create persists a new pending match and opens its escrow. When escrow
// opening fails the match record is deleted again, so no record without an
// escrow address ever survives.
func (s *Service) Create(ctx context.Context, creatorID string, gameType wager.GameType, amount decimal.Decimal, expiry time.Duration) (*wager.Match, error) {
	if !gameType.Supported() {
		return nil, fmt.Errorf("game type %q: %w", gameType, wager.ErrUnsupportedGame)
	}

	if amount.LessThan(s.config.MinWager) || amount.GreaterThan(s.config.MaxWager) {
		return nil, fmt.Errorf("wager %s outside [%s, %s]: %w",
			amount, s.config.MinWager, s.config.MaxWager, wager.ErrWagerOutOfRange)
	}

	if expiry <= 0 {
		expiry = s.config.DefaultExpiry
	}

	if expiry > s.config.MaxExpiry {
		expiry = s.config.MaxExpiry
	}

	var result *wager.Match

	// The whole check-then-create window runs under a per-creator lock, so
	// two concurrent creates by the same player cannot both slip past the
	// one-pending-match rule and open two escrows.
	err := s.withLock("creator:"+creatorID, func() error {
		// One outstanding wager per player; a stale pending match is expired
		// on the spot instead of blocking the new one.
		existing, err := s.repo.FindPendingByPlayer(ctx, creatorID)
		if err != nil {
			return fmt.Errorf("failed to look up pending matches: %w", err)
		}

		if existing != nil {
			if !existing.Expired(s.now()) {
				return fmt.Errorf("match %s: %w", existing.ID, wager.ErrPendingMatchOpen)
			}

			err = s.withLock(existing.ID, func() error {
				return s.expire(ctx, existing.ID)
			})
			if err != nil {
				return err
			}
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate match ID: %w", err)
		}

		now := s.now()

		m := &wager.Match{
			ID:        id.String(),
			GameType:  gameType,
			Wager:     amount,
			State:     wager.StatePending,
			Player1:   creatorID,
			CreatedAt: now,
			Expiry:    now.Add(expiry),
		}

		err = s.repo.Create(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to persist match: %w", err)
		}

		address, err := s.escrow.Open(ctx, m.ID, creatorID, amount)
		if err != nil {
			// Compensating delete keeps creation and escrow opening atomic
			// from the caller's perspective.
			if deleteErr := s.repo.Delete(ctx, m.ID); deleteErr != nil {
				s.logger.Error("failed to delete match after escrow-open failure",
					zap.String("match_id", m.ID), zap.Error(deleteErr))
			}

			return fmt.Errorf("%w: %v", wager.ErrEscrowFailure, err)
		}

		m.EscrowAddress = &address

		err = s.repo.Update(ctx, m)
		if err != nil {
			if refundErr := s.escrow.Refund(ctx, address); refundErr != nil {
				s.logger.Error("failed to refund escrow after update failure",
					zap.String("match_id", m.ID), zap.Error(refundErr))
			}

			if deleteErr := s.repo.Delete(ctx, m.ID); deleteErr != nil {
				s.logger.Error("failed to delete match after update failure",
					zap.String("match_id", m.ID), zap.Error(deleteErr))
			}

			return fmt.Errorf("failed to record escrow address: %w", err)
		}

		s.logger.Info("match created",
			zap.String("match_id", m.ID),
			zap.String("creator", creatorID),
			zap.String("game_type", string(gameType)),
			zap.String("wager", amount.String()))

		result = m

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Join accepts the second deposit and moves the match to in-progress. Exactly
// one join can succeed per match; the loser of a race observes
// ErrMatchNotAvailable. An expired match is cancelled and refunded on the way
// out.
func (s *Service) Join(ctx context.Context, joinerID, matchID string) (*wager.Match, error) {
	var result *wager.Match

	err := s.withLock(matchID, func() error {
		m, err := s.repo.Get(ctx, matchID)
		if err != nil {
			return err
		}

		if m.State != wager.StatePending {
			return fmt.Errorf("match is %s: %w", m.State, wager.ErrMatchNotAvailable)
		}

		if joinerID == m.Player1 {
			return fmt.Errorf("cannot join own match: %w", wager.ErrAlreadyJoined)
		}

		if m.Expired(s.now()) {
			if err := s.expire(ctx, m.ID); err != nil {
				return err
			}

			return wager.ErrMatchExpired
		}

		if m.EscrowAddress == nil {
			return fmt.Errorf("match has no escrow: %w", wager.ErrMatchNotAvailable)
		}

		err = s.escrow.Join(ctx, *m.EscrowAddress, joinerID, m.Wager)
		if err != nil {
			// The match stays pending and joinable; nothing was committed.
			return fmt.Errorf("%w: %v", wager.ErrEscrowFailure, err)
		}

		now := s.now()
		m.Player2 = &joinerID
		m.State = wager.StateInProgress
		m.StartedAt = &now

		err = s.repo.Update(ctx, m)
		if err != nil {
			if errors.Is(err, wager.ErrConflict) {
				s.logger.Error("join lost a cross-process race after escrow deposit",
					zap.String("match_id", m.ID), zap.String("joiner", joinerID))

				return fmt.Errorf("%w: %w", wager.ErrMatchNotAvailable, err)
			}

			return fmt.Errorf("failed to update match: %w", err)
		}

		s.logger.Info("match joined",
			zap.String("match_id", m.ID),
			zap.String("joiner", joinerID))

		result = m

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SubmitResult runs the verification pipeline against a claimed outcome and,
// only on a fully verified claim, pays out and completes the match. A
// rejected claim does not consume the match: it stays in-progress and the
// honest party may resubmit. Every attempt lands in the audit journal.
func (s *Service) SubmitResult(ctx context.Context, submitterID, matchID string, request SubmitResultRequest) (*wager.Match, *verifier.Outcome, error) {
	var (
		result  *wager.Match
		outcome *verifier.Outcome
	)

	err := s.withLock(matchID, func() error {
		m, err := s.repo.Get(ctx, matchID)
		if err != nil {
			return err
		}

		if m.State != wager.StateInProgress {
			return fmt.Errorf("match is %s: %w", m.State, wager.ErrInvalidStateTransition)
		}

		if !m.Participant(submitterID) {
			return fmt.Errorf("submitter %s: %w", submitterID, wager.ErrNotParticipant)
		}

		if !m.Participant(request.WinnerID) {
			return fmt.Errorf("claimed winner %s: %w", request.WinnerID, wager.ErrNotParticipant)
		}

		claim := &verifier.Claim{
			MatchID:   m.ID,
			GameType:  m.GameType,
			Player1ID: m.Player1,
			Player2ID: *m.Player2,
			WinnerID:  request.WinnerID,
			GameData:  request.GameData,
			Timestamp: request.Timestamp,
			Signature: request.Signature,
		}

		outcome, err = s.verifier.Verify(ctx, m, claim)
		if err != nil {
			return err
		}

		err = s.ledger.RecordVerification(ctx, m.ID, submitterID, outcome)
		if err != nil {
			return err
		}

		if !outcome.Valid {
			return outcome.Err()
		}

		split := s.ledger.Split(m.Wager)

		err = s.escrow.Settle(ctx, *m.EscrowAddress, request.WinnerID, request.Signature)
		if err != nil {
			// A payout failure is not a verification failure; the match stays
			// in-progress so the settlement can be retried.
			return fmt.Errorf("%w: %v", wager.ErrEscrowFailure, err)
		}

		now := s.now()
		m.State = wager.StateCompleted
		m.Winner = &request.WinnerID
		m.Result = &request.GameData
		m.ResultSignature = &request.Signature
		m.SettledAt = &now

		err = s.repo.Update(ctx, m)
		if err != nil {
			// Funds moved but the record is stale; surface loudly for manual
			// resolution instead of guessing at compensation.
			s.logger.Error("match settled on-chain but state update failed",
				zap.String("match_id", m.ID), zap.Error(err))

			return fmt.Errorf("failed to update settled match: %w", err)
		}

		err = s.ledger.RecordSettlement(ctx, m.ID, request.WinnerID, split)
		if err != nil {
			s.logger.Error("failed to journal settlement",
				zap.String("match_id", m.ID), zap.Error(err))
		}

		// Terminal matches never need their lock entry again; late waiters
		// re-read the state and bail.
		s.locks.Delete(m.ID)

		s.logger.Info("match settled",
			zap.String("match_id", m.ID),
			zap.String("winner", request.WinnerID),
			zap.String("winner_payout", split.WinnerPayout.String()))

		result = m

		return nil
	})
	if err != nil {
		return nil, outcome, err
	}

	return result, outcome, nil
}

// Cancel refunds and cancels a pending match on behalf of its creator.
func (s *Service) Cancel(ctx context.Context, requesterID, matchID string) (*wager.Match, error) {
	var result *wager.Match

	err := s.withLock(matchID, func() error {
		m, err := s.repo.Get(ctx, matchID)
		if err != nil {
			return err
		}

		if m.State != wager.StatePending {
			return fmt.Errorf("match is %s: %w", m.State, wager.ErrInvalidStateTransition)
		}

		if requesterID != m.Player1 {
			return fmt.Errorf("only the creator may cancel: %w", wager.ErrUnauthorized)
		}

		err = s.cancel(ctx, m, ledger.EventMatchCancelled, requesterID)
		if err != nil {
			return err
		}

		result = m

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ForceCancel is the admin override for stuck matches, including in-progress
// ones whose settlement needs manual intervention. Terminal states stay
// terminal.
func (s *Service) ForceCancel(ctx context.Context, adminID, matchID, reason string) (*wager.Match, error) {
	var result *wager.Match

	err := s.withLock(matchID, func() error {
		m, err := s.repo.Get(ctx, matchID)
		if err != nil {
			return err
		}

		if m.Terminal() {
			return fmt.Errorf("match is %s: %w", m.State, wager.ErrInvalidStateTransition)
		}

		err = s.refund(ctx, m)
		if err != nil {
			return err
		}

		m.State = wager.StateCancelled

		err = s.repo.Update(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to update match: %w", err)
		}

		err = s.ledger.RecordOverride(ctx, m.ID, adminID, reason)
		if err != nil {
			return err
		}

		s.locks.Delete(m.ID)

		s.logger.Warn("match force-cancelled",
			zap.String("match_id", m.ID),
			zap.String("admin", adminID),
			zap.String("reason", reason))

		result = m

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Get returns a match, lazily expiring it when its pending window has passed.
func (s *Service) Get(ctx context.Context, matchID string) (*wager.Match, error) {
	var result *wager.Match

	err := s.withLock(matchID, func() error {
		m, err := s.repo.Get(ctx, matchID)
		if err != nil {
			return err
		}

		if m.Expired(s.now()) {
			err = s.expire(ctx, m.ID)
			if err != nil {
				return err
			}

			m, err = s.repo.Get(ctx, matchID)
			if err != nil {
				return err
			}
		}

		result = m

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) ListAvailable(ctx context.Context, gameType *wager.GameType, limit int) ([]*wager.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	matches, err := s.repo.ListAvailable(ctx, gameType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list available matches: %w", err)
	}

	return matches, nil
}

func (s *Service) Events(ctx context.Context, matchID string) ([]*ledger.SecurityEvent, error) {
	return s.ledger.Events(ctx, matchID)
}

func (s *Service) withLock(matchID string, fn func() error) error {
	mu := s.lockFor(matchID)
	mu.Lock()
	defer mu.Unlock()

	return fn()
}

// expire re-reads under the caller's lock and runs the compensating
// cancel-and-refund path for a pending match past its expiry.
func (s *Service) expire(ctx context.Context, matchID string) error {
	m, err := s.repo.Get(ctx, matchID)
	if err != nil {
		return err
	}

	if !m.Expired(s.now()) {
		return nil
	}

	return s.cancel(ctx, m, ledger.EventMatchExpired, m.Player1)
}

func (s *Service) cancel(ctx context.Context, m *wager.Match, eventType, requesterID string) error {
	err := s.refund(ctx, m)
	if err != nil {
		return err
	}

	m.State = wager.StateCancelled

	err = s.repo.Update(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}

	err = s.ledger.RecordCancellation(ctx, m.ID, eventType, requesterID)
	if err != nil {
		return err
	}

	s.locks.Delete(m.ID)

	s.logger.Info("match cancelled",
		zap.String("match_id", m.ID),
		zap.String("event_type", eventType))

	return nil
}

// refund is a no-op when escrow was never opened; the escrow client is
// idempotent for everything else.
func (s *Service) refund(ctx context.Context, m *wager.Match) error {
	if m.EscrowAddress == nil {
		return nil
	}

	err := s.escrow.Refund(ctx, *m.EscrowAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", wager.ErrEscrowFailure, err)
	}

	return nil
}
