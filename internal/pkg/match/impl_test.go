package match_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/shobu/internal/pkg/escrow"
	"github.com/vreid/shobu/internal/pkg/ledger"
	"github.com/vreid/shobu/internal/pkg/match"
	"github.com/vreid/shobu/internal/pkg/store"
	"github.com/vreid/shobu/internal/pkg/verifier"
	"github.com/vreid/shobu/internal/pkg/wager"
	"go.uber.org/zap"
)

type fixture struct {
	service *match.Service
	memory  *store.Memory
	escrow  *escrow.MemoryClient
	signer  *verifier.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := verifier.NewSigner(private)
	memory := store.NewMemory()
	escrowClient := escrow.NewMemoryClient()
	logger := zap.NewNop()

	verifierService := verifier.New(signer.Public(), memory, logger, verifier.DefaultConfig())
	ledgerService := ledger.New(
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("0.8"),
		memory,
		logger)

	service := match.New(match.DefaultConfig(), memory, escrowClient, verifierService, ledgerService, logger)

	return &fixture{
		service: service,
		memory:  memory,
		escrow:  escrowClient,
		signer:  signer,
	}
}

func (f *fixture) createJoined(t *testing.T, gameType wager.GameType) *wager.Match {
	t.Helper()

	m, err := f.service.Create(context.Background(), "alice", gameType, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	m, err = f.service.Join(context.Background(), "bob", m.ID)
	require.NoError(t, err)

	return m
}

// forceExpiry rewrites the stored expiry so the pending window has already
// passed.
func (f *fixture) forceExpiry(t *testing.T, matchID string) {
	t.Helper()

	m, err := f.memory.Get(context.Background(), matchID)
	require.NoError(t, err)

	m.Expiry = time.Now().Add(-time.Minute)
	require.NoError(t, f.memory.Update(context.Background(), m))
}

func (f *fixture) signedRequest(t *testing.T, m *wager.Match, winnerID string, data wager.GameData) match.SubmitResultRequest {
	t.Helper()

	claim := &verifier.Claim{
		MatchID:   m.ID,
		GameType:  m.GameType,
		Player1ID: m.Player1,
		Player2ID: *m.Player2,
		WinnerID:  winnerID,
		GameData:  data,
		Timestamp: time.Now().Unix(),
	}

	signature, err := f.signer.Sign(claim)
	require.NoError(t, err)

	return match.SubmitResultRequest{
		WinnerID:  winnerID,
		GameData:  data,
		Timestamp: claim.Timestamp,
		Signature: signature,
	}
}

func diceData(player1, player2 int) wager.GameData {
	return wager.GameData{
		DiceRoll: &wager.DiceRollData{
			Player1Roll: player1,
			Player2Roll: player2,
		},
	}
}

func TestCreateMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	assert.Equal(t, wager.StatePending, m.State)
	assert.Equal(t, "alice", m.Player1)
	require.NotNil(t, m.EscrowAddress)
	assert.Equal(t, 1, f.escrow.Opens)
	assert.True(t, m.Expiry.After(time.Now()))
}

func TestCreateMatchValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	amount := decimal.RequireFromString("0.5")

	_, err := f.service.Create(context.Background(), "alice", "tic_tac_toe", amount, 0)
	assert.ErrorIs(t, err, wager.ErrUnsupportedGame)

	_, err = f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.001"), 0)
	assert.ErrorIs(t, err, wager.ErrWagerOutOfRange)

	_, err = f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("500"), 0)
	assert.ErrorIs(t, err, wager.ErrWagerOutOfRange)
}

func TestCreateMatchOnePendingPerPlayer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	amount := decimal.RequireFromString("0.5")

	_, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, amount, 0)
	require.NoError(t, err)

	_, err = f.service.Create(context.Background(), "alice", wager.GameCoinFlip, amount, 0)
	assert.ErrorIs(t, err, wager.ErrPendingMatchOpen)
}

// slowPendingRepo widens the window between the pending-match check and the
// insert, so an unserialized create path would let two matches through.
type slowPendingRepo struct {
	wager.Repository

	delay time.Duration
}

func (r *slowPendingRepo) FindPendingByPlayer(ctx context.Context, playerID string) (*wager.Match, error) {
	m, err := r.Repository.FindPendingByPlayer(ctx, playerID)
	time.Sleep(r.delay)

	return m, err
}

func TestConcurrentCreatesHonorPendingLimit(t *testing.T) {
	t.Parallel()

	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := verifier.NewSigner(private)
	memory := store.NewMemory()
	repo := &slowPendingRepo{Repository: memory, delay: 50 * time.Millisecond}
	escrowClient := escrow.NewMemoryClient()
	logger := zap.NewNop()

	verifierService := verifier.New(signer.Public(), memory, logger, verifier.DefaultConfig())
	ledgerService := ledger.New(
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("0.8"),
		memory,
		logger)
	service := match.New(match.DefaultConfig(), repo, escrowClient, verifierService, ledgerService, logger)

	var wg sync.WaitGroup

	results := make([]error, 2)

	for idx := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, results[idx] = service.Create(context.Background(),
				"alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
		}()
	}

	wg.Wait()

	succeeded, rejected := 0, 0

	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, wager.ErrPendingMatchOpen):
			rejected++
		default:
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	// Exactly one escrow was opened and exactly one pending match survives.
	assert.Equal(t, 1, escrowClient.Opens)

	pending, err := memory.FindPendingByPlayer(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)

	matches, err := service.ListAvailable(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCreateMatchExpiredPendingDoesNotBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	amount := decimal.RequireFromString("0.5")

	first, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, amount, 0)
	require.NoError(t, err)

	f.forceExpiry(t, first.ID)

	second, err := f.service.Create(context.Background(), "alice", wager.GameCoinFlip, amount, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The stale match was expired and refunded on the way.
	stale, err := f.memory.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateCancelled, stale.State)
	assert.Equal(t, 1, f.escrow.Refunds)
}

func TestCreateMatchEscrowFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.escrow.FailOpen = errors.New("chain unavailable")

	_, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.ErrorIs(t, err, wager.ErrEscrowFailure)

	// Compensating delete: no record without an escrow address survives.
	matches, err := f.service.ListAvailable(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestJoinMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m := f.createJoined(t, wager.GameDiceRoll)

	assert.Equal(t, wager.StateInProgress, m.State)
	require.NotNil(t, m.Player2)
	assert.Equal(t, "bob", *m.Player2)
	assert.NotNil(t, m.StartedAt)
	assert.Equal(t, 1, f.escrow.Joins)
}

func TestJoinOwnMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	_, err = f.service.Join(context.Background(), "alice", m.ID)
	assert.ErrorIs(t, err, wager.ErrAlreadyJoined)
}

func TestJoinMissingMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.service.Join(context.Background(), "bob", "no-such-match")
	assert.ErrorIs(t, err, wager.ErrMatchNotFound)
}

func TestConcurrentJoinsExactlyOneWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup

	results := make([]error, 2)

	for idx, joiner := range []string{"bob", "carol"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, results[idx] = f.service.Join(context.Background(), joiner, m.ID)
		}()
	}

	wg.Wait()

	succeeded, lost := 0, 0

	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, wager.ErrMatchNotAvailable):
			lost++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 1, f.escrow.Joins)
}

func TestJoinExpiredMatchCancelsAndRefunds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	f.forceExpiry(t, m.ID)

	_, err = f.service.Join(context.Background(), "bob", m.ID)
	assert.ErrorIs(t, err, wager.ErrMatchExpired)

	stored, err := f.memory.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateCancelled, stored.State)
	assert.Equal(t, 1, f.escrow.Refunds)

	// A later join sees a cancelled match, not a second refund.
	_, err = f.service.Join(context.Background(), "carol", m.ID)
	assert.ErrorIs(t, err, wager.ErrMatchNotAvailable)
	assert.Equal(t, 1, f.escrow.Refunds)
}

func TestJoinEscrowFailureKeepsMatchPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m, err := f.service.Create(context.Background(), "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	f.escrow.FailJoin = errors.New("deposit rejected")

	_, err = f.service.Join(context.Background(), "bob", m.ID)
	require.ErrorIs(t, err, wager.ErrEscrowFailure)

	stored, err := f.memory.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StatePending, stored.State)

	// Retry succeeds once the gateway recovers.
	f.escrow.FailJoin = nil

	_, err = f.service.Join(context.Background(), "bob", m.ID)
	assert.NoError(t, err)
}

func TestSubmitResultSettlesMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m := f.createJoined(t, wager.GameDiceRoll)
	request := f.signedRequest(t, m, "alice", diceData(5, 3))

	settled, outcome, err := f.service.SubmitResult(ctx, "alice", m.ID, request)
	require.NoError(t, err)

	require.NotNil(t, outcome)
	assert.True(t, outcome.Valid)

	assert.Equal(t, wager.StateCompleted, settled.State)
	require.NotNil(t, settled.Winner)
	assert.Equal(t, "alice", *settled.Winner)
	assert.NotNil(t, settled.Result)
	assert.NotNil(t, settled.ResultSignature)
	assert.NotNil(t, settled.SettledAt)
	assert.Equal(t, 1, f.escrow.Settles)

	status, ok := f.escrow.Status(*settled.EscrowAddress)
	require.True(t, ok)
	assert.Equal(t, "settled", status)

	events, err := f.service.Events(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ledger.EventVerificationPassed, events[0].EventType)
	assert.Equal(t, ledger.EventMatchSettled, events[1].EventType)
	assert.Equal(t, "0.95", events[1].Details["winner_payout"])

	// A settled match accepts no further claims.
	_, _, err = f.service.SubmitResult(ctx, "bob", m.ID, request)
	assert.ErrorIs(t, err, wager.ErrInvalidStateTransition)
}

func TestSubmitResultDiceTieStaysInProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m := f.createJoined(t, wager.GameDiceRoll)
	request := f.signedRequest(t, m, "alice", diceData(4, 4))

	_, outcome, err := f.service.SubmitResult(ctx, "alice", m.ID, request)
	require.Error(t, err)

	require.NotNil(t, outcome)
	assert.False(t, outcome.Valid)
	assert.Contains(t, outcome.Flags, verifier.FlagGameTie)

	stored, err := f.memory.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateInProgress, stored.State)
	assert.Equal(t, 0, f.escrow.Settles)

	// The honest party may resubmit a clean transcript afterwards.
	retry := f.signedRequest(t, m, "bob", diceData(2, 6))

	settled, _, err := f.service.SubmitResult(ctx, "bob", m.ID, retry)
	require.NoError(t, err)
	assert.Equal(t, wager.StateCompleted, settled.State)
}

func TestSubmitResultForeignSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m := f.createJoined(t, wager.GameDiceRoll)

	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	impostor := verifier.NewSigner(private)

	claim := &verifier.Claim{
		MatchID:   m.ID,
		GameType:  m.GameType,
		Player1ID: m.Player1,
		Player2ID: *m.Player2,
		WinnerID:  "alice",
		GameData:  diceData(5, 3),
		Timestamp: time.Now().Unix(),
	}

	signature, err := impostor.Sign(claim)
	require.NoError(t, err)

	_, outcome, err := f.service.SubmitResult(ctx, "alice", m.ID, match.SubmitResultRequest{
		WinnerID:  "alice",
		GameData:  claim.GameData,
		Timestamp: claim.Timestamp,
		Signature: signature,
	})
	assert.ErrorIs(t, err, wager.ErrInvalidSignature)
	require.NotNil(t, outcome)

	stored, err := f.memory.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateInProgress, stored.State)

	events, err := f.service.Events(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventVerificationFailed, events[0].EventType)
}

func TestSubmitResultByOutsider(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m := f.createJoined(t, wager.GameDiceRoll)
	request := f.signedRequest(t, m, "alice", diceData(5, 3))

	_, _, err := f.service.SubmitResult(context.Background(), "mallory", m.ID, request)
	assert.ErrorIs(t, err, wager.ErrNotParticipant)

	request.WinnerID = "mallory"
	_, _, err = f.service.SubmitResult(context.Background(), "alice", m.ID, request)
	assert.ErrorIs(t, err, wager.ErrNotParticipant)
}

func TestSubmitResultSettlementFailureIsNotVerificationFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m := f.createJoined(t, wager.GameDiceRoll)
	request := f.signedRequest(t, m, "alice", diceData(5, 3))

	f.escrow.FailSettle = errors.New("chain congestion")

	_, outcome, err := f.service.SubmitResult(ctx, "alice", m.ID, request)
	require.ErrorIs(t, err, wager.ErrEscrowFailure)
	assert.NotErrorIs(t, err, wager.ErrInvalidSignature)

	// The claim itself was fine; the match stays recoverable.
	require.NotNil(t, outcome)
	assert.True(t, outcome.Valid)

	stored, err := f.memory.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateInProgress, stored.State)

	// Retry once the gateway recovers.
	f.escrow.FailSettle = nil

	settled, _, err := f.service.SubmitResult(ctx, "alice", m.ID, request)
	require.NoError(t, err)
	assert.Equal(t, wager.StateCompleted, settled.State)
}

func TestCancelMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m, err := f.service.Create(ctx, "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	_, err = f.service.Cancel(ctx, "bob", m.ID)
	assert.ErrorIs(t, err, wager.ErrUnauthorized)

	cancelled, err := f.service.Cancel(ctx, "alice", m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateCancelled, cancelled.State)
	assert.Equal(t, 1, f.escrow.Refunds)

	// Cancelling twice never double-refunds.
	_, err = f.service.Cancel(ctx, "alice", m.ID)
	assert.ErrorIs(t, err, wager.ErrInvalidStateTransition)
	assert.Equal(t, 1, f.escrow.Refunds)
}

func TestCancelInProgressMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	m := f.createJoined(t, wager.GameDiceRoll)

	_, err := f.service.Cancel(context.Background(), "alice", m.ID)
	assert.ErrorIs(t, err, wager.ErrInvalidStateTransition)
}

func TestForceCancelInProgressMatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m := f.createJoined(t, wager.GameDiceRoll)

	cancelled, err := f.service.ForceCancel(ctx, "admin", m.ID, "stuck settlement")
	require.NoError(t, err)
	assert.Equal(t, wager.StateCancelled, cancelled.State)
	assert.Equal(t, 1, f.escrow.Refunds)

	events, err := f.service.Events(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventAdminOverride, events[0].EventType)
	assert.Equal(t, "stuck settlement", events[0].Details["reason"])

	_, err = f.service.ForceCancel(ctx, "admin", m.ID, "again")
	assert.ErrorIs(t, err, wager.ErrInvalidStateTransition)
}

func TestGetExpiresLazily(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m, err := f.service.Create(ctx, "alice", wager.GameDiceRoll, decimal.RequireFromString("0.5"), 0)
	require.NoError(t, err)

	f.forceExpiry(t, m.ID)

	fetched, err := f.service.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, wager.StateCancelled, fetched.State)
	assert.Equal(t, 1, f.escrow.Refunds)
}

func TestListAvailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("0.5")

	_, err := f.service.Create(ctx, "alice", wager.GameDiceRoll, amount, 0)
	require.NoError(t, err)

	_, err = f.service.Create(ctx, "bob", wager.GameCoinFlip, amount, 0)
	require.NoError(t, err)

	all, err := f.service.ListAvailable(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	gameType := wager.GameCoinFlip

	filtered, err := f.service.ListAvailable(ctx, &gameType, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, wager.GameCoinFlip, filtered[0].GameType)
}
