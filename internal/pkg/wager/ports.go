package wager

import (
	"context"
	"time"
)

// Repository is the single source of truth for match state. Update applies an
// optimistic version check and fails with ErrConflict when the stored version
// no longer matches the one the caller read.
type Repository interface {
	Create(ctx context.Context, m *Match) error
	Get(ctx context.Context, id string) (*Match, error)
	Update(ctx context.Context, m *Match) error
	Delete(ctx context.Context, id string) error

	FindPendingByPlayer(ctx context.Context, playerID string) (*Match, error)
	ListAvailable(ctx context.Context, gameType *GameType, limit int) ([]*Match, error)
}

// History exposes the recent-play lookups the anti-cheat heuristics need.
// Implemented by the same store that backs Repository.
type History interface {
	CountRecentMatches(ctx context.Context, playerID string, since time.Time) (int, error)
	WinStats(ctx context.Context, playerID string) (wins int, played int, err error)
}
