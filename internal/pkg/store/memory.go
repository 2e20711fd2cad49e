package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vreid/shobu/internal/pkg/ledger"
	"github.com/vreid/shobu/internal/pkg/wager"
)

// Memory mirrors the Bolt store's semantics in plain maps, for deterministic
// unit tests without a database file.
type Memory struct {
	mu      sync.RWMutex
	matches map[string]*wager.Match
	events  []*ledger.SecurityEvent
}

func NewMemory() *Memory {
	return &Memory{
		matches: map[string]*wager.Match{},
	}
}

var (
	_ wager.Repository = (*Memory)(nil)
	_ wager.History    = (*Memory)(nil)
	_ ledger.Journal   = (*Memory)(nil)
)

func (s *Memory) Create(_ context.Context, m *wager.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return wager.ErrConflict
	}

	s.matches[m.ID] = clone(m)

	return nil
}

func (s *Memory) Get(_ context.Context, id string) (*wager.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, wager.ErrMatchNotFound
	}

	return clone(m), nil
}

func (s *Memory) Update(_ context.Context, m *wager.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.matches[m.ID]
	if !ok {
		return wager.ErrMatchNotFound
	}

	if stored.Version != m.Version {
		return wager.ErrConflict
	}

	m.Version++
	s.matches[m.ID] = clone(m)

	return nil
}

func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[id]; !ok {
		return wager.ErrMatchNotFound
	}

	delete(s.matches, id)

	return nil
}

func (s *Memory) FindPendingByPlayer(_ context.Context, playerID string) (*wager.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.matches {
		if m.State == wager.StatePending && m.Player1 == playerID {
			return clone(m), nil
		}
	}

	return nil, nil
}

func (s *Memory) ListAvailable(_ context.Context, gameType *wager.GameType, limit int) ([]*wager.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	result := make([]*wager.Match, 0, limit)

	for _, m := range s.matches {
		if m.State != wager.StatePending || m.Expired(now) {
			continue
		}

		if gameType != nil && m.GameType != *gameType {
			continue
		}

		result = append(result, clone(m))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (s *Memory) CountRecentMatches(_ context.Context, playerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0

	for _, m := range s.matches {
		if m.Participant(playerID) && m.CreatedAt.After(since) {
			count++
		}
	}

	return count, nil
}

func (s *Memory) WinStats(_ context.Context, playerID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wins, played := 0, 0

	for _, m := range s.matches {
		if m.State != wager.StateCompleted || !m.Participant(playerID) {
			continue
		}

		played++

		if m.Winner != nil && *m.Winner == playerID {
			wins++
		}
	}

	return wins, played, nil
}

func (s *Memory) Append(_ context.Context, event *ledger.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return nil
}

func (s *Memory) ListByMatch(_ context.Context, matchID string) ([]*ledger.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.SecurityEvent

	for _, event := range s.events {
		if event.MatchID == matchID {
			result = append(result, event)
		}
	}

	return result, nil
}

func clone(m *wager.Match) *wager.Match {
	copied := *m

	return &copied
}
