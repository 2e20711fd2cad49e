package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vreid/shobu/internal/pkg/common"
	"github.com/vreid/shobu/internal/pkg/ledger"
	"github.com/vreid/shobu/internal/pkg/wager"
	bolt "go.etcd.io/bbolt"
)

// Bolt persists matches and security events in the shared bbolt database.
// Matches are stored as JSON under their ID; events under their UUIDv7 ID so
// a bucket scan yields them in time order.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(database *common.DatabaseService) *Bolt {
	return &Bolt{
		db: database.DB,
	}
}

var (
	_ wager.Repository = (*Bolt)(nil)
	_ wager.History    = (*Bolt)(nil)
	_ ledger.Journal   = (*Bolt)(nil)
)

func (s *Bolt) Create(_ context.Context, m *wager.Match) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.MatchesBucket))

		if bucket.Get([]byte(m.ID)) != nil {
			return wager.ErrConflict
		}

		return putMatch(bucket, m)
	})
}

func (s *Bolt) Get(_ context.Context, id string) (*wager.Match, error) {
	var result *wager.Match

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.MatchesBucket))

		data := bucket.Get([]byte(id))
		if data == nil {
			return wager.ErrMatchNotFound
		}

		m, err := decodeMatch(data)
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

// Update applies the optimistic version check: the stored version must equal
// the version the caller read, otherwise the write lost a race.
func (s *Bolt) Update(_ context.Context, m *wager.Match) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.MatchesBucket))

		data := bucket.Get([]byte(m.ID))
		if data == nil {
			return wager.ErrMatchNotFound
		}

		stored, err := decodeMatch(data)
		if err != nil {
			return err
		}

		if stored.Version != m.Version {
			return wager.ErrConflict
		}

		m.Version++

		return putMatch(bucket, m)
	})
}

func (s *Bolt) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.MatchesBucket))

		if bucket.Get([]byte(id)) == nil {
			return wager.ErrMatchNotFound
		}

		//nolint:wrapcheck
		return bucket.Delete([]byte(id))
	})
}

func (s *Bolt) FindPendingByPlayer(_ context.Context, playerID string) (*wager.Match, error) {
	var result *wager.Match

	err := s.scanMatches(func(m *wager.Match) bool {
		if m.State == wager.StatePending && m.Player1 == playerID {
			result = m

			return false
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Bolt) ListAvailable(_ context.Context, gameType *wager.GameType, limit int) ([]*wager.Match, error) {
	now := time.Now()
	result := make([]*wager.Match, 0, limit)

	err := s.scanMatches(func(m *wager.Match) bool {
		if m.State != wager.StatePending || m.Expired(now) {
			return true
		}

		if gameType != nil && m.GameType != *gameType {
			return true
		}

		result = append(result, m)

		return len(result) < limit
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Bolt) CountRecentMatches(_ context.Context, playerID string, since time.Time) (int, error) {
	count := 0

	err := s.scanMatches(func(m *wager.Match) bool {
		if m.Participant(playerID) && m.CreatedAt.After(since) {
			count++
		}

		return true
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (s *Bolt) WinStats(_ context.Context, playerID string) (int, int, error) {
	wins, played := 0, 0

	err := s.scanMatches(func(m *wager.Match) bool {
		if m.State != wager.StateCompleted || !m.Participant(playerID) {
			return true
		}

		played++

		if m.Winner != nil && *m.Winner == playerID {
			wins++
		}

		return true
	})
	if err != nil {
		return 0, 0, err
	}

	return wins, played, nil
}

func (s *Bolt) Append(_ context.Context, event *ledger.SecurityEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.EventsBucket))

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal security event: %w", err)
		}

		//nolint:wrapcheck
		return bucket.Put([]byte(event.ID), data)
	})
}

func (s *Bolt) ListByMatch(_ context.Context, matchID string) ([]*ledger.SecurityEvent, error) {
	var result []*ledger.SecurityEvent

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.EventsBucket))

		return bucket.ForEach(func(_, data []byte) error {
			var event ledger.SecurityEvent

			err := json.Unmarshal(data, &event)
			if err != nil {
				return fmt.Errorf("failed to unmarshal security event: %w", err)
			}

			if event.MatchID == matchID {
				result = append(result, &event)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Bolt) scanMatches(visit func(m *wager.Match) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(common.MatchesBucket))

		cursor := bucket.Cursor()
		for key, data := cursor.First(); key != nil; key, data = cursor.Next() {
			m, err := decodeMatch(data)
			if err != nil {
				return err
			}

			if !visit(m) {
				break
			}
		}

		return nil
	})
}

func putMatch(bucket *bolt.Bucket, m *wager.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}

	//nolint:wrapcheck
	return bucket.Put([]byte(m.ID), data)
}

func decodeMatch(data []byte) (*wager.Match, error) {
	var m wager.Match

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	return &m, nil
}
