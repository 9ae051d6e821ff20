package memory

import (
	"context"
	"sync"
	"time"

	"DocChat/server/internal/model"
)

type historyEntry struct {
	turns   []model.Turn
	expires time.Time
}

// HistoryStore mirrors the Redis store: whole-value overwrite with a TTL.
type HistoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]historyEntry
	now     func() time.Time
}

func NewHistoryStore(ttl time.Duration) *HistoryStore {
	return &HistoryStore{ttl: ttl, entries: make(map[string]historyEntry), now: time.Now}
}

func (s *HistoryStore) Get(_ context.Context, userID string) ([]model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && !s.now().Before(e.expires) {
		delete(s.entries, userID)
		return nil, nil
	}
	return append([]model.Turn(nil), e.turns...), nil
}

func (s *HistoryStore) Put(_ context.Context, userID string, turns []model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = historyEntry{
		turns:   append([]model.Turn(nil), turns...),
		expires: s.now().Add(s.ttl),
	}
	return nil
}

// SetClock swaps the time source; tests use it to expire entries.
func (s *HistoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
