package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"DocChat/server/internal/model"

	"github.com/redis/go-redis/v9"
)

const historyKeyPrefix = "chatHistory:"

// RedisHistoryStore keeps one JSON-encoded conversation per user under a TTL.
type RedisHistoryStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisHistoryStore(rdb *redis.Client, ttl time.Duration) *RedisHistoryStore {
	return &RedisHistoryStore{rdb: rdb, ttl: ttl}
}

func historyKey(userID string) string { return historyKeyPrefix + userID }

func (s *RedisHistoryStore) Get(ctx context.Context, userID string) ([]model.Turn, error) {
	raw, err := s.rdb.Get(ctx, historyKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history: %w", err)
	}
	var turns []model.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", userID, err)
	}
	return turns, nil
}

// Put overwrites the whole conversation and restarts the TTL.
func (s *RedisHistoryStore) Put(ctx context.Context, userID string, turns []model.Turn) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.rdb.Set(ctx, historyKey(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set history: %w", err)
	}
	return nil
}
