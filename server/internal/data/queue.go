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

const ReindexQueueKey = "task:reindex_document"

// RedisTaskQueue is a FIFO of repair tasks on a Redis list.
type RedisTaskQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisTaskQueue(rdb *redis.Client, key string) *RedisTaskQueue {
	return &RedisTaskQueue{rdb: rdb, key: key}
}

func (q *RedisTaskQueue) Push(ctx context.Context, task model.ReindexTask) error {
	if task.EnqueuedAt == 0 {
		task.EnqueuedAt = time.Now().Unix()
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("redis push %s: %w", q.key, err)
	}
	return nil
}

// Pop blocks up to timeout. A timeout yields (nil, nil).
func (q *RedisTaskQueue) Pop(ctx context.Context, timeout time.Duration) (*model.ReindexTask, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis blpop %s: %w", q.key, err)
	}
	// res[0] is the key, res[1] the value
	var task model.ReindexTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}
