package memory

import (
	"context"
	"fmt"
	"time"

	"DocChat/server/internal/model"
)

// TaskQueue is a buffered channel with the same Push/Pop contract as the Redis list.
type TaskQueue struct {
	ch chan model.ReindexTask
}

func NewTaskQueue(size int) *TaskQueue {
	return &TaskQueue{ch: make(chan model.ReindexTask, size)}
}

func (q *TaskQueue) Push(ctx context.Context, task model.ReindexTask) error {
	if task.EnqueuedAt == 0 {
		task.EnqueuedAt = time.Now().Unix()
	}
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("task queue full (%d)", cap(q.ch))
	}
}

func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (*model.ReindexTask, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case task := <-q.ch:
		return &task, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *TaskQueue) Len() int { return len(q.ch) }
