package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"DocChat/server/internal/model"
	"DocChat/server/internal/service"
)

const (
	defaultPollTimeout = 5 * time.Second
	maxBackoff         = 30 * time.Second
)

// TaskSource is the repair queue: the Redis list in production.
type TaskSource interface {
	Push(ctx context.Context, task model.ReindexTask) error
	Pop(ctx context.Context, timeout time.Duration) (*model.ReindexTask, error)
}

// Repairer re-runs the vector upsert of a stored document.
type Repairer interface {
	Repair(ctx context.Context, documentID string) (*model.Document, error)
	MarkFailed(ctx context.Context, documentID string, cause error)
}

// ReindexWorker drains repair tasks queued by ingestion when the vector
// index or the processed flip could not be written.
type ReindexWorker struct {
	queue       TaskSource
	files       Repairer
	maxAttempts int

	pollTimeout time.Duration
	backoffBase time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func NewReindexWorker(queue TaskSource, files Repairer, maxAttempts int) *ReindexWorker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &ReindexWorker{
		queue:       queue,
		files:       files,
		maxAttempts: maxAttempts,
		pollTimeout: defaultPollTimeout,
		backoffBase: time.Second,
		logger:      slog.Default().With("component", "reindex_worker"),
	}
}

// Start launches n loops and returns; they stop when ctx is cancelled.
func (w *ReindexWorker) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	w.logger.Info("🚀 reindex workers starting", "count", n)
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, i)
	}
}

// Wait blocks until every loop has returned.
func (w *ReindexWorker) Wait() { w.wg.Wait() }

func (w *ReindexWorker) processLoop(ctx context.Context, workerID int) {
	defer w.wg.Done()
	log := w.logger.With("worker", workerID)

	for {
		if ctx.Err() != nil {
			return
		}

		// 1. blocking pop, bounded so shutdown is noticed
		task, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("waiting for tasks", "err", err)
			if !sleep(ctx, 3*time.Second) {
				return
			}
			continue
		}
		if task == nil {
			continue
		}

		// 2. repair
		w.handle(ctx, log, *task)
	}
}

func (w *ReindexWorker) handle(ctx context.Context, log *slog.Logger, task model.ReindexTask) {
	log = log.With("document_id", task.DocumentID, "attempt", task.Attempt)

	_, err := w.files.Repair(ctx, task.DocumentID)
	switch {
	case err == nil:
		log.Info("✅ document repaired")
		return
	case errors.Is(err, service.ErrNotFound):
		// deleted while queued
		log.Info("document gone, task dropped")
		return
	case errors.Is(err, service.ErrEmptyDocument):
		log.Error("❌ document cannot be repaired", "err", err)
		w.files.MarkFailed(context.WithoutCancel(ctx), task.DocumentID, err)
		return
	}

	next := task
	next.Attempt++
	if next.Attempt >= w.maxAttempts {
		log.Error("❌ repair attempts exhausted", "err", err)
		w.files.MarkFailed(context.WithoutCancel(ctx), task.DocumentID, err)
		return
	}

	log.Warn("repair failed, retrying", "err", err)
	if !sleep(ctx, w.backoff(next.Attempt)) {
		// shutting down; requeue as is so the next process picks it up
		next = task
	}
	if perr := w.queue.Push(context.WithoutCancel(ctx), next); perr != nil {
		log.Error("❌ requeue failed", "err", perr)
		w.files.MarkFailed(context.WithoutCancel(ctx), task.DocumentID, err)
	}
}

func (w *ReindexWorker) backoff(attempt int) time.Duration {
	d := w.backoffBase << uint(attempt-1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// sleep waits d or until ctx ends; false means ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
