package service

import (
	"context"
	"io"

	"DocChat/server/internal/model"
)

// Segmenter splits a raw PDF into ordered, non-empty page texts.
type Segmenter interface {
	Segment(ctx context.Context, raw []byte) ([]string, error)
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator answers from an ordered list of turns.
type Generator interface {
	Generate(ctx context.Context, turns []model.Turn) (string, error)
}

// VectorIndex stores page vectors. Query must only return matches of documentID.
type VectorIndex interface {
	Upsert(ctx context.Context, records []model.VectorRecord) error
	Delete(ctx context.Context, ids []string) error
	Query(ctx context.Context, vector []float32, documentID string, topK int) ([]model.VectorMatch, error)
}

// BlobStore keeps the raw uploaded bytes.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}

// HistoryStore keeps one conversation per user. Get returns (nil, nil) when
// nothing is stored or the entry expired; Put overwrites and resets the TTL.
type HistoryStore interface {
	Get(ctx context.Context, userID string) ([]model.Turn, error)
	Put(ctx context.Context, userID string, turns []model.Turn) error
}

// TaskQueue hands repair work to the reindex worker.
type TaskQueue interface {
	Push(ctx context.Context, task model.ReindexTask) error
}
