package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const (
	contextSeparator = "\n\n"
	defaultTopK      = 4
)

type Match struct {
	VectorID  string  `json:"vectorId"`
	PageIndex int     `json:"pageIndex"`
	Score     float32 `json:"score"`
	Text      string  `json:"text"`
}

// Retrieval is the grounding for one question. An empty Context is valid.
type Retrieval struct {
	Context string
	Matches []Match
}

type RetrievalService struct {
	embedder Embedder
	vectors  VectorIndex
	topK     int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRetrievalService(embedder Embedder, vectors VectorIndex, topK int, timeout time.Duration) *RetrievalService {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &RetrievalService{
		embedder: embedder,
		vectors:  vectors,
		topK:     topK,
		timeout:  timeout,
		logger:   slog.Default().With("service", "retrieval"),
	}
}

// Retrieve embeds the question and collects the top matches of documentID only.
func (s *RetrievalService) Retrieve(ctx context.Context, documentID, question string) (*Retrieval, error) {
	// 1. embed
	vec, err := callUpstream(ctx, s.timeout, func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, question)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: question: %w", ErrEmbedding, err)
	}

	// 2. scoped query
	hits, err := callUpstream(ctx, s.timeout, func(ctx context.Context) ([]Match, error) {
		found, err := s.vectors.Query(ctx, vec, documentID, s.topK)
		if err != nil {
			return nil, err
		}
		out := make([]Match, 0, len(found))
		for _, m := range found {
			if m.DocumentID != documentID {
				s.logger.Error("❌ vector from another document dropped", "want", documentID, "got", m.DocumentID, "vector_id", m.ID)
				continue
			}
			out = append(out, Match{VectorID: m.ID, PageIndex: m.PageIndex, Score: m.Score, Text: m.Text})
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	// 3. context block, best first
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > s.topK {
		hits = hits[:s.topK]
	}
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		if t := strings.TrimSpace(h.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		s.logger.Warn("RetrievalDegraded: no matches, answering without context", "document_id", documentID)
	}
	return &Retrieval{Context: strings.Join(texts, contextSeparator), Matches: hits}, nil
}
