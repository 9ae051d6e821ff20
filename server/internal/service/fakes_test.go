package service

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"DocChat/server/internal/data/memory"
	"DocChat/server/internal/model"
	"DocChat/server/internal/repository"
)

const testDim = 1024

// keywordEmbedder hashes lower-cased words into a bag-of-words vector, so
// texts sharing words score higher under cosine.
type keywordEmbedder struct {
	mu     sync.Mutex
	calls  int
	failAt int // 1-based call number that fails, 0 never
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()
	if e.failAt > 0 && n == e.failAt {
		return nil, errors.New("model unavailable")
	}
	v := make([]float32, testDim)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	return v, nil
}

type stubSegmenter struct {
	pages []string
	err   error
	calls int
}

func (s *stubSegmenter) Segment(context.Context, []byte) ([]string, error) {
	s.calls++
	return s.pages, s.err
}

// recordingGenerator answers "answer N" and keeps every prompt.
type recordingGenerator struct {
	mu      sync.Mutex
	prompts [][]model.Turn
	block   bool
}

func (g *recordingGenerator) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, append([]model.Turn(nil), turns...))
	return "answer " + strconv.Itoa(len(g.prompts)), nil
}

func (g *recordingGenerator) last() []model.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return nil
	}
	return g.prompts[len(g.prompts)-1]
}

// flakyIndex fails the first failUpserts upserts.
type flakyIndex struct {
	*memory.VectorIndex
	failUpserts int
}

func (f *flakyIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if f.failUpserts > 0 {
		f.failUpserts--
		return errors.New("qdrant unavailable")
	}
	return f.VectorIndex.Upsert(ctx, records)
}

type failingDeleteDocs struct {
	*memory.DocumentStore
}

func (failingDeleteDocs) Delete(context.Context, string) error {
	return errors.New("database is read-only")
}

type failingDeleteVectors struct {
	*memory.VectorIndex
}

func (failingDeleteVectors) Delete(context.Context, []string) error {
	return errors.New("qdrant unavailable")
}

type failingDeleteBlobs struct {
	*memory.BlobStore
}

func (failingDeleteBlobs) Delete(context.Context, string) error {
	return errors.New("minio unavailable")
}

// vanishingDocs reports the record gone when the processed flag is written.
type vanishingDocs struct {
	*memory.DocumentStore
}

func (vanishingDocs) UpdateStatus(context.Context, string, string, string) error {
	return repository.ErrNotFound
}

// slowBlobs blocks Open until ctx ends when block is set. Readers fail once
// the context they were opened with is done.
type slowBlobs struct {
	*memory.BlobStore
	block bool
}

func (b slowBlobs) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if b.block {
		<-ctx.Done()
		return nil, 0, ctx.Err()
	}
	rc, size, err := b.BlobStore.Open(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return ctxReader{ctx: ctx, ReadCloser: rc}, size, nil
}

type ctxReader struct {
	ctx context.Context
	io.ReadCloser
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.ReadCloser.Read(p)
}

var threePages = []string{
	"Apples grow on orchard trees in autumn",
	"Zebras graze across the savanna in herds",
	"Rockets carry satellites into orbit",
}

var pdfBytes = []byte("%PDF-1.4\n%fake body for stubbed segmenter\n")

type fixture struct {
	docs      *memory.DocumentStore
	blobs     *memory.BlobStore
	vectors   *memory.VectorIndex
	history   *memory.HistoryStore
	tasks     *memory.TaskQueue
	askLogs   *memory.AskLogStore
	embedder  *keywordEmbedder
	segmenter *stubSegmenter
	generator *recordingGenerator

	files     *FileService
	retrieval *RetrievalService
	chat      *ChatService
}

type fixtureOption func(*fixture, *FileServiceDeps)

func newFixture(opts ...fixtureOption) *fixture {
	f := &fixture{
		docs:      memory.NewDocumentStore(),
		blobs:     memory.NewBlobStore(),
		vectors:   memory.NewVectorIndex(),
		history:   memory.NewHistoryStore(time.Hour),
		tasks:     memory.NewTaskQueue(8),
		askLogs:   memory.NewAskLogStore(),
		embedder:  &keywordEmbedder{},
		segmenter: &stubSegmenter{pages: threePages},
		generator: &recordingGenerator{},
	}
	deps := FileServiceDeps{
		Documents: f.docs,
		Blobs:     f.blobs,
		Segmenter: f.segmenter,
		Embedder:  f.embedder,
		Vectors:   f.vectors,
		Tasks:     f.tasks,
	}
	for _, opt := range opts {
		opt(f, &deps)
	}
	f.files = NewFileService(deps, 10<<20, time.Second)
	f.retrieval = NewRetrievalService(f.embedder, deps.Vectors, 4, time.Second)
	f.chat = NewChatService(ChatServiceDeps{
		Documents: f.docs,
		History:   f.history,
		Retrieval: f.retrieval,
		Generator: f.generator,
		AskLogs:   f.askLogs,
	}, 5, time.Second)
	return f
}

func activeSession(userID string) *Session {
	s := NewSession("trace-1")
	_ = s.Authenticate(userID)
	_ = s.Activate()
	return s
}
