package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"DocChat/server/internal/model"
	"DocChat/server/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const pdfContentType = "application/pdf"

type FileServiceDeps struct {
	Documents repository.DocumentRepository
	Blobs     BlobStore
	Segmenter Segmenter
	Embedder  Embedder
	Vectors   VectorIndex
	Tasks     TaskQueue
}

// FileService owns the document lifecycle: ingest, repair, read and delete.
type FileService struct {
	docs      repository.DocumentRepository
	blobs     BlobStore
	segmenter Segmenter
	embedder  Embedder
	vectors   VectorIndex
	tasks     TaskQueue

	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger
}

func NewFileService(deps FileServiceDeps, maxBytes int64, timeout time.Duration) *FileService {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &FileService{
		docs:      deps.Documents,
		blobs:     deps.Blobs,
		segmenter: deps.Segmenter,
		embedder:  deps.Embedder,
		vectors:   deps.Vectors,
		tasks:     deps.Tasks,
		maxBytes:  maxBytes,
		timeout:   timeout,
		logger:    slog.Default().With("service", "file"),
	}
}

// Ingest stores an uploaded PDF and indexes one vector per page.
//
// The record is written as pending and only flipped to processed after every
// vector is in the index. When the upsert or the flip fails the document stays
// pending, a repair task is queued and the pending document is returned
// without error.
func (s *FileService) Ingest(ctx context.Context, userID, fileName, contentType string, raw []byte) (*model.Document, error) {
	// 1. cheap checks, no external calls
	if err := s.validate(fileName, contentType, raw); err != nil {
		return nil, err
	}

	// 2. pages
	pages, err := s.segmenter.Segment(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyDocument, err)
	}
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	// 3. every embedding before any write
	vectors, err := s.embedPages(ctx, pages)
	if err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	doc := &model.Document{
		BaseModel:  model.BaseModel{ID: docID},
		UserID:     userID,
		FileName:   filepath.Base(fileName),
		FileSize:   int64(len(raw)),
		BlobKey:    fmt.Sprintf("documents/%s/%s.pdf", userID, docID),
		UploadedAt: time.Now().UTC(),
		Status:     model.DocumentPending,
		Pages:      datatypes.JSONSlice[string](pages),
		PageCount:  len(pages),
		Metadata: datatypes.JSONMap{
			"contentType": pdfContentType,
			"segmenter":   "ledongthuc/pdf",
		},
	}

	// 4. raw bytes
	err = runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.blobs.Put(ctx, doc.BlobKey, pdfContentType, raw)
	})
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	// 5. pending record
	err = runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.docs.Create(ctx, doc)
	})
	if err != nil {
		s.removeBlob(doc.BlobKey)
		return nil, fmt.Errorf("create document: %w", err)
	}

	// 6 + 7. vectors, then the flag
	if err := s.commitVectors(ctx, doc, vectors); err != nil {
		s.logger.Warn("index incomplete, queueing repair", "document_id", docID, "err", err)
		if qerr := s.tasks.Push(ctx, model.ReindexTask{DocumentID: docID}); qerr != nil {
			s.logger.Error("❌ repair enqueue failed", "document_id", docID, "err", qerr)
			s.MarkFailed(context.WithoutCancel(ctx), docID, err)
			return nil, fmt.Errorf("index document %s: %w", docID, err)
		}
		return doc, nil
	}

	s.logger.Info("✅ document ingested", "document_id", docID, "user_id", userID, "pages", len(pages))
	return doc, nil
}

func (s *FileService) validate(fileName, contentType string, raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if int64(len(raw)) > s.maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, s.maxBytes)
	}
	isPDF := strings.EqualFold(filepath.Ext(fileName), ".pdf") ||
		strings.HasPrefix(strings.ToLower(contentType), pdfContentType)
	if !isPDF {
		return fmt.Errorf("%w: only PDF files are accepted", ErrInvalidUpload)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return fmt.Errorf("%w: file is not a PDF", ErrInvalidUpload)
	}
	return nil
}

func (s *FileService) embedPages(ctx context.Context, pages []string) ([][]float32, error) {
	out := make([][]float32, len(pages))
	for i, page := range pages {
		vec, err := callUpstream(ctx, s.timeout, func(ctx context.Context) ([]float32, error) {
			return s.embedder.Embed(ctx, page)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrEmbedding, i, err)
		}
		if i > 0 && len(vec) != len(out[0]) {
			return nil, fmt.Errorf("%w: page %d: dimension %d, want %d", ErrEmbedding, i, len(vec), len(out[0]))
		}
		out[i] = vec
	}
	return out, nil
}

// commitVectors upserts one vector per page under deterministic ids, then
// flips the record to processed. Safe to repeat.
func (s *FileService) commitVectors(ctx context.Context, doc *model.Document, vectors [][]float32) error {
	records := make([]model.VectorRecord, len(vectors))
	for i, vec := range vectors {
		records[i] = model.VectorRecord{
			ID:         model.VectorID(doc.ID, i),
			Values:     vec,
			DocumentID: doc.ID,
			PageIndex:  i,
			Text:       doc.Pages[i],
		}
	}
	err := runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.vectors.Upsert(ctx, records)
	})
	if err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	err = runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.docs.UpdateStatus(ctx, doc.ID, model.DocumentProcessed, "")
	})
	if errors.Is(err, repository.ErrNotFound) {
		// deleted while we were upserting; take the vectors back out
		s.dropVectors(ctx, doc.ID, len(records))
		return fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
	}
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	doc.Status = model.DocumentProcessed
	doc.Processed = true
	doc.ErrorMsg = ""
	return nil
}

// Reindex re-runs the vector upsert for a user's own document.
func (s *FileService) Reindex(ctx context.Context, documentID, userID string) (*model.Document, error) {
	doc, err := s.Get(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	return s.reindex(ctx, doc)
}

// Repair is Reindex without the ownership check; the repair worker calls it.
func (s *FileService) Repair(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.reindex(ctx, doc)
}

func (s *FileService) reindex(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if len(doc.Pages) == 0 || len(doc.Pages) != doc.PageCount {
		return nil, fmt.Errorf("%w: document %s has %d stored pages, page count %d",
			ErrEmptyDocument, doc.ID, len(doc.Pages), doc.PageCount)
	}
	vectors, err := s.embedPages(ctx, doc.Pages)
	if err != nil {
		return nil, err
	}
	if err := s.commitVectors(ctx, doc, vectors); err != nil {
		return nil, err
	}
	s.logger.Info("✅ document reindexed", "document_id", doc.ID, "pages", doc.PageCount)
	return doc, nil
}

// MarkFailed records a terminal indexing failure. Errors are only logged.
func (s *FileService) MarkFailed(ctx context.Context, documentID string, cause error) {
	msg := "indexing failed"
	if cause != nil {
		msg = cause.Error()
	}
	err := runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.docs.UpdateStatus(ctx, documentID, model.DocumentFailed, msg)
	})
	if err != nil {
		s.logger.Error("❌ mark failed", "document_id", documentID, "err", err)
	}
}

// Delete removes a user's document. Vectors and blob are torn down best
// effort; only a failed record delete is reported.
func (s *FileService) Delete(ctx context.Context, documentID, userID string) (*model.Document, error) {
	doc, err := s.Get(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}

	s.dropVectors(ctx, doc.ID, doc.PageCount)
	s.removeBlob(doc.BlobKey)

	err = runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.docs.Delete(ctx, doc.ID)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrDeletion, err)
	}

	s.logger.Info("document deleted", "document_id", doc.ID, "user_id", userID)
	return doc, nil
}

func (s *FileService) dropVectors(ctx context.Context, documentID string, pages int) {
	ids := make([]string, pages)
	for i := range ids {
		ids[i] = model.VectorID(documentID, i)
	}
	if err := runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.vectors.Delete(ctx, ids)
	}); err != nil {
		s.logger.Error("❌ vector cleanup failed", "document_id", documentID, "err", err)
	}
}

func (s *FileService) removeBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Error("❌ blob cleanup failed", "key", key, "err", err)
	}
}

func (s *FileService) List(ctx context.Context, userID string) ([]model.Document, error) {
	return callUpstream(ctx, s.timeout, func(ctx context.Context) ([]model.Document, error) {
		return s.docs.ListByUser(ctx, userID)
	})
}

// Get returns ErrNotFound both for a missing document and for one owned by
// someone else.
func (s *FileService) Get(ctx context.Context, documentID, userID string) (*model.Document, error) {
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return doc, nil
}

func (s *FileService) load(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := callUpstream(ctx, s.timeout, func(ctx context.Context) (*model.Document, error) {
		return s.docs.GetByID(ctx, documentID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return doc, err
}

// OpenRaw streams the stored PDF; the caller closes the reader.
func (s *FileService) OpenRaw(ctx context.Context, documentID, userID string) (*model.Document, io.ReadCloser, int64, error) {
	doc, err := s.Get(ctx, documentID, userID)
	if err != nil {
		return nil, nil, 0, err
	}
	rc, size, err := s.openBlob(ctx, doc.BlobKey)
	if err != nil {
		return nil, nil, 0, err
	}
	return doc, rc, size, nil
}

// openBlob bounds the open by the upstream timeout but not the read that
// follows; the stream lives until the caller closes it.
func (s *FileService) openBlob(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(s.timeout, cancel)

	rc, size, err := s.blobs.Open(streamCtx, key)
	if !timer.Stop() {
		cancel()
		if rc != nil {
			_ = rc.Close()
		}
		return nil, 0, fmt.Errorf("open blob: %w: %w", ErrUpstreamTimeout, context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("open blob: %w", err)
	}
	return &cancelOnClose{ReadCloser: rc, cancel: cancel}, size, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
