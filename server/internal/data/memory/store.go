// Package memory holds in-process stand-ins for every remote store. They back
// DATA_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"DocChat/server/internal/model"
	"DocChat/server/internal/repository"

	"github.com/google/uuid"
)

type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]model.Document
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]model.Document)}
}

func (s *DocumentStore) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (s *DocumentStore) GetByID(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (s *DocumentStore) ListByUser(_ context.Context, userID string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, doc := range s.docs {
		if doc.UserID != userID {
			continue
		}
		d := cloneDocument(doc)
		d.Pages = nil
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (s *DocumentStore) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	doc.Status = status
	doc.Processed = status == model.DocumentProcessed
	doc.ErrorMsg = errMsg
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	return nil
}

func (s *DocumentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func cloneDocument(d model.Document) model.Document {
	if d.Pages != nil {
		d.Pages = append([]string(nil), d.Pages...)
	}
	return d
}

type UserStore struct {
	mu      sync.RWMutex
	byEmail map[string]model.User
}

func NewUserStore() *UserStore {
	return &UserStore{byEmail: make(map[string]model.User)}
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now()
	s.byEmail[user.Email] = *user
	return nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *UserStore) IsEmailExist(_ context.Context, email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok
}

type AskLogStore struct {
	mu      sync.Mutex
	entries []model.AskLog
}

func NewAskLogStore() *AskLogStore { return &AskLogStore{} }

func (s *AskLogStore) Create(_ context.Context, entry *model.AskLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a snapshot, oldest first.
func (s *AskLogStore) Entries() []model.AskLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AskLog(nil), s.entries...)
}
