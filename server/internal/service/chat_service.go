package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"DocChat/server/internal/dto"
	"DocChat/server/internal/model"
	"DocChat/server/internal/repository"
)

const (
	askSuccess = "success"
	askFailed  = "failed"
)

type ChatServiceDeps struct {
	Documents repository.DocumentRepository
	History   HistoryStore
	Retrieval *RetrievalService
	Generator Generator
	AskLogs   repository.AskLogRepository // optional
}

// ChatService answers questions about one document and keeps the per-user
// conversation.
type ChatService struct {
	docs      repository.DocumentRepository
	history   HistoryStore
	retrieval *RetrievalService
	generator Generator
	askLogs   repository.AskLogRepository

	locks       *KeyLock
	maxTurns    int
	instruction string
	timeout     time.Duration
	logger      *slog.Logger
}

func NewChatService(deps ChatServiceDeps, maxTurns int, timeout time.Duration) *ChatService {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &ChatService{
		docs:        deps.Documents,
		history:     deps.History,
		retrieval:   deps.Retrieval,
		generator:   deps.Generator,
		askLogs:     deps.AskLogs,
		locks:       NewKeyLock(),
		maxTurns:    maxTurns,
		instruction: DefaultInstruction,
		timeout:     timeout,
		logger:      slog.Default().With("service", "chat"),
	}
}

// LoadHistory returns what the user should see on connect: stored turns
// without system turns. Nothing stored yields an empty slice.
func (s *ChatService) LoadHistory(ctx context.Context, userID string) ([]model.Turn, error) {
	turns, err := callUpstream(ctx, s.timeout, func(ctx context.Context) ([]model.Turn, error) {
		return s.history.Get(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return VisibleTurns(turns), nil
}

// Ask runs one question through retrieval and generation and persists the
// exchange. The user is always the session's verified user.
func (s *ChatService) Ask(ctx context.Context, sess *Session, req dto.AskReq) (*dto.Reply, error) {
	start := time.Now()
	userID := sess.UserID()
	question := strings.TrimSpace(req.UserQuestion)

	// 1. input
	if strings.TrimSpace(req.FileID) == "" || question == "" {
		return nil, fmt.Errorf("%w: fileId and userQuestion are required", ErrInvalidInput)
	}

	entry := &model.AskLog{
		UserID:       userID,
		DocumentID:   req.FileID,
		ConnectionID: sess.ConnectionID,
		TraceID:      sess.TraceID,
		Question:     question,
	}

	reply, contextPages, err := s.ask(ctx, userID, req.FileID, question)

	entry.DurationMs = time.Since(start).Milliseconds()
	entry.ContextPages = contextPages
	if err != nil {
		entry.Status = askFailed
		entry.ErrorMsg = err.Error()
	} else {
		entry.Status = askSuccess
		entry.Answer = reply.Answer
	}
	go s.saveAskLog(entry)

	return reply, err
}

func (s *ChatService) ask(ctx context.Context, userID, documentID, question string) (*dto.Reply, int, error) {
	// 2. the document must be the user's
	doc, err := callUpstream(ctx, s.timeout, func(ctx context.Context) (*model.Document, error) {
		return s.docs.GetByID(ctx, documentID)
	})
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !doc.OwnedBy(userID)) {
		return nil, 0, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load document: %w", err)
	}

	// 3. one read-modify-write per user at a time
	unlock := s.locks.Lock(userID)
	defer unlock()

	stored, err := callUpstream(ctx, s.timeout, func(ctx context.Context) ([]model.Turn, error) {
		return s.history.Get(ctx, userID)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load history: %w", err)
	}
	turns := append(VisibleTurns(stored), model.UserTurn(question))

	// 4. grounding, regenerated on every question
	retrieval, err := s.retrieval.Retrieve(ctx, doc.ID, question)
	if err != nil {
		return nil, 0, err
	}

	// 5. generate
	prompt := s.prompt(turns, retrieval.Context)
	answer, err := callUpstream(ctx, s.timeout, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return nil, len(retrieval.Matches), fmt.Errorf("generate: %w", err)
	}

	// 6. persist without the context turn
	turns = append(turns, model.AssistantTurn(answer))
	window := WindowTurns(turns, s.maxTurns, s.instruction)
	err = runUpstream(ctx, s.timeout, func(ctx context.Context) error {
		return s.history.Put(ctx, userID, window)
	})
	if err != nil {
		return nil, len(retrieval.Matches), fmt.Errorf("save history: %w", err)
	}

	return &dto.Reply{Question: question, Answer: answer}, len(retrieval.Matches), nil
}

// prompt is [instruction, context, windowed conversation...].
func (s *ChatService) prompt(turns []model.Turn, contextBlock string) []model.Turn {
	window := WindowTurns(turns, s.maxTurns, s.instruction)
	out := make([]model.Turn, 0, len(window)+1)
	out = append(out, window[0], contextTurn(contextBlock))
	return append(out, window[1:]...)
}

func (s *ChatService) saveAskLog(entry *model.AskLog) {
	if s.askLogs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.askLogs.Create(ctx, entry); err != nil {
		s.logger.Error("❌ ask log save failed", "user_id", entry.UserID, "err", err)
	}
}
