package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DocChat/server/internal/conf"
	"DocChat/server/internal/data"
	"DocChat/server/internal/data/memory"
	"DocChat/server/internal/handler"
	"DocChat/server/internal/repository"
	"DocChat/server/internal/segmenter"
	"DocChat/server/internal/service"
	"DocChat/server/internal/utils"
	"DocChat/server/internal/worker"

	"github.com/gin-gonic/gin"
)

// stores is what the services need from a backend.
type stores struct {
	documents repository.DocumentRepository
	users     repository.UserRepository
	askLogs   repository.AskLogRepository
	blobs     service.BlobStore
	vectors   service.VectorIndex
	history   service.HistoryStore
	tasks     worker.TaskSource
}

// Run starts the server and blocks until SIGINT/SIGTERM.
func Run() {
	// 1. config + logging
	cfg := conf.LoadConfig()
	setupLogger(cfg.App.GinMode)
	if err := cfg.Validate(); err != nil {
		slog.Error("❌ invalid configuration", "err", err)
		os.Exit(1)
	}

	// 2. data layer
	st, cleanup, err := openStores(cfg)
	if err != nil {
		slog.Error("❌ data layer init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// 3. services
	ai := service.NewAIAdapter(cfg.AI)
	tokens := utils.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	timeout := cfg.App.UpstreamTimeout

	fileSvc := service.NewFileService(service.FileServiceDeps{
		Documents: st.documents,
		Blobs:     st.blobs,
		Segmenter: segmenter.NewPDFSegmenter(),
		Embedder:  ai,
		Vectors:   st.vectors,
		Tasks:     st.tasks,
	}, cfg.Upload.MaxBytes, timeout)
	retrievalSvc := service.NewRetrievalService(ai, st.vectors, cfg.Retrieval.TopK, timeout)
	chatSvc := service.NewChatService(service.ChatServiceDeps{
		Documents: st.documents,
		History:   st.history,
		Retrieval: retrievalSvc,
		Generator: ai,
		AskLogs:   st.askLogs,
	}, cfg.History.MaxTurns, timeout)
	authSvc := service.NewAuthService(st.users, tokens)

	// 4. repair worker
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	repair := worker.NewReindexWorker(st.tasks, fileSvc, cfg.Worker.ReindexMaxAttempts)
	repair.Start(ctx, cfg.Worker.ReindexConcurrency)

	// 5. HTTP
	r := handler.NewRouter(handler.RouterDeps{
		Auth:           handler.NewAuthHandler(authSvc),
		Files:          handler.NewFileHandler(fileSvc, cfg.Upload.MaxBytes),
		Chat:           handler.NewChatHandler(chatSvc, tokens, cfg.App.CORSOrigins),
		Verifier:       tokens,
		CORSOrigins:    cfg.App.CORSOrigins,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("🚀 server listening", "addr", srv.Addr, "backend", cfg.Data.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("❌ server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("❌ graceful shutdown failed", "err", err)
	}
	repair.Wait()
	slog.Info("✅ server stopped")
}

func setupLogger(ginMode string) {
	gin.SetMode(ginMode)
	var h slog.Handler
	if ginMode == gin.ReleaseMode {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(h))
}

func openStores(cfg *conf.Config) (*stores, func(), error) {
	switch cfg.Data.Backend {
	case conf.BackendMemory:
		if cfg.AI.OpenAIKey == "" {
			slog.Warn("AI_OPENAI_KEY is empty, model calls rely on AI_OPENAI_BASE_URL", "base_url", cfg.AI.OpenAIBaseURL)
		}
		slog.Info("✅ in-memory backend ready")
		return &stores{
			documents: memory.NewDocumentStore(),
			users:     memory.NewUserStore(),
			askLogs:   memory.NewAskLogStore(),
			blobs:     memory.NewBlobStore(),
			vectors:   memory.NewVectorIndex(),
			history:   memory.NewHistoryStore(cfg.History.TTL),
			tasks:     memory.NewTaskQueue(256),
		}, func() {}, nil
	case conf.BackendRemote:
		d, cleanup, err := data.NewData(cfg)
		if err != nil {
			return nil, nil, err
		}
		return &stores{
			documents: d.Documents(),
			users:     d.Users(),
			askLogs:   d.AskLogs(),
			blobs:     d.Blobs(),
			vectors:   d.Vectors(),
			history:   d.History(cfg),
			tasks:     d.Tasks(),
		}, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown data backend %q", cfg.Data.Backend)
	}
}
