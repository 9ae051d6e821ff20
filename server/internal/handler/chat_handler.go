package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"DocChat/server/internal/dto"
	"DocChat/server/internal/middleware"
	"DocChat/server/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameBytes  = 64 << 10
	pendingAskSize = 8
)

var errSessionClosed = errors.New("session closed")

// ChatHandler is the realtime gateway: one websocket per session, asks
// answered strictly in order.
type ChatHandler struct {
	svc      *service.ChatService
	verifier middleware.TokenVerifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
	open     atomic.Int64
}

func NewChatHandler(svc *service.ChatService, verifier middleware.TokenVerifier, allowedOrigins []string) *ChatHandler {
	return &ChatHandler{
		svc:      svc,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: slog.Default().With("service", "gateway"),
	}
}

// HandleSocket GET /socket
func (h *ChatHandler) HandleSocket(c *gin.Context) {
	sess := service.NewSession(c.GetString(middleware.TraceContextKey))

	// 1. connecting -> authenticated, before the upgrade
	claims, err := h.verifier.Verify(middleware.BearerToken(c.Request))
	if err == nil {
		err = sess.Authenticate(claims.UserID)
	}
	if err != nil {
		h.logger.Warn("handshake rejected", "connection_id", sess.ConnectionID, "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Authentication failed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered the request
		h.logger.Warn("upgrade failed", "connection_id", sess.ConnectionID, "err", err)
		return
	}
	h.serve(sess, conn)
}

// socket serializes writes; gorilla allows one concurrent writer.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
	sess *service.Session
}

func (s *socket) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.State() == service.StateClosed {
		return errSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(dto.Envelope{Event: event, Data: data})
}

func (h *ChatHandler) serve(sess *service.Session, conn *websocket.Conn) {
	userID := sess.UserID()
	log := h.logger.With("connection_id", sess.ConnectionID, "user_id", userID)
	ws := &socket{conn: conn, sess: sess}
	// asks outlive the connection; their results are dropped on close
	ctx := context.Background()

	defer func() {
		_ = conn.Close()
		log.Info("session closed")
	}()

	// 2. authenticated -> active, after hydrating history
	turns, err := h.svc.LoadHistory(ctx, userID)
	if err != nil {
		log.Warn("history hydrate failed", "err", err)
	}
	if len(turns) > 0 {
		if err := ws.send(dto.EventHistoryLoaded, dto.HistoryLoaded{Turns: turns}); err != nil {
			log.Warn("history push failed", "err", err)
			return
		}
	}
	if err := sess.Activate(); err != nil {
		log.Error("❌ activate", "err", err)
		return
	}
	h.open.Add(1)
	defer h.open.Add(-1)
	log.Info("session active", "open_sessions", h.open.Load())

	// 3. one worker per connection: asks never overlap
	asks := make(chan dto.AskReq, pendingAskSize)
	go func() {
		for req := range asks {
			if !sess.Active() {
				continue
			}
			h.answer(ctx, sess, ws, log, req)
		}
	}()
	defer close(asks)
	defer sess.Close()

	stopPing := h.keepAlive(conn)
	defer stopPing()

	// 4. reader
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", "err", err)
			}
			return
		}
		var env dto.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			_ = ws.send(dto.EventReplyError, dto.ReplyError{Error: "Malformed message"})
			continue
		}
		switch env.Event {
		case dto.EventAsk:
			var req dto.AskReq
			if len(env.Data) == 0 || json.Unmarshal(env.Data, &req) != nil {
				_ = ws.send(dto.EventReplyError, dto.ReplyError{Error: "fileId and userQuestion are required"})
				continue
			}
			select {
			case asks <- req:
			default:
				_ = ws.send(dto.EventReplyError, dto.ReplyError{Error: "Too many pending questions"})
			}
		default:
			_ = ws.send(dto.EventReplyError, dto.ReplyError{Error: "Unknown event " + env.Event})
		}
	}
}

// OpenSessions counts connections between activation and close.
func (h *ChatHandler) OpenSessions() int64 { return h.open.Load() }

func (h *ChatHandler) answer(ctx context.Context, sess *service.Session, ws *socket, log *slog.Logger, req dto.AskReq) {
	reply, err := h.svc.Ask(ctx, sess, req)
	if err != nil {
		_, msg := classify(err)
		log.Warn("ask failed", "file_id", req.FileID, "err", err)
		if serr := ws.send(dto.EventReplyError, dto.ReplyError{Error: msg}); errors.Is(serr, errSessionClosed) {
			log.Info("connection gone, error dropped")
		}
		return
	}
	if err := ws.send(dto.EventReply, reply); errors.Is(err, errSessionClosed) {
		log.Info("connection gone, reply dropped", "file_id", req.FileID)
	}
}

func (h *ChatHandler) keepAlive(conn *websocket.Conn) (stop func()) {
	ticker := time.NewTicker(pingPeriod)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
