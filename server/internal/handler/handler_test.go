package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"DocChat/server/internal/data/memory"
	"DocChat/server/internal/dto"
	"DocChat/server/internal/middleware"
	"DocChat/server/internal/model"
	"DocChat/server/internal/service"
	"DocChat/server/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var testPages = []string{
	"Apples grow on orchard trees in autumn",
	"Zebras graze across the savanna in herds",
	"Rockets carry satellites into orbit",
}

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 512)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%512]++
	}
	return v, nil
}

type pagesSegmenter struct{}

func (pagesSegmenter) Segment(context.Context, []byte) ([]string, error) { return testPages, nil }

// echoGenerator answers with the last user turn and records prompts.
type echoGenerator struct {
	mu      sync.Mutex
	prompts [][]model.Turn
}

func (g *echoGenerator) Generate(_ context.Context, turns []model.Turn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, turns)
	return "answer to: " + turns[len(turns)-1].Content, nil
}

func (g *echoGenerator) last() []model.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type testEnv struct {
	srv     *httptest.Server
	router  *gin.Engine
	chat    *ChatHandler
	tokens  *utils.TokenManager
	vectors *memory.VectorIndex
	history *memory.HistoryStore
	gen     *echoGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gen := &echoGenerator{}
	env := newTestEnvWith(t, gen)
	env.gen = gen
	return env
}

func newTestEnvWith(t *testing.T, gen service.Generator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	docs := memory.NewDocumentStore()
	vectors := memory.NewVectorIndex()
	history := memory.NewHistoryStore(time.Hour)
	tokens := utils.NewTokenManager(testSecret, time.Hour)

	files := service.NewFileService(service.FileServiceDeps{
		Documents: docs,
		Blobs:     memory.NewBlobStore(),
		Segmenter: pagesSegmenter{},
		Embedder:  wordEmbedder{},
		Vectors:   vectors,
		Tasks:     memory.NewTaskQueue(4),
	}, 1<<20, time.Second)
	retrieval := service.NewRetrievalService(wordEmbedder{}, vectors, 4, time.Second)
	chat := service.NewChatService(service.ChatServiceDeps{
		Documents: docs,
		History:   history,
		Retrieval: retrieval,
		Generator: gen,
	}, 5, 5*time.Second)

	chatHandler := NewChatHandler(chat, tokens, []string{"*"})
	r := NewRouter(RouterDeps{
		Auth:           NewAuthHandler(service.NewAuthService(memory.NewUserStore(), tokens)),
		Files:          NewFileHandler(files, 1<<20),
		Chat:           chatHandler,
		Verifier:       tokens,
		CORSOrigins:    []string{"*"},
		MaxUploadBytes: 1 << 20,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, router: r, chat: chatHandler, tokens: tokens, vectors: vectors, history: history}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Issue(userID, userID+"@example.com")
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (e *testEnv) upload(t *testing.T, token, name string, content []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, _ = fw.Write(content)
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/files/upload", token, &buf, mw.FormDataContentType())
}

func message(t *testing.T, raw []byte) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body.Message
}

var fakePDF = []byte("%PDF-1.4\nstub\n")

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	register := `{"email":"ada@example.com","password":"lovelace","firstName":"Ada"}`

	resp, raw := env.do(t, http.MethodPost, "/auth/register", "", strings.NewReader(register), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	resp, raw = env.do(t, http.MethodPost, "/auth/register", "", strings.NewReader(register), "application/json")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, message(t, raw))

	resp, _ = env.do(t, http.MethodPost, "/auth/register", "", strings.NewReader(`{"email":"nope"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = env.do(t, http.MethodPost, "/auth/login", "", strings.NewReader(`{"email":"ada@example.com","password":"lovelace"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login dto.LoginResp
	require.NoError(t, json.Unmarshal(raw, &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "Ada", login.User.FirstName)

	// the issued token opens the protected routes
	resp, _ = env.do(t, http.MethodGet, "/files", login.Token, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = env.do(t, http.MethodPost, "/auth/login", "", strings.NewReader(`{"email":"ada@example.com","password":"wrong!"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", message(t, raw))
}

func TestFileLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "u1")
	other := env.token(t, "u2")

	resp, _ := env.do(t, http.MethodGet, "/files", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// upload
	resp, raw := env.upload(t, owner, "notes.pdf", fakePDF)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var up dto.UploadResp
	require.NoError(t, json.Unmarshal(raw, &up))
	assert.Equal(t, "notes.pdf", up.FileName)
	assert.Equal(t, 3, up.PageCount)
	assert.True(t, up.Processed)
	assert.Equal(t, 3, env.vectors.Count(up.FileID))

	// list
	resp, raw = env.do(t, http.MethodGet, "/files", owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, up.FileID, list[0]["_id"])
	assert.Equal(t, true, list[0]["processed"])
	assert.NotContains(t, list[0], "pages")

	// get
	resp, raw = env.do(t, http.MethodGet, "/files/"+up.FileID, owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc model.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, testPages, []string(doc.Pages))

	resp, _ = env.do(t, http.MethodGet, "/files/"+up.FileID, other, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// raw
	resp, raw = env.do(t, http.MethodGet, "/files/"+up.FileID+"/raw", owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fakePDF, raw)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	// reindex
	resp, raw = env.do(t, http.MethodPost, "/files/"+up.FileID+"/reindex", owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, 3, env.vectors.Count(up.FileID))

	// delete
	resp, _ = env.do(t, http.MethodDelete, "/files/"+up.FileID, other, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, raw = env.do(t, http.MethodDelete, "/files/"+up.FileID, owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var del dto.DeleteResp
	require.NoError(t, json.Unmarshal(raw, &del))
	assert.Equal(t, up.FileID, del.FileID)
	assert.Equal(t, "notes.pdf", del.FileName)
	assert.Zero(t, env.vectors.Count(up.FileID))

	resp, raw = env.do(t, http.MethodGet, "/files/"+up.FileID, owner, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "File not found", message(t, raw))
}

func TestUpload_Rejects(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1")

	resp, raw := env.upload(t, tok, "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, message(t, raw), "PDF")

	resp, _ = env.upload(t, tok, "big.pdf", append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 1<<20)...))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = env.do(t, http.MethodPost, "/files/upload", tok, strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file uploaded", message(t, raw))
}

func TestUpload_OversizedBodyRejectedWhileReading(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "huge.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-"))
	_, _ = fw.Write(bytes.Repeat([]byte("x"), 4<<20))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files/upload", &buf)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec.Body.Bytes()), "limit")

	resp, raw := env.do(t, http.MethodGet, "/files", tok, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(raw))
}

func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/socket"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func sendAsk(t *testing.T, conn *websocket.Conn, fileID, question string) {
	t.Helper()
	data, err := json.Marshal(dto.AskReq{FileID: fileID, UserQuestion: question})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(dto.Envelope{Event: dto.EventAsk, Data: data}))
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env dto.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestSocket_RejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	expired, err := utils.NewTokenManager(testSecret, -time.Minute).Issue("u1", "")
	require.NoError(t, err)

	for name, tok := range map[string]string{"expired": expired, "garbage": "abc.def.ghi", "missing": ""} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := env.dial(t, tok)
			assert.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestSocket_QueryTokenAccepted(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/socket?token=" + env.token(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestSocket_AskReplyAndHistory(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1")
	_, raw := env.upload(t, tok, "notes.pdf", fakePDF)
	var up dto.UploadResp
	require.NoError(t, json.Unmarshal(raw, &up))

	conn, _, err := env.dial(t, tok)
	require.NoError(t, err)

	sendAsk(t, conn, up.FileID, "Where do zebras graze?")
	ev := readEvent(t, conn)
	require.Equal(t, dto.EventReply, ev.Event, string(ev.Data))
	var reply dto.Reply
	require.NoError(t, json.Unmarshal(ev.Data, &reply))
	assert.Equal(t, "Where do zebras graze?", reply.Question)
	assert.Equal(t, "answer to: Where do zebras graze?", reply.Answer)
	assert.Contains(t, env.gen.last()[1].Content, testPages[1], "page 2 is in the context block")

	sendAsk(t, conn, up.FileID, "And rockets?")
	ev = readEvent(t, conn)
	require.Equal(t, dto.EventReply, ev.Event)

	second := service.VisibleTurns(env.gen.last())
	assert.Equal(t, []model.Turn{
		model.UserTurn("Where do zebras graze?"),
		model.AssistantTurn("answer to: Where do zebras graze?"),
		model.UserTurn("And rockets?"),
	}, second)
	_ = conn.Close()

	// a new connection is hydrated once, without system turns
	conn2, _, err := env.dial(t, tok)
	require.NoError(t, err)
	ev = readEvent(t, conn2)
	require.Equal(t, dto.EventHistoryLoaded, ev.Event)
	var loaded dto.HistoryLoaded
	require.NoError(t, json.Unmarshal(ev.Data, &loaded))
	require.Len(t, loaded.Turns, 4)
	for _, turn := range loaded.Turns {
		assert.NotEqual(t, model.RoleSystem, turn.Role)
	}
}

func TestSocket_ErrorsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1")
	_, raw := env.upload(t, tok, "notes.pdf", fakePDF)
	var up dto.UploadResp
	require.NoError(t, json.Unmarshal(raw, &up))

	conn, _, err := env.dial(t, tok)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, dto.EventReplyError, readEvent(t, conn).Event)

	sendAsk(t, conn, up.FileID, "  ")
	ev := readEvent(t, conn)
	assert.Equal(t, dto.EventReplyError, ev.Event)

	sendAsk(t, conn, "someone-elses-file", "zebras?")
	ev = readEvent(t, conn)
	require.Equal(t, dto.EventReplyError, ev.Event)
	var rerr dto.ReplyError
	require.NoError(t, json.Unmarshal(ev.Data, &rerr))
	assert.Equal(t, "File not found", rerr.Error)

	sendAsk(t, conn, up.FileID, "zebras?")
	assert.Equal(t, dto.EventReply, readEvent(t, conn).Event)
}

// gatedGenerator holds its answer until released.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedGenerator) Generate(ctx context.Context, _ []model.Turn) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return "late answer", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSocket_DisconnectDuringAskKeepsHistory(t *testing.T) {
	gen := newGatedGenerator()
	env := newTestEnvWith(t, gen)
	tok := env.token(t, "u1")
	_, raw := env.upload(t, tok, "notes.pdf", fakePDF)
	var up dto.UploadResp
	require.NoError(t, json.Unmarshal(raw, &up))
	baseline := runtime.NumGoroutine()

	conn, _, err := env.dial(t, tok)
	require.NoError(t, err)
	sendAsk(t, conn, up.FileID, "Where do zebras graze?")

	select {
	case <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatal("ask never reached the generator")
	}

	// the client leaves while the answer is being generated
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.chat.OpenSessions() == 0 }, 5*time.Second, 10*time.Millisecond)
	close(gen.release)

	require.Eventually(t, func() bool {
		turns, err := env.history.Get(context.Background(), "u1")
		return err == nil && len(service.VisibleTurns(turns)) == 2
	}, 5*time.Second, 10*time.Millisecond)
	turns, err := env.history.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []model.Turn{
		model.UserTurn("Where do zebras graze?"),
		model.AssistantTurn("late answer"),
	}, service.VisibleTurns(turns))

	// the per-connection worker and pinger are gone
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline }, 5*time.Second, 20*time.Millisecond)
}

func TestSocket_SendAfterCloseIsDropped(t *testing.T) {
	sess := service.NewSession("trace-1")
	require.NoError(t, sess.Authenticate("u1"))
	require.NoError(t, sess.Activate())
	sess.Close()

	ws := &socket{sess: sess}
	assert.ErrorIs(t, ws.send(dto.EventReply, dto.Reply{Question: "q", Answer: "a"}), errSessionClosed)
}

func TestClassify(t *testing.T) {
	status, _ := classify(service.ErrUpstreamTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, status)

	// a timed out embedding call is a timeout, not a generic embedding failure
	status, _ = classify(errors.Join(service.ErrEmbedding, service.ErrUpstreamTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, status)

	status, msg := classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, msg, assert.AnError.Error())
}

func TestWriteError_LogsTraceID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/files", nil)
	c.Set(middleware.TraceContextKey, "trace-abc")

	writeError(c, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "trace_id=trace-abc")
}
