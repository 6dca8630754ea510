package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/govchat/internal/agent"
	"github.com/suPer8Hu/govchat/internal/auth"
	"github.com/suPer8Hu/govchat/internal/chat"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/govchat/internal/ingest"
	"github.com/suPer8Hu/govchat/internal/knowledge"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeChat struct {
	reply *agent.Reply
	err   error
	got   agent.Request
	panic bool
}

func (f *fakeChat) Ask(_ context.Context, req agent.Request) (*agent.Reply, error) {
	if f.panic {
		panic("boom")
	}
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeMessages struct {
	msgs    []chat.Message
	deleted []string
}

func (f *fakeMessages) Messages(_ context.Context, _ string, _ int, _ uint64) ([]chat.Message, error) {
	return f.msgs, nil
}

func (f *fakeMessages) Delete(_ context.Context, sessionID string) error {
	if sessionID != "abc" {
		return common.NotFound("delete session", errors.New("session "+sessionID))
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type fakeDocs struct {
	deleted []string
}

func (f *fakeDocs) List(_ context.Context, language string, _, _ int) ([]knowledge.Document, error) {
	return []knowledge.Document{{ID: "d1", URL: "https://www.canada.ca/en/x.html", Language: language}}, nil
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	if id != "d1" {
		return common.NotFound("delete document", errors.New("no rows"))
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDocs) Stats(_ context.Context) (knowledge.Stats, error) {
	return knowledge.Stats{Documents: 1, Chunks: 4}, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	created []ingest.JobRequest
}

func (f *fakeJobs) Create(_ context.Context, req ingest.JobRequest) (*ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return &ingest.Job{ID: "01J0000000000000000000000A", Status: ingest.JobQueued, Request: req}, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*ingest.Job, error) {
	if id != "01J0000000000000000000000A" {
		return nil, common.NotFound("get job", errors.New("record not found"))
	}
	return &ingest.Job{ID: id, Status: ingest.JobSucceeded}, nil
}

type fakeDispatch struct {
	ids []string
	err error
}

func (f *fakeDispatch) Dispatch(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 30 * time.Second, nil
}

type harness struct {
	chat     *fakeChat
	sessions *fakeMessages
	docs     *fakeDocs
	jobs     *fakeJobs
	dispatch *fakeDispatch
	tokens   *auth.TokenManager
	router   *gin.Engine
}

func newEnv(t *testing.T, opts Options) *harness {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	e := &harness{
		chat: &fakeChat{reply: &agent.Reply{
			Response:  "## Steps\nApply **online**.",
			SessionID: "01J00000000000000000000SES",
			Language:  "en",
			Sources:   []chat.Source{{URL: "https://www.canada.ca/en/passport.html", Title: "Passports"}},
			Outcome:   agent.OutcomeSuccess,
		}},
		sessions: &fakeMessages{msgs: []chat.Message{{ID: 9, Role: "user", Content: "hi"}, {ID: 7, Role: "assistant", Content: "hello"}}},
		docs:     &fakeDocs{},
		jobs:     &fakeJobs{},
		dispatch: &fakeDispatch{},
		tokens:   auth.NewTokenManager("test-secret", time.Hour),
	}
	h := handlers.NewHandler(handlers.Deps{
		Chat:              e.chat,
		Sessions:          e.sessions,
		Docs:              e.docs,
		Jobs:              e.jobs,
		Dispatch:          e.dispatch,
		Tokens:            e.tokens,
		AdminPasswordHash: hash,
	})
	e.router = NewRouter(h, opts)
	return e
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *harness) do(t *testing.T, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (e *harness) bearer(t *testing.T) map[string]string {
	t.Helper()
	tok, _, err := e.tokens.Sign(auth.AdminSubject)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestChat(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodPost, "/chat", map[string]string{"message": "passport?", "session_id": "abc"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "passport?", e.chat.got.Message)
	assert.Equal(t, "abc", e.chat.got.SessionID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "en", data["language"])
	assert.Len(t, data["sources"], 1)
	assert.NotContains(t, data, "response_html")
}

func TestChatHTMLFormat(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodPost, "/chat?format=html", map[string]string{"message": "passport?"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	html, _ := data["response_html"].(string)
	assert.Contains(t, html, "<strong>Steps</strong>")
	assert.Contains(t, html, "<strong>online</strong>")
}

func TestChatErrors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		e := newEnv(t, Options{})
		req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid input", func(t *testing.T) {
		e := newEnv(t, Options{})
		e.chat.err = common.InvalidInput("ask", errors.New("message is empty"))
		w, env := e.do(t, http.MethodPost, "/chat", map[string]string{"message": ""}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 40001, env.Code)
		assert.Equal(t, "message is empty", env.Message)
	})

	t.Run("internal error does not leak", func(t *testing.T) {
		e := newEnv(t, Options{})
		e.chat.err = errors.New("dial tcp 10.0.0.5:3306: connection refused")
		w, env := e.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi"}, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, 50001, env.Code)
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
	})

	t.Run("panic", func(t *testing.T) {
		e := newEnv(t, Options{})
		e.chat.panic = true
		w, env := e.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi"}, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, 50000, env.Code)
	})
}

func TestChatRateLimited(t *testing.T) {
	e := newEnv(t, Options{Limiter: denyLimiter{}})

	w, env := e.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 42900, env.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Empty(t, e.chat.got.Message)
}

func TestListChatMessages(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodGet, "/chat/sessions/abc/messages?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Messages     []chat.Message `json:"messages"`
		NextBeforeID uint64         `json:"next_before_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Messages, 2)
	assert.Equal(t, uint64(7), data.NextBeforeID)

	w, env = e.do(t, http.MethodGet, "/chat/sessions/abc/messages?before_id=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10002, env.Code)
}

func TestDeleteSession(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodDelete, "/chat/sessions/abc", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, []string{"abc"}, e.sessions.deleted)

	w, env = e.do(t, http.MethodDelete, "/chat/sessions/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}

func TestLogin(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40100, env.Code)

	w, env = e.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "Bearer", data.TokenType)

	claims, err := e.tokens.Parse(data.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.AdminSubject, claims.Subject)
}

func TestAdminRequiresToken(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodGet, "/admin/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40101, env.Code)

	w, env = e.do(t, http.MethodGet, "/admin/stats", nil, map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40102, env.Code)

	w, env = e.do(t, http.MethodGet, "/admin/stats", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40103, env.Code)

	w, _ = e.do(t, http.MethodGet, "/admin/stats", nil, e.bearer(t))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartIngest(t *testing.T) {
	e := newEnv(t, Options{})
	hdr := e.bearer(t)

	w, env := e.do(t, http.MethodPost, "/admin/ingest", map[string]any{"urls": []string{"https://www.canada.ca/en/services.html"}}, hdr)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 0, env.Code)
	require.Len(t, e.jobs.created, 1)
	assert.Equal(t, []string{"https://www.canada.ca/en/services.html"}, e.jobs.created[0].URLs)
	assert.Equal(t, []string{"01J0000000000000000000000A"}, e.dispatch.ids)

	w, env = e.do(t, http.MethodPost, "/admin/ingest", map[string]any{"urls": []string{"ftp://x"}}, hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10003, env.Code)

	w, env = e.do(t, http.MethodPost, "/admin/ingest", map[string]any{"urls": []string{"https://www.canada.ca/en.html"}, "prune": true}, hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10004, env.Code)

	e.dispatch.err = errors.New("channel closed")
	w, env = e.do(t, http.MethodPost, "/admin/ingest", map[string]any{"prune": true}, hdr)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 50002, env.Code)
}

func TestJobsAndDocuments(t *testing.T) {
	e := newEnv(t, Options{})
	hdr := e.bearer(t)

	w, _ := e.do(t, http.MethodGet, "/admin/jobs/01J0000000000000000000000A", nil, hdr)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := e.do(t, http.MethodGet, "/admin/jobs/missing", nil, hdr)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)

	w, env = e.do(t, http.MethodGet, "/admin/documents?language=fr&limit=1000", nil, hdr)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []knowledge.Document `json:"documents"`
		Limit     int                  `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 50, list.Limit)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "fr", list.Documents[0].Language)

	w, _ = e.do(t, http.MethodDelete, "/admin/documents/d1", nil, hdr)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"d1"}, e.docs.deleted)

	w, _ = e.do(t, http.MethodDelete, "/admin/documents/d2", nil, hdr)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRoutes(t *testing.T) {
	e := newEnv(t, Options{})

	w, env := e.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)

	w, env = e.do(t, http.MethodGet, "/chat", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 40500, env.Code)
}

func TestHealthz(t *testing.T) {
	h := handlers.NewHandler(handlers.Deps{Ping: func(context.Context) error { return errors.New("down") }})
	r := NewRouter(h, Options{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/login", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "admin routes are not mounted without tokens")
}
