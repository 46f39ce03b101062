package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramarivera/portal/internal/api/controller"
	"github.com/ramarivera/portal/internal/api/dto"
	"github.com/ramarivera/portal/internal/chat"
	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/mention"
	"github.com/ramarivera/portal/pkg/opencode"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

// fakeUpstream stands in for the agent server.
type fakeUpstream struct {
	mu       sync.Mutex
	sessions map[string]opencode.Session
	messages map[string][]opencode.MessageWithParts
	prompts  []string
	models   []*opencode.ModelSpec
	aborted  []string
	files    []string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		sessions: map[string]opencode.Session{
			"s1": {ID: "s1", Title: "first", Time: opencode.SessionTime{Created: 1000, Updated: 1000}},
			"s2": {ID: "s2", Title: "second", Time: opencode.SessionTime{Created: 2000, Updated: 3000}},
		},
		messages: map[string][]opencode.MessageWithParts{},
		files:    []string{"README.md", "node_modules/left-pad/index.js", "src/main.go"},
	}
}

func notFound(op string) error {
	return &opencode.HTTPError{Op: op, Status: http.StatusNotFound, Body: "not found"}
}

func (f *fakeUpstream) ListSessions(context.Context) ([]opencode.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]opencode.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeUpstream) CreateSession(_ context.Context, title string) (*opencode.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := opencode.Session{ID: "s3", Title: title}
	f.sessions[s.ID] = s
	return &s, nil
}

func (f *fakeUpstream) GetSession(_ context.Context, id string) (*opencode.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, notFound("get session")
	}
	return &s, nil
}

func (f *fakeUpstream) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return notFound("delete session")
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeUpstream) ListMessages(_ context.Context, id string) ([]opencode.MessageWithParts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return nil, notFound("list messages")
	}
	return append([]opencode.MessageWithParts(nil), f.messages[id]...), nil
}

func (f *fakeUpstream) SendPrompt(_ context.Context, id, prompt string, model *opencode.ModelSpec) (*opencode.MessageWithParts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	m := opencode.MessageWithParts{
		Info:  opencode.MessageInfo{ID: "srv-" + prompt, SessionID: id, Role: "user"},
		Parts: []opencode.Part{{ID: "p", Type: "text", Text: prompt}},
	}
	f.messages[id] = append(f.messages[id], m)
	return &m, nil
}

func (f *fakeUpstream) Abort(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, id)
}

func (f *fakeUpstream) ListProviders(context.Context) (*opencode.ProvidersResponse, error) {
	return &opencode.ProvidersResponse{
		Providers: []opencode.Provider{
			{ID: "openai", Name: "OpenAI", Models: map[string]opencode.Model{"gpt": {ID: "gpt", Name: "GPT"}}},
			{ID: "anthropic", Name: "Anthropic", Models: map[string]opencode.Model{
				"sonnet": {ID: "sonnet", Name: "Sonnet"},
				"haiku":  {Name: "Haiku"},
			}},
		},
		Default: map[string]string{"anthropic": "sonnet"},
	}, nil
}

func (f *fakeUpstream) CurrentProject(context.Context) (*opencode.Project, error) {
	return &opencode.Project{ID: "p1", Worktree: "/repo", VCS: "git"}, nil
}

func (f *fakeUpstream) FindFiles(_ context.Context, query string) ([]string, error) {
	var out []string
	for _, p := range f.files {
		if strings.Contains(p, query) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeUpstream) sentModels() []*opencode.ModelSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*opencode.ModelSpec(nil), f.models...)
}

type staticDefaults struct{ model *queue.ModelRef }

func (s staticDefaults) DefaultModel(context.Context) *queue.ModelRef { return s.model }

type testEnv struct {
	router     *gin.Engine
	dispatcher *ws.Dispatcher
	upstream   *fakeUpstream
	manager    *chat.Manager
	handlers   *Handlers
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	up := newFakeUpstream()

	st := store.New(chat.NewFetcher(up), log)
	manager := chat.NewManager(st, chat.NewDispatcher(up), log, queue.Options{Policy: queue.PolicyContinue})
	searcher, err := mention.NewSearcher(up, log, mention.SearchOptions{
		Debounce: 10 * time.Millisecond,
		Excludes: []string{"node_modules/**"},
	})
	require.NoError(t, err)

	ctrl := controller.NewController(up, manager, searcher, staticDefaults{
		model: &queue.ModelRef{ProviderID: "anthropic", ModelID: "sonnet"},
	}, log)
	router := gin.New()
	dispatcher := ws.NewDispatcher()
	h := RegisterRoutes(router, dispatcher, ctrl, log)

	t.Cleanup(func() {
		h.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return &testEnv{router: router, dispatcher: dispatcher, upstream: up, manager: manager, handlers: h}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSessions(t *testing.T) {
	env := setup(t)

	rec := env.do(http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[dto.SessionsResponse](t, rec)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "s2", list.Sessions[0].ID, "most recently updated first")

	rec = env.do(http.MethodPost, "/api/sessions", `{"title":"  new one "}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new one", decode[dto.SessionDTO](t, rec).Title)

	rec = env.do(http.MethodGet, "/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/sessions/s2/abort", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"s2"}, env.upstream.aborted)
}

func TestEnqueueAndListMessages(t *testing.T) {
	env := setup(t)

	rec := env.do(http.MethodPost, "/api/sessions/s1/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/sessions/s1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	queued := decode[dto.EnqueueResponse](t, rec)
	assert.Equal(t, "hello", queued.Message.Text)
	assert.True(t, strings.HasPrefix(queued.Message.ID, "temp-"))

	require.Eventually(t, func() bool {
		return len(env.upstream.sentModels()) == 1 && !env.manager.Status("s1").Draining
	}, 2*time.Second, 5*time.Millisecond)

	models := env.upstream.sentModels()
	require.NotNil(t, models[0], "default model from settings is applied")
	assert.Equal(t, "sonnet", models[0].ModelID)

	rec = env.do(http.MethodGet, "/api/sessions/s1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[dto.MessagesResponse](t, rec)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "srv-hello", msgs.Messages[0].ID)
	assert.False(t, msgs.Messages[0].Optimistic)

	rec = env.do(http.MethodGet, "/api/sessions/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnqueue_ExplicitModelWins(t *testing.T) {
	env := setup(t)

	rec := env.do(http.MethodPost, "/api/sessions/s1/messages", `{"text":"hi","model":{"provider_id":"openai","model_id":"gpt"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return len(env.upstream.sentModels()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "openai", env.upstream.sentModels()[0].ProviderID)
}

func TestQueueRoutes(t *testing.T) {
	env := setup(t)

	rec := env.do(http.MethodGet, "/api/sessions/idle/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[dto.QueueStatusResponse](t, rec)
	assert.Equal(t, "idle", status.Queue.SessionID)
	assert.Empty(t, status.Queue.Pending)

	rec = env.do(http.MethodDelete, "/api/sessions/idle/queue/temp-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/sessions/idle/scope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.manager.Open("s1")
	require.NoError(t, err)
	rec = env.do(http.MethodDelete, "/api/sessions/s1/scope", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, env.manager.IsOpen("s1"))
}

func TestModelsProjectAndFiles(t *testing.T) {
	env := setup(t)

	rec := env.do(http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	models := decode[dto.ModelsResponse](t, rec).Models
	require.Len(t, models, 3)
	assert.Equal(t, "anthropic", models[0].ProviderID)
	assert.Equal(t, "haiku", models[0].ModelID)
	assert.Equal(t, "Haiku", models[0].ModelName)
	assert.True(t, models[1].Default)
	assert.Equal(t, "openai", models[2].ProviderID)

	rec = env.do(http.MethodGet, "/api/project", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/repo", decode[dto.ProjectDTO](t, rec).Worktree)

	rec = env.do(http.MethodGet, "/api/files?query=i", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"src/main.go"}, decode[dto.FilesResponse](t, rec).Files)
}

func TestMentionRoutes(t *testing.T) {
	env := setup(t)

	rec := env.do(http.MethodPost, "/api/mention/context", `{"text":"hello @re","cursor":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ctx := decode[dto.MentionContextResponse](t, rec).Context
	assert.True(t, ctx.Active)
	assert.Equal(t, "re", ctx.Query)
	assert.Equal(t, 6, ctx.AnchorOffset)

	rec = env.do(http.MethodPost, "/api/mention/apply", `{"text":"hello @re","anchor":6,"query_length":2,"path":"README.md","trailing_space":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	applied := decode[dto.MentionApplyResponse](t, rec)
	assert.Equal(t, "hello @README.md ", applied.Text)
	assert.Equal(t, 17, applied.Cursor)

	rec = env.do(http.MethodPost, "/api/mention/apply", `{"text":"x","anchor":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMentionRoutes_UTF16Offsets(t *testing.T) {
	env := setup(t)

	// The emoji is two UTF-16 units, so the browser reports the '@' at 3.
	rec := env.do(http.MethodPost, "/api/mention/context", `{"text":"😀 @re","cursor":6,"unit":"utf16"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ctx := decode[dto.MentionContextResponse](t, rec).Context
	assert.True(t, ctx.Active)
	assert.Equal(t, "re", ctx.Query)
	assert.Equal(t, 3, ctx.AnchorOffset)

	rec = env.do(http.MethodPost, "/api/mention/apply", `{"text":"😀 @re","anchor":3,"query_length":2,"path":"README.md","trailing_space":true,"unit":"utf16"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	applied := decode[dto.MentionApplyResponse](t, rec)
	assert.Equal(t, "😀 @README.md ", applied.Text)
	assert.Equal(t, 14, applied.Cursor)

	rec = env.do(http.MethodPost, "/api/mention/context", `{"text":"😀 @re","cursor":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[dto.MentionContextResponse](t, rec).Context.AnchorOffset, "runes by default")

	rec = env.do(http.MethodPost, "/api/mention/context", `{"text":"@x","cursor":2,"unit":"bytes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// fakePeer records notifications pushed to a connection.
type fakePeer struct {
	id     string
	closed chan struct{}
	msgs   chan *ws.Message
}

func (p *fakePeer) PeerID() string          { return p.id }
func (p *fakePeer) Notify(msg *ws.Message)  { p.msgs <- msg }
func (p *fakePeer) Closed() <-chan struct{} { return p.closed }

func dispatch(t *testing.T, ctx context.Context, d *ws.Dispatcher, action string, payload any) *ws.Message {
	t.Helper()
	req, err := ws.NewRequest("req-1", action, payload)
	require.NoError(t, err)
	resp, err := d.Dispatch(ctx, req)
	require.NoError(t, err)
	return resp
}

func TestWS_EnqueueAndErrors(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	resp := dispatch(t, ctx, env.dispatcher, ws.ActionMessageEnqueue, map[string]any{"session_id": "s1", "text": "hey"})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	resp = dispatch(t, ctx, env.dispatcher, ws.ActionMessageEnqueue, map[string]any{"text": "hey"})
	require.Equal(t, ws.MessageTypeError, resp.Type)

	resp = dispatch(t, ctx, env.dispatcher, ws.ActionMessageEnqueue, map[string]any{"session_id": "s1", "text": ""})
	var errPayload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, ws.ErrorCodeValidation, errPayload.Code)

	resp = dispatch(t, ctx, env.dispatcher, ws.ActionQueueCancel, map[string]any{"session_id": "s1", "message_id": "nope"})
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, ws.ErrorCodeNotFound, errPayload.Code)

	resp = dispatch(t, ctx, env.dispatcher, ws.ActionMessageList, map[string]any{"session_id": "missing"})
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, ws.ErrorCodeNotFound, errPayload.Code)

	resp = dispatch(t, ctx, env.dispatcher, ws.ActionQueueStatus, map[string]any{"session_id": "s1"})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	resp = dispatch(t, ctx, env.dispatcher, ws.ActionMentionContext, map[string]any{"text": "hello@re", "cursor": 8})
	var mctx dto.MentionContextResponse
	require.NoError(t, resp.ParsePayload(&mctx))
	assert.False(t, mctx.Context.Active)
}

func TestWS_FilesSearchDirectWithoutPeer(t *testing.T) {
	env := setup(t)

	resp := dispatch(t, context.Background(), env.dispatcher, ws.ActionFilesSearch, map[string]any{"query": "READ"})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	var files dto.FilesResponse
	require.NoError(t, resp.ParsePayload(&files))
	assert.Equal(t, []string{"README.md"}, files.Files)
}

func TestWS_FilesSearchDebouncedPerPeer(t *testing.T) {
	env := setup(t)
	peer := &fakePeer{id: "c1", closed: make(chan struct{}), msgs: make(chan *ws.Message, 8)}
	ctx := ws.WithPeer(context.Background(), peer)

	dispatch(t, ctx, env.dispatcher, ws.ActionFilesSearch, map[string]any{"query": "s"})
	ack := dispatch(t, ctx, env.dispatcher, ws.ActionFilesSearch, map[string]any{"query": "src"})
	var ackBody struct {
		Seq uint64 `json:"seq"`
	}
	require.NoError(t, ack.ParsePayload(&ackBody))
	assert.Equal(t, uint64(2), ackBody.Seq)

	deadline := time.After(2 * time.Second)
	for {
		var msg *ws.Message
		select {
		case msg = <-peer.msgs:
		case <-deadline:
			t.Fatal("no files.results notification for the latest query")
		}
		require.Equal(t, ws.ActionFilesResults, msg.Action)
		var body filesResultsPayload
		require.NoError(t, msg.ParsePayload(&body))
		if body.Query != "src" {
			continue
		}
		assert.Equal(t, []string{"src/main.go"}, body.Files)
		break
	}

	close(peer.closed)
	require.Eventually(t, func() bool {
		env.handlers.queriesMu.Lock()
		defer env.handlers.queriesMu.Unlock()
		return len(env.handlers.queries) == 0
	}, time.Second, 5*time.Millisecond)
}
