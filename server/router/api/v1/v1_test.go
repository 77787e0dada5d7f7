package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/agent"
	"github.com/hrygo/brandpulse/plugin/ai/memory"
	"github.com/hrygo/brandpulse/plugin/ai/vector"
	"github.com/hrygo/brandpulse/internal/observability"
	"github.com/hrygo/brandpulse/server/router/api/v1/stream"
	"github.com/hrygo/brandpulse/store/test"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Chat(_ context.Context, messages []ai.Message, _ ...ai.ChatOption) (string, error) {
	args := m.Called(messages)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) ChatStream(context.Context, []ai.Message, ...ai.ChatOption) (<-chan string, <-chan error) {
	content := make(chan string)
	errs := make(chan error)
	close(content)
	close(errs)
	return content, errs
}

func (m *mockLLM) ChatWithTools(_ context.Context, messages []ai.Message, _ []ai.ToolDescriptor, onDelta ai.DeltaFunc) (*ai.ChatResponse, error) {
	args := m.Called(messages)
	resp, _ := args.Get(0).(*ai.ChatResponse)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if resp.Content != "" && onDelta != nil {
		if err := onDelta(resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

type fixture struct {
	echo    *echo.Echo
	service *APIV1Service
	llm     *mockLLM
	memory  *memory.SessionMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := &profile.Profile{
		Mode:           "dev",
		Driver:         "sqlite",
		Version:        "test",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	p.ApplyDefaults()

	st := test.NewSQLiteStore(t)
	llm := &mockLLM{}
	mem := memory.NewSessionMemory(memory.Options{})
	t.Cleanup(func() { mem.Close() })
	metrics := observability.NewMetrics()

	rt, err := agent.NewRuntime(agent.Deps{
		LLM:      llm,
		Store:    st,
		Index:    vector.EmptyIndex{},
		Memory:   mem,
		Observer: metrics,
	})
	require.NoError(t, err)

	s := NewAPIV1Service(Deps{
		Profile: p,
		Store:   st,
		Runtime: rt,
		LLM:     llm,
		Metrics: metrics,
	})
	e := echo.New()
	s.RegisterRoutes(e)
	return &fixture{echo: e, service: s, llm: llm, memory: mem}
}

func (f *fixture) post(path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

// streamText joins the text payloads of an event stream and reports whether it
// was terminated by the done marker.
func streamText(t *testing.T, body string) (string, bool) {
	t.Helper()
	var text strings.Builder
	done := false
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		require.False(t, done, "data after done marker")
		if data == stream.DoneMarker {
			done = true
			continue
		}
		var p stream.Payload
		require.NoError(t, json.Unmarshal([]byte(data), &p))
		require.Empty(t, p.Error)
		text.WriteString(p.Text)
	}
	return text.String(), done
}

func TestChat_StreamsAnswerAndIssuesSession(t *testing.T) {
	f := newFixture(t)
	f.llm.On("ChatWithTools", mock.Anything).
		Return(&ai.ChatResponse{Content: "Samba OG has the best rating at 4.8.", FinishReason: "stop"}, nil).Once()

	rec := f.post("/api/ai/chat", `{"message":"Which product of the brand has the best rating?"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	text, done := streamText(t, rec.Body.String())
	assert.True(t, done)
	assert.Equal(t, "Samba OG has the best rating at 4.8.", text)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	sessionID := cookies[0].Value
	assert.Equal(t, sessionID, rec.Header().Get(SessionHeader))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	turns, err := f.memory.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, memory.RoleUser, turns[0].Role)
	assert.Equal(t, "Samba OG has the best rating at 4.8.", turns[1].Content)
	f.llm.AssertExpectations(t)
}

func TestChat_DeclinesOutOfDomain(t *testing.T) {
	f := newFixture(t)
	f.llm.On("Chat", mock.Anything).Return(`{"in_domain": false, "confidence": 0.95}`, nil).Once()

	rec := f.post("/api/ai/chat", `{"message":"What is the capital of France?","session_id":"s-1"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	text, done := streamText(t, rec.Body.String())
	assert.True(t, done)
	assert.Equal(t, agent.DeclinationMessage, text)
	assert.Empty(t, rec.Result().Cookies(), "known session gets no new cookie")
	f.llm.AssertNotCalled(t, "ChatWithTools", mock.Anything)
}

func TestChat_LLMFailureStreamsError(t *testing.T) {
	f := newFixture(t)
	f.llm.On("ChatWithTools", mock.Anything).Return(nil, errors.New("upstream down")).Once()

	rec := f.post("/api/ai/chat", `{"message":"Average sentiment per brand?"}`, map[string]string{SessionHeader: "s-err"})

	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `data: {"error":"`+agent.InternalErrorMessage+`"}`, lines[0])
	assert.Equal(t, "data: "+stream.DoneMarker, lines[1])

	turns, err := f.memory.Get(context.Background(), "s-err")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestChat_Validation(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]string{
		"missing message": `{}`,
		"blank message":   `{"message":"   "}`,
		"malformed":       `{"message":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.post("/api/ai/chat", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"status":"error"`)
		})
	}
}

func TestChat_Busy(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.service.runSemaphore.TryAcquire(f.service.Profile.MaxConcurrentRuns))

	rec := f.post("/api/ai/chat", `{"message":"Top brands by sales"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResolveSession(t *testing.T) {
	e := echo.New()
	newCtx := func(header, cookie string) echo.Context {
		req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", nil)
		if header != "" {
			req.Header.Set(SessionHeader, header)
		}
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookie})
		}
		return e.NewContext(req, httptest.NewRecorder())
	}

	id, fresh := resolveSession(newCtx("from-header", "from-cookie"), "from-body")
	assert.Equal(t, "from-body", id)
	assert.False(t, fresh)

	id, _ = resolveSession(newCtx("from-header", "from-cookie"), "")
	assert.Equal(t, "from-header", id)

	id, _ = resolveSession(newCtx("", "from-cookie"), "")
	assert.Equal(t, "from-cookie", id)

	id, fresh = resolveSession(newCtx("", ""), "")
	assert.True(t, fresh)
	assert.Len(t, id, 22)

	_, fresh = resolveSession(newCtx(strings.Repeat("x", 200), ""), "")
	assert.True(t, fresh, "oversized ids are ignored")
}

func TestResetChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"s-1", "s-2"} {
		_, err := f.memory.Append(ctx, id,
			memory.Turn{Role: memory.RoleUser, Content: "Top brands?"},
			memory.Turn{Role: memory.RoleAssistant, Content: "Adidas."})
		require.NoError(t, err)
	}

	rec := f.post("/api/ai/chat/reset", "", map[string]string{SessionHeader: "s-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","message":"Conversation history has been reset"}`, rec.Body.String())

	turns, err := f.memory.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
	turns, err = f.memory.Get(ctx, "s-2")
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	rec = f.post("/api/ai/chat/reset", `{"session_id":"s-2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	turns, err = f.memory.Get(ctx, "s-2")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestResetChat_NoSession(t *testing.T) {
	f := newFixture(t)
	rec := f.post("/api/ai/chat/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
	assert.Zero(t, f.memory.Sessions())
}

func TestDashboardSummary(t *testing.T) {
	f := newFixture(t)
	f.llm.On("Chat", mock.MatchedBy(func(messages []ai.Message) bool {
		return len(messages) == 2 &&
			messages[0].Content == summarySystemPrompt &&
			strings.Contains(messages[1].Content, "Brand: Adidas") &&
			strings.Contains(messages[1].Content, `"total_sales": 510`)
	})).Return("1. Adidas leads on sales.\n", nil).Once()

	rec := f.post("/api/ai/dashboard-summary", `{"brand":"Adidas","dashboard_data":{"total_sales":510}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","summary":"1. Adidas leads on sales.","brand":"Adidas"}`, rec.Body.String())
	f.llm.AssertExpectations(t)
}

func TestDashboardSummary_Errors(t *testing.T) {
	f := newFixture(t)
	f.llm.On("Chat", mock.Anything).Return("", errors.New("upstream down")).Once()

	rec := f.post("/api/ai/dashboard-summary", `{"brand":"Nike","dashboard_data":{"reach":1}}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"failed to generate summary: upstream down"}`, rec.Body.String())

	rec = f.post("/api/ai/dashboard-summary", `{"dashboard_data":{"reach":1}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["store"])
	assert.EqualValues(t, 0, body["index_fragments"])
	assert.Equal(t, "test", body["version"])
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	p := *f.service.Profile
	p.RateLimitRPS = 0.001
	p.RateLimitBurst = 1
	s := NewAPIV1Service(Deps{Profile: &p, Store: f.service.Store, Runtime: f.service.Runtime, LLM: f.llm})
	e := echo.New()
	s.RegisterRoutes(e)
	f.echo = e

	assert.Equal(t, http.StatusOK, f.post("/api/ai/chat/reset", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.post("/api/ai/chat/reset", "", nil).Code)
}
