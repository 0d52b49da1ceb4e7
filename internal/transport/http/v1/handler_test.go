package v1_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	v1 "github.com/yuhaibao324/dipagt/internal/transport/http/v1"
	"github.com/yuhaibao324/dipagt/tests/helpers"
)

func newServer(t *testing.T) (*echo.Echo, *helpers.Stack) {
	t.Helper()
	stack := helpers.NewTestStack(t, nil)
	e := echo.New()
	v1.NewHandler(stack.Service, stack.Planner, zap.NewNop()).RegisterRoutes(e)
	return e, stack
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type wireEvent struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func (w wireEvent) step() string {
	s, _ := w.Data["step"].(string)
	return s
}

func readEvents(t *testing.T, body string) []wireEvent {
	t.Helper()
	var events []wireEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		var ev wireEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestSendMessageStreamsRun(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodPost, "/v1/chats/messages", `{"owner":"alice","message":"what is a DAG"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Run-ID"), "run_"))
	chatID := rec.Header().Get("X-Chat-ID")
	assert.True(t, strings.HasPrefix(chatID, "chat_"))

	events := readEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, string(domain.StepStatus), events[0].step())

	last := events[len(events)-1]
	require.Equal(t, string(domain.EventTypeDone), last.Type)
	assert.Equal(t, chatID, last.Data["chat_id"])
	lastMessage, ok := last.Data["last_assistant_message"].(map[string]interface{})
	require.True(t, ok, "done carries the last assistant message")
	assert.Contains(t, lastMessage["content"], "what is a DAG")

	var sawResult bool
	for _, ev := range events {
		if ev.step() == string(domain.StepActionResult) {
			sawResult = true
		}
		assert.NotEqual(t, string(domain.StepFatalError), ev.step())
	}
	assert.True(t, sawResult)

	rec = do(e, http.MethodGet, "/v1/chats/"+chatID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.Page[domain.Message]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, domain.RoleUser, page.Items[0].Role)
	assert.Equal(t, "what is a DAG", page.Items[0].Content)
}

func TestSendMessageRejectsBadRequests(t *testing.T) {
	e, _ := newServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   apperrors.Code
	}{
		{"empty message", `{"message":"   "}`, http.StatusBadRequest, apperrors.CodeValidation},
		{"unknown chat", `{"chat_id":"chat_missing","message":"hi"}`, http.StatusNotFound, apperrors.CodeNotFound},
		{"malformed body", `{"message":`, http.StatusBadRequest, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/v1/chats/messages", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp v1.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(tt.code), resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestListAndGetChats(t *testing.T) {
	e, _ := newServer(t)

	for _, msg := range []string{"first question", "second question"} {
		rec := do(e, http.MethodPost, "/v1/chats/messages", `{"owner":"bob","message":"`+msg+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(e, http.MethodGet, "/v1/chats?owner=bob&page=1&page_size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.Page[domain.Chat]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)

	rec = do(e, http.MethodGet, "/v1/chats/list/bob?searchQuery=second", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "second question", page.Items[0].Title)

	rec = do(e, http.MethodGet, "/v1/chats/"+page.Items[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var chat domain.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, "bob", chat.Owner)

	rec = do(e, http.MethodGet, "/v1/chats/chat_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(e, http.MethodGet, "/v1/chats/chat_missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelUnknownRun(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodPost, "/v1/runs/run_missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAgents(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodGet, "/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Agents []v1.AgentResponse `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	ids := make([]string, len(resp.Agents))
	for i, a := range resp.Agents {
		ids[i] = a.ID
		assert.NotEmpty(t, a.Tools, "agent %s", a.ID)
	}
	assert.ElementsMatch(t, []string{"assistant", "analyst", "researcher"}, ids)
}

func TestHealth(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.CodeValidation, ""), http.StatusBadRequest},
		{apperrors.New(apperrors.CodeNotFound, ""), http.StatusNotFound},
		{apperrors.New(apperrors.CodeChatBusy, ""), http.StatusConflict},
		{apperrors.New(apperrors.CodeStorageFailure, ""), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v1.StatusOf(tt.err), "%v", tt.err)
	}
}
