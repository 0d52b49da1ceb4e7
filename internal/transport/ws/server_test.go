package ws_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/transport/ws"
	"github.com/yuhaibao324/dipagt/tests/helpers"
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	RunID     string          `json:"run_id"`
	ChatID    string          `json:"chat_id"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Event     json.RawMessage `json:"event"`
}

type event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	stack := helpers.NewTestStack(t, nil)
	e := echo.New()
	srv := ws.NewServer(ws.Config{PingInterval: time.Second}, stack.Service, zap.NewNop())
	e.GET("/ws", srv.HandleWebSocket)

	httpServer := httptest.NewServer(e)
	t.Cleanup(httpServer.Close)

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestChatMessageStreamsRun(t *testing.T) {
	conn := dial(t)

	send(t, conn, map[string]string{"type": ws.TypeChatMessage, "request_id": "req-1", "content": "hello there"})

	started := next(t, conn)
	require.Equal(t, ws.TypeRunStarted, started.Type)
	assert.Equal(t, "req-1", started.RequestID)
	assert.True(t, strings.HasPrefix(started.RunID, "run_"))
	assert.True(t, strings.HasPrefix(started.ChatID, "chat_"))

	var events []event
	for {
		f := next(t, conn)
		require.Equal(t, ws.TypeRunEvent, f.Type)
		assert.Equal(t, started.RunID, f.RunID)
		var ev event
		require.NoError(t, json.Unmarshal(f.Event, &ev))
		events = append(events, ev)
		if ev.Type == string(domain.EventTypeDone) {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, string(domain.StepStatus), events[0].Data["step"])
	done := events[len(events)-1]
	assert.Equal(t, started.RunID, done.Data["run_id"])
	assert.Equal(t, started.ChatID, done.Data["chat_id"])
}

func TestRejectedFrames(t *testing.T) {
	conn := dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := next(t, conn)
	assert.Equal(t, ws.TypeError, f.Type)
	assert.Equal(t, string(apperrors.CodeValidation), f.Code)

	send(t, conn, map[string]string{"type": "hello"})
	f = next(t, conn)
	assert.Equal(t, ws.TypeError, f.Type)
	assert.Contains(t, f.Message, "unknown message type")

	send(t, conn, map[string]string{"type": ws.TypeChatMessage, "request_id": "req-2", "content": " "})
	f = next(t, conn)
	assert.Equal(t, ws.TypeError, f.Type)
	assert.Equal(t, "req-2", f.RequestID)
	assert.Equal(t, string(apperrors.CodeValidation), f.Code)

	send(t, conn, map[string]string{"type": ws.TypeChatMessage, "chat_id": "chat_missing", "content": "hi"})
	f = next(t, conn)
	assert.Equal(t, string(apperrors.CodeNotFound), f.Code)

	send(t, conn, map[string]string{"type": ws.TypeCancelRun})
	f = next(t, conn)
	assert.Equal(t, string(apperrors.CodeValidation), f.Code)

	send(t, conn, map[string]string{"type": ws.TypeCancelRun, "run_id": "run_missing"})
	f = next(t, conn)
	assert.Equal(t, string(apperrors.CodeNotFound), f.Code)
	assert.Equal(t, "run_missing", f.RunID)
}
