package ws

import (
	"time"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

// Client to server message types.
const (
	TypeChatMessage = "chat_message"
	TypeCancelRun   = "cancel_run"
)

// Server to client message types.
const (
	TypeRunStarted   = "run_started"
	TypeRunEvent     = "run_event"
	TypeRunCancelled = "run_cancelled"
	TypeError        = "error"
)

// BaseMessage carries the fields common to every frame.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

func base(msgType, requestID, runID string) BaseMessage {
	return BaseMessage{Type: msgType, Ts: time.Now().UnixMilli(), RequestID: requestID, RunID: runID}
}

// ChatMessage starts a run on a new or existing chat.
type ChatMessage struct {
	BaseMessage
	ChatID  string `json:"chat_id,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Content string `json:"content"`
}

// CancelRunMessage cancels a run started on any connection.
type CancelRunMessage struct {
	BaseMessage
}

// RunStartedMessage acknowledges a chat_message.
type RunStartedMessage struct {
	BaseMessage
	ChatID string `json:"chat_id"`
}

// RunEventMessage forwards one stream event of a run.
type RunEventMessage struct {
	BaseMessage
	Event domain.StreamEvent `json:"event"`
}

// ErrorMessage reports a rejected frame or request.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
