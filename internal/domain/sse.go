package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StreamEvent is one unit of the progress protocol sent to the caller.
//
// On the wire a progress event is {"type":"progress","data":{"step":...,<payload>}}
// and the terminal event is {"type":"done","data":{...}}. Events about one
// action arrive in the order started, chunks, result or error; events of
// different actions may interleave and must be correlated by index.
type StreamEvent struct {
	Type    EventType
	Step    Step
	Payload interface{}
}

// Progress builds a progress event.
func Progress(step Step, payload interface{}) StreamEvent {
	return StreamEvent{Type: EventTypeProgress, Step: step, Payload: payload}
}

// Done builds the terminal event.
func Done(payload DonePayload) StreamEvent {
	return StreamEvent{Type: EventTypeDone, Payload: payload}
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON splices the step into the payload object.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if e.Type == EventTypeProgress {
		data = bytes.TrimSpace(data)
		if len(data) < 2 || data[0] != '{' {
			return nil, fmt.Errorf("progress payload for %s must be an object", e.Step)
		}
		step, _ := json.Marshal(e.Step)
		spliced := make([]byte, 0, len(data)+len(step)+10)
		spliced = append(spliced, `{"step":`...)
		spliced = append(spliced, step...)
		if rest := bytes.TrimSpace(data[1:]); len(rest) > 1 {
			spliced = append(spliced, ',')
		}
		spliced = append(spliced, data[1:]...)
		data = spliced
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: data})
}

// StatusPayload carries a human readable status line.
type StatusPayload struct {
	Message string `json:"message"`
}

// ChatCreatedPayload is sent when a run creates its chat.
type ChatCreatedPayload struct {
	Chat *Chat `json:"chat"`
}

// HistoryRetrievedPayload reports how many turns were recalled.
type HistoryRetrievedPayload struct {
	Count int `json:"count"`
}

// UserMessageSavedPayload carries the persisted user turn.
type UserMessageSavedPayload struct {
	Message *Message `json:"message"`
}

// IntentionRecognizedPayload carries the classifier output.
type IntentionRecognizedPayload struct {
	Intention Intention `json:"intention"`
}

// PlanGeneratedPayload carries the planned actions in index order.
type PlanGeneratedPayload struct {
	Actions []Action `json:"actions"`
}

// ActionStartedPayload is sent when an action begins running.
type ActionStartedPayload struct {
	Index      int    `json:"index"`
	AgentName  string `json:"agent_name"`
	ActionType string `json:"action_type"`
}

// MessageChunkPayload carries incremental output of a running action.
type MessageChunkPayload struct {
	Index   int    `json:"index"`
	Seq     int    `json:"seq"`
	Content string `json:"content"`
}

// ActionResultPayload carries the persisted assistant message of an action.
type ActionResultPayload struct {
	Index     int      `json:"index"`
	AgentName string   `json:"agent_name"`
	Result    *Message `json:"result"`
}

// ActionErrorPayload reports a failed action.
type ActionErrorPayload struct {
	Index     int    `json:"index"`
	AgentName string `json:"agent_name"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

// FatalErrorPayload reports an error that aborted the run.
type FatalErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// DonePayload references the last persisted assistant message, if any.
type DonePayload struct {
	RunID                string   `json:"run_id,omitempty"`
	ChatID               string   `json:"chat_id,omitempty"`
	LastAssistantMessage *Message `json:"last_assistant_message,omitempty"`
}
