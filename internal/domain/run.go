package domain

import "time"

// Intention labels.
const (
	IntentQuery             = "query"
	IntentAction            = "action"
	IntentFeedback          = "feedback"
	IntentClarification     = "clarification"
	IntentGreeting          = "greeting"
	IntentUnknown           = "unknown"
	IntentGeneralAssistance = "general_assistance"
)

// Confidence thresholds.
const (
	ConfidenceHigh   = 0.8
	ConfidenceMedium = 0.5
	ConfidenceLow    = 0.3
)

// Intention is the classified purpose of a user message.
type Intention struct {
	Label      string                 `json:"intent"`
	SubIntent  string                 `json:"sub_intent,omitempty"`
	Confidence float64                `json:"confidence"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Action is one agent+tool invocation inside a plan.
// Index is the correlation key between an action and its events; it does not
// promise anything about the order in which events of different actions arrive.
type Action struct {
	Index       int                    `json:"index"`
	AgentID     string                 `json:"agent_id"`
	AgentName   string                 `json:"agent_name"`
	Tool        string                 `json:"action_type"`
	Params      map[string]interface{} `json:"parameters"`
	DependsOn   []int                  `json:"depends_on"`
	Explanation string                 `json:"explanation,omitempty"`
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	Index    int           `json:"index"`
	Status   ActionStatus  `json:"status"`
	Content  string        `json:"content,omitempty"`
	Message  *Message      `json:"message,omitempty"`
	Err      error         `json:"-"`
	Started  bool          `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the action produced content.
func (r ActionResult) Succeeded() bool {
	return r.Status == ActionStatusSucceeded
}

// RunRequest is the input of one orchestration run.
type RunRequest struct {
	ChatID  string `json:"chat_id,omitempty"`
	Owner   string `json:"owner"`
	Message string `json:"message"`
}
