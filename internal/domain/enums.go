// Package domain defines the core domain models for the orchestration pipeline.
package domain

// ChatStatus represents the status of a chat.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
)

// MessageRole represents who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MessageType represents the content type of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeError MessageType = "error"
	MessageTypeOther MessageType = "other"
)

// ActionStatus is the state of one action inside a run.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusReady     ActionStatus = "ready"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed
}

// EventType represents the type of a stream event.
type EventType string

const (
	EventTypeProgress EventType = "progress"
	EventTypeDone     EventType = "done"
)

// Step is carried in the step field of progress events.
type Step string

const (
	StepStatus              Step = "status"
	StepChatCreated         Step = "chat_created"
	StepHistoryRetrieved    Step = "history_retrieved"
	StepUserMessageSaved    Step = "user_message_saved"
	StepIntentionRecognized Step = "intention_recognized"
	StepPlanGenerated       Step = "plan_generated"
	StepActionStarted       Step = "action_started"
	StepMessageChunk        Step = "message_chunk"
	StepActionResult        Step = "action_result"
	StepActionError         Step = "action_error"
	StepFatalError          Step = "fatal_error"
)
