package domain

import "time"

// Chat is a conversation owned by one user.
type Chat struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	Status       ChatStatus             `json:"status"`
	Owner        string                 `json:"owner"`
	MessageCount int                    `json:"message_count"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Message belongs to exactly one chat. Messages are append-only; CreatedAt is
// the ordering key.
type Message struct {
	ID          string                 `json:"id"`
	ChatID      string                 `json:"chat_id"`
	Role        MessageRole            `json:"role"`
	Type        MessageType            `json:"type"`
	Content     string                 `json:"content"`
	AgentID     string                 `json:"agent_id,omitempty"`
	AgentName   string                 `json:"agent_name,omitempty"`
	AgentAvatar string                 `json:"agent_avatar,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
