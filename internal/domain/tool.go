package domain

import "time"

// Agent is a configured persona that owns a set of tool bindings.
type Agent struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Avatar      string                 `json:"avatar,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Active      bool                   `json:"is_active"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ToolSpec is the catalog entry of a tool.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Defaults    map[string]interface{} `json:"defaults,omitempty"`
	Active      bool                   `json:"is_active"`
}

// AgentTool binds a tool to an agent with agent-specific overrides.
type AgentTool struct {
	AgentID string                 `json:"agent_id"`
	Tool    string                 `json:"tool"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// Binding is a resolved tool binding: tool defaults with agent overrides applied.
type Binding struct {
	Tool        string                 `json:"tool"`
	Description string                 `json:"description,omitempty"`
	Config      map[string]interface{} `json:"config"`
}

// Catalog is the seed set of agents, tools and bindings.
type Catalog struct {
	Agents   []Agent
	Tools    []ToolSpec
	Bindings []AgentTool
}
