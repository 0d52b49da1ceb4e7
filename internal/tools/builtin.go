package tools

import (
	"net/http"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
)

// Builtin tool names.
const (
	ToolAnswer      = "answer"
	ToolAnalyze     = "analyze"
	ToolWebSearch   = "web_search"
	ToolWebFetch    = "web_fetch"
	ToolCommandLine = "command_line"
)

// BuiltinDeps are the collaborators of the builtin tools.
type BuiltinDeps struct {
	LLM          llm.LLMClient
	Model        string
	HTTPClient   *http.Client
	SearchURL    string
	SearchAPIKey string
}

// NewBuiltinRegistry returns a registry holding every builtin tool.
func NewBuiltinRegistry(deps BuiltinDeps) *Registry {
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	r := NewRegistry()
	r.MustRegister(NewAnswerTool(deps.LLM, deps.Model))
	r.MustRegister(NewAnalyzeTool(deps.LLM, deps.Model))
	r.MustRegister(NewWebSearchTool(client, deps.SearchURL, deps.SearchAPIKey))
	r.MustRegister(NewWebFetchTool(client))
	r.MustRegister(NewCommandLineTool())
	return r
}
