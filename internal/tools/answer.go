package tools

import (
	"context"
	"fmt"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
)

const (
	answerSystemPrompt  = "You are a helpful assistant. Answer the user's request clearly and concisely."
	analyzeSystemPrompt = "You are an analyst. Break the topic down step by step, " +
		"state your assumptions and finish with a short conclusion."
)

// promptTool streams an LLM completion for a single prompt parameter.
type promptTool struct {
	name         string
	description  string
	param        string
	systemPrompt string
	client       llm.LLMClient
	model        string
}

// NewAnswerTool answers a prompt in natural language.
func NewAnswerTool(client llm.LLMClient, model string) Tool {
	return &promptTool{
		name:         ToolAnswer,
		description:  "Answer the user directly in natural language.",
		param:        "prompt",
		systemPrompt: answerSystemPrompt,
		client:       client,
		model:        model,
	}
}

// NewAnalyzeTool analyses a topic, usually the output of earlier actions.
func NewAnalyzeTool(client llm.LLMClient, model string) Tool {
	return &promptTool{
		name:         ToolAnalyze,
		description:  "Analyze a topic or prior results step by step.",
		param:        "topic",
		systemPrompt: analyzeSystemPrompt,
		client:       client,
		model:        model,
	}
}

func (t *promptTool) Name() string        { return t.name }
func (t *promptTool) Description() string { return t.description }

func (t *promptTool) Schema() Schema {
	return Schema{Params: []Param{
		{Name: t.param, Type: "string", Description: "Text to work on", Required: true},
		{Name: "context", Type: "string", Description: "Additional context"},
	}}
}

func (t *promptTool) Invoke(ctx context.Context, call Call, chunks chan<- string) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("%s: no LLM client configured", t.name)
	}
	input := stringParam(call.Params, t.param)
	if input == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredParam, t.param)
	}
	if extra := stringParam(call.Params, "context"); extra != "" {
		input = input + "\n\nContext:\n" + extra
	}

	req := &llm.ChatCompletionRequest{
		Model: configString(call.Config, "model", t.model),
		Messages: []llm.ChatMessage{
			{Role: "system", Content: configString(call.Config, "system_prompt", t.systemPrompt)},
			{Role: "user", Content: input},
		},
		Task: llm.TaskTool,
	}
	if temp, ok := configFloat(call.Config, "temperature"); ok {
		req.Temperature = llm.Float64(temp)
	}
	if maxTokens := configInt(call.Config, "max_tokens", 0); maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	return llm.StreamText(ctx, t.client, req, func(delta string) error {
		return Emit(ctx, chunks, delta)
	})
}
