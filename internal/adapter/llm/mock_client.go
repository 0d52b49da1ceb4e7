package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tasks tag requests with their purpose. They are not sent on the wire.
const (
	TaskIntention = "intention"
	TaskPlan      = "plan"
	TaskTitle     = "title"
	TaskTool      = "tool"
)

// Responder produces the full response text for a request.
type Responder func(req *ChatCompletionRequest) (string, error)

// MockClient is a mock implementation of LLMClient for testing and local runs.
type MockClient struct {
	respond   Responder
	chunkSize int
}

// NewMockClient creates a mock client with canned responses per task.
func NewMockClient() *MockClient {
	return &MockClient{respond: cannedResponse, chunkSize: 10}
}

// NewScriptedClient creates a mock client answering with respond.
func NewScriptedClient(respond Responder) *MockClient {
	return &MockClient{respond: respond, chunkSize: 10}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := m.respond(req)
	if err != nil {
		return nil, err
	}
	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: m.usage(req, content),
	}, nil
}

// CreateChatCompletionStream simulates a streaming response.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	content, err := m.respond(req)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	chunks := splitIntoChunks(content, m.chunkSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}
		streamChunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{{
				Delta:        &ChatMessage{Role: "assistant", Content: chunk},
				FinishReason: finishReason,
			}},
		}
		if err := callback(streamChunk); err != nil {
			return nil, err
		}
	}
	return m.usage(req, content), nil
}

func (m *MockClient) usage(req *ChatCompletionRequest, content string) *Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	return &Usage{PromptTokens: prompt, CompletionTokens: len(content) / 4, TotalTokens: prompt + len(content)/4}
}

// cannedResponse answers each task with something the pipeline can parse.
func cannedResponse(req *ChatCompletionRequest) (string, error) {
	last := LastUserMessage(req.Messages)
	switch req.Task {
	case TaskIntention:
		return `{"intent":"query","sub_intent":"information","parameters":{},"confidence":0.9}`, nil
	case TaskPlan:
		prompt, _ := json.Marshal(last)
		return fmt.Sprintf(`[{"agent_id":"assistant","tool":"answer","parameters":{"prompt":%s},"depends_on":[],"explanation":"answer directly"}]`, prompt), nil
	case TaskTitle:
		words := strings.Fields(last)
		if len(words) > 5 {
			words = words[:5]
		}
		return strings.Join(words, " "), nil
	}
	if last == "" {
		return "[MOCK] This is a mock response from the LLM client.", nil
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(last, 100)), nil
}

// LastUserMessage returns the content of the last user message.
func LastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{""}
	}
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
