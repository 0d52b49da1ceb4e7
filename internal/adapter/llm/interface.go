// Package llm provides an abstraction for LLM API clients.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// LLMClient defines the interface for LLM API operations.
type LLMClient interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each chunk received.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error)
}

// Ensure Client implements LLMClient interface.
var _ LLMClient = (*Client)(nil)

// Complete runs a non-streaming request and returns the first choice's text.
func Complete(ctx context.Context, client LLMClient, req *ChatCompletionRequest) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamText runs a streaming request, calling onDelta for every non-empty
// content delta, and returns the assembled text.
func StreamText(ctx context.Context, client LLMClient, req *ChatCompletionRequest, onDelta func(string) error) (string, error) {
	var sb strings.Builder
	_, err := client.CreateChatCompletionStream(ctx, req, func(chunk *StreamChunk) error {
		for _, choice := range chunk.Choices {
			if choice.Delta == nil || choice.Delta.Content == "" {
				continue
			}
			sb.WriteString(choice.Delta.Content)
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return sb.String(), err
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }
