package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
)

const (
	maxTitleLen      = 100
	fallbackWords    = 5
	titleInstruction = "Generate a very short, concise title (max 5 words) for a chat based on the first user message. Reply with the title only."
)

// generateTitle asks the model for a chat title and falls back to the first
// words of the message.
func (s *Service) generateTitle(ctx context.Context, message string) string {
	if s.llm == nil {
		return fallbackTitle(message)
	}
	text, err := llm.Complete(ctx, s.llm, &llm.ChatCompletionRequest{
		Model: s.cfg.TitleModel,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: titleInstruction},
			{Role: "user", Content: message},
		},
		Temperature: llm.Float64(0.3),
		Task:        llm.TaskTitle,
	})
	if err != nil {
		s.logger.Warn("title generation failed, using fallback", zap.Error(err))
		return fallbackTitle(message)
	}
	title := strings.TrimSpace(strings.ReplaceAll(text, `"`, ""))
	if title == "" {
		return fallbackTitle(message)
	}
	return clipRunes(title, maxTitleLen)
}

func fallbackTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > fallbackWords {
		words = words[:fallbackWords]
	}
	return clipRunes(strings.Join(words, " "), maxTitleLen-3) + "..."
}

func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
