// Package intention classifies the purpose of a user message.
package intention

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/memory"
)

var subIntents = map[string]map[string]bool{
	domain.IntentQuery:  {"information": true, "explanation": true, "comparison": true, "status": true},
	domain.IntentAction: {"create": true, "update": true, "delete": true, "execute": true, "schedule": true},
}

var labels = map[string]bool{
	domain.IntentQuery:         true,
	domain.IntentAction:        true,
	domain.IntentFeedback:      true,
	domain.IntentClarification: true,
	domain.IntentGreeting:      true,
	domain.IntentUnknown:       true,
}

const systemPrompt = `You are an intention recognition system. Analyze the user's latest message, using the conversation history when it helps.

The intent must be one of:
- query: the user wants information (sub_intent: information, explanation, comparison, status)
- action: the user wants something done (sub_intent: create, update, delete, execute, schedule)
- feedback: the user is giving feedback
- clarification: the user asks for clarification
- greeting: the user is greeting
- unknown: the intention cannot be determined

Reply with JSON only:
{"intent": "...", "sub_intent": "...", "parameters": {}, "confidence": 0.0}`

// Classifier maps a message and its recalled history to an Intention.
type Classifier struct {
	llm          llm.LLMClient
	model        string
	historyLimit int
	logger       *zap.Logger
}

// NewClassifier creates a classifier. historyLimit caps the recalled turns
// put into the prompt.
func NewClassifier(client llm.LLMClient, model string, historyLimit int, logger *zap.Logger) *Classifier {
	return &Classifier{
		llm:          client,
		model:        model,
		historyLimit: historyLimit,
		logger:       logger.Named("intention"),
	}
}

// Classify returns the intention of message. A low confidence or unparsable
// answer is not an error; only a failed model call is.
func (c *Classifier) Classify(ctx context.Context, message string, history []memory.Snippet) (domain.Intention, error) {
	text, err := llm.Complete(ctx, c.llm, &llm.ChatCompletionRequest{
		Model:       c.model,
		Messages:    c.buildMessages(message, history),
		Temperature: llm.Float64(0),
		Task:        llm.TaskIntention,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Intention{}, ctx.Err()
		}
		return domain.Intention{}, apperrors.Wrap(apperrors.CodeClassification, err, "")
	}

	intention := Parse(text)
	c.logger.Info("intention recognized",
		zap.String("intent", intention.Label),
		zap.String("sub_intent", intention.SubIntent),
		zap.Float64("confidence", intention.Confidence))
	return intention, nil
}

func (c *Classifier) buildMessages(message string, history []memory.Snippet) []llm.ChatMessage {
	recent := history
	if c.historyLimit >= 0 && len(recent) > c.historyLimit {
		recent = recent[:c.historyLimit]
	}
	// Recall ranks by relevance; the prompt wants them in conversation order.
	ordered := make([]memory.Snippet, len(recent))
	copy(ordered, recent)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	messages := make([]llm.ChatMessage, 0, len(ordered)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt})
	for _, s := range ordered {
		role := string(s.Role)
		if !s.Role.Valid() {
			role = string(domain.RoleUser)
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: s.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: message})
	return messages
}

type rawIntention struct {
	Intent     string                 `json:"intent"`
	SubIntent  string                 `json:"sub_intent"`
	Parameters map[string]interface{} `json:"parameters"`
	Confidence *float64               `json:"confidence"`
}

// Parse normalizes a model answer into an Intention. Output without a JSON
// object becomes unknown with confidence 0.
func Parse(text string) domain.Intention {
	var raw rawIntention
	if err := json.Unmarshal([]byte(ExtractJSON(text, '{', '}')), &raw); err != nil {
		return domain.Intention{Label: domain.IntentUnknown, Parameters: map[string]interface{}{}}
	}

	out := domain.Intention{
		Label:      strings.ToLower(strings.TrimSpace(raw.Intent)),
		SubIntent:  strings.ToLower(strings.TrimSpace(raw.SubIntent)),
		Parameters: raw.Parameters,
		Confidence: 0.5,
	}
	if !labels[out.Label] {
		out.Label = domain.IntentUnknown
	}
	if !subIntents[out.Label][out.SubIntent] {
		out.SubIntent = ""
	}
	if out.Parameters == nil {
		out.Parameters = map[string]interface{}{}
	}
	if raw.Confidence != nil {
		out.Confidence = clamp(*raw.Confidence)
	}
	return out
}

// ExtractJSON strips code fences and returns the outermost open..close span
// of text, or text unchanged when there is none.
func ExtractJSON(text string, open, close byte) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// String renders an intention for logs and prompts.
func String(i domain.Intention) string {
	if i.SubIntent == "" {
		return fmt.Sprintf("%s (confidence %.2f)", i.Label, i.Confidence)
	}
	return fmt.Sprintf("%s/%s (confidence %.2f)", i.Label, i.SubIntent, i.Confidence)
}
