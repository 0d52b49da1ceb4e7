package intention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/memory"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want domain.Intention
	}{
		{
			name: "plain json",
			in:   `{"intent":"query","sub_intent":"status","parameters":{"city":"Paris"},"confidence":0.92}`,
			want: domain.Intention{Label: "query", SubIntent: "status", Confidence: 0.92, Parameters: map[string]interface{}{"city": "Paris"}},
		},
		{
			name: "fenced with prose",
			in:   "```json\nSure: {\"intent\":\"Greeting\",\"confidence\":0.7}\n```",
			want: domain.Intention{Label: "greeting", Confidence: 0.7, Parameters: map[string]interface{}{}},
		},
		{
			name: "clamped and invalid sub intent dropped",
			in:   `{"intent":"action","sub_intent":"dance","confidence":3}`,
			want: domain.Intention{Label: "action", Confidence: 1, Parameters: map[string]interface{}{}},
		},
		{
			name: "missing confidence",
			in:   `{"intent":"feedback"}`,
			want: domain.Intention{Label: "feedback", Confidence: 0.5, Parameters: map[string]interface{}{}},
		},
		{
			name: "unknown label",
			in:   `{"intent":"purchase","confidence":0.9}`,
			want: domain.Intention{Label: "unknown", Confidence: 0.9, Parameters: map[string]interface{}{}},
		},
		{
			name: "not json",
			in:   "I think the user is asking about weather",
			want: domain.Intention{Label: "unknown", Confidence: 0, Parameters: map[string]interface{}{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `[1,2]`, ExtractJSON("```\n[1,2]\n```", '[', ']'))
	assert.Equal(t, `{"a":1}`, ExtractJSON(`noise {"a":1} noise`, '{', '}'))
	assert.Equal(t, "nothing", ExtractJSON("nothing", '{', '}'))
}

func TestClassifyBuildsPromptFromHistory(t *testing.T) {
	var seen *llm.ChatCompletionRequest
	client := llm.NewScriptedClient(func(req *llm.ChatCompletionRequest) (string, error) {
		seen = req
		return `{"intent":"query","confidence":0.8}`, nil
	})
	c := NewClassifier(client, "m", 2, zap.NewNop())

	base := time.Unix(1700000000, 0)
	history := []memory.Snippet{
		{Role: domain.RoleAssistant, Content: "newest relevant", Score: 2, At: base.Add(3 * time.Second)},
		{Role: domain.RoleUser, Content: "older relevant", Score: 1, At: base.Add(time.Second)},
		{Role: domain.RoleUser, Content: "dropped", Score: 0, At: base.Add(2 * time.Second)},
	}
	got, err := c.Classify(context.Background(), "and tomorrow?", history)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentQuery, got.Label)

	require.NotNil(t, seen)
	assert.Equal(t, llm.TaskIntention, seen.Task)
	require.Len(t, seen.Messages, 4)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "older relevant", seen.Messages[1].Content)
	assert.Equal(t, "newest relevant", seen.Messages[2].Content)
	assert.Equal(t, "assistant", seen.Messages[2].Role)
	assert.Equal(t, llm.ChatMessage{Role: "user", Content: "and tomorrow?"}, seen.Messages[3])
}

func TestClassifyModelFailureIsClassificationError(t *testing.T) {
	client := llm.NewScriptedClient(func(*llm.ChatCompletionRequest) (string, error) {
		return "", errors.New("upstream 502")
	})
	_, err := NewClassifier(client, "m", 5, zap.NewNop()).Classify(context.Background(), "hi", nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeClassification))
	assert.True(t, apperrors.IsFatal(err))
}

func TestClassifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClassifier(llm.NewMockClient(), "m", 5, zap.NewNop()).Classify(ctx, "hi", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestString(t *testing.T) {
	assert.Equal(t, "query/status (confidence 0.90)", String(domain.Intention{Label: "query", SubIntent: "status", Confidence: 0.9}))
	assert.Equal(t, "greeting (confidence 0.50)", String(domain.Intention{Label: "greeting", Confidence: 0.5}))
}
