package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/config"
	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	store "github.com/yuhaibao324/dipagt/internal/repository"
	"github.com/yuhaibao324/dipagt/internal/tools"
)

func newTestPlanner(t *testing.T, answer string) (*Planner, *[]*llm.ChatCompletionRequest) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SeedCatalog(context.Background(), config.DefaultCatalog()))

	var calls []*llm.ChatCompletionRequest
	client := llm.NewScriptedClient(func(req *llm.ChatCompletionRequest) (string, error) {
		calls = append(calls, req)
		return answer, nil
	})
	registry := tools.NewBuiltinRegistry(tools.BuiltinDeps{LLM: client})
	resolver := tools.NewResolver(s, registry)
	return New(client, "m", s, resolver, 0.5, zap.NewNop()), &calls
}

var confident = domain.Intention{Label: domain.IntentQuery, Confidence: 0.9}

func TestPlanEmpty(t *testing.T) {
	p, _ := newTestPlanner(t, "[]")
	plan, err := p.Plan(context.Background(), "What's the weather?", confident)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, []domain.Action{}, plan.Actions())
}

func TestPlanUnparsableIsEmpty(t *testing.T) {
	p, _ := newTestPlanner(t, "I would search the web first.")
	plan, err := p.Plan(context.Background(), "research go", confident)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestPlanWithPlaceholderDependencies(t *testing.T) {
	p, calls := newTestPlanner(t, "```json\n"+`[
  {"agent_id":"analyst","tool":"analyze","parameters":{"topic":"Summarize {{action.1}}"},"explanation":"summarize"},
  {"agent_id":"researcher","tool":"web_search","parameters":{"query":"go 1.22 release"},"depends_on":[],"explanation":"search"},
  {"agent_name":"General Assistant","action_type":"answer","parameters":{"prompt":"answer using {{ action.0 }}"},"depends_on":[1]}
]`+"\n```")

	plan, err := p.Plan(context.Background(), "what is new in go 1.22?", confident)
	require.NoError(t, err)

	want := []domain.Action{
		{Index: 0, AgentID: "analyst", AgentName: "Analyst", Tool: "analyze",
			Params: map[string]interface{}{"topic": "Summarize {{action.1}}"}, DependsOn: []int{1}, Explanation: "summarize"},
		{Index: 1, AgentID: "researcher", AgentName: "Researcher", Tool: "web_search",
			Params: map[string]interface{}{"query": "go 1.22 release"}, DependsOn: []int{}, Explanation: "search"},
		{Index: 2, AgentID: "assistant", AgentName: "General Assistant", Tool: "answer",
			Params: map[string]interface{}{"prompt": "answer using {{ action.0 }}"}, DependsOn: []int{0, 1}},
	}
	if diff := cmp.Diff(want, plan.Actions()); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 0, 2}, plan.Order)
	assert.Equal(t, [][]int{{2}, {0, 2}, nil}, plan.Dependents())
	assert.Equal(t, tools.ToolWebSearch, plan.Nodes[1].Tool.Name())
	assert.EqualValues(t, 5, plan.Nodes[1].Config["max_results"])

	require.Len(t, *calls, 1)
	req := (*calls)[0]
	assert.Equal(t, llm.TaskPlan, req.Task)
	assert.Contains(t, req.Messages[0].Content, "agent_id: researcher")
	assert.Contains(t, req.Messages[0].Content, "query (string, required)")
	assert.NotContains(t, req.Messages[0].Content, "operator")
}

func TestPlanLowConfidenceFallsBackToGeneralAssistance(t *testing.T) {
	p, calls := newTestPlanner(t, "[]")
	_, err := p.Plan(context.Background(), "hmm", domain.Intention{Label: domain.IntentQuery, SubIntent: "status", Confidence: 0.2})
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.Contains(t, (*calls)[0].Messages[0].Content, "Recognized intention: general_assistance (confidence 0.20)")
}

func TestPlanRejections(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		code   apperrors.Code
	}{
		{
			name:   "cycle",
			answer: `[{"agent_id":"assistant","tool":"answer","parameters":{"prompt":"a"},"depends_on":[1]},{"agent_id":"analyst","tool":"analyze","parameters":{"topic":"{{action.0}}"}}]`,
			code:   apperrors.CodeCyclicPlan,
		},
		{
			name:   "self dependency",
			answer: `[{"agent_id":"assistant","tool":"answer","parameters":{"prompt":"{{action.0}}"}}]`,
			code:   apperrors.CodeCyclicPlan,
		},
		{
			name:   "unbound tool",
			answer: `[{"agent_id":"assistant","tool":"web_search","parameters":{"query":"x"}}]`,
			code:   apperrors.CodeUnresolvedTool,
		},
		{
			name:   "unknown agent",
			answer: `[{"agent_id":"ghost","tool":"answer","parameters":{"prompt":"x"}}]`,
			code:   apperrors.CodeConfiguration,
		},
		{
			name:   "inactive agent",
			answer: `[{"agent_id":"operator","tool":"command_line","parameters":{"command":"ls"}}]`,
			code:   apperrors.CodeConfiguration,
		},
		{
			name:   "dangling dependency",
			answer: `[{"agent_id":"assistant","tool":"answer","parameters":{"prompt":"x"},"depends_on":[4]}]`,
			code:   apperrors.CodePlanning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPlanner(t, tt.answer)
			plan, err := p.Plan(context.Background(), "msg", confident)
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.True(t, apperrors.IsFatal(err))
		})
	}
}

func TestPlanModelFailure(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SeedCatalog(context.Background(), config.DefaultCatalog()))

	client := llm.NewScriptedClient(func(*llm.ChatCompletionRequest) (string, error) {
		return "", errors.New("rate limited")
	})
	resolver := tools.NewResolver(s, tools.NewBuiltinRegistry(tools.BuiltinDeps{LLM: client}))
	_, err = New(client, "m", s, resolver, 0.5, zap.NewNop()).Plan(context.Background(), "x", confident)
	assert.Equal(t, apperrors.CodePlanning, apperrors.CodeOf(err))
}

func TestPlanWithoutCandidatesSkipsModel(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	called := false
	client := llm.NewScriptedClient(func(*llm.ChatCompletionRequest) (string, error) {
		called = true
		return "[]", nil
	})
	resolver := tools.NewResolver(s, tools.NewRegistry())
	plan, err := New(client, "m", s, resolver, 0.5, zap.NewNop()).Plan(context.Background(), "x", confident)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.False(t, called)
}

func TestTopoSortTieBreak(t *testing.T) {
	order, err := TopoSort([][]int{{2}, {}, {}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0, 3}, order)

	_, err = TopoSort([][]int{{}, {2}, {1}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "1, 2"))
}

func TestReferencesAndSubstitute(t *testing.T) {
	params := map[string]interface{}{
		"prompt": "compare {{action.2}} with {{action.0}}",
		"nested": map[string]interface{}{"list": []interface{}{"{{action.0}}", 3.0}},
		"other":  "{{action.9}}",
	}
	assert.Equal(t, []int{0, 2, 9}, References(params))

	out := Substitute(params, map[int]string{0: "A", 2: "B"})
	want := map[string]interface{}{
		"prompt": "compare B with A",
		"nested": map[string]interface{}{"list": []interface{}{"A", 3.0}},
		"other":  "{{action.9}}",
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("substitute mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "compare {{action.2}} with {{action.0}}", params["prompt"])
	assert.Equal(t, map[string]interface{}{}, Substitute(nil, nil))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))

	// "é" is two bytes; a cut at byte 2 would split it.
	got := truncate("aébc", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))
}
