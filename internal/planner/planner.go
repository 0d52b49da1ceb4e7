// Package planner expands an intention into a validated DAG of actions.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/intention"
	"github.com/yuhaibao324/dipagt/internal/tools"
)

// AgentLister lists the agents a plan may use.
type AgentLister interface {
	ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error)
}

// Candidate is an agent with its usable bindings.
type Candidate struct {
	Agent    domain.Agent
	Bindings []domain.Binding
}

// Planner builds plans with an LLM and validates them against the catalog.
type Planner struct {
	llm       llm.LLMClient
	model     string
	agents    AgentLister
	resolver  *tools.Resolver
	threshold float64
	logger    *zap.Logger
}

// New creates a planner. Intentions below threshold confidence are planned
// as general assistance.
func New(client llm.LLMClient, model string, agents AgentLister, resolver *tools.Resolver, threshold float64, logger *zap.Logger) *Planner {
	return &Planner{
		llm:       client,
		model:     model,
		agents:    agents,
		resolver:  resolver,
		threshold: threshold,
		logger:    logger.Named("planner"),
	}
}

// Candidates returns the active agents that have at least one usable tool.
func (p *Planner) Candidates(ctx context.Context) ([]Candidate, error) {
	agents, err := p.agents.ListAgents(ctx, true)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "list agents")
	}
	candidates := make([]Candidate, 0, len(agents))
	for _, agent := range agents {
		bindings, err := p.resolver.BindingsFor(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		if len(bindings) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Agent: agent, Bindings: bindings})
	}
	return candidates, nil
}

// Plan asks the model for actions addressing message and validates them.
// No usable tools or an unparsable answer yield an empty plan.
func (p *Planner) Plan(ctx context.Context, message string, in domain.Intention) (*Plan, error) {
	effective := in
	if in.Confidence < p.threshold {
		effective.Label = domain.IntentGeneralAssistance
		effective.SubIntent = ""
	}

	candidates, err := p.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		p.logger.Info("no agent has usable tools, returning empty plan")
		return &Plan{}, nil
	}

	text, err := llm.Complete(ctx, p.llm, &llm.ChatCompletionRequest{
		Model: p.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: p.prompt(effective, candidates)},
			{Role: "user", Content: message},
		},
		Temperature: llm.Float64(0),
		Task:        llm.TaskPlan,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.CodePlanning, err, "plan generation failed")
	}

	actions, err := ParseActions(text, candidates)
	if err != nil {
		p.logger.Warn("unparsable plan, returning empty plan", zap.Error(err), zap.String("raw", truncate(text, 500)))
		return &Plan{}, nil
	}
	plan, err := p.Build(ctx, actions)
	if err != nil {
		return nil, err
	}
	p.logger.Info("plan generated",
		zap.String("intent", effective.Label),
		zap.Int("actions", plan.Len()),
		zap.Ints("order", plan.Order))
	return plan, nil
}

// Build validates actions and resolves their tools. Indices are reassigned
// to positions. Dependencies come from depends_on and {{action.N}}
// placeholders.
func (p *Planner) Build(ctx context.Context, actions []domain.Action) (*Plan, error) {
	n := len(actions)
	plan := &Plan{Nodes: make([]Node, n)}
	deps := make([][]int, n)
	for i, action := range actions {
		action.Index = i
		if action.Params == nil {
			action.Params = map[string]interface{}{}
		}
		resolved, err := p.resolver.Resolve(ctx, action.AgentID, action.Tool)
		if err != nil {
			return nil, err
		}
		if err := resolved.Tool.Schema().Validate(action.Params); err != nil && len(References(action.Params)) == 0 {
			p.logger.Warn("action parameters do not match schema",
				zap.Int("index", i), zap.String("tool", action.Tool), zap.Error(err))
		}
		action.AgentName = resolved.Agent.Name
		action.DependsOn, err = normalizeDeps(i, n, action.DependsOn, action.Params)
		if err != nil {
			return nil, err
		}
		deps[i] = action.DependsOn
		plan.Nodes[i] = Node{Action: action, Agent: resolved.Agent, Tool: resolved.Tool, Config: resolved.Config}
	}

	order, err := TopoSort(deps)
	if err != nil {
		return nil, err
	}
	plan.Order = order
	return plan, nil
}

type rawAction struct {
	AgentID     string                 `json:"agent_id"`
	AgentName   string                 `json:"agent_name"`
	Tool        string                 `json:"tool"`
	ActionType  string                 `json:"action_type"`
	Parameters  map[string]interface{} `json:"parameters"`
	DependsOn   []int                  `json:"depends_on"`
	Explanation string                 `json:"explanation"`
}

// ParseActions decodes the model's JSON array. Agents may be named by id or
// by display name.
func ParseActions(text string, candidates []Candidate) ([]domain.Action, error) {
	var raws []rawAction
	if err := json.Unmarshal([]byte(intention.ExtractJSON(text, '[', ']')), &raws); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	byName := make(map[string]string, len(candidates))
	for _, c := range candidates {
		byName[strings.ToLower(c.Agent.Name)] = c.Agent.ID
	}

	actions := make([]domain.Action, 0, len(raws))
	for i, raw := range raws {
		agentID := raw.AgentID
		if agentID == "" {
			agentID = byName[strings.ToLower(raw.AgentName)]
		}
		tool := raw.Tool
		if tool == "" {
			tool = raw.ActionType
		}
		actions = append(actions, domain.Action{
			Index:       i,
			AgentID:     agentID,
			Tool:        tool,
			Params:      raw.Parameters,
			DependsOn:   raw.DependsOn,
			Explanation: raw.Explanation,
		})
	}
	return actions, nil
}

func (p *Planner) prompt(in domain.Intention, candidates []Candidate) string {
	var agents strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&agents, "Agent %s (agent_id: %s): %s\n", c.Agent.Name, c.Agent.ID, c.Agent.Description)
		for _, b := range c.Bindings {
			tool, err := p.resolver.Registry().Lookup(b.Tool)
			if err != nil {
				continue
			}
			fmt.Fprintf(&agents, "  - tool %s: %s Parameters: %s\n", b.Tool, b.Description, tool.Schema().Describe())
		}
	}

	return fmt.Sprintf(`You are a planning system. Decide which agents and tools address the user's message.

Recognized intention: %s

Available agents and their tools:
%s
Simple questions and greetings need a single action. Tasks that need research, analysis or comparison should be broken into several actions.

Return only a JSON array. Each element has:
- agent_id: one of the agent ids above
- tool: one of that agent's tools
- parameters: the tool parameters
- depends_on: indices (0-based, in this array) of actions whose output this action needs
- explanation: why this action is needed

A parameter may embed the output of an earlier action as {{action.N}}; that also makes the action depend on action N.
If no tool fits the message, return [].`, intention.String(in), agents.String())
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
