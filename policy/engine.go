// Package policy evaluates planned actions against an OPA policy.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy sees as `input`.
type Input struct {
	AgentID string                 `json:"agent_id"`
	Tool    string                 `json:"tool"`
	Params  map[string]interface{} `json:"params"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the action may run.
func (d Decision) Allowed() bool { return d.Decision != DecisionBlock }

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("decision = data.action_policy.decision; reasons = data.action_policy.deny_reason"),
		rego.Module("action_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads the policy at path. An empty path uses DefaultPolicy.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks one action against the policy.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.Params == nil {
		input.Params = map[string]interface{}{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// Undefined decision means the policy has no default; allow.
	if len(results) == 0 {
		return Decision{Decision: DecisionAllow, Reason: "default"}, nil
	}

	decision, ok := results[0].Bindings["decision"].(string)
	if !ok {
		return Decision{}, fmt.Errorf("policy decision must be a string, got %T", results[0].Bindings["decision"])
	}
	if decision != DecisionAllow && decision != DecisionBlock {
		return Decision{}, fmt.Errorf("unsupported policy decision %q", decision)
	}
	return Decision{Decision: decision, Reason: joinReasons(results[0].Bindings["reasons"])}, nil
}

func joinReasons(v interface{}) string {
	items, _ := v.([]interface{})
	reasons := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			reasons = append(reasons, s)
		}
	}
	sort.Strings(reasons)
	return strings.Join(reasons, "; ")
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package action_policy

default decision = "allow"

decision = "block" {
	count(deny_reason) > 0
}

deny_reason["recursive delete is not permitted"] {
	input.tool == "command_line"
	contains(input.params.command, "rm -rf")
}

deny_reason["privilege escalation is not permitted"] {
	input.tool == "command_line"
	startswith(trim_space(input.params.command), "sudo")
}
`
