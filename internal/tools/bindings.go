package tools

import (
	"context"
	"sort"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
)

// CatalogReader is the subset of the store the resolver reads.
type CatalogReader interface {
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	GetTool(ctx context.Context, name string) (*domain.ToolSpec, error)
	ListBindings(ctx context.Context, agentID string) ([]domain.AgentTool, error)
}

// Resolver turns catalog bindings into invocable tools.
type Resolver struct {
	catalog  CatalogReader
	registry *Registry
}

// Resolved is a tool together with the merged config of one agent binding.
type Resolved struct {
	Tool   Tool
	Agent  *domain.Agent
	Config map[string]interface{}
}

// NewResolver creates a resolver over catalog and registry.
func NewResolver(catalog CatalogReader, registry *Registry) *Resolver {
	return &Resolver{catalog: catalog, registry: registry}
}

// Registry returns the registry backing the resolver.
func (r *Resolver) Registry() *Registry { return r.registry }

// Agent loads an active agent. Unknown or inactive agents are a
// configuration error.
func (r *Resolver) Agent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := r.catalog.GetAgent(ctx, agentID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "load agent "+agentID)
	}
	if agent == nil {
		return nil, apperrors.Newf(apperrors.CodeConfiguration, "unknown agent %q", agentID)
	}
	if !agent.Active {
		return nil, apperrors.Newf(apperrors.CodeConfiguration, "agent %q is inactive", agentID)
	}
	return agent, nil
}

// BindingsFor returns the agent's usable bindings sorted by tool name. Each
// binding's config is the tool defaults overlaid by the agent override, one
// level deep. Inactive tools and tools with no implementation are skipped.
func (r *Resolver) BindingsFor(ctx context.Context, agentID string) ([]domain.Binding, error) {
	agent, err := r.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return r.bindings(ctx, agent)
}

func (r *Resolver) bindings(ctx context.Context, agent *domain.Agent) ([]domain.Binding, error) {
	links, err := r.catalog.ListBindings(ctx, agent.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "list bindings of "+agent.ID)
	}

	bindings := make([]domain.Binding, 0, len(links))
	for _, link := range links {
		spec, err := r.catalog.GetTool(ctx, link.Tool)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "load tool "+link.Tool)
		}
		if spec == nil || !spec.Active || !r.registry.Has(spec.Name) {
			continue
		}
		bindings = append(bindings, domain.Binding{
			Tool:        spec.Name,
			Description: spec.Description,
			Config:      MergeConfig(spec.Defaults, link.Config),
		})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Tool < bindings[j].Tool })
	return bindings, nil
}

// Resolve returns the tool bound to agentID under name. A tool the agent is
// not bound to is an UnresolvedTool error.
func (r *Resolver) Resolve(ctx context.Context, agentID, name string) (*Resolved, error) {
	agent, err := r.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	bindings, err := r.bindings(ctx, agent)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		if b.Tool != name {
			continue
		}
		tool, err := r.registry.Lookup(name)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnresolvedTool, err, "")
		}
		return &Resolved{Tool: tool, Agent: agent, Config: b.Config}, nil
	}
	return nil, apperrors.New(apperrors.CodeUnresolvedTool,
		"tool "+name+" is not bound to agent "+agentID,
		apperrors.WithMetadata("agent_id", agentID),
		apperrors.WithMetadata("tool", name))
}

// MergeConfig overlays override onto defaults. Neither input is modified.
func MergeConfig(defaults, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(override))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
