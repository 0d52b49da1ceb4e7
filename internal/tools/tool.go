// Package tools implements the tools agents invoke while running a plan.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrMissingRequiredParam  = errors.New("missing required parameter")
	ErrInvalidParamType      = errors.New("invalid parameter type")
)

// Param describes one invocation parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Schema declares the parameters a tool accepts.
type Schema struct {
	Params []Param `json:"params"`
}

// Validate checks that required parameters are present and typed correctly.
// Unknown parameters are allowed.
func (s Schema) Validate(params map[string]interface{}) error {
	for _, p := range s.Params {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: %s", ErrMissingRequiredParam, p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return fmt.Errorf("%w: %s must be %s", ErrInvalidParamType, p.Name, p.Type)
		}
	}
	return nil
}

// Describe renders the schema as a compact "name (type, required)" list.
func (s Schema) Describe() string {
	parts := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		req := "optional"
		if p.Required {
			req = "required"
		}
		parts = append(parts, fmt.Sprintf("%s (%s, %s)", p.Name, p.Type, req))
	}
	return strings.Join(parts, ", ")
}

func typeMatches(typ string, v interface{}) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	}
	return false
}

// Call carries one invocation: the planned parameters and the resolved
// binding config of the calling agent.
type Call struct {
	AgentID string
	Params  map[string]interface{}
	Config  map[string]interface{}
}

// Tool is an invocable capability.
//
// Invoke may send partial output on chunks. It must not close chunks; the
// caller owns the channel. The returned string is the final result text.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Invoke(ctx context.Context, call Call, chunks chan<- string) (string, error)
}

// InvokeFunc is the signature of a FuncTool body.
type InvokeFunc func(ctx context.Context, call Call, chunks chan<- string) (string, error)

// FuncTool adapts a function to the Tool interface.
type FuncTool struct {
	name        string
	description string
	schema      Schema
	fn          InvokeFunc
}

// NewFuncTool creates a Tool backed by fn.
func NewFuncTool(name, description string, schema Schema, fn InvokeFunc) *FuncTool {
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }
func (t *FuncTool) Schema() Schema      { return t.schema }

func (t *FuncTool) Invoke(ctx context.Context, call Call, chunks chan<- string) (string, error) {
	return t.fn(ctx, call, chunks)
}

// Emit sends chunk unless ctx is done. A nil channel discards the chunk.
func Emit(ctx context.Context, chunks chan<- string, chunk string) error {
	if chunks == nil || chunk == "" {
		return nil
	}
	select {
	case chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func configString(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func configFloat(cfg map[string]interface{}, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func configInt(cfg map[string]interface{}, key string, def int) int {
	if v, ok := configFloat(cfg, key); ok && v > 0 {
		return int(v)
	}
	return def
}

func configStrings(cfg map[string]interface{}, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func configStringMap(cfg map[string]interface{}, key string) map[string]string {
	out := map[string]string{}
	switch v := cfg[key].(type) {
	case map[string]string:
		for k, val := range v {
			out[k] = val
		}
	case map[string]interface{}:
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
