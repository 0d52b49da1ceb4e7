// Package helpers builds in-memory pipelines for transport tests.
package helpers

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yuhaibao324/dipagt/internal/adapter/llm"
	"github.com/yuhaibao324/dipagt/internal/config"
	"github.com/yuhaibao324/dipagt/internal/dispatcher"
	"github.com/yuhaibao324/dipagt/internal/intention"
	"github.com/yuhaibao324/dipagt/internal/memory"
	"github.com/yuhaibao324/dipagt/internal/planner"
	store "github.com/yuhaibao324/dipagt/internal/repository"
	"github.com/yuhaibao324/dipagt/internal/service"
	"github.com/yuhaibao324/dipagt/internal/tools"
)

// NewTestSQLiteStore opens an in-memory store seeded with the default catalog.
func NewTestSQLiteStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.SeedCatalog(context.Background(), config.DefaultCatalog()); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	return s
}

// Stack is a wired pipeline on top of an in-memory store.
type Stack struct {
	Store   *store.SQLStore
	Planner *planner.Planner
	Service *service.Service
}

// NewTestStack wires the pipeline around client. A nil client uses the
// canned mock.
func NewTestStack(t *testing.T, client llm.LLMClient) *Stack {
	t.Helper()
	if client == nil {
		client = llm.NewMockClient()
	}
	logger := zap.NewNop()
	s := NewTestSQLiteStore(t)

	gateway := memory.NewGateway(memory.NewLocalStore(100), logger)
	resolver := tools.NewResolver(s, tools.NewBuiltinRegistry(tools.BuiltinDeps{LLM: client, Model: "mock"}))
	p := planner.New(client, "mock", s, resolver, 0.5, logger)
	svc := service.New(service.Deps{
		Store:      s,
		Memory:     gateway,
		Classifier: intention.NewClassifier(client, "mock", 5, logger),
		Planner:    p,
		Executor: dispatcher.New(s, gateway, nil, dispatcher.Config{
			MaxConcurrency: 2,
			ToolTimeout:    5 * time.Second,
		}, logger),
		LLM: client,
	}, service.Config{TitleModel: "mock"}, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			t.Errorf("service shutdown: %v", err)
		}
	})
	return &Stack{Store: s, Planner: p, Service: svc}
}
