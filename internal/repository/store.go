// Package store defines the storage interface and its SQL implementations.
package store

import (
	"context"
	"fmt"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Chat operations
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, owner, search string, page domain.PageRequest) ([]domain.Chat, int, error)

	// Message operations. CreateMessage also bumps the chat's counters.
	CreateMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, chatID string, page domain.PageRequest) ([]domain.Message, int, error)

	// Catalog operations
	UpsertAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error)
	UpsertTool(ctx context.Context, tool *domain.ToolSpec) error
	GetTool(ctx context.Context, name string) (*domain.ToolSpec, error)
	ListTools(ctx context.Context) ([]domain.ToolSpec, error)
	BindTool(ctx context.Context, binding *domain.AgentTool) error
	ListBindings(ctx context.Context, agentID string) ([]domain.AgentTool, error)
	SeedCatalog(ctx context.Context, catalog *domain.Catalog) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Open opens the store for the given driver name.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return NewSQLiteStore(dsn)
	case "mysql":
		return NewMySQLStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
