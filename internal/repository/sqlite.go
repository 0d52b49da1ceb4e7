package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	name       string
	migrations []string
	// upsert returns the conflict clause appended to an INSERT.
	upsert func(keys, cols []string) string
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

var sqliteDialect = dialect{
	name: "sqlite3",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			owner TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_owner ON chats(owner, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL,
			agent_id TEXT,
			agent_name TEXT,
			agent_avatar TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			avatar TEXT,
			config TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tools (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			defaults TEXT,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS agent_tools (
			agent_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			config TEXT,
			PRIMARY KEY (agent_id, tool),
			FOREIGN KEY (agent_id) REFERENCES agents(id),
			FOREIGN KEY (tool) REFERENCES tools(name)
		)`,
	},
	upsert: func(keys, cols []string) string {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
	},
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return newSQLStore(db, sqliteDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate runs database migrations.
func (s *SQLStore) migrate() error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateChat creates a new chat.
func (s *SQLStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.Status == "" {
		chat.Status = domain.ChatStatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, description, status, owner, message_count, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.Description, chat.Status, chat.Owner, chat.MessageCount, encodeJSON(chat.Metadata), chat.CreatedAt, chat.UpdatedAt)
	return err
}

const chatColumns = `id, title, description, status, owner, message_count, metadata, created_at, updated_at`

// GetChat retrieves a chat by ID. It returns nil when the chat does not exist.
func (s *SQLStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID)
	chat, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChats lists an owner's chats, most recently updated first. search
// filters on title and description.
func (s *SQLStore) ListChats(ctx context.Context, owner, search string, page domain.PageRequest) ([]domain.Chat, int, error) {
	where := ` WHERE owner = ?`
	args := []interface{}{owner}
	if search = strings.TrimSpace(search); search != "" {
		where += ` AND (title LIKE ? OR description LIKE ?)`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + chatColumns + ` FROM chats` + where + ` ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, page.PageSize, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, 0, err
		}
		chats = append(chats, *chat)
	}
	return chats, total, rows.Err()
}

// CreateMessage appends a message and updates the chat's counters in one transaction.
func (s *SQLStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	if message.Type == "" {
		message.Type = domain.MessageTypeText
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, type, content, agent_id, agent_name, agent_avatar, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.ChatID, message.Role, message.Type, message.Content,
		nullString(message.AgentID), nullString(message.AgentName), nullString(message.AgentAvatar),
		encodeJSON(message.Metadata), message.CreatedAt); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE chats SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		message.CreatedAt, message.ChatID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chat %s not found", message.ChatID)
	}
	return tx.Commit()
}

// ListMessages returns one page of a chat's messages. Pages are counted from
// the newest message; items inside a page are in chronological order.
func (s *SQLStore) ListMessages(ctx context.Context, chatID string, page domain.PageRequest) ([]domain.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, type, content, agent_id, agent_name, agent_avatar, metadata, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		chatID, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var agentID, agentName, agentAvatar, metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Type, &msg.Content, &agentID, &agentName, &agentAvatar, &metadata, &msg.CreatedAt); err != nil {
			return nil, 0, err
		}
		msg.AgentID = agentID.String
		msg.AgentName = agentName.String
		msg.AgentAvatar = agentAvatar.String
		msg.Metadata = decodeJSON(metadata)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

// UpsertAgent creates or updates an agent.
func (s *SQLStore) UpsertAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO agents (id, name, description, type, avatar, config, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)` +
		s.dialect.upsert([]string{"id"}, []string{"name", "description", "type", "avatar", "config", "is_active"})
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.Description, agent.Type, nullString(agent.Avatar), encodeJSON(agent.Config), agent.Active, agent.CreatedAt)
	return err
}

const agentColumns = `id, name, description, type, avatar, config, is_active, created_at`

// GetAgent retrieves an agent by ID. It returns nil when the agent does not exist.
func (s *SQLStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents lists agents ordered by ID.
func (s *SQLStore) ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// UpsertTool creates or updates a tool catalog entry.
func (s *SQLStore) UpsertTool(ctx context.Context, tool *domain.ToolSpec) error {
	query := `INSERT INTO tools (name, description, defaults, is_active) VALUES (?, ?, ?, ?)` +
		s.dialect.upsert([]string{"name"}, []string{"description", "defaults", "is_active"})
	_, err := s.db.ExecContext(ctx, query, tool.Name, tool.Description, encodeJSON(tool.Defaults), tool.Active)
	return err
}

// GetTool retrieves a tool by name. It returns nil when the tool does not exist.
func (s *SQLStore) GetTool(ctx context.Context, name string) (*domain.ToolSpec, error) {
	var tool domain.ToolSpec
	var defaults sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, defaults, is_active FROM tools WHERE name = ?`, name).
		Scan(&tool.Name, &tool.Description, &defaults, &tool.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tool.Defaults = decodeJSON(defaults)
	return &tool, nil
}

// ListTools lists all tools ordered by name.
func (s *SQLStore) ListTools(ctx context.Context) ([]domain.ToolSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description, defaults, is_active FROM tools ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []domain.ToolSpec
	for rows.Next() {
		var tool domain.ToolSpec
		var defaults sql.NullString
		if err := rows.Scan(&tool.Name, &tool.Description, &defaults, &tool.Active); err != nil {
			return nil, err
		}
		tool.Defaults = decodeJSON(defaults)
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// BindTool creates or updates an agent/tool binding.
func (s *SQLStore) BindTool(ctx context.Context, binding *domain.AgentTool) error {
	query := `INSERT INTO agent_tools (agent_id, tool, config) VALUES (?, ?, ?)` +
		s.dialect.upsert([]string{"agent_id", "tool"}, []string{"config"})
	_, err := s.db.ExecContext(ctx, query, binding.AgentID, binding.Tool, encodeJSON(binding.Config))
	return err
}

// ListBindings lists an agent's bindings ordered by tool name.
func (s *SQLStore) ListBindings(ctx context.Context, agentID string) ([]domain.AgentTool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, tool, config FROM agent_tools WHERE agent_id = ? ORDER BY tool`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []domain.AgentTool
	for rows.Next() {
		var b domain.AgentTool
		var config sql.NullString
		if err := rows.Scan(&b.AgentID, &b.Tool, &config); err != nil {
			return nil, err
		}
		b.Config = decodeJSON(config)
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// SeedCatalog upserts every tool, agent and binding of catalog.
func (s *SQLStore) SeedCatalog(ctx context.Context, catalog *domain.Catalog) error {
	for i := range catalog.Tools {
		if err := s.UpsertTool(ctx, &catalog.Tools[i]); err != nil {
			return fmt.Errorf("seed tool %s: %w", catalog.Tools[i].Name, err)
		}
	}
	for i := range catalog.Agents {
		if err := s.UpsertAgent(ctx, &catalog.Agents[i]); err != nil {
			return fmt.Errorf("seed agent %s: %w", catalog.Agents[i].ID, err)
		}
	}
	for i := range catalog.Bindings {
		b := &catalog.Bindings[i]
		if err := s.BindTool(ctx, b); err != nil {
			return fmt.Errorf("seed binding %s/%s: %w", b.AgentID, b.Tool, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	var chat domain.Chat
	var metadata sql.NullString
	if err := row.Scan(&chat.ID, &chat.Title, &chat.Description, &chat.Status, &chat.Owner,
		&chat.MessageCount, &metadata, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	chat.Metadata = decodeJSON(metadata)
	return &chat, nil
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var avatar, config sql.NullString
	if err := row.Scan(&agent.ID, &agent.Name, &agent.Description, &agent.Type, &avatar, &config, &agent.Active, &agent.CreatedAt); err != nil {
		return nil, err
	}
	agent.Avatar = avatar.String
	agent.Config = decodeJSON(config)
	return &agent, nil
}

func encodeJSON(v map[string]interface{}) sql.NullString {
	if len(v) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func decodeJSON(s sql.NullString) map[string]interface{} {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
