package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			owner VARCHAR(128) NOT NULL,
			message_count INT NOT NULL DEFAULT 0,
			metadata JSON NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_chats_owner (owner, updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			chat_id VARCHAR(64) NOT NULL,
			role VARCHAR(16) NOT NULL,
			type VARCHAR(16) NOT NULL DEFAULT 'text',
			content LONGTEXT NOT NULL,
			agent_id VARCHAR(64) NULL,
			agent_name VARCHAR(128) NULL,
			agent_avatar VARCHAR(255) NULL,
			metadata JSON NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_messages_chat (chat_id, created_at),
			CONSTRAINT fk_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			description TEXT NOT NULL,
			type VARCHAR(64) NOT NULL DEFAULT '',
			avatar VARCHAR(255) NULL,
			config JSON NULL,
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS tools (
			name VARCHAR(64) PRIMARY KEY,
			description TEXT NOT NULL,
			defaults JSON NULL,
			is_active TINYINT(1) NOT NULL DEFAULT 1
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS agent_tools (
			agent_id VARCHAR(64) NOT NULL,
			tool VARCHAR(64) NOT NULL,
			config JSON NULL,
			PRIMARY KEY (agent_id, tool),
			CONSTRAINT fk_agent_tools_agent FOREIGN KEY (agent_id) REFERENCES agents(id),
			CONSTRAINT fk_agent_tools_tool FOREIGN KEY (tool) REFERENCES tools(name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	upsert: func(_, cols []string) string {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	},
}

// NewMySQLStore creates a store backed by MySQL. parseTime is forced on so
// DATETIME columns scan into time.Time.
func NewMySQLStore(dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	return newSQLStore(db, mysqlDialect)
}
