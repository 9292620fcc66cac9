package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables are created with raw DDL; all DML goes through the ent SQL
// builder.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		mastery_score REAL NOT NULL DEFAULT 0,
		attributes TEXT NOT NULL DEFAULT '{}',
		active INTEGER NOT NULL DEFAULT 1,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS nodes_owner ON nodes (owner_user_id)`,
	`CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		type TEXT NOT NULL,
		weight REAL NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS edges_source ON edges (source_id)`,
	`CREATE INDEX IF NOT EXISTS edges_target ON edges (target_id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		snapshot TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_user ON sessions (user_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS payload_cache (
		node_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		payload TEXT NOT NULL,
		generated_at INTEGER NOT NULL,
		PRIMARY KEY (node_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS llm_request_events (
		sequence INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		purpose TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		request_body TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reward_events (
		sequence INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		rarity TEXT NOT NULL,
		node_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		points INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reward_events_user ON reward_events (user_id)`,
	`CREATE TABLE IF NOT EXISTS mastery_events (
		sequence INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		edge_id TEXT NOT NULL DEFAULT '',
		old_score REAL NOT NULL,
		new_score REAL NOT NULL,
		cause TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS mastery_events_user ON mastery_events (user_id, timestamp)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec ddl: %w", err)
		}
	}
	return nil
}
