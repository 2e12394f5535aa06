package sqlite

import (
	"context"
	"database/sql"
)

const currentSchemaVersion = 2

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			target_player_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			issued_by TEXT NOT NULL DEFAULT '',
			issued_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			result TEXT,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(target_player_id, status, issued_at);

		CREATE TABLE IF NOT EXISTS player_state (
			player_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'idle',
			now_playing TEXT,
			now_playing_source TEXT NOT NULL DEFAULT 'none',
			active TEXT NOT NULL DEFAULT '[]',
			priority TEXT NOT NULL DEFAULT '[]',
			volume INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			connection TEXT NOT NULL DEFAULT '',
			last_seen INTEGER NOT NULL DEFAULT 0,
			revision INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO schema_version (version) VALUES (?)
	`, currentSchemaVersion)
	if err != nil {
		return err
	}

	// Migration: version 1 had no connection presence columns
	_, _ = db.ExecContext(ctx, `ALTER TABLE player_state ADD COLUMN connection TEXT NOT NULL DEFAULT ''`)
	_, _ = db.ExecContext(ctx, `ALTER TABLE player_state ADD COLUMN last_seen INTEGER NOT NULL DEFAULT 0`)

	return nil
}
