package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Timestamps are unix milliseconds.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS players (
		name TEXT PRIMARY KEY COLLATE NOCASE,
		display_name TEXT NOT NULL,
		joins INTEGER NOT NULL DEFAULT 0,
		chats INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		advancements INTEGER NOT NULL DEFAULT 0,
		playtime_ms INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player TEXT NOT NULL COLLATE NOCASE REFERENCES players(name) ON DELETE CASCADE,
		address TEXT NOT NULL DEFAULT '',
		joined_at INTEGER NOT NULL,
		left_at INTEGER,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(player, left_at)`,
	`CREATE TABLE IF NOT EXISTS player_advancements (
		player TEXT NOT NULL COLLATE NOCASE REFERENCES players(name) ON DELETE CASCADE,
		advancement TEXT NOT NULL,
		achieved_at INTEGER NOT NULL,
		PRIMARY KEY (player, advancement)
	)`,
}
