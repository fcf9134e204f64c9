package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL statements to run.
// Every statement must be safe to re-run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT     PRIMARY KEY,
		name          TEXT     NOT NULL UNIQUE,
		password_hash TEXT     NOT NULL,
		created_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id         TEXT     PRIMARY KEY,
		user_id    TEXT     NOT NULL REFERENCES users(id),
		incident   TEXT     NOT NULL DEFAULT '',
		problem    TEXT     NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id)`,
	`CREATE TABLE IF NOT EXISTS post_likes (
		post_id    TEXT     NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		user_id    TEXT     NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL,
		PRIMARY KEY (post_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id         INTEGER  PRIMARY KEY AUTOINCREMENT,
		post_id    TEXT     NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		user_id    TEXT     NOT NULL REFERENCES users(id),
		text       TEXT     NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_user_id ON comments(user_id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT     PRIMARY KEY,
		user_id    TEXT     NOT NULL,
		expires_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS passkey_credentials (
		id              TEXT     PRIMARY KEY,
		user_id         TEXT     NOT NULL REFERENCES users(id),
		name            TEXT     NOT NULL DEFAULT '',
		credential_json TEXT     NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// migrate runs all migrations in order.
func migrate(db *sql.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
