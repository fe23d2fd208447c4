package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// schema is applied idempotently on startup. Membership sets (followers,
// likes, bookmarks) are join tables so toggles stay atomic at the store:
// INSERT ... ON CONFLICT DO NOTHING / DELETE, never read-modify-write.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		chat_id BIGINT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		username TEXT,
		state TEXT NOT NULL DEFAULT 'MAIN',
		identity TEXT NOT NULL DEFAULT 'anonymous',
		muted BOOLEAN NOT NULL DEFAULT FALSE,
		reply_target_post_id TEXT,
		live_preview_message_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'prep',
		owner_chat_id BIGINT NOT NULL,
		replied_to_post_id TEXT REFERENCES posts(id),
		accepted_answer_id TEXT,
		raw_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Composing is serialized per user: at most one post in preparation.
	`CREATE UNIQUE INDEX IF NOT EXISTS posts_one_prep_per_owner
		ON posts (owner_chat_id) WHERE status = 'prep'`,

	`CREATE INDEX IF NOT EXISTS posts_gallery
		ON posts (type, status, created_at DESC, id DESC)`,

	`CREATE INDEX IF NOT EXISTS posts_replies
		ON posts (replied_to_post_id, type, status)`,

	`CREATE TABLE IF NOT EXISTS post_fragments (
		id BIGSERIAL PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		seq INT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		file_id TEXT NOT NULL DEFAULT '',
		file_name TEXT,
		file_size BIGINT NOT NULL DEFAULT 0,
		mime_type TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS post_fragments_post
		ON post_fragments (post_id, seq)`,

	`CREATE TABLE IF NOT EXISTS post_followers (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		chat_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (post_id, chat_id)
	)`,

	`CREATE TABLE IF NOT EXISTS post_likes (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		chat_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (post_id, chat_id)
	)`,

	`CREATE TABLE IF NOT EXISTS post_bookmarks (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		chat_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (post_id, chat_id)
	)`,

	`CREATE INDEX IF NOT EXISTS post_bookmarks_chat
		ON post_bookmarks (chat_id)`,

	`CREATE TABLE IF NOT EXISTS message_bindings (
		chat_id BIGINT NOT NULL,
		message_id BIGINT NOT NULL,
		post_id TEXT NOT NULL,
		is_gallery BOOLEAN NOT NULL DEFAULT FALSE,
		gallery_filter JSONB NOT NULL DEFAULT '{}',
		expanded BOOLEAN NOT NULL DEFAULT FALSE,
		auto_refresh BOOLEAN NOT NULL DEFAULT FALSE,
		refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chat_id, message_id)
	)`,

	`CREATE INDEX IF NOT EXISTS message_bindings_stale
		ON message_bindings (refreshed_at) WHERE auto_refresh`,
}

// Migrate applies the schema statements in order.
func Migrate(db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	log.Printf("[Database] Schema migrated (%d statements)", len(schema))
	return nil
}
