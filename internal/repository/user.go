package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"askboard/internal/model"
)

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Upsert registers the user on first contact. Names are refreshed on every
// contact; state, settings and tracker are left alone for existing rows.
func (r *userRepository) Upsert(ctx context.Context, chatID int64, firstName string, username *string) (*model.User, error) {
	query := `
		INSERT INTO users (chat_id, first_name, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    username = EXCLUDED.username,
		    updated_at = NOW()
		RETURNING chat_id, first_name, username, state, identity, muted,
		          reply_target_post_id, live_preview_message_id, created_at, updated_at
	`
	var user model.User
	if err := r.db.GetContext(ctx, &user, query, chatID, firstName, username); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	query := `
		SELECT chat_id, first_name, username, state, identity, muted,
		       reply_target_post_id, live_preview_message_id, created_at, updated_at
		FROM users
		WHERE chat_id = $1
	`
	var user model.User
	err := r.db.GetContext(ctx, &user, query, chatID)
	if err == sql.ErrNoRows {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) SetState(ctx context.Context, chatID int64, state model.ConvState, replyTarget *string) error {
	query := `
		UPDATE users
		SET state = $2, reply_target_post_id = $3, updated_at = NOW()
		WHERE chat_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, chatID, state, replyTarget)
	if err != nil {
		return fmt.Errorf("set user state: %w", err)
	}
	return requireUserRow(result)
}

func (r *userRepository) SetLivePreview(ctx context.Context, chatID int64, messageID *int64) error {
	query := `UPDATE users SET live_preview_message_id = $2, updated_at = NOW() WHERE chat_id = $1`
	result, err := r.db.ExecContext(ctx, query, chatID, messageID)
	if err != nil {
		return fmt.Errorf("set live preview: %w", err)
	}
	return requireUserRow(result)
}

// Reset returns the user to MAIN and clears the tracker. Runs on every flow
// completion and cancel, and must be idempotent.
func (r *userRepository) Reset(ctx context.Context, chatID int64) error {
	query := `
		UPDATE users
		SET state = $2, reply_target_post_id = NULL, live_preview_message_id = NULL, updated_at = NOW()
		WHERE chat_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, chatID, model.StateMain)
	if err != nil {
		return fmt.Errorf("reset user: %w", err)
	}
	return requireUserRow(result)
}

func (r *userRepository) SetIdentity(ctx context.Context, chatID int64, identity model.Identity) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET identity = $2, updated_at = NOW() WHERE chat_id = $1`, chatID, identity)
	if err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	return requireUserRow(result)
}

func (r *userRepository) SetMuted(ctx context.Context, chatID int64, muted bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET muted = $2, updated_at = NOW() WHERE chat_id = $1`, chatID, muted)
	if err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return requireUserRow(result)
}

func (r *userRepository) BroadcastChatIDs(ctx context.Context, excludeMuted bool) ([]int64, error) {
	query := `SELECT chat_id FROM users`
	if excludeMuted {
		query += ` WHERE NOT muted`
	}
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list broadcast chats: %w", err)
	}
	return ids, nil
}

func requireUserRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrUserNotFound
	}
	return nil
}
