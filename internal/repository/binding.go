package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"askboard/internal/model"
)

type bindingRepository struct {
	db *sqlx.DB
}

func NewBindingRepository(db *sqlx.DB) BindingRepository {
	return &bindingRepository{db: db}
}

const bindingColumns = `chat_id, message_id, post_id, is_gallery, gallery_filter, expanded, auto_refresh, refreshed_at, created_at`

func (r *bindingRepository) Upsert(ctx context.Context, b *model.MessageBinding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_bindings (chat_id, message_id, post_id, is_gallery, gallery_filter, expanded, auto_refresh, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (chat_id, message_id) DO UPDATE
		SET post_id = EXCLUDED.post_id,
		    is_gallery = EXCLUDED.is_gallery,
		    gallery_filter = EXCLUDED.gallery_filter,
		    expanded = EXCLUDED.expanded,
		    auto_refresh = EXCLUDED.auto_refresh,
		    refreshed_at = NOW()
	`, b.ChatID, b.MessageID, b.PostID, b.IsGallery, b.Filter, b.Expanded, b.AutoRefresh)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (r *bindingRepository) Get(ctx context.Context, chatID, messageID int64) (*model.MessageBinding, error) {
	var b model.MessageBinding
	err := r.db.GetContext(ctx, &b, `
		SELECT `+bindingColumns+` FROM message_bindings WHERE chat_id = $1 AND message_id = $2
	`, chatID, messageID)
	if err == sql.ErrNoRows {
		return nil, model.ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get binding: %w", err)
	}
	return &b, nil
}

func (r *bindingRepository) Delete(ctx context.Context, chatID, messageID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM message_bindings WHERE chat_id = $1 AND message_id = $2`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

func (r *bindingRepository) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]model.MessageBinding, error) {
	var bindings []model.MessageBinding
	err := r.db.SelectContext(ctx, &bindings, `
		SELECT `+bindingColumns+` FROM message_bindings
		WHERE auto_refresh AND refreshed_at < NOW() - $1::interval
		ORDER BY refreshed_at
		LIMIT $2
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale bindings: %w", err)
	}
	return bindings, nil
}

func (r *bindingRepository) Touch(ctx context.Context, chatID, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_bindings SET refreshed_at = NOW() WHERE chat_id = $1 AND message_id = $2
	`, chatID, messageID)
	if err != nil {
		return fmt.Errorf("touch binding: %w", err)
	}
	return nil
}
