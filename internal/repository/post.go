package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"askboard/internal/model"
)

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

// membershipTable maps a toggleable post field to its join table.
var membershipTable = map[model.MembershipField]string{
	model.FieldFollowers:    "post_followers",
	model.FieldLikes:        "post_likes",
	model.FieldBookmarkedBy: "post_bookmarks",
}

const postColumns = `id, type, status, owner_chat_id, replied_to_post_id, accepted_answer_id, raw_text, created_at, updated_at`

// AppendFragment accumulates one content fragment onto the owner's post in
// preparation, creating it if needed. The prep upsert is keyed on the
// partial unique index (owner_chat_id WHERE status='prep'), so a rapid
// double-send from the same user resolves to the same row. A draft whose
// type changes is repurposed wholesale: its fragments and reply target are
// cleared, so content abandoned mid-answer never leaks into a question.
// Capacity violations commit the metadata refresh but never the fragment.
func (r *postRepository) AppendFragment(ctx context.Context, ownerChatID int64, postType model.PostType, frag model.Fragment, repliedTo *string) (*model.Post, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevType model.PostType
	hadDraft := true
	err = tx.GetContext(ctx, &prevType,
		`SELECT type FROM posts WHERE owner_chat_id = $1 AND status = 'prep' FOR UPDATE`, ownerChatID)
	if err == sql.ErrNoRows {
		hadDraft = false
	} else if err != nil {
		return nil, fmt.Errorf("inspect draft: %w", err)
	}

	var postID string
	upsert := `
		INSERT INTO posts (id, type, status, owner_chat_id, replied_to_post_id)
		VALUES ($1, $2, 'prep', $3, $4)
		ON CONFLICT (owner_chat_id) WHERE status = 'prep' DO UPDATE
		SET type = EXCLUDED.type,
		    replied_to_post_id = CASE
		        WHEN posts.type = EXCLUDED.type THEN COALESCE(EXCLUDED.replied_to_post_id, posts.replied_to_post_id)
		        ELSE EXCLUDED.replied_to_post_id
		    END,
		    updated_at = NOW()
		RETURNING id
	`
	if err := tx.GetContext(ctx, &postID, upsert, uuid.NewString(), postType, ownerChatID, repliedTo); err != nil {
		return nil, fmt.Errorf("upsert prep post: %w", err)
	}

	if hadDraft && prevType != postType {
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_fragments WHERE post_id = $1`, postID); err != nil {
			return nil, fmt.Errorf("clear repurposed draft: %w", err)
		}
	}

	var existing []model.Fragment
	err = tx.SelectContext(ctx, &existing, `
		SELECT id, post_id, seq, kind, text, file_id, file_name, file_size, mime_type
		FROM post_fragments WHERE post_id = $1 ORDER BY seq
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("load fragments: %w", err)
	}

	capErr := checkCapacity(postType, existing, frag)
	if capErr == nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO post_fragments (post_id, seq, kind, text, file_id, file_name, file_size, mime_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, postID, len(existing)+1, frag.Kind, frag.Text, frag.FileID, frag.FileName, frag.FileSize, frag.MimeType)
		if err != nil {
			return nil, fmt.Errorf("insert fragment: %w", err)
		}
	}

	// The metadata refresh commits either way; a rejected fragment must not
	// roll back the type/reply-target already established.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	post, err := r.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return post, capErr
}

// checkCapacity enforces the type's character limit and the attachment cap
// against the draft as it would look after the append.
func checkCapacity(t model.PostType, existing []model.Fragment, frag model.Fragment) error {
	if frag.IsAttachment() {
		attachments := 0
		for _, f := range existing {
			if f.IsAttachment() {
				attachments++
			}
		}
		if attachments+1 > model.MaxAttachments {
			return model.ErrTooManyAttachments
		}
		return nil
	}

	texts := make([]string, 0, len(existing)+1)
	for _, f := range existing {
		if f.Kind == model.KindText {
			texts = append(texts, f.Text)
		}
	}
	texts = append(texts, frag.Text)

	limit := model.CharLimit[t]
	if total := utf8.RuneCountInString(model.StripTags(strings.Join(texts, "\n"))); total > limit {
		return &model.CharLimitError{Extra: total - limit}
	}
	return nil
}

func (r *postRepository) Draft(ctx context.Context, ownerChatID int64) (*model.Post, error) {
	var post model.Post
	err := r.db.GetContext(ctx, &post, `
		SELECT `+postColumns+` FROM posts WHERE owner_chat_id = $1 AND status = 'prep'
	`, ownerChatID)
	if err == sql.ErrNoRows {
		return nil, model.ErrNoDraft
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if err := r.hydrate(ctx, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Submit publishes the draft. The draft row is locked so a double-press of
// the send key publishes exactly once; created_at is refreshed because
// galleries order by publication time.
func (r *postRepository) Submit(ctx context.Context, ownerChatID int64) (*model.Post, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var post model.Post
	err = tx.GetContext(ctx, &post, `
		SELECT `+postColumns+` FROM posts
		WHERE owner_chat_id = $1 AND status = 'prep'
		FOR UPDATE
	`, ownerChatID)
	if err == sql.ErrNoRows {
		return nil, model.ErrNoDraft
	}
	if err != nil {
		return nil, fmt.Errorf("get draft for submit: %w", err)
	}

	var fragments []model.Fragment
	err = tx.SelectContext(ctx, &fragments, `
		SELECT id, post_id, seq, kind, text, file_id, file_name, file_size, mime_type
		FROM post_fragments WHERE post_id = $1 ORDER BY seq
	`, post.ID)
	if err != nil {
		return nil, fmt.Errorf("load fragments for submit: %w", err)
	}
	post.Fragments = fragments

	rawText := model.StripTags(post.Text())
	if utf8.RuneCountInString(rawText) < model.MinSubmitTextLength {
		return nil, model.ErrPostTooShort
	}

	err = tx.GetContext(ctx, &post, `
		UPDATE posts
		SET status = 'open', raw_text = $2, created_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+postColumns+`
	`, post.ID, rawText)
	if err != nil {
		return nil, fmt.Errorf("publish draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	post.Fragments = fragments
	return &post, nil
}

func (r *postRepository) DiscardDraft(ctx context.Context, ownerChatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE owner_chat_id = $1 AND status = 'prep'`, ownerChatID)
	if err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	var post model.Post
	err := r.db.GetContext(ctx, &post, `SELECT `+postColumns+` FROM posts WHERE id = $1`, postID)
	if err == sql.ErrNoRows {
		return nil, model.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if err := r.hydrate(ctx, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// hydrate loads fragments and membership sets onto a post row.
func (r *postRepository) hydrate(ctx context.Context, post *model.Post) error {
	err := r.db.SelectContext(ctx, &post.Fragments, `
		SELECT id, post_id, seq, kind, text, file_id, file_name, file_size, mime_type
		FROM post_fragments WHERE post_id = $1 ORDER BY seq
	`, post.ID)
	if err != nil {
		return fmt.Errorf("load fragments: %w", err)
	}

	for field, dst := range map[model.MembershipField]*[]int64{
		model.FieldFollowers:    &post.Followers,
		model.FieldLikes:        &post.Likes,
		model.FieldBookmarkedBy: &post.BookmarkedBy,
	} {
		query := fmt.Sprintf(`SELECT chat_id FROM %s WHERE post_id = $1 ORDER BY created_at`, membershipTable[field])
		if err := r.db.SelectContext(ctx, dst, query, post.ID); err != nil {
			return fmt.Errorf("load %s: %w", field, err)
		}
	}
	return nil
}

// ToggleMembership is the store-level atomic set toggle: the insert either
// lands or conflicts, and only a conflicting insert falls through to the
// delete. No application-level read-modify-write.
func (r *postRepository) ToggleMembership(ctx context.Context, postID string, field model.MembershipField, chatID int64) (bool, error) {
	table, ok := membershipTable[field]
	if !ok {
		return false, fmt.Errorf("unknown membership field %q", field)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (post_id, chat_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table)
	result, err := r.db.ExecContext(ctx, insert, postID, chatID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return false, model.ErrPostNotFound
		}
		return false, fmt.Errorf("toggle insert %s: %w", field, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	del := fmt.Sprintf(`DELETE FROM %s WHERE post_id = $1 AND chat_id = $2`, table)
	if _, err := r.db.ExecContext(ctx, del, postID, chatID); err != nil {
		return false, fmt.Errorf("toggle delete %s: %w", field, err)
	}
	return false, nil
}

func (r *postRepository) IsBookmarked(ctx context.Context, postID string, chatID int64) (bool, error) {
	var bookmarked bool
	err := r.db.GetContext(ctx, &bookmarked,
		`SELECT EXISTS(SELECT 1 FROM post_bookmarks WHERE post_id = $1 AND chat_id = $2)`, postID, chatID)
	if err != nil {
		return false, fmt.Errorf("check bookmark: %w", err)
	}
	return bookmarked, nil
}

// SetStatus is the guarded transition: the update only matches when the
// current status is an allowed source, so concurrent presses cannot skip
// through the state machine.
func (r *postRepository) SetStatus(ctx context.Context, postID string, from []model.PostStatus, to model.PostStatus) error {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE posts SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, postID, to, pq.Array(sources))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, postID)
		if exists {
			return model.ErrIllegalTransition
		}
		return model.ErrPostNotFound
	}
	return nil
}

// Accept marks the answer accepted and the question resolved in one
// transaction, displacing a previously accepted answer if any.
func (r *postRepository) Accept(ctx context.Context, questionID, answerID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var verified bool
	err = tx.GetContext(ctx, &verified, `
		SELECT EXISTS(
			SELECT 1 FROM posts
			WHERE id = $1 AND type = 'answer' AND replied_to_post_id = $2
		)
	`, answerID, questionID)
	if err != nil {
		return fmt.Errorf("verify answer: %w", err)
	}
	if !verified {
		return model.ErrNotAnAnswer
	}

	var previous *string
	err = tx.GetContext(ctx, &previous, `
		SELECT accepted_answer_id FROM posts WHERE id = $1 AND type = 'question' FOR UPDATE
	`, questionID)
	if err == sql.ErrNoRows {
		return model.ErrPostNotFound
	}
	if err != nil {
		return fmt.Errorf("lock question: %w", err)
	}

	if previous != nil && *previous != answerID {
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET status = 'open', updated_at = NOW() WHERE id = $1 AND status = 'resolved'`,
			*previous); err != nil {
			return fmt.Errorf("reopen displaced answer: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = 'resolved', accepted_answer_id = $2, updated_at = NOW() WHERE id = $1
	`, questionID, answerID); err != nil {
		return fmt.Errorf("resolve question: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = 'resolved', updated_at = NOW() WHERE id = $1 AND status = 'open'
	`, answerID); err != nil {
		return fmt.Errorf("resolve answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Unaccept reverses Accept: both question and answer return to open.
func (r *postRepository) Unaccept(ctx context.Context, questionID, answerID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = 'open', accepted_answer_id = NULL, updated_at = NOW()
		WHERE id = $1 AND accepted_answer_id = $2
	`, questionID, answerID)
	if err != nil {
		return fmt.Errorf("reopen question: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrIllegalTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET status = 'open', updated_at = NOW() WHERE id = $1 AND status = 'resolved'
	`, answerID); err != nil {
		return fmt.Errorf("reopen answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *postRepository) First(ctx context.Context, f model.GalleryFilter) (*model.Post, error) {
	where, args := buildGalleryWhere(f, 0)
	query := fmt.Sprintf(`
		SELECT %s FROM posts WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, postColumns, where)

	var post model.Post
	err := r.db.GetContext(ctx, &post, query, args...)
	if err == sql.ErrNoRows {
		return nil, model.ErrGalleryEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("gallery first: %w", err)
	}
	if err := r.hydrate(ctx, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Step resolves the neighbor of the current post under the gallery's
// creation-time order via an inequality seek on (created_at, id). A seek,
// unlike an offset, keeps the viewer's position stable while new posts
// arrive.
func (r *postRepository) Step(ctx context.Context, f model.GalleryFilter, from *model.Post, dir model.StepDirection) (*model.Post, error) {
	where, args := buildGalleryWhere(f, 2)

	op, order := ">", "ASC"
	if dir == model.StepPrev {
		op, order = "<", "DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM posts
		WHERE (created_at, id) %s ($1, $2) AND %s
		ORDER BY created_at %s, id %s
		LIMIT 1
	`, postColumns, op, where, order, order)

	var post model.Post
	err := r.db.GetContext(ctx, &post, query, append([]interface{}{from.CreatedAt, from.ID}, args...)...)
	if err == sql.ErrNoRows {
		return nil, model.ErrGalleryBoundary
	}
	if err != nil {
		return nil, fmt.Errorf("gallery step: %w", err)
	}
	if err := r.hydrate(ctx, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Position reports the 1-based index of the post under the gallery's order
// (oldest = 1) and the total match count. Both tolerate concurrent inserts;
// they feed the "x / y" display only.
func (r *postRepository) Position(ctx context.Context, f model.GalleryFilter, at *model.Post) (int, int, error) {
	where, args := buildGalleryWhere(f, 2)

	var index int
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM posts WHERE (created_at, id) < ($1, $2) AND %s
	`, where)
	err := r.db.GetContext(ctx, &index, query, append([]interface{}{at.CreatedAt, at.ID}, args...)...)
	if err != nil {
		return 0, 0, fmt.Errorf("gallery index: %w", err)
	}

	where, args = buildGalleryWhere(f, 0)
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM posts WHERE %s`, where), args...); err != nil {
		return 0, 0, fmt.Errorf("gallery total: %w", err)
	}

	return index + 1, total, nil
}

func (r *postRepository) CountReplies(ctx context.Context, postID string, t model.PostType) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM posts WHERE replied_to_post_id = $1 AND type = $2 AND status IN ('open', 'resolved')
	`, postID, t)
	if err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return count, nil
}

func (r *postRepository) Replies(ctx context.Context, postID string, t model.PostType) ([]model.Post, error) {
	var posts []model.Post
	err := r.db.SelectContext(ctx, &posts, `
		SELECT `+postColumns+` FROM posts
		WHERE replied_to_post_id = $1 AND type = $2 AND status IN ('open', 'resolved')
		ORDER BY created_at, id
	`, postID, t)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	for i := range posts {
		if err := r.hydrate(ctx, &posts[i]); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

// buildGalleryWhere renders a GalleryFilter to a WHERE clause with
// placeholders starting after the first `skip` positions. Posts in
// preparation never surface in galleries regardless of the filter.
func buildGalleryWhere(f model.GalleryFilter, skip int) (string, []interface{}) {
	conds := []string{}
	args := []interface{}{}
	n := skip

	add := func(cond string, v interface{}) {
		n++
		conds = append(conds, fmt.Sprintf(cond, n))
		args = append(args, v)
	}

	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	} else {
		conds = append(conds, "status NOT IN ('prep', 'deleted')")
	}
	if f.OwnerChatID != 0 {
		add("owner_chat_id = $%d", f.OwnerChatID)
	}
	if f.RepliedToPostID != "" {
		add("replied_to_post_id = $%d", f.RepliedToPostID)
	}
	if f.BookmarkedBy != 0 {
		add("EXISTS(SELECT 1 FROM post_bookmarks b WHERE b.post_id = posts.id AND b.chat_id = $%d)", f.BookmarkedBy)
	}

	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}
