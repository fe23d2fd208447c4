package repository

import (
	"context"
	"time"

	"askboard/internal/model"
)

type UserRepository interface {
	// Upsert registers a user on first contact and refreshes their names on
	// every later one. Returns the stored row.
	Upsert(ctx context.Context, chatID int64, firstName string, username *string) (*model.User, error)
	GetByChatID(ctx context.Context, chatID int64) (*model.User, error)
	// SetState moves the conversation state, optionally recording the reply
	// target the composing flow is aimed at.
	SetState(ctx context.Context, chatID int64, state model.ConvState, replyTarget *string) error
	// SetLivePreview swaps the tracked live preview message (nil clears it).
	SetLivePreview(ctx context.Context, chatID int64, messageID *int64) error
	// Reset returns the user to MAIN and clears the tracker.
	Reset(ctx context.Context, chatID int64) error
	SetIdentity(ctx context.Context, chatID int64, identity model.Identity) error
	SetMuted(ctx context.Context, chatID int64, muted bool) error
	// BroadcastChatIDs lists every registered chat, minus muted users when
	// excludeMuted is set.
	BroadcastChatIDs(ctx context.Context, excludeMuted bool) ([]int64, error)
}

type PostRepository interface {
	// AppendFragment appends content to the owner's post in preparation,
	// creating one if none exists. Capacity violations leave the stored
	// fragments untouched and return CharLimitError / ErrTooManyAttachments.
	AppendFragment(ctx context.Context, ownerChatID int64, postType model.PostType, frag model.Fragment, repliedTo *string) (*model.Post, error)
	// Draft returns the owner's post in preparation, or ErrNoDraft.
	Draft(ctx context.Context, ownerChatID int64) (*model.Post, error)
	// Submit publishes the draft: prep -> open. ErrNoDraft when nothing is
	// being composed, ErrPostTooShort when the raw text is under the
	// minimum (the draft stays editable).
	Submit(ctx context.Context, ownerChatID int64) (*model.Post, error)
	DiscardDraft(ctx context.Context, ownerChatID int64) error

	GetByID(ctx context.Context, postID string) (*model.Post, error)

	// ToggleMembership atomically adds the chat to the field's set if
	// absent, removes it if present. Returns whether the chat is a member
	// afterwards.
	ToggleMembership(ctx context.Context, postID string, field model.MembershipField, chatID int64) (bool, error)
	IsBookmarked(ctx context.Context, postID string, chatID int64) (bool, error)

	// SetStatus transitions the post to the target status only when its
	// current status is one of from; otherwise ErrIllegalTransition.
	SetStatus(ctx context.Context, postID string, from []model.PostStatus, to model.PostStatus) error

	// Accept marks the answer accepted and the question resolved in one
	// transaction. Unaccept reverses it.
	Accept(ctx context.Context, questionID, answerID string) error
	Unaccept(ctx context.Context, questionID, answerID string) error

	// Gallery queries: creation-time ordering with an inequality seek so a
	// viewer's position survives concurrent inserts.
	First(ctx context.Context, f model.GalleryFilter) (*model.Post, error)
	Step(ctx context.Context, f model.GalleryFilter, from *model.Post, dir model.StepDirection) (*model.Post, error)
	Position(ctx context.Context, f model.GalleryFilter, at *model.Post) (index, total int, err error)

	CountReplies(ctx context.Context, postID string, t model.PostType) (int, error)
	// Replies lists a post's open replies of one type, oldest first.
	Replies(ctx context.Context, postID string, t model.PostType) ([]model.Post, error)
}

type BindingRepository interface {
	// Upsert creates or replaces the binding for (chat, message) - at most
	// one binding exists per rendered message.
	Upsert(ctx context.Context, b *model.MessageBinding) error
	Get(ctx context.Context, chatID, messageID int64) (*model.MessageBinding, error)
	Delete(ctx context.Context, chatID, messageID int64) error
	// ListStale returns auto-refresh bindings not refreshed for olderThan.
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]model.MessageBinding, error)
	Touch(ctx context.Context, chatID, messageID int64) error
}
