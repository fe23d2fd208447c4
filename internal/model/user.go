package model

import (
	"errors"
	"time"
)

// ConvState is the per-chat conversation state that decides how an inbound
// message is interpreted.
type ConvState string

const (
	StateMain           ConvState = "MAIN"
	StateAskQuestion    ConvState = "ASK_QUESTION"
	StateAnswerQuestion ConvState = "ANSWER_QUESTION"
	StateCommentPost    ConvState = "COMMENT_POST"
)

// ComposeType maps a composing conversation state to the post type being
// composed. Returns false for non-composing states.
func (s ConvState) ComposeType() (PostType, bool) {
	switch s {
	case StateAskQuestion:
		return TypeQuestion, true
	case StateAnswerQuestion:
		return TypeAnswer, true
	case StateCommentPost:
		return TypeComment, true
	}
	return "", false
}

// Identity is the user's chosen disclosure mode when their posts are shown
// to others.
type Identity string

const (
	IdentityAnonymous Identity = "anonymous"
	IdentityFirstName Identity = "first_name"
	IdentityUsername  Identity = "username"
)

// User is one chat participant. The tracker fields carry transient context
// for in-flight flows: the post a reply is being composed against, and the
// single live preview message to tear down before rendering a new one.
type User struct {
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	FirstName string    `db:"first_name" json:"first_name"`
	Username  *string   `db:"username" json:"username,omitempty"`
	State     ConvState `db:"state" json:"state"`
	Identity  Identity  `db:"identity" json:"identity"`
	Muted     bool      `db:"muted" json:"muted"`

	// Tracker
	ReplyTargetPostID    *string `db:"reply_target_post_id" json:"-"`
	LivePreviewMessageID *int64  `db:"live_preview_message_id" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayIdentity resolves the name shown on the user's published posts per
// their disclosure setting. Falls back to "Anonymous" when the chosen field
// is not set.
func (u *User) DisplayIdentity() string {
	switch u.Identity {
	case IdentityFirstName:
		if u.FirstName != "" {
			return u.FirstName
		}
	case IdentityUsername:
		if u.Username != nil && *u.Username != "" {
			return "@" + *u.Username
		}
	}
	return "Anonymous"
}

// User errors
var (
	ErrUserNotFound = errors.New("user not found")
)
