package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// PostType tags a post as a question, an answer or a comment.
// Type-specific behavior (char limits, allowed content, audience) is looked
// up in the policy tables below instead of being spread over subclasses.
type PostType string

const (
	TypeQuestion PostType = "question"
	TypeAnswer   PostType = "answer"
	TypeComment  PostType = "comment"
)

// PostStatus is the lifecycle state of a post.
//
//	prep --submit--> open <--close/open--> closed
//	open --accept--> resolved --unaccept--> open   (questions and their accepted answer)
//	{open, closed} --delete--> deleted --undelete--> open
type PostStatus string

const (
	StatusPrep     PostStatus = "prep" // being composed, invisible to others
	StatusOpen     PostStatus = "open"
	StatusClosed   PostStatus = "closed"
	StatusResolved PostStatus = "resolved"
	StatusDeleted  PostStatus = "deleted"
)

// ContentKind is the kind of a single content fragment.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindPhoto     ContentKind = "photo"
	KindAudio     ContentKind = "audio"
	KindDocument  ContentKind = "document"
	KindVideo     ContentKind = "video"
	KindVoice     ContentKind = "voice"
	KindVideoNote ContentKind = "video_note"
)

// Fragment is one piece of accumulated post content: either an HTML text
// fragment or an attachment descriptor referencing a platform file.
type Fragment struct {
	ID       int64       `db:"id" json:"-"`
	PostID   string      `db:"post_id" json:"-"`
	Seq      int         `db:"seq" json:"seq"`
	Kind     ContentKind `db:"kind" json:"kind"`
	Text     string      `db:"text" json:"text,omitempty"`
	FileID   string      `db:"file_id" json:"file_id,omitempty"`
	FileName *string     `db:"file_name" json:"file_name,omitempty"`
	FileSize int64       `db:"file_size" json:"file_size,omitempty"`
	MimeType *string     `db:"mime_type" json:"mime_type,omitempty"`
}

// IsAttachment reports whether the fragment is a file rather than text.
func (f Fragment) IsAttachment() bool {
	return f.Kind != KindText
}

// DisplayName returns a human-readable label for an attachment fragment.
func (f Fragment) DisplayName() string {
	if f.FileName != nil && *f.FileName != "" {
		return *f.FileName
	}
	return string(f.Kind)
}

// Post is a single authored content item. Questions stand alone; answers and
// comments carry RepliedToPostID pointing at the post they respond to.
type Post struct {
	ID               string     `db:"id" json:"id"`
	Type             PostType   `db:"type" json:"type"`
	Status           PostStatus `db:"status" json:"status"`
	OwnerChatID      int64      `db:"owner_chat_id" json:"owner_chat_id"`
	RepliedToPostID  *string    `db:"replied_to_post_id" json:"replied_to_post_id,omitempty"`
	AcceptedAnswerID *string    `db:"accepted_answer_id" json:"accepted_answer_id,omitempty"`
	RawText          string     `db:"raw_text" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	// Joined fields (not columns on the posts table)
	Fragments    []Fragment `json:"fragments,omitempty"`
	Followers    []int64    `json:"followers,omitempty"`
	Likes        []int64    `json:"likes,omitempty"`
	BookmarkedBy []int64    `json:"bookmarked_by,omitempty"`
}

// Text joins the post's text fragments in order.
func (p *Post) Text() string {
	parts := make([]string, 0, len(p.Fragments))
	for _, f := range p.Fragments {
		if f.Kind == KindText {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Attachments returns the post's attachment fragments in order.
func (p *Post) Attachments() []Fragment {
	var out []Fragment
	for _, f := range p.Fragments {
		if f.IsAttachment() {
			out = append(out, f)
		}
	}
	return out
}

// RawLen is the length in characters of the post's accumulated text with
// markup stripped, the measure used by the submit threshold and the
// remaining-character count. Characters, not bytes; a Cyrillic question is
// as long as its Latin translation.
func (p *Post) RawLen() int {
	return utf8.RuneCountInString(StripTags(p.Text()))
}

// StripTags reduces stored HTML text to plain text.
func StripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (p *Post) IsOwner(chatID int64) bool { return p.OwnerChatID == chatID }

func (p *Post) HasFollower(chatID int64) bool { return containsChat(p.Followers, chatID) }

func (p *Post) HasLike(chatID int64) bool { return containsChat(p.Likes, chatID) }

func containsChat(ids []int64, chatID int64) bool {
	for _, id := range ids {
		if id == chatID {
			return true
		}
	}
	return false
}

// MembershipField names a toggleable membership set on a post.
type MembershipField string

const (
	FieldFollowers    MembershipField = "followers"
	FieldLikes        MembershipField = "likes"
	FieldBookmarkedBy MembershipField = "bookmarked_by"
)

// Post policy tables, keyed by type.
var (
	// CharLimit is the maximum accumulated text length per post type,
	// enforced at append time so the user fails fast.
	CharLimit = map[PostType]int{
		TypeQuestion: 2500,
		TypeAnswer:   2500,
		TypeComment:  500,
	}

	// AllowedContentKinds lists the content kinds each post type accepts.
	// Comments are text-only.
	AllowedContentKinds = map[PostType][]ContentKind{
		TypeQuestion: {KindText, KindPhoto, KindAudio, KindDocument, KindVideo, KindVoice, KindVideoNote},
		TypeAnswer:   {KindText, KindPhoto, KindAudio, KindDocument, KindVideo, KindVoice, KindVideoNote},
		TypeComment:  {KindText},
	}
)

// KindAllowed reports whether a content kind may be appended to a post of
// the given type.
func KindAllowed(t PostType, k ContentKind) bool {
	for _, allowed := range AllowedContentKinds[t] {
		if allowed == k {
			return true
		}
	}
	return false
}

// Post content limits
const (
	// MaxAttachments is the attachment cap per post, any type.
	MaxAttachments = 3

	// MinSubmitTextLength is the minimum raw text length required for a
	// draft to be submitted and become visible.
	MinSubmitTextLength = 20

	// TruncateAt is the display budget before a "show more" toggle is
	// offered on rendered posts.
	TruncateAt = 250
)

// Post errors
var (
	ErrPostNotFound       = errors.New("post not found")
	ErrNotPostOwner       = errors.New("not the owner of this post")
	ErrNoDraft            = errors.New("no post in preparation")
	ErrPostTooShort       = errors.New("post text below minimum length")
	ErrCharLimitExceeded  = errors.New("character limit exceeded")
	ErrTooManyAttachments = errors.New("too many attachments")
	ErrUnsupportedContent = errors.New("unsupported content kind")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrNotAnAnswer        = errors.New("post is not an answer to this question")
)

// CharLimitError reports by how many characters an append overshot the
// type's limit. It unwraps to ErrCharLimitExceeded so callers can branch
// with errors.Is.
type CharLimitError struct {
	Extra int
}

func (e *CharLimitError) Error() string {
	return fmt.Sprintf("character limit exceeded by %d", e.Extra)
}

func (e *CharLimitError) Unwrap() error { return ErrCharLimitExceeded }
