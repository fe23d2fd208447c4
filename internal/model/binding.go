package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GalleryFilter is the persisted query of a gallery: which posts a rendered
// message is paging over. Zero-valued fields are not applied.
type GalleryFilter struct {
	Type            PostType   `json:"type,omitempty"`
	Status          PostStatus `json:"status,omitempty"`
	OwnerChatID     int64      `json:"owner_chat_id,omitempty"`
	RepliedToPostID string     `json:"replied_to_post_id,omitempty"`
	BookmarkedBy    int64      `json:"bookmarked_by,omitempty"`
}

// Value implements driver.Valuer so the filter round-trips through a JSONB
// column.
func (f GalleryFilter) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *GalleryFilter) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	case nil:
		*f = GalleryFilter{}
		return nil
	}
	return fmt.Errorf("unsupported gallery filter source %T", src)
}

// StepDirection selects the neighbor a gallery step resolves.
type StepDirection string

const (
	StepNext StepDirection = "next" // newer under creation-time descending order
	StepPrev StepDirection = "prev" // older
)

// MessageBinding associates one rendered chat message with the post and
// query it currently displays. At most one binding exists per
// (chat, message) pair; re-rendering the same message upserts it.
type MessageBinding struct {
	ChatID      int64         `db:"chat_id" json:"chat_id"`
	MessageID   int64         `db:"message_id" json:"message_id"`
	PostID      string        `db:"post_id" json:"post_id"`
	IsGallery   bool          `db:"is_gallery" json:"is_gallery"`
	Filter      GalleryFilter `db:"gallery_filter" json:"gallery_filter"`
	Expanded    bool          `db:"expanded" json:"expanded"` // show-more pressed
	AutoRefresh bool          `db:"auto_refresh" json:"auto_refresh"`
	RefreshedAt time.Time     `db:"refreshed_at" json:"refreshed_at"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// Gallery and binding errors
var (
	ErrBindingNotFound = errors.New("message binding not found")
	ErrGalleryEmpty    = errors.New("no posts match the gallery filter")
	ErrGalleryBoundary = errors.New("no more posts in this direction")
)
