package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"askboard/internal/model"
)

// Event types for the dispatch stream
const (
	EventQuestionPublished = "question_published"
	EventReplyPublished    = "reply_published"
	EventAnswerAccepted    = "answer_accepted"
)

// Stream names
const (
	StreamDispatch = "stream:dispatch"
)

// Consumer group name for dispatch workers
const (
	ConsumerGroupDispatch = "dispatch_workers"
)

// DispatchEvent is one fan-out job on the dispatch stream. All dispatch
// events share this structure; unused fields stay zero.
type DispatchEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp when event occurred

	// Publication events
	PostID       string         `json:"post_id,omitempty"`
	PostType     model.PostType `json:"post_type,omitempty"`
	AuthorChatID int64          `json:"author_chat_id,omitempty"`
	ParentPostID string         `json:"parent_post_id,omitempty"`

	// Acceptance event
	QuestionID        string `json:"question_id,omitempty"`
	AnswerID          string `json:"answer_id,omitempty"`
	AnswerOwnerChatID int64  `json:"answer_owner_chat_id,omitempty"`
}

// NewQuestionPublishedEvent creates the event for a freshly submitted
// question. Worker broadcasts it to every unmuted user except the author.
func NewQuestionPublishedEvent(postID string, authorChatID int64) DispatchEvent {
	return DispatchEvent{
		Type:         EventQuestionPublished,
		Timestamp:    time.Now().Unix(),
		PostID:       postID,
		PostType:     model.TypeQuestion,
		AuthorChatID: authorChatID,
	}
}

// NewReplyPublishedEvent creates the event for a submitted answer or
// comment. Worker delivers it to the parent post's owner and followers.
func NewReplyPublishedEvent(postID string, postType model.PostType, authorChatID int64, parentPostID string) DispatchEvent {
	return DispatchEvent{
		Type:         EventReplyPublished,
		Timestamp:    time.Now().Unix(),
		PostID:       postID,
		PostType:     postType,
		AuthorChatID: authorChatID,
		ParentPostID: parentPostID,
	}
}

// NewAnswerAcceptedEvent creates the event for an accepted answer. Worker
// congratulates the answer owner and notifies the union of question and
// answer followers.
func NewAnswerAcceptedEvent(questionID, answerID string, answerOwnerChatID int64) DispatchEvent {
	return DispatchEvent{
		Type:              EventAnswerAccepted,
		Timestamp:         time.Now().Unix(),
		QuestionID:        questionID,
		AnswerID:          answerID,
		AnswerOwnerChatID: answerOwnerChatID,
	}
}

// ToMap converts the event to a map for Redis XADD.
// Redis Streams store field-value pairs, so we serialize to JSON in a "data" field.
func (e DispatchEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseDispatchEvent parses a DispatchEvent from Redis stream message values.
func ParseDispatchEvent(values map[string]interface{}) (DispatchEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return DispatchEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event DispatchEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return DispatchEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
