package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"askboard/internal/model"
)

// Publisher defines the interface for publishing events to a stream.
type Publisher interface {
	// Publish adds an event to the specified stream.
	// Returns the message ID assigned by Redis.
	Publish(ctx context.Context, stream string, event DispatchEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
}

// NewPublisher creates a new Publisher backed by Redis Streams.
func NewPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish adds an event to the stream using XADD.
// Uses "*" for auto-generated message ID (timestamp-sequence).
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event DispatchEvent) (string, error) {
	startTime := time.Now()

	values, err := event.ToMap()
	if err != nil {
		log.Printf("[Publisher] Publish FAILED: stream=%s type=%s err=%v", stream, event.Type, err)
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()

	if err != nil {
		log.Printf("[Publisher] Publish FAILED: stream=%s type=%s err=%v", stream, event.Type, err)
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	log.Printf("[Publisher] Publish OK: stream=%s type=%s msgID=%s duration=%v",
		stream, event.Type, messageID, time.Since(startTime))

	switch event.Type {
	case EventQuestionPublished, EventReplyPublished:
		log.Printf("[Publisher]   -> post=%s type=%s author=%d", event.PostID, event.PostType, event.AuthorChatID)
	case EventAnswerAccepted:
		log.Printf("[Publisher]   -> question=%s answer=%s owner=%d", event.QuestionID, event.AnswerID, event.AnswerOwnerChatID)
	}

	return messageID, nil
}

// QuestionPublished publishes a new-question event to the dispatch stream.
// Satisfies the services' EventPublisher boundary.
func (p *RedisPublisher) QuestionPublished(ctx context.Context, post *model.Post) error {
	_, err := p.Publish(ctx, StreamDispatch, NewQuestionPublishedEvent(post.ID, post.OwnerChatID))
	return err
}

// ReplyPublished publishes a new answer or comment event.
func (p *RedisPublisher) ReplyPublished(ctx context.Context, post *model.Post) error {
	parent := ""
	if post.RepliedToPostID != nil {
		parent = *post.RepliedToPostID
	}
	_, err := p.Publish(ctx, StreamDispatch, NewReplyPublishedEvent(post.ID, post.Type, post.OwnerChatID, parent))
	return err
}

// AnswerAccepted publishes an accepted-answer event.
func (p *RedisPublisher) AnswerAccepted(ctx context.Context, questionID, answerID string, answerOwnerChatID int64) error {
	_, err := p.Publish(ctx, StreamDispatch, NewAnswerAcceptedEvent(questionID, answerID, answerOwnerChatID))
	return err
}
