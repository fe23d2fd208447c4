package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CleanupKey is the sorted set holding messages scheduled for deletion,
	// scored by their due time.
	CleanupKey = "cleanup:messages"
)

// ScheduledDelete identifies one chat message due for deletion.
type ScheduledDelete struct {
	ChatID    int64
	MessageID int64
}

// CleanupSchedule is the queue of chat messages the sweeper should delete
// once their retention expires (user input echoes, stale previews, sent
// attachment copies).
type CleanupSchedule interface {
	// Schedule enqueues a message for deletion at the given time.
	// Rescheduling the same message overwrites the previous due time.
	Schedule(ctx context.Context, chatID, messageID int64, at time.Time) error

	// Cancel removes a message from the schedule.
	Cancel(ctx context.Context, chatID, messageID int64) error

	// Due returns up to limit messages whose due time has passed.
	Due(ctx context.Context, now time.Time, limit int) ([]ScheduledDelete, error)

	// Remove drops processed entries from the schedule.
	Remove(ctx context.Context, items ...ScheduledDelete) error
}

// RedisCleanupSchedule implements CleanupSchedule using a Redis sorted set.
type RedisCleanupSchedule struct {
	client *redis.Client
}

// NewCleanupSchedule creates a CleanupSchedule backed by Redis.
func NewCleanupSchedule(client *redis.Client) CleanupSchedule {
	return &RedisCleanupSchedule{client: client}
}

func cleanupMember(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func parseCleanupMember(member string) (ScheduledDelete, error) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return ScheduledDelete{}, fmt.Errorf("malformed cleanup member %q", member)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ScheduledDelete{}, fmt.Errorf("malformed chat id in %q", member)
	}
	messageID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ScheduledDelete{}, fmt.Errorf("malformed message id in %q", member)
	}
	return ScheduledDelete{ChatID: chatID, MessageID: messageID}, nil
}

func (c *RedisCleanupSchedule) Schedule(ctx context.Context, chatID, messageID int64, at time.Time) error {
	err := c.client.ZAdd(ctx, CleanupKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: cleanupMember(chatID, messageID),
	}).Err()
	if err != nil {
		log.Printf("[Cleanup] Schedule FAILED: chat=%d message=%d err=%v", chatID, messageID, err)
		return fmt.Errorf("schedule delete: %w", err)
	}
	return nil
}

func (c *RedisCleanupSchedule) Cancel(ctx context.Context, chatID, messageID int64) error {
	if err := c.client.ZRem(ctx, CleanupKey, cleanupMember(chatID, messageID)).Err(); err != nil {
		return fmt.Errorf("cancel scheduled delete: %w", err)
	}
	return nil
}

func (c *RedisCleanupSchedule) Due(ctx context.Context, now time.Time, limit int) ([]ScheduledDelete, error) {
	members, err := c.client.ZRangeByScore(ctx, CleanupKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read due deletions: %w", err)
	}

	items := make([]ScheduledDelete, 0, len(members))
	for _, m := range members {
		item, err := parseCleanupMember(m)
		if err != nil {
			// Drop malformed entries so they don't wedge the sweeper.
			log.Printf("[Cleanup] %v, removing", err)
			c.client.ZRem(ctx, CleanupKey, m)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *RedisCleanupSchedule) Remove(ctx context.Context, items ...ScheduledDelete) error {
	if len(items) == 0 {
		return nil
	}
	members := make([]interface{}, len(items))
	for i, item := range items {
		members[i] = cleanupMember(item.ChatID, item.MessageID)
	}
	if err := c.client.ZRem(ctx, CleanupKey, members...).Err(); err != nil {
		return fmt.Errorf("remove processed deletions: %w", err)
	}
	return nil
}
