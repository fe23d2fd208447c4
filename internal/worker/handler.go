package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"askboard/internal/model"
	"askboard/internal/queue"
	"askboard/internal/repository"
	"askboard/internal/service"
)

const (
	// DefaultFanoutConcurrency bounds concurrent deliveries per event.
	DefaultFanoutConcurrency = 8
)

// Handler executes dispatch events: broadcasting new questions, delivering
// replies to interested users, and announcing accepted answers. Delivery
// order among recipients is not guaranteed.
type Handler struct {
	users       repository.UserRepository
	posts       repository.PostRepository
	delivery    *service.DeliveryService
	concurrency int
}

// NewHandler creates a dispatch event handler.
func NewHandler(users repository.UserRepository, posts repository.PostRepository, delivery *service.DeliveryService, concurrency int) *Handler {
	if concurrency <= 0 {
		concurrency = DefaultFanoutConcurrency
	}
	return &Handler{users: users, posts: posts, delivery: delivery, concurrency: concurrency}
}

// HandleEvent routes an event to its processor.
func (h *Handler) HandleEvent(ctx context.Context, event queue.DispatchEvent) error {
	switch event.Type {
	case queue.EventQuestionPublished:
		return h.handleQuestionPublished(ctx, event)
	case queue.EventReplyPublished:
		return h.handleReplyPublished(ctx, event)
	case queue.EventAnswerAccepted:
		return h.handleAnswerAccepted(ctx, event)
	default:
		log.Printf("[Handler] Unknown event type: %s", event.Type)
		return nil
	}
}

// handleQuestionPublished broadcasts a new open question to every
// registered, unmuted user except the author.
func (h *Handler) handleQuestionPublished(ctx context.Context, event queue.DispatchEvent) error {
	post, err := h.posts.GetByID(ctx, event.PostID)
	if err != nil {
		// The question may have been deleted before the event was
		// processed; nothing left to broadcast.
		if err == model.ErrPostNotFound {
			log.Printf("[Handler] Question %s gone before broadcast", event.PostID)
			return nil
		}
		return err
	}
	if post.Status != model.StatusOpen {
		log.Printf("[Handler] Question %s no longer open (%s), skipping broadcast", post.ID, post.Status)
		return nil
	}

	recipients, err := h.users.BroadcastChatIDs(ctx, true)
	if err != nil {
		return err
	}

	sent := h.fanOut(ctx, recipients, event.AuthorChatID, func(ctx context.Context, chatID int64) error {
		_, err := h.delivery.SendPost(ctx, chatID, post, nil, false)
		return err
	})
	log.Printf("[Handler] Broadcast question %s to %d recipients", post.ID, sent)
	return nil
}

// handleReplyPublished delivers a fresh answer or comment to the parent
// post's owner and followers.
func (h *Handler) handleReplyPublished(ctx context.Context, event queue.DispatchEvent) error {
	post, err := h.posts.GetByID(ctx, event.PostID)
	if err != nil {
		if err == model.ErrPostNotFound {
			return nil
		}
		return err
	}
	parent, err := h.posts.GetByID(ctx, event.ParentPostID)
	if err != nil {
		if err == model.ErrPostNotFound {
			return nil
		}
		return err
	}

	recipients := appendUnique([]int64{parent.OwnerChatID}, parent.Followers...)

	sent := h.fanOut(ctx, recipients, event.AuthorChatID, func(ctx context.Context, chatID int64) error {
		notice := fmt.Sprintf("💬 New %s on a post you follow:", post.Type)
		if chatID == parent.OwnerChatID {
			notice = fmt.Sprintf("💬 New %s on your %s:", post.Type, parent.Type)
		}
		if _, err := h.delivery.SendText(ctx, chatID, notice, nil); err != nil {
			return err
		}
		_, err := h.delivery.SendPost(ctx, chatID, post, nil, false)
		return err
	})
	log.Printf("[Handler] Delivered %s %s to %d recipients", post.Type, post.ID, sent)
	return nil
}

// handleAnswerAccepted congratulates the answer owner and notifies the
// union of question followers and answer followers.
func (h *Handler) handleAnswerAccepted(ctx context.Context, event queue.DispatchEvent) error {
	question, err := h.posts.GetByID(ctx, event.QuestionID)
	if err != nil {
		if err == model.ErrPostNotFound {
			return nil
		}
		return err
	}
	answer, err := h.posts.GetByID(ctx, event.AnswerID)
	if err != nil {
		if err == model.ErrPostNotFound {
			return nil
		}
		return err
	}

	if _, err := h.delivery.SendText(ctx, event.AnswerOwnerChatID,
		"🎉 Your answer was accepted!", nil); err != nil {
		log.Printf("[Handler] Congratulate %d failed: %v", event.AnswerOwnerChatID, err)
	}

	followers := appendUnique(question.Followers, answer.Followers...)

	sent := h.fanOut(ctx, followers, event.AnswerOwnerChatID, func(ctx context.Context, chatID int64) error {
		if chatID == question.OwnerChatID {
			return nil
		}
		if _, err := h.delivery.SendText(ctx, chatID, "✅ A question you follow was resolved:", nil); err != nil {
			return err
		}
		_, err := h.delivery.SendPost(ctx, chatID, answer, nil, false)
		return err
	})
	log.Printf("[Handler] Acceptance of %s announced to %d followers", event.AnswerID, sent)
	return nil
}

// fanOut runs deliver for each recipient except skip, at most concurrency
// at a time. Individual failures are logged, not propagated; one
// unreachable chat must not fail the whole event.
func (h *Handler) fanOut(ctx context.Context, recipients []int64, skip int64, deliver func(ctx context.Context, chatID int64) error) int {
	sem := make(chan struct{}, h.concurrency)
	var wg sync.WaitGroup
	sent := 0
	var mu sync.Mutex

	for _, chatID := range recipients {
		if chatID == skip {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(chatID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := deliver(ctx, chatID); err != nil {
				log.Printf("[Handler] Delivery to %d failed: %v", chatID, err)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(chatID)
	}

	wg.Wait()
	return sent
}

func appendUnique(base []int64, more ...int64) []int64 {
	seen := make(map[int64]bool, len(base)+len(more))
	out := make([]int64, 0, len(base)+len(more))
	for _, id := range base {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range more {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
