package service

import (
	"context"
	"errors"
	"log"
	"time"

	"askboard/internal/cache"
	"askboard/internal/model"
	"askboard/internal/platform"
	"askboard/internal/repository"
)

// DeliveryService owns the rendered side of a chat: sending post cards,
// editing them in place, tracking message bindings and tearing down live
// previews. Everything that leaves the core for the platform goes through
// here.
type DeliveryService struct {
	messenger platform.Messenger
	users     repository.UserRepository
	posts     repository.PostRepository
	bindings  repository.BindingRepository
	renderer  *Renderer
	cleanup   cache.CleanupSchedule
}

func NewDeliveryService(
	messenger platform.Messenger,
	users repository.UserRepository,
	posts repository.PostRepository,
	bindings repository.BindingRepository,
	renderer *Renderer,
	cleanup cache.CleanupSchedule,
) *DeliveryService {
	return &DeliveryService{
		messenger: messenger,
		users:     users,
		posts:     posts,
		bindings:  bindings,
		renderer:  renderer,
		cleanup:   cleanup,
	}
}

// assemble collects the card inputs: the owner's disclosed identity and the
// live reply counts.
func (s *DeliveryService) assemble(ctx context.Context, post *model.Post, expanded bool, gallery *GalleryView) (PostRender, error) {
	in := PostRender{Post: post, Author: "Anonymous", Expanded: expanded, Gallery: gallery}

	owner, err := s.users.GetByChatID(ctx, post.OwnerChatID)
	if err == nil {
		in.Author = owner.DisplayIdentity()
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return in, err
	}

	if post.Type == model.TypeQuestion {
		if in.AnswerCount, err = s.posts.CountReplies(ctx, post.ID, model.TypeAnswer); err != nil {
			return in, err
		}
	}
	if post.Type != model.TypeComment {
		if in.CommentCount, err = s.posts.CountReplies(ctx, post.ID, model.TypeComment); err != nil {
			return in, err
		}
	}
	return in, nil
}

// SendPost renders the post into a new message in the chat and binds the
// message to it. Gallery sends bind the filter too so later button presses
// on that exact message can recover the query.
func (s *DeliveryService) SendPost(ctx context.Context, chatID int64, post *model.Post, gallery *GalleryView, autoRefresh bool) (int64, error) {
	in, err := s.assemble(ctx, post, false, gallery)
	if err != nil {
		return 0, err
	}
	text, markup, err := s.renderer.RenderPost(in)
	if err != nil {
		return 0, err
	}

	messageID, err := s.messenger.SendMessage(ctx, chatID, text, markup)
	if err != nil {
		return 0, err
	}

	binding := &model.MessageBinding{
		ChatID:      chatID,
		MessageID:   messageID,
		PostID:      post.ID,
		IsGallery:   gallery != nil,
		AutoRefresh: autoRefresh,
	}
	if gallery != nil {
		binding.Filter = gallery.Filter
	}
	if err := s.bindings.Upsert(ctx, binding); err != nil {
		return messageID, err
	}
	return messageID, nil
}

// EditPost re-renders the post into an existing message and moves its
// binding. Used for gallery steps, show more/less and action menus closing.
func (s *DeliveryService) EditPost(ctx context.Context, b *model.MessageBinding, post *model.Post, expanded bool, gallery *GalleryView) error {
	in, err := s.assemble(ctx, post, expanded, gallery)
	if err != nil {
		return err
	}
	text, markup, err := s.renderer.RenderPost(in)
	if err != nil {
		return err
	}
	if err := s.messenger.EditMessage(ctx, b.ChatID, b.MessageID, text, markup); err != nil {
		return err
	}

	updated := *b
	updated.PostID = post.ID
	updated.Expanded = expanded
	updated.IsGallery = gallery != nil
	if gallery != nil {
		updated.Filter = gallery.Filter
	}
	return s.bindings.Upsert(ctx, &updated)
}

// RefreshBinding re-renders a bound message against the live store. The
// sweeper drives this for auto-refresh bindings; counts and like totals on
// screen stay loosely current without any user action.
func (s *DeliveryService) RefreshBinding(ctx context.Context, b *model.MessageBinding, gallery *GalleryService) error {
	post, err := s.posts.GetByID(ctx, b.PostID)
	if err != nil {
		if err == model.ErrPostNotFound {
			// The bound post is gone; drop the binding so the sweeper
			// stops retrying it.
			return s.bindings.Delete(ctx, b.ChatID, b.MessageID)
		}
		return err
	}

	var view *GalleryView
	if b.IsGallery {
		if view, err = gallery.Refresh(ctx, b.Filter, post.ID); err != nil {
			return err
		}
	}
	if err := s.EditPost(ctx, b, post, b.Expanded, view); err != nil {
		return err
	}
	return s.bindings.Touch(ctx, b.ChatID, b.MessageID)
}

// SendPreview replaces the user's live preview with a fresh render of the
// draft. The previous preview message is deleted first; at most one
// preview exists per user.
func (s *DeliveryService) SendPreview(ctx context.Context, user *model.User, t model.PostType, draft *model.Post) error {
	s.ClearPreview(ctx, user)

	text := s.renderer.RenderPreview(t, draft)
	messageID, err := s.messenger.SendMessage(ctx, user.ChatID, text, nil)
	if err != nil {
		return err
	}
	return s.users.SetLivePreview(ctx, user.ChatID, &messageID)
}

// ClearPreview tears down the tracked live preview, if any. A failed
// platform delete is logged and the tracker cleared anyway; a stale
// message is cosmetic, a stuck tracker is not.
func (s *DeliveryService) ClearPreview(ctx context.Context, user *model.User) {
	if user.LivePreviewMessageID == nil {
		return
	}
	if err := s.messenger.DeleteMessage(ctx, user.ChatID, *user.LivePreviewMessageID); err != nil {
		log.Printf("[Delivery] Delete preview %d/%d failed: %v", user.ChatID, *user.LivePreviewMessageID, err)
	}
	if err := s.users.SetLivePreview(ctx, user.ChatID, nil); err != nil {
		log.Printf("[Delivery] Clear preview tracker for %d failed: %v", user.ChatID, err)
	}
	user.LivePreviewMessageID = nil
}

// SendText sends a plain text message with an optional keyboard.
func (s *DeliveryService) SendText(ctx context.Context, chatID int64, text string, markup *platform.ReplyMarkup) (int64, error) {
	return s.messenger.SendMessage(ctx, chatID, text, markup)
}

// SendEphemeral sends a notice scheduled for deletion after ttl.
func (s *DeliveryService) SendEphemeral(ctx context.Context, chatID int64, text string, ttl time.Duration) error {
	messageID, err := s.messenger.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		return err
	}
	if err := s.cleanup.Schedule(ctx, chatID, messageID, time.Now().Add(ttl)); err != nil {
		log.Printf("[Delivery] Schedule cleanup %d/%d failed: %v", chatID, messageID, err)
	}
	return nil
}

// SendFile re-sends a platform-stored attachment to the chat.
func (s *DeliveryService) SendFile(ctx context.Context, chatID int64, fileID string) error {
	_, err := s.messenger.SendFile(ctx, chatID, fileID)
	return err
}
