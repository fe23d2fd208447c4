package handler

import (
	"context"
	"errors"
	"log"

	"askboard/internal/model"
	"askboard/internal/platform"
	"askboard/internal/service"
)

// handleCallback executes one inline-button press. The signed token is
// authoritative; the persisted post decides what the action means, not
// whatever the pressing client believes is on screen.
func (b *Bot) handleCallback(ctx context.Context, cb platform.CallbackQuery) {
	token, err := b.tokens.Parse(cb.Data)
	if err != nil {
		// Forged or expired token: acknowledge so the client's spinner
		// stops, change nothing.
		b.ack(ctx, cb.ID, "")
		return
	}

	var username *string
	if cb.Chat.Username != "" {
		username = &cb.Chat.Username
	}
	user, err := b.users.Upsert(ctx, cb.Chat.ID, cb.Chat.FirstName, username)
	if err != nil {
		log.Printf("[Bot] Upsert user %d failed: %v", cb.Chat.ID, err)
		b.ack(ctx, cb.ID, "")
		return
	}

	switch token.Action {
	case model.ActionPageBoundary:
		b.ack(ctx, cb.ID, MsgNoMorePosts)
		return
	case model.ActionSendFile:
		if err := b.delivery.SendFile(ctx, user.ChatID, token.Arg); err != nil {
			log.Printf("[Bot] Send file to %d failed: %v", user.ChatID, err)
			b.ack(ctx, cb.ID, MsgNotAvailable)
			return
		}
		b.ack(ctx, cb.ID, "")
		return
	}

	post, err := b.posts.Get(ctx, token.PostID)
	if err != nil {
		if errors.Is(err, model.ErrPostNotFound) {
			b.ack(ctx, cb.ID, MsgNotAvailable)
		} else {
			log.Printf("[Bot] Load post %s failed: %v", token.PostID, err)
			b.ack(ctx, cb.ID, "")
		}
		return
	}

	binding, err := b.bindings.Get(ctx, user.ChatID, cb.MessageID)
	if err != nil && !errors.Is(err, model.ErrBindingNotFound) {
		log.Printf("[Bot] Load binding %d/%d failed: %v", user.ChatID, cb.MessageID, err)
	}

	switch token.Action {
	case model.ActionLike:
		liked, err := b.posts.Toggle(ctx, post.ID, model.FieldLikes, user.ChatID)
		if err != nil {
			b.ackToggleError(ctx, cb.ID, err)
			return
		}
		notice := "❤️ Liked"
		if !liked {
			notice = "💔 Like removed"
		}
		b.redraw(ctx, binding, post.ID)
		b.ack(ctx, cb.ID, notice)

	case model.ActionActions:
		b.showActionMenu(ctx, cb, user.ChatID, post.ID)

	case model.ActionBack:
		b.redraw(ctx, binding, post.ID)
		b.ack(ctx, cb.ID, "")

	case model.ActionShowMore, model.ActionShowLess:
		if binding == nil {
			b.ack(ctx, cb.ID, MsgNotAvailable)
			return
		}
		expanded := token.Action == model.ActionShowMore
		var view *service.GalleryView
		if binding.IsGallery {
			if view, err = b.gallery.Refresh(ctx, binding.Filter, post.ID); err != nil {
				log.Printf("[Bot] Refresh gallery failed: %v", err)
				b.ack(ctx, cb.ID, "")
				return
			}
		}
		if err := b.delivery.EditPost(ctx, binding, post, expanded, view); err != nil {
			log.Printf("[Bot] Toggle expand failed: %v", err)
		}
		b.ack(ctx, cb.ID, "")

	case model.ActionShowAnswers:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{Type: model.TypeAnswer, RepliedToPostID: post.ID}, MsgNoAnswers)
		b.ack(ctx, cb.ID, "")
	case model.ActionShowComments:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{Type: model.TypeComment, RepliedToPostID: post.ID}, MsgNoComments)
		b.ack(ctx, cb.ID, "")

	case model.ActionOriginalPost:
		if post.RepliedToPostID == nil {
			b.ack(ctx, cb.ID, MsgNotAvailable)
			return
		}
		parent, err := b.posts.Get(ctx, *post.RepliedToPostID)
		if err != nil {
			b.ack(ctx, cb.ID, MsgNotAvailable)
			return
		}
		if _, err := b.delivery.SendPost(ctx, user.ChatID, parent, nil, false); err != nil {
			log.Printf("[Bot] Send original post failed: %v", err)
		}
		b.ack(ctx, cb.ID, "")

	case model.ActionAttachments:
		text, markup, err := b.renderer.RenderAttachments(post)
		if err != nil {
			log.Printf("[Bot] Render attachments failed: %v", err)
			b.ack(ctx, cb.ID, "")
			return
		}
		messageID, err := b.delivery.SendText(ctx, user.ChatID, text, markup)
		if err != nil {
			log.Printf("[Bot] Send attachments failed: %v", err)
			b.ack(ctx, cb.ID, "")
			return
		}
		// Bind so the Back button redraws the post card in place.
		if err := b.bindings.Upsert(ctx, &model.MessageBinding{
			ChatID:    user.ChatID,
			MessageID: messageID,
			PostID:    post.ID,
		}); err != nil {
			log.Printf("[Bot] Bind attachments message failed: %v", err)
		}
		b.ack(ctx, cb.ID, "")

	case model.ActionNextPage, model.ActionPrevPage:
		b.stepGallery(ctx, cb, binding, token.Action)

	case model.ActionExport:
		b.exportThread(ctx, cb, user.ChatID, post.ID)

	case model.ActionComment:
		b.beginReply(ctx, cb, user.ChatID, model.TypeComment, post.ID, MsgGuideComment)
	case model.ActionAnswer:
		if post.Type != model.TypeQuestion {
			b.ack(ctx, cb.ID, MsgNotPossible)
			return
		}
		b.beginReply(ctx, cb, user.ChatID, model.TypeAnswer, post.ID, MsgGuideAnswer)

	case model.ActionFollow, model.ActionUnfollow:
		following, err := b.posts.Toggle(ctx, post.ID, model.FieldFollowers, user.ChatID)
		if err != nil {
			b.ackToggleError(ctx, cb.ID, err)
			return
		}
		notice := "🔔 Following"
		if !following {
			notice = "🔕 Unfollowed"
		}
		b.showActionMenu(ctx, cb, user.ChatID, post.ID)
		b.ack(ctx, cb.ID, notice)

	case model.ActionBookmark, model.ActionUnbookmark:
		bookmarked, err := b.posts.Toggle(ctx, post.ID, model.FieldBookmarkedBy, user.ChatID)
		if err != nil {
			b.ackToggleError(ctx, cb.ID, err)
			return
		}
		notice := "🔖 Bookmarked"
		if !bookmarked {
			notice = "Bookmark removed"
		}
		b.showActionMenu(ctx, cb, user.ChatID, post.ID)
		b.ack(ctx, cb.ID, notice)

	case model.ActionEdit:
		b.beginEdit(ctx, cb, user, post)

	case model.ActionDelete, model.ActionUndelete, model.ActionClose, model.ActionOpen:
		if err := b.posts.ApplyStatus(ctx, user.ChatID, post, token.Action); err != nil {
			b.ackStatusError(ctx, cb.ID, err)
			return
		}
		b.redraw(ctx, binding, post.ID)
		b.ack(ctx, cb.ID, MsgSettingsSaved)

	case model.ActionAccept, model.ActionUnaccept:
		accepted, err := b.posts.ToggleAccept(ctx, user.ChatID, post)
		if err != nil {
			b.ackStatusError(ctx, cb.ID, err)
			return
		}
		notice := "✅ Answer accepted"
		if !accepted {
			notice = "↩️ Acceptance removed"
		}
		b.redraw(ctx, binding, post.ID)
		b.ack(ctx, cb.ID, notice)

	default:
		// Token minted by an older build for an action this one no longer
		// offers.
		b.ack(ctx, cb.ID, "")
	}
}

// showActionMenu swaps the message keyboard for the resolver's legal
// action set, leaving the card text untouched.
func (b *Bot) showActionMenu(ctx context.Context, cb platform.CallbackQuery, viewer int64, postID string) {
	post, err := b.posts.Get(ctx, postID)
	if err != nil {
		b.ack(ctx, cb.ID, MsgNotAvailable)
		return
	}

	in := service.CapabilityInput{Post: post, ViewerChat: viewer}
	if in.Bookmarked, err = b.posts.IsBookmarked(ctx, post.ID, viewer); err != nil {
		log.Printf("[Bot] Bookmark lookup failed: %v", err)
	}
	if post.Type == model.TypeAnswer && post.RepliedToPostID != nil {
		if parent, err := b.posts.Get(ctx, *post.RepliedToPostID); err == nil {
			in.ParentOwnerChat = parent.OwnerChatID
			if parent.AcceptedAnswerID != nil {
				in.ParentAcceptedAnswerID = *parent.AcceptedAnswerID
			}
		}
	}

	markup, err := b.renderer.RenderActionMenu(post, service.LegalActions(in))
	if err != nil {
		log.Printf("[Bot] Render action menu failed: %v", err)
		b.ack(ctx, cb.ID, "")
		return
	}
	if err := b.messenger.EditMessage(ctx, cb.Chat.ID, cb.MessageID, "", markup); err != nil {
		log.Printf("[Bot] Swap keyboard failed: %v", err)
	}
	b.ack(ctx, cb.ID, "")
}

// stepGallery resolves the neighbor page for the bound query and edits the
// message in place. The edge acknowledges "no more posts" without moving.
func (b *Bot) stepGallery(ctx context.Context, cb platform.CallbackQuery, binding *model.MessageBinding, action model.Action) {
	if binding == nil || !binding.IsGallery {
		b.ack(ctx, cb.ID, MsgNotAvailable)
		return
	}

	dir := model.StepNext
	if action == model.ActionPrevPage {
		dir = model.StepPrev
	}

	view, err := b.gallery.Step(ctx, binding.Filter, binding.PostID, dir)
	switch {
	case errors.Is(err, model.ErrGalleryBoundary):
		b.ack(ctx, cb.ID, MsgNoMorePosts)
		return
	case errors.Is(err, model.ErrGalleryEmpty):
		b.ack(ctx, cb.ID, MsgNothingHere)
		return
	case err != nil:
		log.Printf("[Bot] Gallery step failed: %v", err)
		b.ack(ctx, cb.ID, "")
		return
	}

	if err := b.delivery.EditPost(ctx, binding, view.Post, false, view); err != nil {
		log.Printf("[Bot] Edit gallery page failed: %v", err)
	}
	b.ack(ctx, cb.ID, "")
}

func (b *Bot) exportThread(ctx context.Context, cb platform.CallbackQuery, chatID int64, postID string) {
	if b.export == nil {
		b.ack(ctx, cb.ID, "Export is not configured.")
		return
	}
	url, err := b.export.ExportThread(ctx, postID)
	if err != nil {
		log.Printf("[Bot] Export %s failed: %v", postID, err)
		b.ack(ctx, cb.ID, "Export failed. Try again later.")
		return
	}
	b.sendText(ctx, chatID, "📤 Exported: "+url, nil)
	b.ack(ctx, cb.ID, "")
}

// beginReply enters the compose flow aimed at a target post.
func (b *Bot) beginReply(ctx context.Context, cb platform.CallbackQuery, chatID int64, t model.PostType, targetID, guide string) {
	err := b.compose.Begin(ctx, chatID, t, &targetID)
	switch {
	case errors.Is(err, model.ErrPostNotFound):
		b.ack(ctx, cb.ID, MsgNotAvailable)
		return
	case errors.Is(err, model.ErrIllegalTransition):
		b.ack(ctx, cb.ID, MsgNotPossible)
		return
	case err != nil:
		log.Printf("[Bot] Begin %s failed: %v", t, err)
		b.ack(ctx, cb.ID, "")
		return
	}
	b.sendText(ctx, chatID, guide, ComposeKeyboard())
	b.ack(ctx, cb.ID, "")
}

// beginEdit pulls an owned post back into preparation and re-enters the
// compose flow on it.
func (b *Bot) beginEdit(ctx context.Context, cb platform.CallbackQuery, user *model.User, post *model.Post) {
	err := b.posts.BeginEdit(ctx, user.ChatID, post)
	switch {
	case errors.Is(err, model.ErrNotPostOwner):
		b.ack(ctx, cb.ID, MsgNotPossible)
		return
	case errors.Is(err, model.ErrIllegalTransition):
		b.ack(ctx, cb.ID, MsgDraftBusy)
		return
	case err != nil:
		log.Printf("[Bot] Begin edit failed: %v", err)
		b.ack(ctx, cb.ID, "")
		return
	}

	state := map[model.PostType]model.ConvState{
		model.TypeQuestion: model.StateAskQuestion,
		model.TypeAnswer:   model.StateAnswerQuestion,
		model.TypeComment:  model.StateCommentPost,
	}[post.Type]
	if err := b.users.SetState(ctx, user.ChatID, state, post.RepliedToPostID); err != nil {
		log.Printf("[Bot] Set edit state failed: %v", err)
		b.ack(ctx, cb.ID, "")
		return
	}

	b.sendText(ctx, user.ChatID, "✏️ Editing. Send more content, then press ✅ Send.", ComposeKeyboard())
	if err := b.delivery.SendPreview(ctx, user, post.Type, post); err != nil {
		log.Printf("[Bot] Edit preview failed: %v", err)
	}
	b.ack(ctx, cb.ID, "")
}

// redraw re-renders the bound message after a mutation. Without a binding
// there is nothing on screen to update.
func (b *Bot) redraw(ctx context.Context, binding *model.MessageBinding, postID string) {
	if binding == nil {
		return
	}
	post, err := b.posts.Get(ctx, postID)
	if err != nil {
		return
	}

	var view *service.GalleryView
	if binding.IsGallery {
		if view, err = b.gallery.Refresh(ctx, binding.Filter, post.ID); err != nil {
			log.Printf("[Bot] Refresh gallery failed: %v", err)
			return
		}
	}
	if err := b.delivery.EditPost(ctx, binding, post, binding.Expanded, view); err != nil {
		log.Printf("[Bot] Redraw failed: %v", err)
	}
}

func (b *Bot) ackToggleError(ctx context.Context, callbackID string, err error) {
	if errors.Is(err, model.ErrPostNotFound) {
		b.ack(ctx, callbackID, MsgNotAvailable)
		return
	}
	log.Printf("[Bot] Toggle failed: %v", err)
	b.ack(ctx, callbackID, "")
}

func (b *Bot) ackStatusError(ctx context.Context, callbackID string, err error) {
	switch {
	case errors.Is(err, model.ErrNotPostOwner), errors.Is(err, model.ErrIllegalTransition), errors.Is(err, model.ErrNotAnAnswer):
		b.ack(ctx, callbackID, MsgNotPossible)
	case errors.Is(err, model.ErrPostNotFound):
		b.ack(ctx, callbackID, MsgNotAvailable)
	default:
		log.Printf("[Bot] Status action failed: %v", err)
		b.ack(ctx, callbackID, "")
	}
}

func (b *Bot) ack(ctx context.Context, callbackID, text string) {
	if err := b.messenger.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Printf("[Bot] Answer callback failed: %v", err)
	}
}
