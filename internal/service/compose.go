package service

import (
	"context"
	"fmt"
	"log"

	"github.com/microcosm-cc/bluemonday"

	"askboard/internal/model"
	"askboard/internal/repository"
)

// EventPublisher is the queue-side boundary the services publish through.
type EventPublisher interface {
	QuestionPublished(ctx context.Context, post *model.Post) error
	ReplyPublished(ctx context.Context, post *model.Post) error
	AnswerAccepted(ctx context.Context, questionID, answerID string, answerOwnerChatID int64) error
}

// messageHTML is the sanitizer for user-authored text. Only the inline
// formatting tags the platform renders survive; everything else is
// stripped at append time so stored fragments are always safe to re-send.
var messageHTML = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre", "blockquote")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	return p
}()

// ComposeService drives the compose flow: accumulating fragments onto the
// user's post in preparation, submitting it, or cancelling.
type ComposeService struct {
	users     repository.UserRepository
	posts     repository.PostRepository
	publisher EventPublisher
}

func NewComposeService(users repository.UserRepository, posts repository.PostRepository, publisher EventPublisher) *ComposeService {
	return &ComposeService{users: users, posts: posts, publisher: publisher}
}

var composeState = map[model.PostType]model.ConvState{
	model.TypeQuestion: model.StateAskQuestion,
	model.TypeAnswer:   model.StateAnswerQuestion,
	model.TypeComment:  model.StateCommentPost,
}

// Begin moves the user into the composing state for the given post type.
// Replies require an open target post; a target that vanished or closed in
// the meantime rejects the flow before any state changes.
func (s *ComposeService) Begin(ctx context.Context, chatID int64, t model.PostType, replyTarget *string) error {
	state, ok := composeState[t]
	if !ok {
		return fmt.Errorf("no composing state for post type %q", t)
	}

	if t != model.TypeQuestion {
		if replyTarget == nil {
			return model.ErrPostNotFound
		}
		target, err := s.posts.GetByID(ctx, *replyTarget)
		if err != nil {
			return err
		}
		if target.Status != model.StatusOpen {
			return model.ErrIllegalTransition
		}
	}

	return s.users.SetState(ctx, chatID, state, replyTarget)
}

// Append accumulates one inbound fragment onto the user's draft and reports
// the remaining character budget. Capacity errors come back alongside the
// unchanged draft so the caller can surface a specific message.
func (s *ComposeService) Append(ctx context.Context, user *model.User, frag model.Fragment) (*model.Post, int, error) {
	t, ok := user.State.ComposeType()
	if !ok {
		return nil, 0, model.ErrNoDraft
	}

	if !model.KindAllowed(t, frag.Kind) {
		return nil, 0, model.ErrUnsupportedContent
	}
	if frag.Kind == model.KindText {
		frag.Text = messageHTML.Sanitize(frag.Text)
	}

	post, err := s.posts.AppendFragment(ctx, user.ChatID, t, frag, user.ReplyTargetPostID)
	if post == nil {
		return nil, 0, err
	}
	remaining := model.CharLimit[t] - post.RawLen()
	if remaining < 0 {
		remaining = 0
	}
	return post, remaining, err
}

// Submit publishes the draft and fans the event out through the queue.
// A rejected draft (too short, already gone) leaves the conversation state
// untouched so the user can keep editing. Once the store has flipped the
// post to open it IS published; a queue failure past that point only costs
// the notification fan-out, so it is logged rather than surfaced as a
// retryable error the user cannot actually retry.
func (s *ComposeService) Submit(ctx context.Context, chatID int64) (*model.Post, error) {
	post, err := s.posts.Submit(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if post.Type == model.TypeQuestion {
		err = s.publisher.QuestionPublished(ctx, post)
	} else {
		err = s.publisher.ReplyPublished(ctx, post)
	}
	if err != nil {
		log.Printf("[Compose] Publish %s event for %s failed: %v", post.Type, post.ID, err)
	}

	if err := s.users.Reset(ctx, chatID); err != nil {
		return nil, err
	}
	return post, nil
}

// Cancel throws away the draft and returns the user to the main state.
func (s *ComposeService) Cancel(ctx context.Context, chatID int64) error {
	if err := s.posts.DiscardDraft(ctx, chatID); err != nil {
		return err
	}
	return s.users.Reset(ctx, chatID)
}

// Draft exposes the user's post in preparation for preview rendering.
func (s *ComposeService) Draft(ctx context.Context, chatID int64) (*model.Post, error) {
	return s.posts.Draft(ctx, chatID)
}
