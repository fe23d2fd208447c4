package service

import (
	"context"
	"errors"
	"fmt"

	"askboard/internal/model"
	"askboard/internal/repository"
)

// PostService covers published-post interactions: membership toggles,
// owner lifecycle transitions and the accept toggle.
type PostService struct {
	posts     repository.PostRepository
	publisher EventPublisher
}

func NewPostService(posts repository.PostRepository, publisher EventPublisher) *PostService {
	return &PostService{posts: posts, publisher: publisher}
}

func (s *PostService) Get(ctx context.Context, postID string) (*model.Post, error) {
	return s.posts.GetByID(ctx, postID)
}

// Toggle flips the viewer's membership in one of the post's sets and
// reports the resulting membership.
func (s *PostService) Toggle(ctx context.Context, postID string, field model.MembershipField, chatID int64) (bool, error) {
	return s.posts.ToggleMembership(ctx, postID, field, chatID)
}

func (s *PostService) IsBookmarked(ctx context.Context, postID string, chatID int64) (bool, error) {
	return s.posts.IsBookmarked(ctx, postID, chatID)
}

// statusTransitions maps each lifecycle action to its guarded transition.
var statusTransitions = map[model.Action]struct {
	From []model.PostStatus
	To   model.PostStatus
}{
	model.ActionClose:    {From: []model.PostStatus{model.StatusOpen}, To: model.StatusClosed},
	model.ActionOpen:     {From: []model.PostStatus{model.StatusClosed}, To: model.StatusOpen},
	model.ActionDelete:   {From: []model.PostStatus{model.StatusOpen, model.StatusClosed}, To: model.StatusDeleted},
	model.ActionUndelete: {From: []model.PostStatus{model.StatusDeleted}, To: model.StatusOpen},
}

// ApplyStatus performs an owner lifecycle action on the post. Non-owners
// get ErrNotPostOwner even if a stale keyboard offered the button.
func (s *PostService) ApplyStatus(ctx context.Context, viewerChatID int64, post *model.Post, action model.Action) error {
	if !post.IsOwner(viewerChatID) {
		return model.ErrNotPostOwner
	}
	transition, ok := statusTransitions[action]
	if !ok {
		return fmt.Errorf("action %q is not a status transition", action)
	}
	return s.posts.SetStatus(ctx, post.ID, transition.From, transition.To)
}

// BeginEdit pulls an owned open post back into preparation so the compose
// flow can append more content to it. Rejected while another draft exists;
// composing is serialized per user.
func (s *PostService) BeginEdit(ctx context.Context, viewerChatID int64, post *model.Post) error {
	if !post.IsOwner(viewerChatID) {
		return model.ErrNotPostOwner
	}
	if _, err := s.posts.Draft(ctx, viewerChatID); err == nil {
		return model.ErrIllegalTransition
	} else if !errors.Is(err, model.ErrNoDraft) {
		return err
	}
	return s.posts.SetStatus(ctx, post.ID, []model.PostStatus{model.StatusOpen}, model.StatusPrep)
}

// ToggleAccept implements the accept toggle on an answer. Pressing accept
// on the already accepted answer unaccepts it and reopens the question;
// otherwise the answer becomes accepted (displacing a previous one) and an
// acceptance event fans out to the answer owner and both follower sets.
// Only the parent question's owner may toggle.
func (s *PostService) ToggleAccept(ctx context.Context, viewerChatID int64, answer *model.Post) (accepted bool, err error) {
	if answer.Type != model.TypeAnswer || answer.RepliedToPostID == nil {
		return false, model.ErrNotAnAnswer
	}

	question, err := s.posts.GetByID(ctx, *answer.RepliedToPostID)
	if err != nil {
		return false, err
	}
	if !question.IsOwner(viewerChatID) {
		return false, model.ErrNotPostOwner
	}

	if question.AcceptedAnswerID != nil && *question.AcceptedAnswerID == answer.ID {
		if err := s.posts.Unaccept(ctx, question.ID, answer.ID); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := s.posts.Accept(ctx, question.ID, answer.ID); err != nil {
		return false, err
	}
	if err := s.publisher.AnswerAccepted(ctx, question.ID, answer.ID, answer.OwnerChatID); err != nil {
		return true, fmt.Errorf("publish acceptance event: %w", err)
	}
	return true, nil
}

func (s *PostService) CountReplies(ctx context.Context, postID string, t model.PostType) (int, error) {
	return s.posts.CountReplies(ctx, postID, t)
}
