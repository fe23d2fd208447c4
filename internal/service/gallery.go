package service

import (
	"context"
	"errors"

	"askboard/internal/model"
	"askboard/internal/repository"
)

// GalleryView is one resolved gallery page: the post to render plus its
// position under the gallery's creation-time order.
type GalleryView struct {
	Post    *model.Post
	Filter  model.GalleryFilter
	Index   int
	Total   int
	HasNext bool
	HasPrev bool
}

// GalleryService resolves gallery pages over the post store. It holds no
// cursors; every step recovers the query from the message binding and
// seeks relative to the post currently displayed, so any number of users
// can page through the same query independently.
type GalleryService struct {
	posts repository.PostRepository
}

func NewGalleryService(posts repository.PostRepository) *GalleryService {
	return &GalleryService{posts: posts}
}

// Open resolves the first page: the newest matching post.
// ErrGalleryEmpty when nothing matches.
func (s *GalleryService) Open(ctx context.Context, f model.GalleryFilter) (*GalleryView, error) {
	post, err := s.posts.First(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, f, post)
}

// Step resolves the neighbor of the currently displayed post.
// ErrGalleryBoundary when the edge is reached; the caller re-renders the
// same post with the boundary edge marked rather than repeating it.
func (s *GalleryService) Step(ctx context.Context, f model.GalleryFilter, currentPostID string, dir model.StepDirection) (*GalleryView, error) {
	current, err := s.posts.GetByID(ctx, currentPostID)
	if err != nil {
		// The displayed post vanished mid-browse; restart from the top
		// instead of stranding the viewer.
		if errors.Is(err, model.ErrPostNotFound) {
			return s.Open(ctx, f)
		}
		return nil, err
	}

	next, err := s.posts.Step(ctx, f, current, dir)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, f, next)
}

// Refresh re-resolves the view for a post already on screen, recomputing
// position and edges against the live store.
func (s *GalleryService) Refresh(ctx context.Context, f model.GalleryFilter, postID string) (*GalleryView, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, f, post)
}

func (s *GalleryService) view(ctx context.Context, f model.GalleryFilter, post *model.Post) (*GalleryView, error) {
	index, total, err := s.posts.Position(ctx, f, post)
	if err != nil {
		return nil, err
	}
	return &GalleryView{
		Post:    post,
		Filter:  f,
		Index:   index,
		Total:   total,
		HasPrev: index > 1,
		HasNext: index < total,
	}, nil
}
