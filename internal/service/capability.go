package service

import (
	"askboard/internal/model"
)

// CapabilityInput is the full snapshot LegalActions decides on. Everything
// is passed in by value so the resolver stays a pure function with no
// storage or transport dependency.
type CapabilityInput struct {
	Post       *model.Post
	ViewerChat int64
	// Bookmarked is the viewer's bookmark membership for this post.
	Bookmarked bool
	// ParentOwnerChat is the owner of the post this one replies to.
	// Only consulted for answers (accept rights).
	ParentOwnerChat int64
	// ParentAcceptedAnswerID is the parent question's accepted answer id,
	// empty if none.
	ParentAcceptedAnswerID string
}

// LegalActions computes the ordered action set for one (post, viewer) pair.
// The precedence is fixed so menus render deterministically; open-post-only
// actions are stripped at the end so closed and deleted posts stay readable
// but not actionable beyond the owner's lifecycle controls.
func LegalActions(in CapabilityInput) []model.Action {
	p := in.Post
	viewer := in.ViewerChat
	owner := p.IsOwner(viewer)

	actions := []model.Action{model.ActionBack}

	if p.Status == model.StatusOpen {
		actions = append(actions, model.ActionComment)
	}

	if !owner {
		if p.HasFollower(viewer) {
			actions = append(actions, model.ActionUnfollow)
		} else {
			actions = append(actions, model.ActionFollow)
		}
	}

	if owner {
		actions = append(actions, model.ActionEdit)
		if p.Status == model.StatusDeleted {
			actions = append(actions, model.ActionUndelete)
		} else {
			actions = append(actions, model.ActionDelete)
			switch p.Status {
			case model.StatusOpen:
				actions = append(actions, model.ActionClose)
			case model.StatusClosed:
				actions = append(actions, model.ActionOpen)
			}
		}
	}

	if p.Type == model.TypeQuestion && !owner {
		actions = append(actions, model.ActionAnswer)
	}

	if p.Type == model.TypeAnswer && viewer == in.ParentOwnerChat {
		if in.ParentAcceptedAnswerID == p.ID {
			actions = append(actions, model.ActionUnaccept)
		} else {
			actions = append(actions, model.ActionAccept)
		}
	}

	if in.Bookmarked {
		actions = append(actions, model.ActionUnbookmark)
	} else {
		actions = append(actions, model.ActionBookmark)
	}

	if p.Status != model.StatusOpen {
		filtered := actions[:0]
		for _, a := range actions {
			if !model.OpenPostOnlyActions[a] {
				filtered = append(filtered, a)
			}
		}
		actions = filtered
	}

	return actions
}
