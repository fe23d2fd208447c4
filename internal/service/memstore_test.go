package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"askboard/internal/model"
)

// =============================================================================
// In-memory fakes
// =============================================================================

// memStore is an in-memory PostRepository with the same semantics as the
// Postgres implementation: one prep post per owner, capacity checks at
// append time, guarded transitions, creation-time gallery ordering.
type memStore struct {
	mu    sync.Mutex
	posts map[string]*model.Post
	seq   int64
}

func newMemStore() *memStore {
	return &memStore{posts: make(map[string]*model.Post)}
}

func (m *memStore) nextID() string {
	m.seq++
	return fmt.Sprintf("post-%d", m.seq)
}

func (m *memStore) now() time.Time {
	m.seq++
	return time.Unix(1_700_000_000+m.seq, 0)
}

func (m *memStore) findDraft(owner int64) *model.Post {
	for _, p := range m.posts {
		if p.OwnerChatID == owner && p.Status == model.StatusPrep {
			return p
		}
	}
	return nil
}

func (m *memStore) AppendFragment(ctx context.Context, ownerChatID int64, postType model.PostType, frag model.Fragment, repliedTo *string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findDraft(ownerChatID)
	if p == nil {
		p = &model.Post{
			ID:          m.nextID(),
			Status:      model.StatusPrep,
			OwnerChatID: ownerChatID,
			CreatedAt:   m.now(),
		}
		m.posts[p.ID] = p
	} else if p.Type != postType {
		// A repurposed draft starts clean, as in the Postgres implementation.
		p.Fragments = nil
		p.RepliedToPostID = nil
	}
	p.Type = postType
	if repliedTo != nil {
		p.RepliedToPostID = repliedTo
	}

	if frag.IsAttachment() {
		if len(p.Attachments())+1 > model.MaxAttachments {
			return m.copyOf(p), model.ErrTooManyAttachments
		}
	} else {
		texts := []string{}
		for _, f := range p.Fragments {
			if f.Kind == model.KindText {
				texts = append(texts, f.Text)
			}
		}
		texts = append(texts, frag.Text)
		total := utf8.RuneCountInString(model.StripTags(strings.Join(texts, "\n")))
		if limit := model.CharLimit[postType]; total > limit {
			return m.copyOf(p), &model.CharLimitError{Extra: total - limit}
		}
	}

	frag.Seq = len(p.Fragments) + 1
	p.Fragments = append(p.Fragments, frag)
	return m.copyOf(p), nil
}

func (m *memStore) Draft(ctx context.Context, ownerChatID int64) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.findDraft(ownerChatID); p != nil {
		return m.copyOf(p), nil
	}
	return nil, model.ErrNoDraft
}

func (m *memStore) Submit(ctx context.Context, ownerChatID int64) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findDraft(ownerChatID)
	if p == nil {
		return nil, model.ErrNoDraft
	}
	if p.RawLen() < model.MinSubmitTextLength {
		return nil, model.ErrPostTooShort
	}
	p.Status = model.StatusOpen
	p.RawText = model.StripTags(p.Text())
	p.CreatedAt = m.now()
	return m.copyOf(p), nil
}

func (m *memStore) DiscardDraft(ctx context.Context, ownerChatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.findDraft(ownerChatID); p != nil {
		delete(m.posts, p.ID)
	}
	return nil
}

func (m *memStore) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return nil, model.ErrPostNotFound
	}
	return m.copyOf(p), nil
}

func (m *memStore) membership(p *model.Post, field model.MembershipField) *[]int64 {
	switch field {
	case model.FieldFollowers:
		return &p.Followers
	case model.FieldLikes:
		return &p.Likes
	default:
		return &p.BookmarkedBy
	}
}

func (m *memStore) ToggleMembership(ctx context.Context, postID string, field model.MembershipField, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[postID]
	if !ok {
		return false, model.ErrPostNotFound
	}
	set := m.membership(p, field)
	for i, id := range *set {
		if id == chatID {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return false, nil
		}
	}
	*set = append(*set, chatID)
	return true, nil
}

func (m *memStore) IsBookmarked(ctx context.Context, postID string, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return false, nil
	}
	for _, id := range p.BookmarkedBy {
		if id == chatID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetStatus(ctx context.Context, postID string, from []model.PostStatus, to model.PostStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[postID]
	if !ok {
		return model.ErrPostNotFound
	}
	for _, s := range from {
		if p.Status == s {
			p.Status = to
			return nil
		}
	}
	return model.ErrIllegalTransition
}

func (m *memStore) Accept(ctx context.Context, questionID, answerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	answer, ok := m.posts[answerID]
	if !ok || answer.Type != model.TypeAnswer || answer.RepliedToPostID == nil || *answer.RepliedToPostID != questionID {
		return model.ErrNotAnAnswer
	}
	question, ok := m.posts[questionID]
	if !ok {
		return model.ErrPostNotFound
	}

	if question.AcceptedAnswerID != nil && *question.AcceptedAnswerID != answerID {
		if prev, ok := m.posts[*question.AcceptedAnswerID]; ok && prev.Status == model.StatusResolved {
			prev.Status = model.StatusOpen
		}
	}
	question.Status = model.StatusResolved
	id := answerID
	question.AcceptedAnswerID = &id
	if answer.Status == model.StatusOpen {
		answer.Status = model.StatusResolved
	}
	return nil
}

func (m *memStore) Unaccept(ctx context.Context, questionID, answerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	question, ok := m.posts[questionID]
	if !ok || question.AcceptedAnswerID == nil || *question.AcceptedAnswerID != answerID {
		return model.ErrIllegalTransition
	}
	question.Status = model.StatusOpen
	question.AcceptedAnswerID = nil
	if answer, ok := m.posts[answerID]; ok && answer.Status == model.StatusResolved {
		answer.Status = model.StatusOpen
	}
	return nil
}

func (m *memStore) matches(p *model.Post, f model.GalleryFilter) bool {
	if p.Status == model.StatusPrep || p.Status == model.StatusDeleted {
		if f.Status == "" || p.Status != f.Status {
			return false
		}
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.OwnerChatID != 0 && p.OwnerChatID != f.OwnerChatID {
		return false
	}
	if f.RepliedToPostID != "" && (p.RepliedToPostID == nil || *p.RepliedToPostID != f.RepliedToPostID) {
		return false
	}
	if f.BookmarkedBy != 0 {
		found := false
		for _, id := range p.BookmarkedBy {
			if id == f.BookmarkedBy {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matching returns matches ordered oldest first.
func (m *memStore) matching(f model.GalleryFilter) []*model.Post {
	var out []*model.Post
	for _, p := range m.posts {
		if m.matches(p, f) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) First(ctx context.Context, f model.GalleryFilter) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.matching(f)
	if len(all) == 0 {
		return nil, model.ErrGalleryEmpty
	}
	return m.copyOf(all[len(all)-1]), nil
}

func (m *memStore) Step(ctx context.Context, f model.GalleryFilter, from *model.Post, dir model.StepDirection) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.matching(f)
	for i, p := range all {
		if p.ID == from.ID {
			if dir == model.StepNext && i+1 < len(all) {
				return m.copyOf(all[i+1]), nil
			}
			if dir == model.StepPrev && i > 0 {
				return m.copyOf(all[i-1]), nil
			}
			return nil, model.ErrGalleryBoundary
		}
	}
	// The current post fell out of the filter; step from its sort position.
	for i, p := range all {
		if dir == model.StepNext && p.CreatedAt.After(from.CreatedAt) {
			return m.copyOf(all[i]), nil
		}
	}
	if dir == model.StepPrev {
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].CreatedAt.Before(from.CreatedAt) {
				return m.copyOf(all[i]), nil
			}
		}
	}
	return nil, model.ErrGalleryBoundary
}

func (m *memStore) Position(ctx context.Context, f model.GalleryFilter, at *model.Post) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.matching(f)
	index := 1
	for _, p := range all {
		if p.CreatedAt.Before(at.CreatedAt) || (p.CreatedAt.Equal(at.CreatedAt) && p.ID < at.ID) {
			index++
		}
	}
	return index, len(all), nil
}

func (m *memStore) CountReplies(ctx context.Context, postID string, t model.PostType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, p := range m.posts {
		if p.RepliedToPostID != nil && *p.RepliedToPostID == postID && p.Type == t &&
			(p.Status == model.StatusOpen || p.Status == model.StatusResolved) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) Replies(ctx context.Context, postID string, t model.PostType) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Post
	for _, p := range m.matching(model.GalleryFilter{Type: t, RepliedToPostID: postID}) {
		out = append(out, *m.copyOf(p))
	}
	return out, nil
}

func (m *memStore) copyOf(p *model.Post) *model.Post {
	c := *p
	c.Fragments = append([]model.Fragment(nil), p.Fragments...)
	c.Followers = append([]int64(nil), p.Followers...)
	c.Likes = append([]int64(nil), p.Likes...)
	c.BookmarkedBy = append([]int64(nil), p.BookmarkedBy...)
	return &c
}

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu    sync.Mutex
	users map[int64]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[int64]*model.User)}
}

func (m *memUsers) Upsert(ctx context.Context, chatID int64, firstName string, username *string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[chatID]
	if !ok {
		u = &model.User{ChatID: chatID, State: model.StateMain, Identity: model.IdentityAnonymous}
		m.users[chatID] = u
	}
	u.FirstName = firstName
	u.Username = username
	c := *u
	return &c, nil
}

func (m *memUsers) GetByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) SetState(ctx context.Context, chatID int64, state model.ConvState, replyTarget *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.State = state
	u.ReplyTargetPostID = replyTarget
	return nil
}

func (m *memUsers) SetLivePreview(ctx context.Context, chatID int64, messageID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.LivePreviewMessageID = messageID
	return nil
}

func (m *memUsers) Reset(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.State = model.StateMain
	u.ReplyTargetPostID = nil
	u.LivePreviewMessageID = nil
	return nil
}

func (m *memUsers) SetIdentity(ctx context.Context, chatID int64, identity model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Identity = identity
	return nil
}

func (m *memUsers) SetMuted(ctx context.Context, chatID int64, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Muted = muted
	return nil
}

func (m *memUsers) BroadcastChatIDs(ctx context.Context, excludeMuted bool) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, u := range m.users {
		if excludeMuted && u.Muted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// failingPublisher simulates a queue that is down.
type failingPublisher struct{}

func (failingPublisher) QuestionPublished(ctx context.Context, post *model.Post) error {
	return errors.New("stream unavailable")
}

func (failingPublisher) ReplyPublished(ctx context.Context, post *model.Post) error {
	return errors.New("stream unavailable")
}

func (failingPublisher) AnswerAccepted(ctx context.Context, questionID, answerID string, answerOwnerChatID int64) error {
	return errors.New("stream unavailable")
}

// recordingPublisher records published events instead of touching Redis.
type recordingPublisher struct {
	mu        sync.Mutex
	questions []string
	replies   []string
	accepted  []string
}

func (p *recordingPublisher) QuestionPublished(ctx context.Context, post *model.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, post.ID)
	return nil
}

func (p *recordingPublisher) ReplyPublished(ctx context.Context, post *model.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, post.ID)
	return nil
}

func (p *recordingPublisher) AnswerAccepted(ctx context.Context, questionID, answerID string, answerOwnerChatID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, answerID)
	return nil
}
