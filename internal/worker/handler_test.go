package worker_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"askboard/internal/cache"
	"askboard/internal/model"
	"askboard/internal/platform"
	"askboard/internal/queue"
	"askboard/internal/repository"
	"askboard/internal/service"
	"askboard/internal/worker"
)

// ===== Mock Implementations =====

// mockPosts serves lookups and counts; the embedded interface panics on
// anything an event handler should never call.
type mockPosts struct {
	repository.PostRepository
	posts map[string]*model.Post
}

func newMockPosts() *mockPosts {
	return &mockPosts{posts: make(map[string]*model.Post)}
}

func (m *mockPosts) Add(p *model.Post) { m.posts[p.ID] = p }

func (m *mockPosts) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	p, ok := m.posts[postID]
	if !ok {
		return nil, model.ErrPostNotFound
	}
	return p, nil
}

func (m *mockPosts) CountReplies(ctx context.Context, postID string, t model.PostType) (int, error) {
	return 0, nil
}

type mockUsers struct {
	repository.UserRepository
	chats map[int64]bool // chatID -> muted
}

func newMockUsers() *mockUsers {
	return &mockUsers{chats: make(map[int64]bool)}
}

func (m *mockUsers) Add(chatID int64, muted bool) { m.chats[chatID] = muted }

func (m *mockUsers) GetByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	if _, ok := m.chats[chatID]; !ok {
		return nil, model.ErrUserNotFound
	}
	return &model.User{ChatID: chatID, Identity: model.IdentityAnonymous}, nil
}

func (m *mockUsers) BroadcastChatIDs(ctx context.Context, excludeMuted bool) ([]int64, error) {
	var ids []int64
	for id, muted := range m.chats {
		if excludeMuted && muted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type mockBindings struct {
	repository.BindingRepository
}

func (m *mockBindings) Upsert(ctx context.Context, b *model.MessageBinding) error { return nil }

type mockCleanup struct {
	cache.CleanupSchedule
}

func (m *mockCleanup) Schedule(ctx context.Context, chatID, messageID int64, at time.Time) error {
	return nil
}

// countingMessenger counts messages per chat.
type countingMessenger struct {
	mu     sync.Mutex
	nextID int64
	byChat map[int64]int
}

func newCountingMessenger() *countingMessenger {
	return &countingMessenger{byChat: make(map[int64]int)}
}

func (m *countingMessenger) SendMessage(ctx context.Context, chatID int64, text string, markup *platform.ReplyMarkup) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.byChat[chatID]++
	return m.nextID, nil
}

func (m *countingMessenger) EditMessage(ctx context.Context, chatID, messageID int64, text string, markup *platform.ReplyMarkup) error {
	return nil
}

func (m *countingMessenger) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return nil
}

func (m *countingMessenger) SendFile(ctx context.Context, chatID int64, fileID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID, nil
}

func (m *countingMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

// ===== Tests =====

func setupHandler(t *testing.T) (*worker.Handler, *mockPosts, *mockUsers, *countingMessenger) {
	t.Helper()
	posts := newMockPosts()
	users := newMockUsers()
	messenger := newCountingMessenger()
	renderer := service.NewRenderer(service.NewTokenCodec("worker-test-secret"))
	delivery := service.NewDeliveryService(messenger, users, posts, &mockBindings{}, renderer, &mockCleanup{})
	return worker.NewHandler(users, posts, delivery, 4), posts, users, messenger
}

func TestQuestionBroadcastSkipsAuthorAndMuted(t *testing.T) {
	h, posts, users, messenger := setupHandler(t)
	posts.Add(&model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 100,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "fresh question"}},
	})
	users.Add(100, false) // author
	users.Add(200, false)
	users.Add(300, true) // muted
	users.Add(400, false)

	event := queue.NewQuestionPublishedEvent("q1", 100)
	if err := h.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if messenger.byChat[100] != 0 {
		t.Error("author received their own broadcast")
	}
	if messenger.byChat[300] != 0 {
		t.Error("muted user received a broadcast")
	}
	if messenger.byChat[200] != 1 || messenger.byChat[400] != 1 {
		t.Errorf("deliveries = %v, want one card each for 200 and 400", messenger.byChat)
	}
}

func TestQuestionBroadcastSkipsNonOpenPost(t *testing.T) {
	h, posts, users, messenger := setupHandler(t)
	posts.Add(&model.Post{ID: "q1", Type: model.TypeQuestion, Status: model.StatusDeleted, OwnerChatID: 100})
	users.Add(200, false)

	if err := h.HandleEvent(context.Background(), queue.NewQuestionPublishedEvent("q1", 100)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if messenger.byChat[200] != 0 {
		t.Error("deleted question was broadcast")
	}
}

func TestQuestionGoneBeforeBroadcast(t *testing.T) {
	h, _, users, messenger := setupHandler(t)
	users.Add(200, false)

	if err := h.HandleEvent(context.Background(), queue.NewQuestionPublishedEvent("vanished", 100)); err != nil {
		t.Fatalf("HandleEvent on vanished post: %v", err)
	}
	if len(messenger.byChat) != 0 {
		t.Errorf("deliveries = %v, want none", messenger.byChat)
	}
}

func TestReplyDeliveredToOwnerAndFollowers(t *testing.T) {
	h, posts, users, messenger := setupHandler(t)
	parent := "q1"
	posts.Add(&model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 100,
		Followers: []int64{200, 300},
	})
	posts.Add(&model.Post{
		ID: "a1", Type: model.TypeAnswer, Status: model.StatusOpen, OwnerChatID: 300,
		RepliedToPostID: &parent,
		Fragments:       []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "an answer"}},
	})
	for _, id := range []int64{100, 200, 300} {
		users.Add(id, false)
	}

	event := queue.NewReplyPublishedEvent("a1", model.TypeAnswer, 300, "q1")
	if err := h.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// Notice plus card for the owner and the non-author follower; the
	// answering follower gets nothing.
	if messenger.byChat[100] != 2 {
		t.Errorf("owner received %d messages, want 2", messenger.byChat[100])
	}
	if messenger.byChat[200] != 2 {
		t.Errorf("follower received %d messages, want 2", messenger.byChat[200])
	}
	if messenger.byChat[300] != 0 {
		t.Error("reply author was notified about their own reply")
	}
}

func TestAcceptanceCongratulatesAndNotifiesFollowers(t *testing.T) {
	h, posts, users, messenger := setupHandler(t)
	parent := "q1"
	posts.Add(&model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusResolved, OwnerChatID: 100,
		Followers: []int64{200, 300},
	})
	posts.Add(&model.Post{
		ID: "a1", Type: model.TypeAnswer, Status: model.StatusResolved, OwnerChatID: 300,
		RepliedToPostID: &parent,
		Followers:       []int64{400},
		Fragments:       []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "the accepted answer"}},
	})
	for _, id := range []int64{100, 200, 300, 400} {
		users.Add(id, false)
	}

	event := queue.NewAnswerAcceptedEvent("q1", "a1", 300)
	if err := h.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// The answer owner gets only the congratulation; the question owner
	// pressed the button and is not re-notified.
	if messenger.byChat[300] != 1 {
		t.Errorf("answer owner received %d messages, want 1", messenger.byChat[300])
	}
	if messenger.byChat[100] != 0 {
		t.Errorf("question owner received %d messages, want 0", messenger.byChat[100])
	}
	// Followers of either post get notice plus card.
	if messenger.byChat[200] != 2 || messenger.byChat[400] != 2 {
		t.Errorf("followers = %v, want 2 each for 200 and 400", messenger.byChat)
	}
}

func TestUnknownEventIsAcked(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	if err := h.HandleEvent(context.Background(), queue.DispatchEvent{Type: "someday"}); err != nil {
		t.Errorf("unknown event = %v, want nil", err)
	}
}
