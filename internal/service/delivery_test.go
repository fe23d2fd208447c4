package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"askboard/internal/cache"
	"askboard/internal/model"
	"askboard/internal/platform"
	"askboard/internal/service"
)

// =============================================================================
// Platform and binding fakes
// =============================================================================

type sentMessage struct {
	chatID int64
	text   string
	markup *platform.ReplyMarkup
}

// fakeMessenger records outbound traffic and assigns sequential message ids.
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sentMessage
	edited  map[string]string // "chat:message" -> new text
	deleted []string
	files   []string
	failing bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edited: make(map[string]string)}
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string, markup *platform.ReplyMarkup) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, errors.New("chat unreachable")
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return m.nextID, nil
}

func (m *fakeMessenger) EditMessage(ctx context.Context, chatID, messageID int64, text string, markup *platform.ReplyMarkup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited[fmt.Sprintf("%d:%d", chatID, messageID)] = text
	return nil
}

func (m *fakeMessenger) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fmt.Sprintf("%d:%d", chatID, messageID))
	return nil
}

func (m *fakeMessenger) SendFile(ctx context.Context, chatID int64, fileID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.files = append(m.files, fileID)
	return m.nextID, nil
}

func (m *fakeMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

// memBindings is an in-memory BindingRepository.
type memBindings struct {
	mu       sync.Mutex
	bindings map[string]*model.MessageBinding
}

func newMemBindings() *memBindings {
	return &memBindings{bindings: make(map[string]*model.MessageBinding)}
}

func bindingKey(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func (m *memBindings) Upsert(ctx context.Context, b *model.MessageBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	c.RefreshedAt = time.Now()
	m.bindings[bindingKey(b.ChatID, b.MessageID)] = &c
	return nil
}

func (m *memBindings) Get(ctx context.Context, chatID, messageID int64) (*model.MessageBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[bindingKey(chatID, messageID)]
	if !ok {
		return nil, model.ErrBindingNotFound
	}
	c := *b
	return &c, nil
}

func (m *memBindings) Delete(ctx context.Context, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, bindingKey(chatID, messageID))
	return nil
}

func (m *memBindings) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]model.MessageBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []model.MessageBinding
	for _, b := range m.bindings {
		if b.AutoRefresh && b.RefreshedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBindings) Touch(ctx context.Context, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bindings[bindingKey(chatID, messageID)]; ok {
		b.RefreshedAt = time.Now()
	}
	return nil
}

// fakeCleanup records scheduled deletions.
type fakeCleanup struct {
	mu        sync.Mutex
	scheduled []cache.ScheduledDelete
}

func (c *fakeCleanup) Schedule(ctx context.Context, chatID, messageID int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled = append(c.scheduled, cache.ScheduledDelete{ChatID: chatID, MessageID: messageID})
	return nil
}

func (c *fakeCleanup) Cancel(ctx context.Context, chatID, messageID int64) error { return nil }

func (c *fakeCleanup) Due(ctx context.Context, now time.Time, limit int) ([]cache.ScheduledDelete, error) {
	return nil, nil
}

func (c *fakeCleanup) Remove(ctx context.Context, items ...cache.ScheduledDelete) error { return nil }

// =============================================================================
// Tests
// =============================================================================

type deliveryFixture struct {
	delivery  *service.DeliveryService
	store     *memStore
	users     *memUsers
	bindings  *memBindings
	messenger *fakeMessenger
	cleanup   *fakeCleanup
}

func setupDelivery(t *testing.T) *deliveryFixture {
	t.Helper()
	f := &deliveryFixture{
		store:     newMemStore(),
		users:     newMemUsers(),
		bindings:  newMemBindings(),
		messenger: newFakeMessenger(),
		cleanup:   &fakeCleanup{},
	}
	renderer := service.NewRenderer(service.NewTokenCodec("delivery-test-secret"))
	f.delivery = service.NewDeliveryService(f.messenger, f.users, f.store, f.bindings, renderer, f.cleanup)
	return f
}

func TestSendPostBindsMessage(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)
	post := &model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 100,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "a question body"}},
	}
	f.store.posts["q1"] = post

	messageID, err := f.delivery.SendPost(ctx, 200, post, nil, true)
	if err != nil {
		t.Fatalf("SendPost: %v", err)
	}

	b, err := f.bindings.Get(ctx, 200, messageID)
	if err != nil {
		t.Fatalf("binding not stored: %v", err)
	}
	if b.PostID != "q1" || b.IsGallery || !b.AutoRefresh {
		t.Errorf("binding = %+v", b)
	}
	if len(f.messenger.sent) != 1 || !strings.Contains(f.messenger.sent[0].text, "a question body") {
		t.Errorf("sent = %+v", f.messenger.sent)
	}
}

func TestSendPostUsesDisclosedIdentity(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)
	if _, err := f.users.Upsert(ctx, 100, "Alice", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.users.SetIdentity(ctx, 100, model.IdentityFirstName); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	post := &model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 100,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "body"}},
	}
	f.store.posts["q1"] = post

	if _, err := f.delivery.SendPost(ctx, 200, post, nil, false); err != nil {
		t.Fatalf("SendPost: %v", err)
	}
	if !strings.Contains(f.messenger.sent[0].text, "Alice") {
		t.Errorf("card does not show disclosed name: %q", f.messenger.sent[0].text)
	}

	// An unregistered owner renders as Anonymous.
	post2 := &model.Post{
		ID: "q2", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 999,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "body"}},
	}
	f.store.posts["q2"] = post2
	if _, err := f.delivery.SendPost(ctx, 200, post2, nil, false); err != nil {
		t.Fatalf("SendPost: %v", err)
	}
	if !strings.Contains(f.messenger.sent[1].text, "Anonymous") {
		t.Errorf("unknown owner not anonymous: %q", f.messenger.sent[1].text)
	}
}

// wrappingUsers annotates lookup errors the way the SQL layer does.
type wrappingUsers struct{ *memUsers }

func (w wrappingUsers) GetByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	u, err := w.memUsers.GetByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("select user %d: %w", chatID, err)
	}
	return u, nil
}

func TestSendPostUnwrapsUserNotFound(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)
	renderer := service.NewRenderer(service.NewTokenCodec("delivery-test-secret"))
	delivery := service.NewDeliveryService(f.messenger, wrappingUsers{f.users}, f.store, f.bindings, renderer, f.cleanup)

	post := &model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 999,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "body"}},
	}
	f.store.posts["q1"] = post

	// A wrapped not-found from the user lookup still renders as Anonymous
	// instead of failing the send.
	if _, err := delivery.SendPost(ctx, 200, post, nil, false); err != nil {
		t.Fatalf("SendPost: %v", err)
	}
	if !strings.Contains(f.messenger.sent[0].text, "Anonymous") {
		t.Errorf("unknown owner not anonymous: %q", f.messenger.sent[0].text)
	}
}

func TestRefreshBindingDropsVanishedPost(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)
	gallery := service.NewGalleryService(f.store)

	b := &model.MessageBinding{ChatID: 200, MessageID: 7, PostID: "gone", AutoRefresh: true}
	if err := f.bindings.Upsert(ctx, b); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := f.delivery.RefreshBinding(ctx, b, gallery); err != nil {
		t.Fatalf("RefreshBinding: %v", err)
	}
	if _, err := f.bindings.Get(ctx, 200, 7); !errors.Is(err, model.ErrBindingNotFound) {
		t.Errorf("binding survived for a vanished post: %v", err)
	}
}

func TestRefreshBindingEditsInPlace(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)
	gallery := service.NewGalleryService(f.store)
	f.store.posts["q1"] = &model.Post{
		ID: "q1", Type: model.TypeQuestion, Status: model.StatusOpen, OwnerChatID: 100,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "fresh body"}},
	}

	b := &model.MessageBinding{ChatID: 200, MessageID: 7, PostID: "q1", AutoRefresh: true}
	if err := f.bindings.Upsert(ctx, b); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := f.delivery.RefreshBinding(ctx, b, gallery); err != nil {
		t.Fatalf("RefreshBinding: %v", err)
	}
	if text, ok := f.messenger.edited["200:7"]; !ok || !strings.Contains(text, "fresh body") {
		t.Errorf("edited = %v", f.messenger.edited)
	}
}

func TestSendPreviewReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)
	if _, err := f.users.Upsert(ctx, 100, "Alice", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	draft := &model.Post{
		Type: model.TypeQuestion, Status: model.StatusPrep, OwnerChatID: 100,
		Fragments: []model.Fragment{{Kind: model.KindText, Seq: 1, Text: "draft text"}},
	}

	u, _ := f.users.GetByChatID(ctx, 100)
	if err := f.delivery.SendPreview(ctx, u, model.TypeQuestion, draft); err != nil {
		t.Fatalf("first SendPreview: %v", err)
	}
	u, _ = f.users.GetByChatID(ctx, 100)
	if u.LivePreviewMessageID == nil {
		t.Fatal("preview tracker not set")
	}
	first := *u.LivePreviewMessageID

	if err := f.delivery.SendPreview(ctx, u, model.TypeQuestion, draft); err != nil {
		t.Fatalf("second SendPreview: %v", err)
	}
	if len(f.messenger.deleted) != 1 || f.messenger.deleted[0] != fmt.Sprintf("100:%d", first) {
		t.Errorf("deleted = %v, want the first preview", f.messenger.deleted)
	}
	u, _ = f.users.GetByChatID(ctx, 100)
	if u.LivePreviewMessageID == nil || *u.LivePreviewMessageID == first {
		t.Errorf("tracker = %v, want the new message", u.LivePreviewMessageID)
	}
}

func TestSendEphemeralSchedulesCleanup(t *testing.T) {
	ctx := context.Background()
	f := setupDelivery(t)

	if err := f.delivery.SendEphemeral(ctx, 100, "No more posts.", time.Minute); err != nil {
		t.Fatalf("SendEphemeral: %v", err)
	}
	if len(f.cleanup.scheduled) != 1 || f.cleanup.scheduled[0].ChatID != 100 {
		t.Errorf("scheduled = %+v", f.cleanup.scheduled)
	}
}
