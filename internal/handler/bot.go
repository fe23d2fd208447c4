package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"askboard/internal/model"
	"askboard/internal/platform"
	"askboard/internal/repository"
	"askboard/internal/service"
)

// noticeTTL is the retention of transient error notices.
const noticeTTL = 45 * time.Second

// Bot routes inbound updates: menu keys and conversation state decide how a
// text message is interpreted, and the signed token on a button press
// decides what it does. Every rejected action gets a specific
// acknowledgement; nothing is dropped silently.
type Bot struct {
	users    repository.UserRepository
	bindings repository.BindingRepository

	compose  *service.ComposeService
	posts    *service.PostService
	gallery  *service.GalleryService
	delivery *service.DeliveryService
	export   *service.ExportService // nil when R2 is not configured
	renderer *service.Renderer
	tokens   *service.TokenCodec

	messenger platform.Messenger
}

func NewBot(
	users repository.UserRepository,
	bindings repository.BindingRepository,
	compose *service.ComposeService,
	posts *service.PostService,
	gallery *service.GalleryService,
	delivery *service.DeliveryService,
	export *service.ExportService,
	renderer *service.Renderer,
	tokens *service.TokenCodec,
	messenger platform.Messenger,
) *Bot {
	return &Bot{
		users:     users,
		bindings:  bindings,
		compose:   compose,
		posts:     posts,
		gallery:   gallery,
		delivery:  delivery,
		export:    export,
		renderer:  renderer,
		tokens:    tokens,
		messenger: messenger,
	}
}

// HandleUpdate is the dispatcher's entry point for one inbound update.
func (b *Bot) HandleUpdate(ctx context.Context, update platform.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, *update.Message)
	case update.Callback != nil:
		b.handleCallback(ctx, *update.Callback)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m platform.Message) {
	var username *string
	if m.Chat.Username != "" {
		username = &m.Chat.Username
	}
	user, err := b.users.Upsert(ctx, m.Chat.ID, m.Chat.FirstName, username)
	if err != nil {
		log.Printf("[Bot] Upsert user %d failed: %v", m.Chat.ID, err)
		return
	}

	if m.Kind == "text" && (m.Text == "/start" || m.Text == "/help") {
		b.delivery.ClearPreview(ctx, user)
		// An abandoned draft dies with the flow; keeping it around would
		// leak its content and reply target into whatever comes next.
		if err := b.compose.Cancel(ctx, user.ChatID); err != nil {
			log.Printf("[Bot] Reset user %d failed: %v", user.ChatID, err)
		}
		b.sendText(ctx, user.ChatID, MsgWelcome, MainKeyboard())
		return
	}

	if _, composing := user.State.ComposeType(); composing {
		b.handleComposeMessage(ctx, user, m)
		return
	}
	b.handleMenuMessage(ctx, user, m)
}

// handleComposeMessage interprets a message while a draft is active:
// send, cancel, or one more content fragment.
func (b *Bot) handleComposeMessage(ctx context.Context, user *model.User, m platform.Message) {
	if m.Kind == "text" {
		switch m.Text {
		case ComposeCancel:
			b.delivery.ClearPreview(ctx, user)
			if err := b.compose.Cancel(ctx, user.ChatID); err != nil {
				log.Printf("[Bot] Cancel draft for %d failed: %v", user.ChatID, err)
			}
			b.sendText(ctx, user.ChatID, MsgCanceled, MainKeyboard())
			return
		case ComposeSend:
			b.submitDraft(ctx, user)
			return
		}
	}

	postType, _ := user.State.ComposeType()

	var last *model.Post
	for _, frag := range fragmentsFromMessage(m) {
		post, _, err := b.compose.Append(ctx, user, frag)
		if err != nil {
			b.sendAppendError(ctx, user.ChatID, postType, err)
			if post == nil {
				return
			}
			last = post
			break
		}
		last = post
	}
	if last == nil {
		return
	}

	if err := b.delivery.SendPreview(ctx, user, postType, last); err != nil {
		log.Printf("[Bot] Preview for %d failed: %v", user.ChatID, err)
	}
}

func (b *Bot) submitDraft(ctx context.Context, user *model.User) {
	post, err := b.compose.Submit(ctx, user.ChatID)
	switch {
	case errors.Is(err, model.ErrNoDraft):
		b.sendText(ctx, user.ChatID, MsgNoDraft, nil)
		return
	case errors.Is(err, model.ErrPostTooShort):
		b.sendText(ctx, user.ChatID, MsgTooShort(), nil)
		return
	case err != nil:
		log.Printf("[Bot] Submit for %d failed: %v", user.ChatID, err)
		b.sendText(ctx, user.ChatID, "Something went wrong. Your draft is untouched; try again.", nil)
		return
	}

	b.delivery.ClearPreview(ctx, user)
	b.sendText(ctx, user.ChatID, MsgSubmitted, MainKeyboard())
	log.Printf("[Bot] Published %s %s by %d", post.Type, post.ID, user.ChatID)
}

func (b *Bot) sendAppendError(ctx context.Context, chatID int64, t model.PostType, err error) {
	var capErr *model.CharLimitError
	var msg string
	switch {
	case errors.As(err, &capErr):
		msg = MsgCharLimit(capErr.Extra)
	case errors.Is(err, model.ErrTooManyAttachments):
		msg = MsgTooManyAttachments()
	case errors.Is(err, model.ErrUnsupportedContent):
		msg = MsgUnsupported(t)
	default:
		log.Printf("[Bot] Append failed: %v", err)
		msg = "Something went wrong. Please try again."
	}
	if err := b.delivery.SendEphemeral(ctx, chatID, msg, noticeTTL); err != nil {
		log.Printf("[Bot] Notice to %d failed: %v", chatID, err)
	}
}

// handleMenuMessage routes main-state messages by reply-keyboard key.
func (b *Bot) handleMenuMessage(ctx context.Context, user *model.User, m platform.Message) {
	if m.Kind != "text" {
		b.sendText(ctx, user.ChatID, MsgHelp, MainKeyboard())
		return
	}

	switch m.Text {
	case MenuAsk:
		if err := b.compose.Begin(ctx, user.ChatID, model.TypeQuestion, nil); err != nil {
			log.Printf("[Bot] Begin question for %d failed: %v", user.ChatID, err)
			return
		}
		b.sendText(ctx, user.ChatID, MsgGuideQuestion, ComposeKeyboard())

	case MenuBrowse:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{Type: model.TypeQuestion}, MsgNoQuestions)

	case MenuMyData:
		b.sendText(ctx, user.ChatID, MsgHelp, MyDataKeyboard())

	case MenuMyQuestions:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{Type: model.TypeQuestion, OwnerChatID: user.ChatID}, MsgNothingHere)
	case MenuMyAnswers:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{Type: model.TypeAnswer, OwnerChatID: user.ChatID}, MsgNothingHere)
	case MenuMyComments:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{Type: model.TypeComment, OwnerChatID: user.ChatID}, MsgNothingHere)
	case MenuMyBookmarks:
		b.openGallery(ctx, user.ChatID, model.GalleryFilter{BookmarkedBy: user.ChatID}, MsgNothingHere)

	case MenuSettings:
		b.sendText(ctx, user.ChatID, SettingsText(user), SettingsKeyboard(user.Muted))

	case MenuAnonymous:
		b.setIdentity(ctx, user, model.IdentityAnonymous)
	case MenuFirstName:
		b.setIdentity(ctx, user, model.IdentityFirstName)
	case MenuUsername:
		b.setIdentity(ctx, user, model.IdentityUsername)

	case MenuMute, MenuUnmute:
		muted := m.Text == MenuMute
		if err := b.users.SetMuted(ctx, user.ChatID, muted); err != nil {
			log.Printf("[Bot] Set muted for %d failed: %v", user.ChatID, err)
			return
		}
		user.Muted = muted
		b.sendText(ctx, user.ChatID, MsgSettingsSaved, SettingsKeyboard(muted))

	case MenuBack:
		b.sendText(ctx, user.ChatID, MsgHelp, MainKeyboard())

	default:
		b.sendText(ctx, user.ChatID, MsgHelp, MainKeyboard())
	}
}

func (b *Bot) setIdentity(ctx context.Context, user *model.User, identity model.Identity) {
	if err := b.users.SetIdentity(ctx, user.ChatID, identity); err != nil {
		log.Printf("[Bot] Set identity for %d failed: %v", user.ChatID, err)
		return
	}
	user.Identity = identity
	b.sendText(ctx, user.ChatID, MsgSettingsSaved, SettingsKeyboard(user.Muted))
}

// openGallery resolves the first page of a filter and sends it as a new
// auto-refreshing gallery message.
func (b *Bot) openGallery(ctx context.Context, chatID int64, filter model.GalleryFilter, emptyMsg string) {
	view, err := b.gallery.Open(ctx, filter)
	if errors.Is(err, model.ErrGalleryEmpty) {
		b.sendText(ctx, chatID, emptyMsg, nil)
		return
	}
	if err != nil {
		log.Printf("[Bot] Open gallery for %d failed: %v", chatID, err)
		return
	}
	if _, err := b.delivery.SendPost(ctx, chatID, view.Post, view, true); err != nil {
		log.Printf("[Bot] Send gallery to %d failed: %v", chatID, err)
	}
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string, markup *platform.ReplyMarkup) {
	if _, err := b.delivery.SendText(ctx, chatID, text, markup); err != nil {
		log.Printf("[Bot] Send to %d failed: %v", chatID, err)
	}
}

// fragmentsFromMessage converts an inbound message into content fragments.
// An attachment with a caption yields the caption first, then the file.
func fragmentsFromMessage(m platform.Message) []model.Fragment {
	if m.Kind == "text" {
		return []model.Fragment{{Kind: model.KindText, Text: m.Text}}
	}

	var frags []model.Fragment
	if m.Text != "" {
		frags = append(frags, model.Fragment{Kind: model.KindText, Text: m.Text})
	}
	frag := model.Fragment{Kind: model.ContentKind(m.Kind)}
	if m.Attachment != nil {
		frag.FileID = m.Attachment.FileID
		frag.FileSize = m.Attachment.FileSize
		if m.Attachment.FileName != "" {
			name := m.Attachment.FileName
			frag.FileName = &name
		}
		if m.Attachment.MimeType != "" {
			mime := m.Attachment.MimeType
			frag.MimeType = &mime
		}
	}
	return append(frags, frag)
}
