package handler

import (
	"fmt"
	"strings"

	"askboard/internal/model"
	"askboard/internal/platform"
)

// Reply-keyboard labels. Inbound text messages are matched against these
// before anything else, so they double as the menu routing keys.
const (
	MenuAsk      = "❓ Ask a Question"
	MenuBrowse   = "🔍 Browse Questions"
	MenuMyData   = "🗂 My Data"
	MenuSettings = "⚙️ Settings"

	MenuMyQuestions = "❓ My Questions"
	MenuMyAnswers   = "📝 My Answers"
	MenuMyComments  = "💬 My Comments"
	MenuMyBookmarks = "🔖 My Bookmarks"
	MenuBack        = "« Back"

	MenuAnonymous  = "🎭 Stay anonymous"
	MenuFirstName  = "👤 Show first name"
	MenuUsername   = "🔗 Show username"
	MenuMute       = "🔕 Mute notifications"
	MenuUnmute     = "🔔 Unmute notifications"

	ComposeSend   = "✅ Send"
	ComposeCancel = "❌ Cancel"
)

// User-facing messages.
const (
	MsgWelcome = "👋 Welcome! Ask questions, answer others and follow the posts you care about.\nPick an option below to get started."

	MsgGuideQuestion = "✍️ Send me your question. Text and up to 3 attachments are accepted; send multiple messages to build it up, then press ✅ Send."
	MsgGuideAnswer   = "✍️ Send me your answer. Press ✅ Send when you are done."
	MsgGuideComment  = "✍️ Send me your comment (text only). Press ✅ Send when you are done."

	MsgCanceled  = "🚮 Draft discarded."
	MsgSubmitted = "📬 Published! It is now visible to others."
	MsgNoDraft   = "There is nothing to send yet. Write something first."

	MsgNotAvailable = "This post is no longer available."
	MsgNoMorePosts  = "No more posts."
	MsgNotPossible  = "That is not possible anymore."
	MsgDraftBusy    = "Finish or cancel your current draft first."

	MsgNoQuestions = "No questions yet. Be the first to ask one!"
	MsgNothingHere = "Nothing here yet."
	MsgNoAnswers   = "No answers yet."
	MsgNoComments  = "No comments yet."

	MsgSettingsSaved = "✅ Settings saved."
	MsgHelp          = "Use the keyboard below to navigate."
)

// MsgTooShort names the minimum publishable length.
func MsgTooShort() string {
	return fmt.Sprintf("Too short to publish: at least %d characters of text are required. Keep writing.", model.MinSubmitTextLength)
}

// MsgCharLimit reports how far an append overshot the budget.
func MsgCharLimit(extra int) string {
	return fmt.Sprintf("That is %d characters over the limit. Shorten it and try again.", extra)
}

// MsgTooManyAttachments names the attachment cap.
func MsgTooManyAttachments() string {
	return fmt.Sprintf("At most %d attachments per post.", model.MaxAttachments)
}

// MsgUnsupported names the content kinds the post type accepts.
func MsgUnsupported(t model.PostType) string {
	kinds := model.AllowedContentKinds[t]
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return fmt.Sprintf("That content is not supported for a %s. Accepted: %s.", t, strings.Join(names, ", "))
}

// MainKeyboard is the persistent top-level menu.
func MainKeyboard() *platform.ReplyMarkup {
	return platform.KeyboardRows(
		[]string{MenuAsk, MenuBrowse},
		[]string{MenuMyData, MenuSettings},
	)
}

// ComposeKeyboard is shown while a draft is being accumulated.
func ComposeKeyboard() *platform.ReplyMarkup {
	return platform.KeyboardRows(
		[]string{ComposeSend, ComposeCancel},
	)
}

// MyDataKeyboard lists the user's own galleries.
func MyDataKeyboard() *platform.ReplyMarkup {
	return platform.KeyboardRows(
		[]string{MenuMyQuestions, MenuMyAnswers},
		[]string{MenuMyComments, MenuMyBookmarks},
		[]string{MenuBack},
	)
}

// SettingsKeyboard offers identity disclosure and mute controls. The mute
// row reflects the current setting.
func SettingsKeyboard(muted bool) *platform.ReplyMarkup {
	muteRow := MenuMute
	if muted {
		muteRow = MenuUnmute
	}
	return platform.KeyboardRows(
		[]string{MenuAnonymous},
		[]string{MenuFirstName, MenuUsername},
		[]string{muteRow},
		[]string{MenuBack},
	)
}

// SettingsText describes the user's current settings.
func SettingsText(u *model.User) string {
	identity := map[model.Identity]string{
		model.IdentityAnonymous: "anonymous",
		model.IdentityFirstName: "first name",
		model.IdentityUsername:  "username",
	}[u.Identity]

	notifications := "on"
	if u.Muted {
		notifications = "off"
	}
	return fmt.Sprintf("⚙️ <b>Settings</b>\n\nShown on your posts: <b>%s</b>\nNotifications: <b>%s</b>", identity, notifications)
}
