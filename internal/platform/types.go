package platform

// Chat identifies one conversation partner on the messaging platform.
type Chat struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Attachment is a platform file reference carried by an inbound message.
// The file itself stays on the platform; FileID re-sends it later.
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is an inbound chat message. Kind is "text" for text messages and
// the attachment's content kind otherwise (photo, document, voice, ...).
type Message struct {
	MessageID  int64       `json:"message_id"`
	Chat       Chat        `json:"chat"`
	Kind       string      `json:"kind"`
	Text       string      `json:"text,omitempty"` // HTML-formatted for kind "text"
	Attachment *Attachment `json:"attachment,omitempty"`
	Date       int64       `json:"date"`
}

// CallbackQuery is an inbound inline-button press. Data carries the signed
// action token minted when the keyboard was rendered.
type CallbackQuery struct {
	ID        string `json:"id"`
	Chat      Chat   `json:"chat"`
	MessageID int64  `json:"message_id"`
	Data      string `json:"data"`
}

// Update is the webhook envelope: exactly one of the event fields is set.
type Update struct {
	UpdateID int64          `json:"update_id"`
	Message  *Message       `json:"message,omitempty"`
	Callback *CallbackQuery `json:"callback_query,omitempty"`
}

// ChatID returns the chat the update originated from, or 0 if the envelope
// is empty.
func (u *Update) ChatID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.Callback != nil:
		return u.Callback.Chat.ID
	}
	return 0
}

// InlineButton is one button under a rendered message.
type InlineButton struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// ReplyMarkup is either an inline keyboard attached to a message or a
// persistent reply keyboard shown in the input area.
type ReplyMarkup struct {
	Inline         [][]InlineButton `json:"inline_keyboard,omitempty"`
	Keyboard       [][]string       `json:"keyboard,omitempty"`
	RemoveKeyboard bool             `json:"remove_keyboard,omitempty"`
}

// InlineRows builds a ReplyMarkup from rows of inline buttons, skipping
// empty rows.
func InlineRows(rows ...[]InlineButton) *ReplyMarkup {
	markup := &ReplyMarkup{}
	for _, row := range rows {
		if len(row) > 0 {
			markup.Inline = append(markup.Inline, row)
		}
	}
	if len(markup.Inline) == 0 {
		return nil
	}
	return markup
}

// KeyboardRows builds a persistent reply keyboard from rows of labels.
func KeyboardRows(rows ...[]string) *ReplyMarkup {
	return &ReplyMarkup{Keyboard: rows}
}
