package service

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"askboard/internal/model"
	"askboard/internal/platform"
)

// Renderer turns posts into message text and inline keyboards. Every button
// it emits carries a freshly minted action token.
type Renderer struct {
	tokens *TokenCodec
}

func NewRenderer(tokens *TokenCodec) *Renderer {
	return &Renderer{tokens: tokens}
}

var typeLabel = map[model.PostType]string{
	model.TypeQuestion: "Question",
	model.TypeAnswer:   "Answer",
	model.TypeComment:  "Comment",
}

var statusBadge = map[model.PostStatus]string{
	model.StatusPrep:     "✏️",
	model.StatusOpen:     "🟢",
	model.StatusClosed:   "🔒",
	model.StatusResolved: "✅",
	model.StatusDeleted:  "🗑",
}

var actionLabel = map[model.Action]string{
	model.ActionBack:       "« Back",
	model.ActionComment:    "💬 Comment",
	model.ActionFollow:     "🔔 Follow",
	model.ActionUnfollow:   "🔕 Unfollow",
	model.ActionEdit:       "✏️ Edit",
	model.ActionUndelete:   "♻️ Restore",
	model.ActionDelete:     "🗑 Delete",
	model.ActionClose:      "🔒 Close",
	model.ActionOpen:       "🔓 Reopen",
	model.ActionAnswer:     "📝 Answer",
	model.ActionAccept:     "✅ Accept",
	model.ActionUnaccept:   "↩️ Unaccept",
	model.ActionBookmark:   "🔖 Bookmark",
	model.ActionUnbookmark: "📌 Unbookmark",
}

// PostRender is everything needed to draw one published post card.
type PostRender struct {
	Post         *model.Post
	Author       string
	Expanded     bool
	AnswerCount  int
	CommentCount int
	Gallery      *GalleryView // nil for a standalone card
}

// RenderPreview draws the compose-time live preview: accumulated text, the
// attachment list and the remaining character budget. No inline buttons;
// send and cancel live on the reply keyboard.
func (r *Renderer) RenderPreview(t model.PostType, p *model.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s preview</b>\n\n", statusBadge[model.StatusPrep], typeLabel[t])

	if text := p.Text(); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}
	if attachments := p.Attachments(); len(attachments) > 0 {
		b.WriteString("\n")
		for _, a := range attachments {
			fmt.Fprintf(&b, "📎 %s\n", html.EscapeString(a.DisplayName()))
		}
	}

	remaining := model.CharLimit[t] - p.RawLen()
	if remaining < 0 {
		remaining = 0
	}
	fmt.Fprintf(&b, "\n<i>%d characters left</i>", remaining)
	return b.String()
}

// RenderPost draws a published post card with its keyboard.
func (r *Renderer) RenderPost(in PostRender) (string, *platform.ReplyMarkup, error) {
	p := in.Post

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>", statusBadge[p.Status], typeLabel[p.Type])
	if p.Status != model.StatusOpen {
		fmt.Fprintf(&b, " <i>(%s)</i>", p.Status)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "👤 %s · %s\n\n", html.EscapeString(in.Author), p.CreatedAt.Format("02 Jan 2006 15:04"))

	text, truncated := displayText(p.Text(), in.Expanded)
	b.WriteString(text)

	markup, err := r.postKeyboard(in, truncated)
	if err != nil {
		return "", nil, err
	}
	return b.String(), markup, nil
}

// displayText applies the display budget, counted in characters. The
// truncated form is plain text so the cut cannot land inside a tag, and it
// is taken on rune boundaries so it stays valid UTF-8.
func displayText(text string, expanded bool) (string, bool) {
	plain := model.StripTags(text)
	if utf8.RuneCountInString(plain) <= model.TruncateAt {
		return text, false
	}
	if expanded {
		return text, true
	}

	cut := string([]rune(plain)[:model.TruncateAt])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return html.EscapeString(cut) + "…", true
}

func (r *Renderer) postKeyboard(in PostRender, truncated bool) (*platform.ReplyMarkup, error) {
	p := in.Post

	var counts []platform.InlineButton
	if p.Type == model.TypeQuestion && in.AnswerCount > 0 {
		btn, err := r.button(fmt.Sprintf("📝 Answers (%d)", in.AnswerCount), ActionToken{Action: model.ActionShowAnswers, PostID: p.ID})
		if err != nil {
			return nil, err
		}
		counts = append(counts, btn)
	}
	if p.Type != model.TypeComment && in.CommentCount > 0 {
		btn, err := r.button(fmt.Sprintf("💬 Comments (%d)", in.CommentCount), ActionToken{Action: model.ActionShowComments, PostID: p.ID})
		if err != nil {
			return nil, err
		}
		counts = append(counts, btn)
	}

	var nav []platform.InlineButton
	if p.RepliedToPostID != nil {
		btn, err := r.button("⤴️ Original post", ActionToken{Action: model.ActionOriginalPost, PostID: p.ID})
		if err != nil {
			return nil, err
		}
		nav = append(nav, btn)
	}
	if n := len(p.Attachments()); n > 0 {
		btn, err := r.button(fmt.Sprintf("📎 Attachments (%d)", n), ActionToken{Action: model.ActionAttachments, PostID: p.ID})
		if err != nil {
			return nil, err
		}
		nav = append(nav, btn)
	}

	var controls []platform.InlineButton
	like, err := r.button(fmt.Sprintf("❤️ %d", len(p.Likes)), ActionToken{Action: model.ActionLike, PostID: p.ID})
	if err != nil {
		return nil, err
	}
	controls = append(controls, like)

	if truncated {
		toggle := ActionToken{Action: model.ActionShowMore, PostID: p.ID}
		label := "▼ Show more"
		if in.Expanded {
			toggle.Action = model.ActionShowLess
			label = "▲ Show less"
		}
		btn, err := r.button(label, toggle)
		if err != nil {
			return nil, err
		}
		controls = append(controls, btn)
	}

	actions, err := r.button("Actions »", ActionToken{Action: model.ActionActions, PostID: p.ID})
	if err != nil {
		return nil, err
	}
	controls = append(controls, actions)

	var gallery []platform.InlineButton
	if in.Gallery != nil {
		gallery, err = r.galleryRow(in.Gallery)
		if err != nil {
			return nil, err
		}
	}

	return platform.InlineRows(counts, nav, controls, gallery), nil
}

// galleryRow draws prev | x / y | next | export. An exhausted direction
// renders a placeholder that acknowledges "no more posts" instead of
// repeating the edge post.
func (r *Renderer) galleryRow(g *GalleryView) ([]platform.InlineButton, error) {
	prev := ActionToken{Action: model.ActionPrevPage, PostID: g.Post.ID}
	prevLabel := "◀️"
	if !g.HasPrev {
		prev.Action = model.ActionPageBoundary
		prevLabel = "⏹"
	}
	next := ActionToken{Action: model.ActionNextPage, PostID: g.Post.ID}
	nextLabel := "▶️"
	if !g.HasNext {
		next.Action = model.ActionPageBoundary
		nextLabel = "⏹"
	}

	row := make([]platform.InlineButton, 0, 4)
	btn, err := r.button(prevLabel, prev)
	if err != nil {
		return nil, err
	}
	row = append(row, btn)

	btn, err = r.button(fmt.Sprintf("%d / %d", g.Index, g.Total), ActionToken{Action: model.ActionPageBoundary, PostID: g.Post.ID})
	if err != nil {
		return nil, err
	}
	row = append(row, btn)

	btn, err = r.button(nextLabel, next)
	if err != nil {
		return nil, err
	}
	row = append(row, btn)

	btn, err = r.button("📤", ActionToken{Action: model.ActionExport, PostID: g.Post.ID})
	if err != nil {
		return nil, err
	}
	row = append(row, btn)

	return row, nil
}

// RenderActionMenu draws the secondary keyboard listing the resolver's
// legal actions, two per row, in resolver order.
func (r *Renderer) RenderActionMenu(p *model.Post, actions []model.Action) (*platform.ReplyMarkup, error) {
	var rows [][]platform.InlineButton
	var row []platform.InlineButton

	for _, a := range actions {
		btn, err := r.button(actionLabel[a], ActionToken{Action: a, PostID: p.ID})
		if err != nil {
			return nil, err
		}
		row = append(row, btn)
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return platform.InlineRows(rows...), nil
}

// RenderAttachments draws the attachment list, one re-send button per file.
func (r *Renderer) RenderAttachments(p *model.Post) (string, *platform.ReplyMarkup, error) {
	attachments := p.Attachments()

	var b strings.Builder
	fmt.Fprintf(&b, "📎 <b>%d attachment(s)</b>", len(attachments))

	var rows [][]platform.InlineButton
	for _, a := range attachments {
		btn, err := r.button(a.DisplayName(), ActionToken{Action: model.ActionSendFile, PostID: p.ID, Arg: a.FileID})
		if err != nil {
			return "", nil, err
		}
		rows = append(rows, []platform.InlineButton{btn})
	}
	back, err := r.button("« Back", ActionToken{Action: model.ActionBack, PostID: p.ID})
	if err != nil {
		return "", nil, err
	}
	rows = append(rows, []platform.InlineButton{back})

	return b.String(), platform.InlineRows(rows...), nil
}

func (r *Renderer) button(label string, t ActionToken) (platform.InlineButton, error) {
	data, err := r.tokens.Mint(t)
	if err != nil {
		return platform.InlineButton{}, fmt.Errorf("mint %s button: %w", t.Action, err)
	}
	return platform.InlineButton{Text: label, Data: data}, nil
}
