package model_test

import (
	"errors"
	"testing"

	"askboard/internal/model"
)

func TestStripTags(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<b>bold</b> rest", "bold rest"},
		{`before <a href="https://example.com">link</a> after`, "before link after"},
		{"<pre><code>plain</code></pre>", "plain"},
		{"a < b > c", "a  c"},
		{"dangling <b", "dangling "},
		{"", ""},
	}
	for _, tc := range cases {
		if got := model.StripTags(tc.in); got != tc.want {
			t.Errorf("StripTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTextJoinsTextFragmentsOnly(t *testing.T) {
	p := &model.Post{Fragments: []model.Fragment{
		{Kind: model.KindText, Seq: 1, Text: "first"},
		{Kind: model.KindPhoto, Seq: 2, FileID: "f1"},
		{Kind: model.KindText, Seq: 3, Text: "second"},
	}}
	if got := p.Text(); got != "first\nsecond" {
		t.Errorf("Text = %q, want %q", got, "first\nsecond")
	}
	if got := len(p.Attachments()); got != 1 {
		t.Errorf("Attachments = %d, want 1", got)
	}
}

func TestRawLenIgnoresMarkup(t *testing.T) {
	p := &model.Post{Fragments: []model.Fragment{
		{Kind: model.KindText, Seq: 1, Text: "<b>ten chars</b>"},
	}}
	if got := p.RawLen(); got != 9 {
		t.Errorf("RawLen = %d, want 9", got)
	}
}

func TestRawLenCountsCharactersNotBytes(t *testing.T) {
	// Ten Cyrillic characters, nineteen bytes.
	p := &model.Post{Fragments: []model.Fragment{
		{Kind: model.KindText, Seq: 1, Text: "почему так"},
	}}
	if got := p.RawLen(); got != 10 {
		t.Errorf("RawLen = %d, want 10", got)
	}
}

func TestKindAllowed(t *testing.T) {
	if !model.KindAllowed(model.TypeQuestion, model.KindPhoto) {
		t.Error("questions should accept photos")
	}
	if !model.KindAllowed(model.TypeAnswer, model.KindVoice) {
		t.Error("answers should accept voice notes")
	}
	if model.KindAllowed(model.TypeComment, model.KindPhoto) {
		t.Error("comments are text-only")
	}
	if !model.KindAllowed(model.TypeComment, model.KindText) {
		t.Error("comments should accept text")
	}
}

func TestFragmentDisplayName(t *testing.T) {
	name := "report.pdf"
	f := model.Fragment{Kind: model.KindDocument, FileName: &name}
	if got := f.DisplayName(); got != "report.pdf" {
		t.Errorf("DisplayName = %q, want report.pdf", got)
	}
	f.FileName = nil
	if got := f.DisplayName(); got != "document" {
		t.Errorf("DisplayName without file name = %q, want document", got)
	}
}

func TestCharLimitErrorUnwraps(t *testing.T) {
	var err error = &model.CharLimitError{Extra: 7}
	if !errors.Is(err, model.ErrCharLimitExceeded) {
		t.Error("CharLimitError does not unwrap to ErrCharLimitExceeded")
	}
	var cle *model.CharLimitError
	if !errors.As(err, &cle) || cle.Extra != 7 {
		t.Errorf("errors.As = %+v", cle)
	}
}

func TestComposeTypeMapping(t *testing.T) {
	cases := []struct {
		state model.ConvState
		want  model.PostType
		ok    bool
	}{
		{model.StateAskQuestion, model.TypeQuestion, true},
		{model.StateAnswerQuestion, model.TypeAnswer, true},
		{model.StateCommentPost, model.TypeComment, true},
		{model.StateMain, "", false},
	}
	for _, tc := range cases {
		got, ok := tc.state.ComposeType()
		if got != tc.want || ok != tc.ok {
			t.Errorf("ComposeType(%s) = (%s, %v), want (%s, %v)", tc.state, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDisplayIdentity(t *testing.T) {
	username := "alice_dev"
	u := &model.User{ChatID: 1, FirstName: "Alice", Username: &username}

	u.Identity = model.IdentityAnonymous
	if got := u.DisplayIdentity(); got != "Anonymous" {
		t.Errorf("anonymous = %q, want Anonymous", got)
	}

	u.Identity = model.IdentityFirstName
	if got := u.DisplayIdentity(); got != "Alice" {
		t.Errorf("first name = %q, want Alice", got)
	}

	u.Identity = model.IdentityUsername
	if got := u.DisplayIdentity(); got != "@alice_dev" {
		t.Errorf("username = %q, want @alice_dev", got)
	}

	// Username disclosure without a username falls back to anonymous.
	u.Username = nil
	if got := u.DisplayIdentity(); got != "Anonymous" {
		t.Errorf("username fallback = %q, want Anonymous", got)
	}
}
