package model

// Action is one interactive control offered to a specific viewer for a
// specific post. Every inline button carries a signed token naming its
// action so a stale client cannot forge one the resolver never offered.
type Action string

// Capability-resolver actions, in menu order.
const (
	ActionBack       Action = "back"
	ActionComment    Action = "comment"
	ActionFollow     Action = "follow"
	ActionUnfollow   Action = "unfollow"
	ActionEdit       Action = "edit"
	ActionUndelete   Action = "undelete"
	ActionDelete     Action = "delete"
	ActionClose      Action = "close"
	ActionOpen       Action = "open"
	ActionAnswer     Action = "answer"
	ActionAccept     Action = "accept"
	ActionUnaccept   Action = "unaccept"
	ActionBookmark   Action = "bookmark"
	ActionUnbookmark Action = "unbookmark"
)

// Post-keyboard and gallery actions.
const (
	ActionActions      Action = "actions"
	ActionLike         Action = "like"
	ActionShowMore     Action = "show_more"
	ActionShowLess     Action = "show_less"
	ActionShowAnswers  Action = "show_answers"
	ActionShowComments Action = "show_comments"
	ActionOriginalPost Action = "original_post"
	ActionAttachments  Action = "attachments"
	ActionSendFile     Action = "send_file"
	ActionNextPage     Action = "next_page"
	ActionPrevPage     Action = "prev_page"
	ActionPageBoundary Action = "page_boundary"
	ActionExport       Action = "export"
)

// OpenPostOnlyActions are suppressed on any post that is not open.
// Owner lifecycle controls (delete/undelete/close/open) stay available.
var OpenPostOnlyActions = map[Action]bool{
	ActionComment: true,
	ActionEdit:    true,
	ActionAnswer:  true,
}
