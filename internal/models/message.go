package models

import (
	"time"
	"unicode/utf8"
)

// SnippetLength is the rune length of the parent excerpt carried in reply context.
const SnippetLength = 100

type Message struct {
	ID                string     `json:"id"`
	RoomID            string     `json:"roomId"`
	AuthorID          string     `json:"authorId"`
	Content           string     `json:"content"`
	ParentID          *string    `json:"parentId,omitempty"`
	Depth             int        `json:"depth"`
	Seq               int64      `json:"seq"`
	CreatedAt         time.Time  `json:"createdAt"`
	IsDeleted         bool       `json:"isDeleted"`
	DeletedBy         *string    `json:"deletedBy,omitempty"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
	IsEdited          bool       `json:"isEdited"`
	EditedBy          *string    `json:"editedBy,omitempty"`
	EditedAt          *time.Time `json:"editedAt,omitempty"`
	IsForwarded       bool       `json:"isForwarded"`
	OriginalMessageID *string    `json:"originalMessageId,omitempty"`
	IsPinned          bool       `json:"isPinned"`
	PinnedBy          *string    `json:"pinnedBy,omitempty"`
	PinnedAt          *time.Time `json:"pinnedAt,omitempty"`
}

// ReplyContext is the parent excerpt resolved at read time.
type ReplyContext struct {
	ID             string `json:"id"`
	AuthorID       string `json:"-"`
	AuthorUsername string `json:"-"`
	AuthorName     string `json:"authorName"`
	ContentSnippet string `json:"contentSnippet"`
}

// MessageView is a message joined with its author, reply context and
// reaction counts. It is recipient independent; per-viewer fields are
// computed when a frame is rendered.
type MessageView struct {
	Message
	Author        Principal     `json:"author"`
	ReplyTo       *ReplyContext `json:"replyTo"`
	LikesCount    int           `json:"likesCount"`
	DislikesCount int           `json:"dislikesCount"`
}

// Snippet truncates s to n runes, appending an ellipsis when cut.
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
