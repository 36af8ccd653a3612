package models

import "time"

type ReadState string

const (
	StateNeverVisited ReadState = "NEVER_VISITED"
	StateCaughtUp     ReadState = "CAUGHT_UP"
	StateBehind       ReadState = "BEHIND"
)

// ReadPosition is the per (user, room) cursor. A nil LastReadAt means the
// user never marked the room read, so nothing counts as unread yet.
type ReadPosition struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	RoomID        string     `json:"roomId"`
	LastReadAt    *time.Time `json:"lastReadAt"`
	LastMessageID *string    `json:"lastMessageId"`
	LastReadSeq   int64      `json:"lastReadSeq"`
	UnreadCount   int        `json:"unreadCount"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (p *ReadPosition) State() ReadState {
	switch {
	case p == nil || p.LastReadAt == nil:
		return StateNeverVisited
	case p.UnreadCount > 0:
		return StateBehind
	default:
		return StateCaughtUp
	}
}

// ReadCursor is a resolved boundary between read and unread messages.
type ReadCursor struct {
	At        time.Time
	Seq       int64
	MessageID *string
}
