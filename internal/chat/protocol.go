package chat

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/umar/roomchat/internal/models"
)

// Inbound frame types.
const (
	TypeMessage          = "message"
	TypeFetchMessages    = "fetchMessages"
	TypeFetchOnlineUsers = "fetchOnlineUsers"
	TypeTyping           = "typing"
	TypeReaction         = "reaction"
	TypeMarkRead         = "markRead"
	TypeEditMessage      = "editMessage"
	TypeDeleteMessage    = "deleteMessage"
	TypePinMessage       = "pinMessage"
	TypeUnpinMessage     = "unpinMessage"
	TypeForwardMessage   = "forwardMessage"
)

// Outbound frame types. Event kinds double as frame types.
const (
	TypeMessagesHistory = "messagesHistory"
	TypeOnlineUsers     = "onlineUsers"
	TypeForwarded       = "messageForwarded"
	TypeError           = "error"
)

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// decodeFrame accepts {type, payload:{...}} and also the flat form where
// the payload fields sit next to type.
func decodeFrame(data []byte) (WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	p := bytes.TrimSpace(msg.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		msg.Payload = data
	}
	return msg, nil
}

type SendMessagePayload struct {
	Message   string  `json:"message" validate:"required,max=4000"`
	ReplyToID *string `json:"replyToId" validate:"omitempty,uuid"`
}

// FetchMessagesPayload.Page is accepted and ignored; history is a bounded
// window of the newest messages.
type FetchMessagesPayload struct {
	Page int `json:"page"`
}

type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Reaction  string `json:"reaction" validate:"required,oneof=like dislike"`
}

type MarkReadPayload struct {
	MessageID *string `json:"messageId" validate:"omitempty,uuid"`
	UpTo      string  `json:"upTo"`
}

type EditMessagePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Message   string `json:"message" validate:"required,max=4000"`
}

type MessageRefPayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

type ForwardMessagePayload struct {
	MessageID  string `json:"messageId" validate:"required,uuid"`
	TargetRoom string `json:"targetRoom" validate:"required,max=100"`
}

type ReplyFrame struct {
	ID             string `json:"id"`
	AuthorName     string `json:"authorName"`
	ContentSnippet string `json:"contentSnippet"`
}

// MessageFrame is a message as one particular recipient sees it.
type MessageFrame struct {
	ID             string      `json:"id"`
	Content        string      `json:"content"`
	AuthorName     string      `json:"authorName"`
	AuthorRole     string      `json:"authorRole"`
	AuthorRoleIcon string      `json:"authorRoleIcon"`
	CreatedAt      string      `json:"createdAt"`
	IsOwn          bool        `json:"isOwn"`
	ReplyTo        *ReplyFrame `json:"replyTo"`
	IsReplyToMe    bool        `json:"isReplyToMe"`
	LikesCount     int         `json:"likesCount"`
	DislikesCount  int         `json:"dislikesCount"`
	IsEdited       bool        `json:"isEdited"`
	IsPinned       bool        `json:"isPinned"`
	IsDeleted      bool        `json:"isDeleted"`
	IsForwarded    bool        `json:"isForwarded"`
}

// RenderMessage computes the per-viewer fields of v.
func RenderMessage(v *models.MessageView, replyToAuthorID string, viewer models.Principal) MessageFrame {
	f := MessageFrame{
		ID:             v.ID,
		Content:        v.Content,
		AuthorName:     v.Author.Name(),
		AuthorRole:     v.Author.Role,
		AuthorRoleIcon: v.Author.RoleIcon,
		CreatedAt:      v.CreatedAt.UTC().Format(time.RFC3339Nano),
		IsOwn:          v.AuthorID == viewer.ID,
		LikesCount:     v.LikesCount,
		DislikesCount:  v.DislikesCount,
		IsEdited:       v.IsEdited,
		IsPinned:       v.IsPinned,
		IsDeleted:      v.IsDeleted,
		IsForwarded:    v.IsForwarded,
	}
	if v.IsDeleted {
		f.Content = ""
	}
	if v.ReplyTo != nil {
		f.ReplyTo = &ReplyFrame{ID: v.ReplyTo.ID, AuthorName: v.ReplyTo.AuthorName, ContentSnippet: v.ReplyTo.ContentSnippet}
		f.IsReplyToMe = replyToAuthorID != "" && replyToAuthorID == viewer.ID
	}
	return f
}

func renderHistory(views []models.MessageView, viewer models.Principal) []MessageFrame {
	out := make([]MessageFrame, 0, len(views))
	for i := range views {
		v := &views[i]
		var replyAuthor string
		if v.ReplyTo != nil {
			replyAuthor = v.ReplyTo.AuthorID
		}
		out = append(out, RenderMessage(v, replyAuthor, viewer))
	}
	return out
}

type HistoryPayload struct {
	Messages      []MessageFrame `json:"messages"`
	UnreadCount   int            `json:"unreadCount"`
	FirstUnreadID *string        `json:"firstUnreadId"`
}

type ReactionUpdatedPayload struct {
	MessageID     string `json:"messageId"`
	LikesCount    int    `json:"likesCount"`
	DislikesCount int    `json:"dislikesCount"`
}

type MemberPayload struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	RoleIcon    string `json:"roleIcon"`
	OnlineCount int    `json:"onlineCount"`
}

type TypingUpdatePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

type OnlineUsersPayload struct {
	Users []models.Principal `json:"users"`
}

type ReadPositionPayload struct {
	RoomID        string           `json:"roomId"`
	UnreadCount   int              `json:"unreadCount"`
	LastReadAt    *string          `json:"lastReadAt"`
	LastMessageID *string          `json:"lastMessageId"`
	State         models.ReadState `json:"state"`
}

// ForwardedPayload acknowledges a forward to the sender.
type ForwardedPayload struct {
	MessageID         string `json:"messageId"`
	OriginalMessageID string `json:"originalMessageId"`
	TargetRoom        string `json:"targetRoom"`
}

type ErrorPayload struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	RequestType string `json:"requestType,omitempty"`
}

func NewWSMessage(msgType string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	msg := WSMessage{Type: msgType, Payload: p}
	return json.Marshal(msg)
}

// encodeEvent renders ev for one recipient.
func encodeEvent(ev Event, viewer models.Principal) ([]byte, error) {
	if ev.Message != nil {
		return NewWSMessage(string(ev.Kind), RenderMessage(ev.Message, ev.ReplyToAuthorID, viewer))
	}
	return json.Marshal(WSMessage{Type: string(ev.Kind), Payload: ev.Payload})
}
