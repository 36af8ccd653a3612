package chat

import (
	"errors"
	"fmt"

	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/readpos"
	"github.com/umar/roomchat/internal/validator"
)

type Kind int

const (
	KindProtocol Kind = iota
	KindValidation
	KindAuth
	KindStore
	KindPermission
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindStore:
		return "store"
	case KindPermission:
		return "permission"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// Error is a frame-level failure reported to the client as an error frame.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	errInvalidJSON  = newError(KindProtocol, "INVALID_PAYLOAD", "frame is not valid JSON")
	errRateLimited  = newError(KindRateLimit, "RATE_LIMITED", "too many frames, slow down")
	errNotAuthor    = newError(KindPermission, "FORBIDDEN", "only the author can do that")
	errNotModerator = newError(KindPermission, "FORBIDDEN", "moderator role required")
	errRoomNotFound = newError(KindValidation, "NOT_FOUND", "room not found")
)

func unknownType(t string) *Error {
	return newError(KindProtocol, "UNKNOWN_TYPE", fmt.Sprintf("unknown frame type %q", t))
}

// sentinels maps store and tracker errors onto client-facing codes.
var sentinels = []struct {
	err     error
	code    string
	message string
}{
	{database.ErrEmptyContent, "EMPTY_CONTENT", "message must not be empty"},
	{database.ErrInvalidParent, "INVALID_REPLY", "reply target does not exist in this room"},
	{database.ErrReplyTooDeep, "REPLY_TOO_DEEP", "reply chain is too deep"},
	{database.ErrInvalidReaction, "INVALID_REACTION", "reaction must be like or dislike"},
	{database.ErrMessageDeleted, "MESSAGE_DELETED", "message is deleted"},
	{database.ErrRoomInactive, "ROOM_INACTIVE", "room is not active"},
	{database.ErrNotFound, "NOT_FOUND", "message not found"},
	{readpos.ErrMessageNotInRoom, "NOT_FOUND", "message does not belong to this room"},
	{readpos.ErrZeroTime, "INVALID_PAYLOAD", "upTo must be an RFC3339 timestamp"},
	{readpos.ErrInvalidTime, "INVALID_PAYLOAD", "upTo must be an RFC3339 timestamp"},
}

// classify turns any handler error into an *Error. Unrecognised errors are
// store failures and never leak driver text to the client.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var verrs validator.Errors
	if errors.As(err, &verrs) {
		return &Error{Kind: KindValidation, Code: "INVALID_PAYLOAD", Message: verrs.Error(), Err: err}
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return &Error{Kind: KindValidation, Code: s.code, Message: s.message, Err: err}
		}
	}
	return &Error{Kind: KindStore, Code: "INTERNAL_ERROR", Message: "internal error", Err: err}
}
