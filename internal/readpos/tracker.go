// Package readpos tracks per-user, per-room read positions.
//
// A position moves through three states: NEVER_VISITED until the first
// explicit mark, then CAUGHT_UP or BEHIND depending on whether live
// messages exist past the cursor. Only MarkAsRead moves the cursor. A mark
// up to a message or a time puts it exactly there, backwards included; a
// mark of "now" only ever moves it forward.
//
// Unread counts are always recomputed from the (room_id, seq) range. The
// cached counter on the row is refreshed as a side effect for reporting
// and is never used as the answer.
package readpos

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
)

var (
	// ErrMessageNotInRoom is returned when marking up to a message that
	// does not belong to the room.
	ErrMessageNotInRoom = errors.New("message does not belong to this room")
	ErrZeroTime         = errors.New("read mark time must be set")
	ErrInvalidTime      = errors.New("read mark time must be RFC3339")
)

// Store is the persistence the tracker needs; *database.Store implements it.
type Store interface {
	ReadPosition(ctx context.Context, userID, roomID string) (*models.ReadPosition, error)
	CountUnread(ctx context.Context, roomID string, afterSeq int64) (int, error)
	FirstUnread(ctx context.Context, roomID string, afterSeq int64) (*models.MessageView, error)
	CursorAtMessage(ctx context.Context, roomID, messageID string) (models.ReadCursor, error)
	CursorAtTime(ctx context.Context, roomID string, t time.Time) (models.ReadCursor, error)
	CursorAtLatest(ctx context.Context, roomID string) (models.ReadCursor, error)
	AdvanceReadPosition(ctx context.Context, userID, roomID string, c models.ReadCursor) (*models.ReadPosition, error)
	SetReadPosition(ctx context.Context, userID, roomID string, c models.ReadCursor) (*models.ReadPosition, error)
	CacheUnreadCount(ctx context.Context, positionID string, n int) error
}

type markKind int

const (
	markNow markKind = iota
	markMessage
	markTime
)

// Mark selects where MarkAsRead puts the cursor.
type Mark struct {
	kind      markKind
	messageID string
	at        time.Time
}

// Now marks everything committed so far as read.
func Now() Mark { return Mark{kind: markNow} }

// UpToMessage marks the given message and everything before it as read.
func UpToMessage(id string) Mark { return Mark{kind: markMessage, messageID: id} }

// UpToTime marks messages created at or before t as read.
func UpToTime(t time.Time) Mark { return Mark{kind: markTime, at: t} }

// ParseMark builds a mark from wire fields. A message id wins over a
// timestamp; neither means now.
func ParseMark(messageID, upTo string) (Mark, error) {
	if messageID != "" {
		return UpToMessage(messageID), nil
	}
	if upTo != "" {
		t, err := time.Parse(time.RFC3339Nano, upTo)
		if err != nil {
			return Mark{}, ErrInvalidTime
		}
		if t.IsZero() {
			return Mark{}, ErrZeroTime
		}
		return UpToTime(t), nil
	}
	return Now(), nil
}

func (m Mark) String() string {
	switch m.kind {
	case markMessage:
		return "message:" + m.messageID
	case markTime:
		return "time:" + m.at.UTC().Format(time.RFC3339Nano)
	default:
		return "now"
	}
}

// Status is a position with its freshly computed unread state.
type Status struct {
	Position    models.ReadPosition
	State       models.ReadState
	UnreadCount int
}

type Tracker struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// UnreadCount is zero for a never-visited room regardless of backlog.
func (t *Tracker) UnreadCount(ctx context.Context, userID, roomID string) (int, error) {
	st, err := t.Status(ctx, userID, roomID)
	if err != nil {
		return 0, err
	}
	return st.UnreadCount, nil
}

// Status returns the position and its state, recomputing the count.
func (t *Tracker) Status(ctx context.Context, userID, roomID string) (*Status, error) {
	pos, err := t.store.ReadPosition(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	return t.status(ctx, pos)
}

func (t *Tracker) status(ctx context.Context, pos *models.ReadPosition) (*Status, error) {
	if pos.LastReadAt == nil {
		return &Status{Position: *pos, State: models.StateNeverVisited}, nil
	}
	n, err := t.store.CountUnread(ctx, pos.RoomID, pos.LastReadSeq)
	if err != nil {
		return nil, err
	}
	if n != pos.UnreadCount {
		if err := t.store.CacheUnreadCount(ctx, pos.ID, n); err != nil {
			t.logger.Warn("failed to refresh cached unread count", "error", err, "user_id", pos.UserID, "room_id", pos.RoomID)
		}
		pos.UnreadCount = n
	}
	return &Status{Position: *pos, State: pos.State(), UnreadCount: n}, nil
}

// FirstUnread returns the earliest live unread message, or nil when the
// room was never visited or nothing is unread.
func (t *Tracker) FirstUnread(ctx context.Context, userID, roomID string) (*models.MessageView, error) {
	pos, err := t.store.ReadPosition(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if pos.LastReadAt == nil {
		return nil, nil
	}
	return t.store.FirstUnread(ctx, roomID, pos.LastReadSeq)
}

// MarkAsRead resolves the mark to a cursor taken from stored messages and
// stores it. Message and time marks are applied as given, so they can
// move the cursor backwards. A now mark that resolves behind the stored
// cursor, as when another session marked concurrently, is a no-op.
func (t *Tracker) MarkAsRead(ctx context.Context, userID, roomID string, mark Mark) (*Status, error) {
	cursor, err := t.resolve(ctx, roomID, mark)
	if err != nil {
		return nil, err
	}

	var pos *models.ReadPosition
	if mark.kind == markNow {
		pos, err = t.store.AdvanceReadPosition(ctx, userID, roomID, cursor)
	} else {
		pos, err = t.store.SetReadPosition(ctx, userID, roomID, cursor)
	}
	if err != nil {
		return nil, err
	}
	if mark.kind == markNow && pos.LastReadSeq > cursor.Seq {
		t.logger.Debug("ignoring read mark behind cursor", "user_id", userID, "room_id", roomID, "mark", mark.String())
	}
	// The stored count was computed in the same statement as the cursor;
	// status recomputes it again only if a concurrent insert changed it.
	return t.status(ctx, pos)
}

func (t *Tracker) resolve(ctx context.Context, roomID string, mark Mark) (models.ReadCursor, error) {
	switch mark.kind {
	case markMessage:
		c, err := t.store.CursorAtMessage(ctx, roomID, mark.messageID)
		if errors.Is(err, database.ErrNotFound) {
			return c, ErrMessageNotInRoom
		}
		return c, err
	case markTime:
		if mark.at.IsZero() {
			return models.ReadCursor{}, ErrZeroTime
		}
		return t.store.CursorAtTime(ctx, roomID, mark.at)
	default:
		return t.store.CursorAtLatest(ctx, roomID)
	}
}
