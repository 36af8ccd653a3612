package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/umar/roomchat/internal/models"
)

const positionColumns = `id, user_id, room_id, last_read_at, last_message_id, last_read_seq, unread_count, updated_at`

func scanPosition(row interface{ Scan(...any) error }) (*models.ReadPosition, error) {
	var p models.ReadPosition
	err := row.Scan(&p.ID, &p.UserID, &p.RoomID, &p.LastReadAt, &p.LastMessageID, &p.LastReadSeq, &p.UnreadCount, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ReadPosition returns the user's position in a room, creating the
// never-visited row on first access.
func (s *Store) ReadPosition(ctx context.Context, userID, roomID string) (*models.ReadPosition, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, `
		INSERT INTO chat_read_positions (user_id, room_id) VALUES ($1, $2)
		ON CONFLICT (user_id, room_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING `+positionColumns, userID, roomID))
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get read position: %w", err)
	}
	return p, nil
}

// CountUnread counts live messages after seq using the partial (room_id, seq) index.
func (s *Store) CountUnread(ctx context.Context, roomID string, afterSeq int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE room_id = $1 AND seq > $2 AND NOT is_deleted`,
		roomID, afterSeq,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return n, nil
}

// FirstUnread returns the earliest live message after seq, or nil.
func (s *Store) FirstUnread(ctx context.Context, roomID string, afterSeq int64) (*models.MessageView, error) {
	v, err := scanView(s.db.QueryRowContext(ctx, `
		SELECT `+viewColumns+`
		FROM chat_messages m `+viewJoins+`
		WHERE m.room_id = $1 AND m.seq > $2 AND NOT m.is_deleted
		ORDER BY m.seq ASC LIMIT 1`, roomID, afterSeq))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get first unread: %w", err)
	}
	return v, nil
}

// CursorAtMessage positions the cursor on a message of the room.
func (s *Store) CursorAtMessage(ctx context.Context, roomID, messageID string) (models.ReadCursor, error) {
	var c models.ReadCursor
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seq, created_at FROM chat_messages WHERE id = $1 AND room_id = $2`,
		messageID, roomID,
	).Scan(&id, &c.Seq, &c.At)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return c, err
		}
		return c, fmt.Errorf("failed to resolve message cursor: %w", err)
	}
	c.MessageID = &id
	return c, nil
}

// CursorAtTime positions the cursor at t; seq is the last message created
// at or before t.
func (s *Store) CursorAtTime(ctx context.Context, roomID string, t time.Time) (models.ReadCursor, error) {
	c := models.ReadCursor{At: t}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE room_id = $1 AND created_at <= $2`,
		roomID, t,
	).Scan(&c.Seq)
	if err != nil {
		return c, fmt.Errorf("failed to resolve time cursor: %w", err)
	}
	return c, nil
}

// CursorAtLatest positions the cursor on the latest committed message.
// Reading last_seq FOR SHARE waits for any insert holding the room lock,
// so the cursor comes from a stored message and never from wall-clock
// time. An empty room yields the database clock with seq 0.
func (s *Store) CursorAtLatest(ctx context.Context, roomID string) (models.ReadCursor, error) {
	var c models.ReadCursor
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var lastSeq int64
		var now time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT last_seq, clock_timestamp() FROM chat_rooms WHERE id = $1 FOR SHARE`, roomID,
		).Scan(&lastSeq, &now)
		if err != nil {
			if err = notFound(err); err == ErrNotFound {
				return err
			}
			return fmt.Errorf("failed to lock room: %w", err)
		}
		if lastSeq == 0 {
			c = models.ReadCursor{At: now}
			return nil
		}
		var id string
		err = tx.QueryRowContext(ctx,
			`SELECT id, seq, created_at FROM chat_messages WHERE room_id = $1 AND seq = $2`,
			roomID, lastSeq,
		).Scan(&id, &c.Seq, &c.At)
		if err != nil {
			return fmt.Errorf("failed to get latest message: %w", err)
		}
		c.MessageID = &id
		return nil
	})
	return c, err
}

const upsertPosition = `
	INSERT INTO chat_read_positions AS rp
	    (user_id, room_id, last_read_at, last_message_id, last_read_seq, unread_count, updated_at)
	VALUES ($1, $2, $3, $4, $5,
	    (SELECT COUNT(*) FROM chat_messages WHERE room_id = $2 AND seq > $5 AND NOT is_deleted),
	    NOW())
	ON CONFLICT (user_id, room_id) DO UPDATE SET
	    last_read_at = EXCLUDED.last_read_at,
	    last_message_id = EXCLUDED.last_message_id,
	    last_read_seq = EXCLUDED.last_read_seq,
	    unread_count = EXCLUDED.unread_count,
	    updated_at = NOW()`

// AdvanceReadPosition moves the cursor forward and recomputes the cached
// unread count in the same statement. A cursor behind the stored one
// leaves the row unchanged.
func (s *Store) AdvanceReadPosition(ctx context.Context, userID, roomID string, c models.ReadCursor) (*models.ReadPosition, error) {
	return s.saveReadPosition(ctx, userID, roomID, c,
		`WHERE rp.last_read_at IS NULL OR rp.last_read_seq <= EXCLUDED.last_read_seq`)
}

// SetReadPosition stores the cursor as given, moving it backwards when c
// is behind the stored one.
func (s *Store) SetReadPosition(ctx context.Context, userID, roomID string, c models.ReadCursor) (*models.ReadPosition, error) {
	return s.saveReadPosition(ctx, userID, roomID, c, "")
}

func (s *Store) saveReadPosition(ctx context.Context, userID, roomID string, c models.ReadCursor, guard string) (*models.ReadPosition, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		upsertPosition+" "+guard+" RETURNING "+positionColumns,
		userID, roomID, c.At, c.MessageID, c.Seq,
	))
	if err == nil {
		return p, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return s.ReadPosition(ctx, userID, roomID)
	}
	if err = notFound(err); err == ErrNotFound {
		return nil, err
	}
	return nil, fmt.Errorf("failed to save read position: %w", err)
}

// CacheUnreadCount refreshes the cached counter after a recompute.
func (s *Store) CacheUnreadCount(ctx context.Context, positionID string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_read_positions SET unread_count = $2, updated_at = NOW() WHERE id = $1`,
		positionID, n)
	if err != nil {
		return fmt.Errorf("failed to cache unread count: %w", err)
	}
	return nil
}
