package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/umar/roomchat/internal/models"
)

const viewColumns = `
	m.id, m.room_id, m.author_id, m.content, m.parent_id, m.depth, m.seq, m.created_at,
	m.is_deleted, m.deleted_by, m.deleted_at, m.is_edited, m.edited_by, m.edited_at,
	m.is_forwarded, m.original_message_id, m.is_pinned, m.pinned_by, m.pinned_at,
	u.id, u.username, u.display_name, u.role, u.role_icon,
	p.id, p.content, p.is_deleted, pu.id, pu.username, pu.display_name,
	COALESCE(rc.likes, 0), COALESCE(rc.dislikes, 0)`

// viewJoins resolves reply context and reaction counts at read time.
// Reactions on deleted messages are not aggregated.
const viewJoins = `
	JOIN chat_users u ON u.id = m.author_id
	LEFT JOIN chat_messages p ON p.id = m.parent_id
	LEFT JOIN chat_users pu ON pu.id = p.author_id
	LEFT JOIN LATERAL (
	    SELECT COUNT(*) FILTER (WHERE reaction_type = 'like') AS likes,
	           COUNT(*) FILTER (WHERE reaction_type = 'dislike') AS dislikes
	    FROM chat_reactions WHERE message_id = m.id
	) rc ON NOT m.is_deleted`

func scanView(row interface{ Scan(...any) error }) (*models.MessageView, error) {
	var (
		v             models.MessageView
		parentID      sql.NullString
		parentContent sql.NullString
		parentDeleted sql.NullBool
		parentAuthor  sql.NullString
		parentUser    sql.NullString
		parentName    sql.NullString
	)
	m := &v.Message
	err := row.Scan(
		&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.ParentID, &m.Depth, &m.Seq, &m.CreatedAt,
		&m.IsDeleted, &m.DeletedBy, &m.DeletedAt, &m.IsEdited, &m.EditedBy, &m.EditedAt,
		&m.IsForwarded, &m.OriginalMessageID, &m.IsPinned, &m.PinnedBy, &m.PinnedAt,
		&v.Author.ID, &v.Author.Username, &v.Author.DisplayName, &v.Author.Role, &v.Author.RoleIcon,
		&parentID, &parentContent, &parentDeleted, &parentAuthor, &parentUser, &parentName,
		&v.LikesCount, &v.DislikesCount,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		rc := &models.ReplyContext{
			ID:             parentID.String,
			AuthorID:       parentAuthor.String,
			AuthorUsername: parentUser.String,
			AuthorName:     parentName.String,
		}
		if rc.AuthorName == "" {
			rc.AuthorName = parentUser.String
		}
		if !parentDeleted.Bool {
			rc.ContentSnippet = models.Snippet(parentContent.String, models.SnippetLength)
		}
		v.ReplyTo = rc
	}
	return &v, nil
}

func getMessageView(ctx context.Context, q queryer, id string) (*models.MessageView, error) {
	v, err := scanView(q.QueryRowContext(ctx,
		`SELECT `+viewColumns+` FROM chat_messages m `+viewJoins+` WHERE m.id = $1`, id))
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return v, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.MessageView, error) {
	return getMessageView(ctx, s.db, id)
}

// nextSeq takes the room row lock and hands out the next sequence number.
// The lock is held until commit, so seq order equals commit order within
// a room and created_at (clock_timestamp) increases with seq.
func nextSeq(ctx context.Context, tx *sql.Tx, roomID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`UPDATE chat_rooms SET last_seq = last_seq + 1 WHERE id = $1 AND is_active RETURNING last_seq`,
		roomID,
	).Scan(&seq)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if err = notFound(err); err == ErrNotFound {
			return 0, err
		}
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE id = $1)`, roomID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check room: %w", err)
	}
	if exists {
		return 0, ErrRoomInactive
	}
	return 0, ErrNotFound
}

// PostMessage stores a new message. A parent must exist in the same room
// and the reply chain must stay within MaxReplyDepth.
func (s *Store) PostMessage(ctx context.Context, roomID, authorID, content string, parentID *string) (*models.MessageView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	var view *models.MessageView
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		depth := 0
		if parentID != nil {
			var parentRoom string
			var parentDepth int
			err := tx.QueryRowContext(ctx,
				`SELECT room_id, depth FROM chat_messages WHERE id = $1`, *parentID,
			).Scan(&parentRoom, &parentDepth)
			if err != nil {
				if err = notFound(err); err == ErrNotFound {
					return ErrInvalidParent
				}
				return fmt.Errorf("failed to get parent message: %w", err)
			}
			if parentRoom != roomID {
				return ErrInvalidParent
			}
			depth = parentDepth + 1
			if depth > MaxReplyDepth {
				return ErrReplyTooDeep
			}
		}

		seq, err := nextSeq(ctx, tx, roomID)
		if err != nil {
			return err
		}

		var id string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO chat_messages (room_id, author_id, content, parent_id, depth, seq)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			roomID, authorID, content, parentID, depth, seq,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		view, err = getMessageView(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ForwardMessage copies a message into targetRoomID, keeping a reference
// to the original.
func (s *Store) ForwardMessage(ctx context.Context, originalID, targetRoomID, actorID string) (*models.MessageView, error) {
	var view *models.MessageView
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var content string
		var deleted bool
		err := tx.QueryRowContext(ctx,
			`SELECT content, is_deleted FROM chat_messages WHERE id = $1`, originalID,
		).Scan(&content, &deleted)
		if err != nil {
			if err = notFound(err); err == ErrNotFound {
				return err
			}
			return fmt.Errorf("failed to get message: %w", err)
		}
		if deleted {
			return ErrMessageDeleted
		}

		seq, err := nextSeq(ctx, tx, targetRoomID)
		if err != nil {
			return err
		}

		var id string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO chat_messages (room_id, author_id, content, seq, is_forwarded, original_message_id)
			VALUES ($1, $2, $3, $4, TRUE, $5)
			RETURNING id`,
			targetRoomID, actorID, content, seq, originalID,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to forward message: %w", err)
		}
		if err := recordAction(ctx, tx, actorID, ActionForward, id, map[string]any{
			"original_message_id": originalID,
		}); err != nil {
			return err
		}

		view, err = getMessageView(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// missingOrDeleted explains why a guarded update touched no rows.
func missingOrDeleted(ctx context.Context, q queryer, id string) error {
	var deleted bool
	err := q.QueryRowContext(ctx, `SELECT is_deleted FROM chat_messages WHERE id = $1`, id).Scan(&deleted)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return err
		}
		return fmt.Errorf("failed to get message: %w", err)
	}
	if deleted {
		return ErrMessageDeleted
	}
	return ErrNotFound
}

// updateLive runs a guarded UPDATE on a non-deleted message, records the
// action and returns the refreshed view. $1 of query must be the message id.
func (s *Store) updateLive(ctx context.Context, id, actorID, action string, query string, args ...any) (*models.MessageView, error) {
	var view *models.MessageView
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, append([]any{id}, args...)...)
		if err != nil {
			if err = notFound(err); err == ErrNotFound {
				return err
			}
			return fmt.Errorf("failed to update message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missingOrDeleted(ctx, tx, id)
		}
		if err := recordAction(ctx, tx, actorID, action, id, nil); err != nil {
			return err
		}
		view, err = getMessageView(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Store) EditMessage(ctx context.Context, id, editorID, newContent string) (*models.MessageView, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, ErrEmptyContent
	}
	return s.updateLive(ctx, id, editorID, ActionEdit, `
		UPDATE chat_messages
		SET content = $3, is_edited = TRUE, edited_by = $2, edited_at = NOW()
		WHERE id = $1 AND NOT is_deleted`, editorID, newContent)
}

func (s *Store) PinMessage(ctx context.Context, id, actorID string) (*models.MessageView, error) {
	return s.updateLive(ctx, id, actorID, ActionPin, `
		UPDATE chat_messages
		SET is_pinned = TRUE, pinned_by = $2, pinned_at = NOW()
		WHERE id = $1 AND NOT is_deleted`, actorID)
}

func (s *Store) UnpinMessage(ctx context.Context, id, actorID string) (*models.MessageView, error) {
	return s.updateLive(ctx, id, actorID, ActionUnpin, `
		UPDATE chat_messages
		SET is_pinned = FALSE, pinned_by = NULL, pinned_at = NULL
		WHERE id = $1 AND NOT is_deleted`)
}

// SoftDeleteMessage flags the message deleted; content is kept. Deleting
// an already deleted message is a no-op.
func (s *Store) SoftDeleteMessage(ctx context.Context, id, actorID string) (*models.MessageView, error) {
	view, err := s.updateLive(ctx, id, actorID, ActionDelete, `
		UPDATE chat_messages
		SET is_deleted = TRUE, deleted_by = $2, deleted_at = NOW()
		WHERE id = $1 AND NOT is_deleted`, actorID)
	if errors.Is(err, ErrMessageDeleted) {
		return s.GetMessage(ctx, id)
	}
	return view, err
}

// GetHistory returns the newest limit messages of a room in chronological
// order. Deleted messages are included and flagged.
func (s *Store) GetHistory(ctx context.Context, roomID string, limit int) ([]models.MessageView, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+viewColumns+`
		FROM (
		    SELECT * FROM chat_messages WHERE room_id = $1
		    ORDER BY seq DESC LIMIT $2
		) m `+viewJoins+`
		ORDER BY m.seq ASC`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return collectViews(rows)
}

func (s *Store) ListPinned(ctx context.Context, roomID string) ([]models.MessageView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+viewColumns+`
		FROM chat_messages m `+viewJoins+`
		WHERE m.room_id = $1 AND m.is_pinned AND NOT m.is_deleted
		ORDER BY m.pinned_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pinned messages: %w", err)
	}
	return collectViews(rows)
}

func collectViews(rows *sql.Rows) ([]models.MessageView, error) {
	defer rows.Close()
	messages := []models.MessageView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
