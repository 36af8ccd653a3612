package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/umar/roomchat/internal/models"
)

// React creates or updates the single reaction a user holds on a message.
func (s *Store) React(ctx context.Context, messageID, userID string, kind models.ReactionType) (*models.Reaction, error) {
	if !kind.Valid() {
		return nil, ErrInvalidReaction
	}
	var r models.Reaction
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var deleted bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_deleted FROM chat_messages WHERE id = $1 FOR SHARE`, messageID,
		).Scan(&deleted)
		if err != nil {
			if err = notFound(err); err == ErrNotFound {
				return err
			}
			return fmt.Errorf("failed to get message: %w", err)
		}
		if deleted {
			return ErrMessageDeleted
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO chat_reactions (message_id, user_id, reaction_type)
			VALUES ($1, $2, $3)
			ON CONFLICT (message_id, user_id) DO UPDATE SET
			    reaction_type = EXCLUDED.reaction_type,
			    updated_at = NOW()
			RETURNING id, message_id, user_id, reaction_type, created_at, updated_at`,
			messageID, userID, string(kind),
		).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Type, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			if err = notFound(err); err == ErrNotFound {
				return err
			}
			return fmt.Errorf("failed to save reaction: %w", err)
		}
		return recordAction(ctx, tx, userID, ActionReaction, messageID, map[string]any{
			"reaction": string(kind),
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ReactionCounts counts reaction rows by type at query time. Deleted
// messages report zero.
func (s *Store) ReactionCounts(ctx context.Context, messageID string) (likes, dislikes int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE r.reaction_type = 'like'),
		       COUNT(*) FILTER (WHERE r.reaction_type = 'dislike')
		FROM chat_reactions r
		JOIN chat_messages m ON m.id = r.message_id
		WHERE r.message_id = $1 AND NOT m.is_deleted`, messageID,
	).Scan(&likes, &dislikes)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("failed to count reactions: %w", err)
	}
	return likes, dislikes, nil
}

// ListReactions returns every reaction row for a message.
func (s *Store) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, reaction_type, created_at, updated_at
		FROM chat_reactions WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}
	defer rows.Close()
	reactions := []models.Reaction{}
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Type, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
