package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ActionEdit     = "message.edit"
	ActionDelete   = "message.delete"
	ActionPin      = "message.pin"
	ActionUnpin    = "message.unpin"
	ActionForward  = "message.forward"
	ActionReaction = "reaction.set"
)

type AuditEntry struct {
	ID        int64           `json:"id"`
	ActorID   string          `json:"actorId"`
	Action    string          `json:"action"`
	MessageID string          `json:"messageId"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"createdAt"`
}

// recordAction writes an audit row inside the caller's transaction so the
// entry commits or rolls back together with the mutation it describes.
func recordAction(ctx context.Context, tx *sql.Tx, actorID, action, messageID string, detail map[string]any) error {
	raw := []byte("{}")
	if len(detail) > 0 {
		var err error
		if raw, err = json.Marshal(detail); err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO chat_audit_log (actor_id, action, message_id, detail) VALUES ($1, $2, $3, $4)`,
		actorID, action, messageID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", action, err)
	}
	return nil
}

// AuditTrail lists the recorded actions for a message, oldest first.
func (s *Store) AuditTrail(ctx context.Context, messageID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, message_id, detail, created_at
		FROM chat_audit_log WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer rows.Close()
	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var detail string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.MessageID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = json.RawMessage(detail)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
