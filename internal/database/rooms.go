package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/umar/roomchat/internal/models"
)

const roomColumns = `id, name, description, is_active, last_seq, created_at`

func scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	var r models.Room
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive, &r.LastSeq, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateOrGetRoom returns the room with the given name, creating it first
// when it does not exist yet.
func (s *Store) CreateOrGetRoom(ctx context.Context, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidRoomName
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	r, err := scanRoom(s.db.QueryRowContext(ctx, `
		INSERT INTO chat_rooms (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING `+roomColumns, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create or get room: %w", err)
	}
	return r, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, id))
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return r, nil
}

func (s *Store) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM chat_rooms WHERE name = $1`, strings.TrimSpace(name)))
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return r, nil
}

// SetRoomActive soft-enables or soft-disables a room. Rooms are never deleted.
func (s *Store) SetRoomActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_rooms SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return err
		}
		return fmt.Errorf("failed to update room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
