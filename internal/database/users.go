package database

import (
	"context"
	"fmt"

	"github.com/umar/roomchat/internal/models"
)

// UpsertUser projects the externally authenticated principal into the
// local users table so history can resolve author display data.
func (s *Store) UpsertUser(ctx context.Context, p models.Principal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_users (id, username, display_name, role, role_icon, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
		    username = EXCLUDED.username,
		    display_name = EXCLUDED.display_name,
		    role = EXCLUDED.role,
		    role_icon = EXCLUDED.role_icon,
		    updated_at = NOW()`,
		p.ID, p.Username, p.DisplayName, p.Role, p.RoleIcon,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, role, role_icon, updated_at
		FROM chat_users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.RoleIcon, &u.UpdatedAt)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
