package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/umar/roomchat/internal/auth"
	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
)

// Store is the persistence the REST handlers read from.
type Store interface {
	UpsertUser(ctx context.Context, p models.Principal) error
	GetRoomByName(ctx context.Context, name string) (*models.Room, error)
	GetHistory(ctx context.Context, roomID string, limit int) ([]models.MessageView, error)
	ListPinned(ctx context.Context, roomID string) ([]models.MessageView, error)
	GetMessage(ctx context.Context, id string) (*models.MessageView, error)
	ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error)
	AuditTrail(ctx context.Context, messageID string) ([]database.AuditEntry, error)
}

// resolve loads the caller and the room named in the path. It writes the
// error response and returns false when either is unavailable.
func resolve(w http.ResponseWriter, r *http.Request, store Store) (models.Principal, *models.Room, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return p, nil, false
	}
	if err := store.UpsertUser(r.Context(), p); err != nil {
		slog.Error("failed to upsert user", "error", err, "user_id", p.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return p, nil, false
	}
	room, err := store.GetRoomByName(r.Context(), mux.Vars(r)["room"])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return p, nil, false
		}
		slog.Error("failed to get room", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return p, nil, false
	}
	return p, room, true
}

// messageOf loads the message named in the path, which must belong to room.
func messageOf(w http.ResponseWriter, r *http.Request, store Store, room *models.Room) (*models.MessageView, bool) {
	v, err := store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		slog.Error("failed to get message", "error", err, "room_id", room.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if err != nil || v.RoomID != room.ID {
		writeError(w, http.StatusNotFound, "message not found")
		return nil, false
	}
	return v, true
}
