package handlers

import (
	"log/slog"
	"net/http"
)

// GetReactions lists who reacted to a message and how.
func GetReactions(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, room, ok := resolve(w, r, store)
		if !ok {
			return
		}
		msg, ok := messageOf(w, r, store, room)
		if !ok {
			return
		}
		reactions, err := store.ListReactions(r.Context(), msg.ID)
		if err != nil {
			slog.Error("failed to list reactions", "error", err, "message_id", msg.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messageId":     msg.ID,
			"likesCount":    msg.LikesCount,
			"dislikesCount": msg.DislikesCount,
			"reactions":     reactions,
		})
	}
}

// GetAuditTrail returns the recorded moderation and edit history of a
// message. Only moderator roles may read it.
func GetAuditTrail(store Store, moderatorRoles []string) http.HandlerFunc {
	moderators := make(map[string]bool, len(moderatorRoles))
	for _, role := range moderatorRoles {
		moderators[role] = true
	}
	return func(w http.ResponseWriter, r *http.Request) {
		p, room, ok := resolve(w, r, store)
		if !ok {
			return
		}
		if !moderators[p.Role] {
			writeError(w, http.StatusForbidden, "moderator role required")
			return
		}
		msg, ok := messageOf(w, r, store, room)
		if !ok {
			return
		}
		entries, err := store.AuditTrail(r.Context(), msg.ID)
		if err != nil {
			slog.Error("failed to get audit trail", "error", err, "message_id", msg.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}
