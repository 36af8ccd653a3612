package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/umar/roomchat/internal/chat"
	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
	"github.com/umar/roomchat/internal/readpos"
)

// GetMessages returns the newest messages of a room rendered for the caller.
func GetMessages(store Store, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, room, ok := resolve(w, r, store)
		if !ok {
			return
		}

		limit := defaultLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= database.MaxHistoryLimit {
				limit = l
			}
		}

		views, err := store.GetHistory(r.Context(), room.ID, limit)
		if err != nil {
			slog.Error("failed to get messages", "error", err, "room_id", room.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": renderViews(views, p)})
	}
}

func GetPinned(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, room, ok := resolve(w, r, store)
		if !ok {
			return
		}
		views, err := store.ListPinned(r.Context(), room.ID)
		if err != nil {
			slog.Error("failed to list pinned messages", "error", err, "room_id", room.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": renderViews(views, p)})
	}
}

func renderViews(views []models.MessageView, viewer models.Principal) []chat.MessageFrame {
	frames := make([]chat.MessageFrame, 0, len(views))
	for i := range views {
		v := &views[i]
		var replyAuthor string
		if v.ReplyTo != nil {
			replyAuthor = v.ReplyTo.AuthorID
		}
		frames = append(frames, chat.RenderMessage(v, replyAuthor, viewer))
	}
	return frames
}

type unreadResponse struct {
	chat.ReadPositionPayload
	FirstUnreadID *string `json:"firstUnreadId"`
}

func GetUnread(store Store, tracker chat.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, room, ok := resolve(w, r, store)
		if !ok {
			return
		}
		st, err := tracker.Status(r.Context(), p.ID, room.ID)
		if err != nil {
			slog.Error("failed to get read status", "error", err, "room_id", room.ID, "user_id", p.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp := unreadResponse{ReadPositionPayload: chat.NewReadPositionPayload(st)}
		if st.UnreadCount > 0 {
			first, err := tracker.FirstUnread(r.Context(), p.ID, room.ID)
			if err != nil {
				slog.Error("failed to get first unread", "error", err, "room_id", room.ID, "user_id", p.ID)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if first != nil {
				resp.FirstUnreadID = &first.ID
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Publisher fans events out to websocket sessions; *chat.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, ev chat.Event)
}

// MarkRead moves the caller's read position and tells the caller's open
// sessions in the room about it.
func MarkRead(store Store, tracker chat.Tracker, bus Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, room, ok := resolve(w, r, store)
		if !ok {
			return
		}

		var req struct {
			MessageID string `json:"messageId"`
			UpTo      string `json:"upTo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		mark, err := readpos.ParseMark(req.MessageID, req.UpTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		st, err := tracker.MarkAsRead(r.Context(), p.ID, room.ID, mark)
		if err != nil {
			switch {
			case errors.Is(err, readpos.ErrMessageNotInRoom):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, readpos.ErrZeroTime), errors.Is(err, readpos.ErrInvalidTime):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				slog.Error("failed to mark read", "error", err, "room_id", room.ID, "user_id", p.ID)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		payload := chat.NewReadPositionPayload(st)
		ev, err := chat.ReadPositionEvent(p.ID, room.ID, payload)
		if err != nil {
			slog.Error("failed to encode read position", "error", err, "room_id", room.ID)
		} else {
			bus.Publish(r.Context(), ev)
		}
		writeJSON(w, http.StatusOK, payload)
	}
}
