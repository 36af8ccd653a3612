package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/models"
	"github.com/umar/roomchat/internal/readpos"
	"github.com/umar/roomchat/internal/validator"
)

// Store is the persistence the router needs; *database.Store implements it.
type Store interface {
	PostMessage(ctx context.Context, roomID, authorID, content string, parentID *string) (*models.MessageView, error)
	GetMessage(ctx context.Context, id string) (*models.MessageView, error)
	GetHistory(ctx context.Context, roomID string, limit int) ([]models.MessageView, error)
	EditMessage(ctx context.Context, id, editorID, newContent string) (*models.MessageView, error)
	SoftDeleteMessage(ctx context.Context, id, actorID string) (*models.MessageView, error)
	PinMessage(ctx context.Context, id, actorID string) (*models.MessageView, error)
	UnpinMessage(ctx context.Context, id, actorID string) (*models.MessageView, error)
	React(ctx context.Context, messageID, userID string, kind models.ReactionType) (*models.Reaction, error)
	ReactionCounts(ctx context.Context, messageID string) (likes, dislikes int, err error)
	GetRoomByName(ctx context.Context, name string) (*models.Room, error)
	ForwardMessage(ctx context.Context, originalID, targetRoomID, actorID string) (*models.MessageView, error)
}

// Tracker is satisfied by *readpos.Tracker.
type Tracker interface {
	Status(ctx context.Context, userID, roomID string) (*readpos.Status, error)
	FirstUnread(ctx context.Context, userID, roomID string) (*models.MessageView, error)
	MarkAsRead(ctx context.Context, userID, roomID string, mark readpos.Mark) (*readpos.Status, error)
}

// Presence tracks who is online in a room across instances.
type Presence interface {
	Add(ctx context.Context, roomID, connID string, p models.Principal) error
	Remove(ctx context.Context, roomID, connID string) error
	Refresh(ctx context.Context, roomID, connID string) error
	Online(ctx context.Context, roomID string) ([]models.Principal, error)
}

// Session identifies the connection a frame arrived on.
type Session struct {
	ConnID    string
	RoomID    string
	RoomName  string
	Principal models.Principal
}

type outbound struct {
	Type    string
	Payload interface{}
}

type handlerFunc func(ctx context.Context, sess *Session, payload json.RawMessage) (*outbound, error)

type RouterConfig struct {
	HistoryLimit   int
	ModeratorRoles []string
}

type Router struct {
	store        Store
	tracker      Tracker
	bus          *Bus
	presence     Presence
	validate     *validator.Validator
	historyLimit int
	moderators   map[string]bool
	logger       *slog.Logger
	metrics      *Metrics
	handlers     map[string]handlerFunc
}

func NewRouter(store Store, tracker Tracker, bus *Bus, logger *slog.Logger, cfg RouterConfig) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	r := &Router{
		store:        store,
		tracker:      tracker,
		bus:          bus,
		validate:     validator.New(),
		historyLimit: cfg.HistoryLimit,
		moderators:   make(map[string]bool, len(cfg.ModeratorRoles)),
		logger:       logger,
		metrics:      bus.metrics,
	}
	for _, role := range cfg.ModeratorRoles {
		r.moderators[role] = true
	}
	r.handlers = map[string]handlerFunc{
		TypeMessage:          r.handleMessage,
		TypeFetchMessages:    r.handleFetchMessages,
		TypeFetchOnlineUsers: r.handleFetchOnlineUsers,
		TypeTyping:           r.handleTyping,
		TypeReaction:         r.handleReaction,
		TypeMarkRead:         r.handleMarkRead,
		TypeEditMessage:      r.handleEditMessage,
		TypeDeleteMessage:    r.handleDeleteMessage,
		TypePinMessage:       r.handlePin(true),
		TypeUnpinMessage:     r.handlePin(false),
		TypeForwardMessage:   r.handleForwardMessage,
	}
	return r
}

// SetPresence enables cross-instance presence for fetchOnlineUsers.
func (r *Router) SetPresence(p Presence) { r.presence = p }

// Dispatch handles one inbound frame and returns the frame to send back to
// the caller, or nil. Events for other connections go through the bus.
func (r *Router) Dispatch(ctx context.Context, sess *Session, data []byte) (reply []byte) {
	msg, err := decodeFrame(data)
	if err != nil {
		return r.errorFrame(sess, "", errInvalidJSON)
	}

	h, ok := r.handlers[msg.Type]
	if !ok {
		r.metrics.Frames.WithLabelValues("unknown").Inc()
		return r.errorFrame(sess, msg.Type, unknownType(msg.Type))
	}
	r.metrics.Frames.WithLabelValues(msg.Type).Inc()

	defer func() {
		if rec := recover(); rec != nil {
			reply = r.errorFrame(sess, msg.Type, fmt.Errorf("panic handling frame: %v", rec))
		}
	}()

	out, err := h(ctx, sess, msg.Payload)
	if err != nil {
		return r.errorFrame(sess, msg.Type, err)
	}
	if out == nil {
		return nil
	}
	frame, err := NewWSMessage(out.Type, out.Payload)
	if err != nil {
		return r.errorFrame(sess, msg.Type, err)
	}
	return frame
}

func (r *Router) errorFrame(sess *Session, requestType string, err error) []byte {
	ce := classify(err)
	r.metrics.FrameErrors.WithLabelValues(ce.Kind.String()).Inc()
	if ce.Kind == KindStore {
		r.logger.Error("frame failed", "error", err, "type", requestType, "conn_id", sess.ConnID, "room_id", sess.RoomID, "user_id", sess.Principal.ID)
	} else {
		r.logger.Debug("frame rejected", "error", err, "type", requestType, "conn_id", sess.ConnID)
	}
	data, _ := NewWSMessage(TypeError, ErrorPayload{Message: ce.Message, Code: ce.Code, RequestType: requestType})
	return data
}

func (r *Router) decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Kind: KindProtocol, Code: "INVALID_PAYLOAD", Message: "payload does not match frame type", Err: err}
	}
	return r.validate.Struct(v)
}

// messageInRoom loads a message and hides messages of other rooms.
func (r *Router) messageInRoom(ctx context.Context, sess *Session, id string) (*models.MessageView, error) {
	v, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.RoomID != sess.RoomID {
		return nil, newError(KindValidation, "NOT_FOUND", "message not found")
	}
	return v, nil
}

func (r *Router) handleMessage(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p SendMessagePayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	if p.ReplyToID != nil && *p.ReplyToID == "" {
		p.ReplyToID = nil
	}
	view, err := r.store.PostMessage(ctx, sess.RoomID, sess.Principal.ID, p.Message, p.ReplyToID)
	if err != nil {
		return nil, err
	}
	r.metrics.MessagesPosted.Inc()
	r.bus.Publish(ctx, messageEvent(EventNewMessage, view))
	return nil, nil
}

func (r *Router) handleFetchMessages(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p FetchMessagesPayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	views, err := r.store.GetHistory(ctx, sess.RoomID, r.historyLimit)
	if err != nil {
		return nil, err
	}
	st, err := r.tracker.Status(ctx, sess.Principal.ID, sess.RoomID)
	if err != nil {
		return nil, err
	}
	out := HistoryPayload{
		Messages:    renderHistory(views, sess.Principal),
		UnreadCount: st.UnreadCount,
	}
	if st.UnreadCount > 0 {
		first, err := r.tracker.FirstUnread(ctx, sess.Principal.ID, sess.RoomID)
		if err != nil {
			return nil, err
		}
		if first != nil {
			out.FirstUnreadID = &first.ID
		}
	}
	return &outbound{Type: TypeMessagesHistory, Payload: out}, nil
}

func (r *Router) handleFetchOnlineUsers(ctx context.Context, sess *Session, _ json.RawMessage) (*outbound, error) {
	return &outbound{Type: TypeOnlineUsers, Payload: OnlineUsersPayload{Users: r.online(ctx, sess.RoomID)}}, nil
}

// online prefers shared presence and falls back to this instance's members.
func (r *Router) online(ctx context.Context, roomID string) []models.Principal {
	if r.presence != nil {
		users, err := r.presence.Online(ctx, roomID)
		if err == nil {
			return users
		}
		r.logger.Warn("failed to read presence, using local members", "error", err, "room_id", roomID)
	}
	return r.bus.Members(roomID)
}

func (r *Router) handleTyping(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p TypingPayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	ev, err := payloadEvent(EventTyping, sess.RoomID, TypingUpdatePayload{
		UserID:   sess.Principal.ID,
		Username: sess.Principal.Username,
		Name:     sess.Principal.Name(),
		IsTyping: p.IsTyping,
	})
	if err != nil {
		return nil, err
	}
	ev.ExcludeConn = sess.ConnID
	r.bus.Publish(ctx, ev)
	return nil, nil
}

func (r *Router) handleReaction(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p ReactionPayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	if _, err := r.messageInRoom(ctx, sess, p.MessageID); err != nil {
		return nil, err
	}
	if _, err := r.store.React(ctx, p.MessageID, sess.Principal.ID, models.ReactionType(p.Reaction)); err != nil {
		return nil, err
	}
	likes, dislikes, err := r.store.ReactionCounts(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	ev, err := payloadEvent(EventReactionUpdated, sess.RoomID, ReactionUpdatedPayload{
		MessageID:     p.MessageID,
		LikesCount:    likes,
		DislikesCount: dislikes,
	})
	if err != nil {
		return nil, err
	}
	r.bus.Publish(ctx, ev)
	return nil, nil
}

func (r *Router) handleMarkRead(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p MarkReadPayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	var messageID string
	if p.MessageID != nil {
		messageID = *p.MessageID
	}
	mark, err := readpos.ParseMark(messageID, p.UpTo)
	if err != nil {
		return nil, err
	}
	st, err := r.tracker.MarkAsRead(ctx, sess.Principal.ID, sess.RoomID, mark)
	if err != nil {
		return nil, err
	}
	payload := NewReadPositionPayload(st)

	// The user's other sessions in this room follow the new position.
	ev, err := ReadPositionEvent(sess.Principal.ID, sess.RoomID, payload)
	if err != nil {
		return nil, err
	}
	ev.ExcludeConn = sess.ConnID
	r.bus.Publish(ctx, ev)

	return &outbound{Type: string(EventReadPosition), Payload: payload}, nil
}

// ReadPositionEvent is delivered only to userID's sessions in the room.
func ReadPositionEvent(userID, roomID string, payload ReadPositionPayload) (Event, error) {
	ev, err := payloadEvent(EventReadPosition, roomID, payload)
	if err != nil {
		return Event{}, err
	}
	ev.UserID = userID
	return ev, nil
}

func NewReadPositionPayload(st *readpos.Status) ReadPositionPayload {
	out := ReadPositionPayload{
		RoomID:        st.Position.RoomID,
		UnreadCount:   st.UnreadCount,
		LastMessageID: st.Position.LastMessageID,
		State:         st.State,
	}
	if st.Position.LastReadAt != nil {
		at := st.Position.LastReadAt.UTC().Format(time.RFC3339Nano)
		out.LastReadAt = &at
	}
	return out
}

func (r *Router) handleEditMessage(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p EditMessagePayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	v, err := r.messageInRoom(ctx, sess, p.MessageID)
	if err != nil {
		return nil, err
	}
	if v.AuthorID != sess.Principal.ID {
		return nil, errNotAuthor
	}
	view, err := r.store.EditMessage(ctx, p.MessageID, sess.Principal.ID, p.Message)
	if err != nil {
		return nil, err
	}
	r.bus.Publish(ctx, messageEvent(EventMessageUpdated, view))
	return nil, nil
}

func (r *Router) handleDeleteMessage(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p MessageRefPayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	v, err := r.messageInRoom(ctx, sess, p.MessageID)
	if err != nil {
		return nil, err
	}
	if v.AuthorID != sess.Principal.ID && !r.moderators[sess.Principal.Role] {
		return nil, errNotModerator
	}
	view, err := r.store.SoftDeleteMessage(ctx, p.MessageID, sess.Principal.ID)
	if err != nil {
		return nil, err
	}
	r.bus.Publish(ctx, messageEvent(EventMessageUpdated, view))
	return nil, nil
}

func (r *Router) handlePin(pin bool) handlerFunc {
	return func(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
		var p MessageRefPayload
		if err := r.decode(raw, &p); err != nil {
			return nil, err
		}
		if !r.moderators[sess.Principal.Role] {
			return nil, errNotModerator
		}
		if _, err := r.messageInRoom(ctx, sess, p.MessageID); err != nil {
			return nil, err
		}
		var view *models.MessageView
		var err error
		if pin {
			view, err = r.store.PinMessage(ctx, p.MessageID, sess.Principal.ID)
		} else {
			view, err = r.store.UnpinMessage(ctx, p.MessageID, sess.Principal.ID)
		}
		if err != nil {
			return nil, err
		}
		r.bus.Publish(ctx, messageEvent(EventMessageUpdated, view))
		return nil, nil
	}
}

// handleForwardMessage copies a message of the session's room into another
// existing room. Subscribers of the target room see it as a new message.
func (r *Router) handleForwardMessage(ctx context.Context, sess *Session, raw json.RawMessage) (*outbound, error) {
	var p ForwardMessagePayload
	if err := r.decode(raw, &p); err != nil {
		return nil, err
	}
	if _, err := r.messageInRoom(ctx, sess, p.MessageID); err != nil {
		return nil, err
	}
	target, err := r.store.GetRoomByName(ctx, p.TargetRoom)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errRoomNotFound
		}
		return nil, err
	}
	if !target.IsActive {
		return nil, database.ErrRoomInactive
	}
	view, err := r.store.ForwardMessage(ctx, p.MessageID, target.ID, sess.Principal.ID)
	if err != nil {
		return nil, err
	}
	r.metrics.MessagesPosted.Inc()
	r.bus.Publish(ctx, messageEvent(EventNewMessage, view))
	return &outbound{Type: TypeForwarded, Payload: ForwardedPayload{
		MessageID:         view.ID,
		OriginalMessageID: p.MessageID,
		TargetRoom:        target.Name,
	}}, nil
}
