package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/umar/roomchat/internal/models"
)

type EventKind string

const (
	EventNewMessage      EventKind = "newMessage"
	EventMessageUpdated  EventKind = "messageUpdated"
	EventReactionUpdated EventKind = "reactionUpdated"
	EventUserJoined      EventKind = "userJoined"
	EventUserLeft        EventKind = "userLeft"
	EventTyping          EventKind = "typing"
	EventReadPosition    EventKind = "readPosition"
)

// Event is one published occurrence in a room. Message events carry the
// stored view and are rendered per recipient; every other kind carries a
// pre-encoded payload that is identical for all recipients.
type Event struct {
	Kind    EventKind           `json:"kind"`
	RoomID  string              `json:"roomId"`
	Message *models.MessageView `json:"message,omitempty"`
	// ReplyToAuthorID travels separately because the reply context does
	// not serialize its author id.
	ReplyToAuthorID string          `json:"replyToAuthorId,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	// ExcludeConn suppresses delivery to the publishing connection.
	ExcludeConn string `json:"excludeConn,omitempty"`
	// UserID restricts delivery to that user's sessions.
	UserID string `json:"userId,omitempty"`
}

func messageEvent(kind EventKind, v *models.MessageView) Event {
	ev := Event{Kind: kind, RoomID: v.RoomID, Message: v}
	if v.ReplyTo != nil {
		ev.ReplyToAuthorID = v.ReplyTo.AuthorID
	}
	return ev
}

func payloadEvent(kind EventKind, roomID string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, RoomID: roomID, Payload: data}, nil
}

// Subscriber is one connection's membership in a room.
type Subscriber struct {
	ConnID    string
	Principal models.Principal
	send      chan Event
}

func NewSubscriber(connID string, p models.Principal, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 256
	}
	return &Subscriber{ConnID: connID, Principal: p, send: make(chan Event, buffer)}
}

func (s *Subscriber) Events() <-chan Event { return s.send }

func (s *Subscriber) accepts(ev Event) bool {
	if ev.ExcludeConn != "" && ev.ExcludeConn == s.ConnID {
		return false
	}
	if ev.UserID != "" && ev.UserID != s.Principal.ID {
		return false
	}
	return true
}

// Relay forwards published events to other instances.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to the connections joined to a room on this
// instance. Rooms are keyed by id.
type Bus struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Subscriber
	relay   Relay
	logger  *slog.Logger
	metrics *Metrics
}

func NewBus(logger *slog.Logger, metrics *Metrics) *Bus {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Bus{
		rooms:   make(map[string]map[string]*Subscriber),
		logger:  logger,
		metrics: metrics,
	}
}

// SetRelay must be called before the bus is shared.
func (b *Bus) SetRelay(r Relay) { b.relay = r }

func (b *Bus) Join(roomID string, s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[string]*Subscriber)
		b.rooms[roomID] = subs
	}
	if _, dup := subs[s.ConnID]; !dup {
		subs[s.ConnID] = s
		b.metrics.Subscribers.Inc()
	}
}

// Leave is idempotent.
func (b *Bus) Leave(roomID string, s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomID]
	if !ok {
		return
	}
	if cur, ok := subs[s.ConnID]; ok && cur == s {
		delete(subs, s.ConnID)
		b.metrics.Subscribers.Dec()
	}
	if len(subs) == 0 {
		delete(b.rooms, roomID)
	}
}

// Publish delivers ev to local subscribers and hands it to the relay.
// Relay failures are logged; local delivery has already happened.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.Deliver(ev)
	if b.relay == nil {
		return
	}
	if err := b.relay.Publish(ctx, ev); err != nil {
		b.logger.Warn("failed to relay event", "error", err, "room_id", ev.RoomID, "kind", ev.Kind)
	}
}

// Deliver sends ev to local subscribers only. A subscriber whose buffer is
// full misses the event.
func (b *Bus) Deliver(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.rooms[ev.RoomID]))
	for _, s := range b.rooms[ev.RoomID] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.accepts(ev) {
			continue
		}
		select {
		case s.send <- ev:
		default:
			b.metrics.DroppedEvents.Inc()
			b.logger.Warn("subscriber buffer full, dropping event", "conn_id", s.ConnID, "room_id", ev.RoomID, "kind", ev.Kind)
		}
	}
}

func (b *Bus) Subscribers(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// Members lists the distinct principals connected to a room, ordered by
// username.
func (b *Bus) Members(roomID string) []models.Principal {
	b.mu.RLock()
	seen := make(map[string]models.Principal)
	for _, s := range b.rooms[roomID] {
		seen[s.Principal.ID] = s.Principal
	}
	b.mu.RUnlock()

	out := make([]models.Principal, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
