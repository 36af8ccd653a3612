package redisc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/umar/roomchat/internal/chat"
)

type envelope struct {
	Origin string     `json:"origin"`
	Event  chat.Event `json:"event"`
}

// Relay fans bus events out to the other instances through Redis pub/sub.
type Relay struct {
	client     *redis.Client
	instanceID string
	logger     *slog.Logger
}

func NewRelay(client *redis.Client, logger *slog.Logger) *Relay {
	id := uuid.NewString()
	return &Relay{client: client, instanceID: id, logger: logger.With("instance_id", id)}
}

func (r *Relay) Publish(ctx context.Context, ev chat.Event) error {
	data, err := json.Marshal(envelope{Origin: r.instanceID, Event: ev})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, roomChannel(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to room channel: %w", err)
	}
	return nil
}

// Run delivers events published by other instances until ctx is done.
func (r *Relay) Run(ctx context.Context, deliver func(chat.Event)) error {
	pubsub := r.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to room channels: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := r.decode(msg.Channel, msg.Payload)
			if !ok {
				continue
			}
			deliver(ev)
		}
	}
}

// decode reports false for malformed envelopes and for this instance's own
// events, which were already delivered locally.
func (r *Relay) decode(channel, payload string) (chat.Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("dropping malformed relay envelope", "error", err, "channel", channel)
		return chat.Event{}, false
	}
	if env.Origin == r.instanceID {
		return chat.Event{}, false
	}
	roomID := strings.TrimPrefix(channel, roomChannelPrefix)
	if env.Event.RoomID != roomID {
		r.logger.Warn("dropping relay envelope for mismatched room", "channel", channel, "room_id", env.Event.RoomID)
		return chat.Event{}, false
	}
	r.logger.Debug("pubsub message", "room_id", roomID, "kind", env.Event.Kind)
	return env.Event, true
}
