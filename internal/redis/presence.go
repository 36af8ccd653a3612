package redisc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/umar/roomchat/internal/models"
)

const presenceTTL = 120 * time.Second

// Presence keeps one hash per room mapping connection id to the connected
// principal. The key expires when no instance refreshes it.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client, ttl: presenceTTL}
}

func (p *Presence) Add(ctx context.Context, roomID, connID string, who models.Principal) error {
	data, err := json.Marshal(who)
	if err != nil {
		return err
	}
	key := presenceKey(roomID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, connID, data)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add presence: %w", err)
	}
	return nil
}

func (p *Presence) Remove(ctx context.Context, roomID, connID string) error {
	if err := p.client.HDel(ctx, presenceKey(roomID), connID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (p *Presence) Refresh(ctx context.Context, roomID, connID string) error {
	return p.client.Expire(ctx, presenceKey(roomID), p.ttl).Err()
}

// Online returns the distinct principals in a room, ordered by username.
func (p *Presence) Online(ctx context.Context, roomID string) ([]models.Principal, error) {
	vals, err := p.client.HVals(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return decodePrincipals(vals), nil
}

func decodePrincipals(vals []string) []models.Principal {
	seen := make(map[string]models.Principal, len(vals))
	for _, v := range vals {
		var who models.Principal
		if err := json.Unmarshal([]byte(v), &who); err != nil || who.ID == "" {
			continue
		}
		seen[who.ID] = who
	}
	out := make([]models.Principal, 0, len(seen))
	for _, who := range seen {
		out = append(out, who)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
