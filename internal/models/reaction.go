package models

import "time"

type ReactionType string

const (
	ReactionLike    ReactionType = "like"
	ReactionDislike ReactionType = "dislike"
)

func (t ReactionType) Valid() bool {
	return t == ReactionLike || t == ReactionDislike
}

// Reaction is unique per (message, user); reacting again updates Type.
type Reaction struct {
	ID        string       `json:"id"`
	MessageID string       `json:"messageId"`
	UserID    string       `json:"userId"`
	Type      ReactionType `json:"reaction"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
