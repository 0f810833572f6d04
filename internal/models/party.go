package models

import (
	"time"
)

// Party is a co-queuing group. Its ID is always the leader's player ID.
type Party struct {
	ID              string        `json:"id" bson:"_id"`
	LeaderID        string        `json:"leaderId" bson:"leaderId"`
	Members         []string      `json:"members" bson:"members"`
	AggregateRating int           `json:"aggregateRating" bson:"aggregateRating"`
	IsPrivate       bool          `json:"isPrivate" bson:"isPrivate"`
	AutoWarp        bool          `json:"autoWarp" bson:"autoWarp"`
	Invites         []PartyInvite `json:"invites,omitempty" bson:"invites,omitempty"`
	CreatedAt       time.Time     `json:"createdAt" bson:"createdAt"`
	LastActivityAt  time.Time     `json:"lastActivityAt" bson:"lastActivityAt"`
}

type PartyInvite struct {
	PlayerID  string    `json:"playerId" bson:"playerId"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
}

// HasMember reports whether the player belongs to the party.
func (p *Party) HasMember(playerID string) bool {
	for _, m := range p.Members {
		if m == playerID {
			return true
		}
	}
	return false
}

// PendingInvite returns the live invite for the player, if any.
func (p *Party) PendingInvite(playerID string, now time.Time) (PartyInvite, bool) {
	for _, inv := range p.Invites {
		if inv.PlayerID == playerID && now.Before(inv.ExpiresAt) {
			return inv, true
		}
	}
	return PartyInvite{}, false
}

type PartyQuery struct {
	InactiveBefore *time.Time
	Limit          int
}

// PendingVerification links a player to an in-game name until the code is
// confirmed from inside the game. It is never persisted.
type PendingVerification struct {
	PlayerID  string    `json:"playerId"`
	Code      string    `json:"code"`
	IGN       string    `json:"ign"`
	ExpiresAt time.Time `json:"expiresAt"`
}
