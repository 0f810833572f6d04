package models

import (
	"time"
)

type SanctionKind string

const (
	SanctionBan    SanctionKind = "ban"
	SanctionMute   SanctionKind = "mute"
	SanctionStrike SanctionKind = "strike"
)

// SystemActor is recorded as resolver/remover for automatic transitions.
const SystemActor = "system"

// Sanction is a ban, mute or strike record. Strikes use the Removed fields
// when they decay; bans and mutes use the Resolved fields when they end.
type Sanction struct {
	ID              string       `json:"id" bson:"_id"`
	Kind            SanctionKind `json:"kind" bson:"kind"`
	PlayerID        string       `json:"playerId" bson:"playerId"`
	Reason          string       `json:"reason" bson:"reason"`
	StartedAt       time.Time    `json:"startedAt" bson:"startedAt"`
	DurationSeconds int64        `json:"durationSeconds" bson:"durationSeconds"`
	ExpiresAt       time.Time    `json:"expiresAt" bson:"expiresAt"`
	StaffID         string       `json:"staffId" bson:"staffId"`

	Resolved       bool       `json:"resolved" bson:"resolved"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	ResolvedReason string     `json:"resolvedReason,omitempty" bson:"resolvedReason,omitempty"`

	StrikeNumber int        `json:"strikeNumber,omitempty" bson:"strikeNumber,omitempty"`
	Removed      bool       `json:"removed,omitempty" bson:"removed,omitempty"`
	RemovedAt    *time.Time `json:"removedAt,omitempty" bson:"removedAt,omitempty"`
	RemovedBy    string     `json:"removedBy,omitempty" bson:"removedBy,omitempty"`
}

// Active reports !resolved && now < startedAt + duration.
func (s *Sanction) Active(now time.Time) bool {
	if s.Resolved {
		return false
	}
	return now.Before(s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second))
}

type SanctionQuery struct {
	PlayerID string
	// ActiveAt selects unresolved records not yet expired at that time.
	ActiveAt *time.Time
	// ExpiredAt selects unresolved records whose expiry is at or before that time.
	ExpiredAt *time.Time
	Limit     int
}

type ScreenshareState string

const (
	ScreenshareOpen    ScreenshareState = "open"
	ScreenshareClosed  ScreenshareState = "closed"
	ScreenshareDontLog ScreenshareState = "dontlog"
)

type Screenshare struct {
	ID          string           `json:"id" bson:"_id"`
	TargetID    string           `json:"targetId" bson:"targetId"`
	RequesterID string           `json:"requesterId" bson:"requesterId"`
	Reason      string           `json:"reason" bson:"reason"`
	State       ScreenshareState `json:"state" bson:"state"`
	Automatic   bool             `json:"automatic" bson:"automatic"`
	CreatedAt   time.Time        `json:"createdAt" bson:"createdAt"`
	ClosedAt    *time.Time       `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	ClosedBy    string           `json:"closedBy,omitempty" bson:"closedBy,omitempty"`
}

// AuditEntry is an append-only record of a state-changing staff or system action.
type AuditEntry struct {
	ID        string            `json:"id" bson:"_id"`
	Action    string            `json:"action" bson:"action"`
	ActorID   string            `json:"actorId" bson:"actorId"`
	SubjectID string            `json:"subjectId" bson:"subjectId"`
	Details   map[string]string `json:"details,omitempty" bson:"details,omitempty"`
	CreatedAt time.Time         `json:"createdAt" bson:"createdAt"`
}
