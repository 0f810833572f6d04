package models

import (
	"time"
)

type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchSubmitted MatchState = "submitted"
	MatchScored    MatchState = "scored"
	MatchVoided    MatchState = "voided"
)

// Terminal reports whether no further state transition is allowed.
func (s MatchState) Terminal() bool {
	return s == MatchScored || s == MatchVoided
}

// CanTransition encodes pending -> submitted|scored|voided and submitted -> scored|voided.
func (s MatchState) CanTransition(to MatchState) bool {
	switch s {
	case MatchPending:
		return to == MatchSubmitted || to == MatchScored || to == MatchVoided
	case MatchSubmitted:
		return to == MatchScored || to == MatchVoided
	}
	return false
}

type MatchKind string

const (
	MatchRanked MatchKind = "ranked"
	MatchCasual MatchKind = "casual"
)

type Match struct {
	ID      string     `json:"id" bson:"_id"`
	QueueID string     `json:"queueId" bson:"queueId"`
	Team1   []string   `json:"team1" bson:"team1"`
	Team2   []string   `json:"team2" bson:"team2"`
	State   MatchState `json:"state" bson:"state"`
	Kind    MatchKind  `json:"kind" bson:"kind"`
	Map     string     `json:"map" bson:"map"`
	Partial bool       `json:"partial,omitempty" bson:"partial,omitempty"`

	WinningTeam int      `json:"winningTeam,omitempty" bson:"winningTeam,omitempty"`
	MVPs        []string `json:"mvps,omitempty" bson:"mvps,omitempty"`

	SubmittedBy string `json:"submittedBy,omitempty" bson:"submittedBy,omitempty"`
	ScoredBy    string `json:"scoredBy,omitempty" bson:"scoredBy,omitempty"`
	VoidedBy    string `json:"voidedBy,omitempty" bson:"voidedBy,omitempty"`
	VoidReason  string `json:"voidReason,omitempty" bson:"voidReason,omitempty"`

	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}

// Players returns both teams, team1 first.
func (m *Match) Players() []string {
	out := make([]string, 0, len(m.Team1)+len(m.Team2))
	out = append(out, m.Team1...)
	return append(out, m.Team2...)
}

// TeamOf returns 1 or 2, or 0 when the player is not in the match.
func (m *Match) TeamOf(playerID string) int {
	for _, id := range m.Team1 {
		if id == playerID {
			return 1
		}
	}
	for _, id := range m.Team2 {
		if id == playerID {
			return 2
		}
	}
	return 0
}

// MatchPatch carries the fields written together with a state transition.
type MatchPatch struct {
	EndedAt     *time.Time
	WinningTeam int
	MVPs        []string
	SubmittedBy string
	ScoredBy    string
	VoidedBy    string
	VoidReason  string
}

type MatchQuery struct {
	States []MatchState
	Limit  int
}

// MatchResources are the chat-platform rooms provisioned for a match.
type MatchResources struct {
	MatchID        string    `json:"matchId" bson:"_id"`
	TextChannelRef string    `json:"textChannelRef" bson:"textChannelRef"`
	Team1VoiceRef  string    `json:"team1VoiceRef" bson:"team1VoiceRef"`
	Team2VoiceRef  string    `json:"team2VoiceRef" bson:"team2VoiceRef"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
}

// VoiceRefs returns the non-empty voice channel refs.
func (r *MatchResources) VoiceRefs() []string {
	var refs []string
	if r.Team1VoiceRef != "" {
		refs = append(refs, r.Team1VoiceRef)
	}
	if r.Team2VoiceRef != "" {
		refs = append(refs, r.Team2VoiceRef)
	}
	return refs
}

type GameResult string

const (
	ResultPending   GameResult = "pending"
	ResultSubmitted GameResult = "submitted"
	ResultWin       GameResult = "win"
	ResultLose      GameResult = "lose"
	ResultVoided    GameResult = "voided"
)

// RecentGame is the per-player record of one match.
type RecentGame struct {
	ID          int64      `json:"id" bson:"_id"`
	PlayerID    string     `json:"playerId" bson:"playerId"`
	MatchID     string     `json:"matchId" bson:"matchId"`
	Team        int        `json:"team" bson:"team"`
	Result      GameResult `json:"result" bson:"result"`
	IsMVP       bool       `json:"isMvp" bson:"isMvp"`
	Kind        MatchKind  `json:"kind" bson:"kind"`
	RatingDelta int        `json:"ratingDelta" bson:"ratingDelta"`
	// Applied is set once the player's counters reflect this row; AppliedDelta
	// is the rating change actually committed after flooring.
	Applied      bool      `json:"applied" bson:"applied"`
	AppliedDelta int       `json:"appliedDelta" bson:"appliedDelta"`
	Kills        int       `json:"kills" bson:"kills"`
	Deaths       int       `json:"deaths" bson:"deaths"`
	BedsBroken   int       `json:"bedsBroken" bson:"bedsBroken"`
	At           time.Time `json:"at" bson:"at"`
}

type RecentGamePatch struct {
	Result       GameResult
	RatingDelta  *int
	IsMVP        *bool
	Applied      *bool
	AppliedDelta *int
	Kills        *int
	Deaths       *int
	BedsBroken   *int
}

type RecentGameQuery struct {
	MatchID  string
	PlayerID string
	Limit    int
}

// PlayerGameStats are the per-player figures reported by the game server.
type PlayerGameStats struct {
	Kills        int `json:"kills"`
	Deaths       int `json:"deaths"`
	BedsBroken   int `json:"bedbroken"`
	FinalKills   int `json:"finalkills"`
	Diamonds     int `json:"diamonds"`
	Irons        int `json:"irons"`
	Gold         int `json:"gold"`
	Emeralds     int `json:"emeralds"`
	BlocksPlaced int `json:"blocksplaced"`
}

// Booster is the global rating multiplier.
type Booster struct {
	ID         string     `json:"-" bson:"_id"`
	Multiplier float64    `json:"multiplier" bson:"multiplier"`
	SetBy      string     `json:"setBy" bson:"setBy"`
	SetAt      time.Time  `json:"setAt" bson:"setAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
}

// ValidBoosterMultipliers lists the accepted multiplier values.
var ValidBoosterMultipliers = []float64{1, 1.5, 2, 2.5, 3}
