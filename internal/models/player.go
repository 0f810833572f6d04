package models

import (
	"strconv"
	"time"
)

// Player is a registered competitor. The document ID is the chat-platform user ID.
type Player struct {
	ID          string `json:"id" bson:"_id"`
	DisplayName string `json:"displayName" bson:"displayName"`
	IGN         string `json:"ign" bson:"ign"`
	IGNLower    string `json:"-" bson:"ignLower"`
	UUID        string `json:"uuid,omitempty" bson:"uuid,omitempty"`

	PlayerStats `bson:",inline"`

	Banned bool `json:"banned" bson:"banned"`
	Muted  bool `json:"muted" bson:"muted"`
	Frozen bool `json:"frozen" bson:"frozen"`

	LatestStrike *StrikeStamp   `json:"latestStrike,omitempty" bson:"latestStrike,omitempty"`
	Settings     PlayerSettings `json:"settings" bson:"settings"`

	// Ledger holds the most recent keyed deltas, oldest first.
	Ledger []LedgerEntry `json:"-" bson:"ledger,omitempty"`

	LastGameAt *time.Time `json:"lastGameAt,omitempty" bson:"lastGameAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// PlayerStats holds every mutable counter of a player. Field names double as
// document paths for atomic increments.
type PlayerStats struct {
	Rating        int `json:"rating" bson:"rating"`
	DailyRating   int `json:"dailyRating" bson:"dailyRating"`
	Wins          int `json:"wins" bson:"wins"`
	Losses        int `json:"losses" bson:"losses"`
	Kills         int `json:"kills" bson:"kills"`
	Deaths        int `json:"deaths" bson:"deaths"`
	WinStreak     int `json:"winStreak" bson:"winStreak"`
	LoseStreak    int `json:"loseStreak" bson:"loseStreak"`
	PeakRating    int `json:"peakRating" bson:"peakRating"`
	PeakWinStreak int `json:"peakWinStreak" bson:"peakWinStreak"`
	BedsBroken    int `json:"bedsBroken" bson:"bedsBroken"`
	MVPs          int `json:"mvps" bson:"mvps"`
	Scored        int `json:"scored" bson:"scored"`
	Voided        int `json:"voided" bson:"voided"`
	GamesPlayed   int `json:"gamesPlayed" bson:"gamesPlayed"`
	StrikesCount  int `json:"strikesCount" bson:"strikesCount"`
}

// PlayerSettings are player-controlled preferences.
type PlayerSettings struct {
	AllowPartyInvites bool     `json:"allowPartyInvites" bson:"allowPartyInvites"`
	ScoringPing       bool     `json:"scoringPing" bson:"scoringPing"`
	ThemeID           string   `json:"themeId,omitempty" bson:"themeId,omitempty"`
	Nickname          *string  `json:"nickname,omitempty" bson:"nickname,omitempty"`
	OwnedThemes       []string `json:"ownedThemes,omitempty" bson:"ownedThemes,omitempty"`
	PartyIgnores      []string `json:"partyIgnores,omitempty" bson:"partyIgnores,omitempty"`
}

// LedgerSize bounds Player.Ledger. Older keys fall off first.
const LedgerSize = 256

// LedgerEntry records that a keyed delta was applied and the rating change
// it actually produced after flooring.
type LedgerEntry struct {
	Key    string `bson:"k"`
	Rating int    `bson:"r"`
}

// Applied reports the rating change recorded under key.
func (p *Player) Applied(key string) (int, bool) {
	for _, e := range p.Ledger {
		if e.Key == key {
			return e.Rating, true
		}
	}
	return 0, false
}

// ScoreKey and VoidKey name the deltas applied for one history row.
func ScoreKey(rowID int64) string { return "score:" + strconv.FormatInt(rowID, 10) }
func VoidKey(rowID int64) string  { return "void:" + strconv.FormatInt(rowID, 10) }

// StrikeStamp records the most recent strike on the player document.
type StrikeStamp struct {
	Date   time.Time `json:"date" bson:"date"`
	Reason string    `json:"reason" bson:"reason"`
	Staff  string    `json:"staff" bson:"staff"`
}

// StreakChange selects how a stat update moves the streak counters.
type StreakChange int

const (
	StreakNone StreakChange = iota
	StreakWin
	StreakLose
)

// PlayerDelta is a server-side read-modify-write applied atomically to one
// player. Counter fields are increments and may be negative.
type PlayerDelta struct {
	Rating      int
	DailyRating int
	// FloorDaily clamps dailyRating at zero after the increment.
	FloorDaily bool

	Wins        int
	Losses      int
	Kills       int
	Deaths      int
	BedsBroken  int
	MVPs        int
	Scored      int
	Voided      int
	GamesPlayed int

	Streak     StreakChange
	LastGameAt *time.Time

	// Key makes the delta apply at most once per player. A repeated key
	// fails with ErrAlreadyApplied and leaves the player untouched.
	Key string
}

// Apply returns the stats after the delta, using the same rules the store
// enforces server-side: rating floors at zero and peaks are reconciled.
func (d PlayerDelta) Apply(s PlayerStats) PlayerStats {
	s.Rating += d.Rating
	if s.Rating < 0 {
		s.Rating = 0
	}
	s.DailyRating += d.DailyRating
	if d.FloorDaily && s.DailyRating < 0 {
		s.DailyRating = 0
	}
	s.Wins += d.Wins
	s.Losses += d.Losses
	s.Kills += d.Kills
	s.Deaths += d.Deaths
	s.BedsBroken += d.BedsBroken
	s.MVPs += d.MVPs
	s.Scored += d.Scored
	s.Voided += d.Voided
	s.GamesPlayed += d.GamesPlayed

	switch d.Streak {
	case StreakWin:
		s.WinStreak++
		s.LoseStreak = 0
	case StreakLose:
		s.LoseStreak++
		s.WinStreak = 0
	}
	if s.WinStreak > s.PeakWinStreak {
		s.PeakWinStreak = s.WinStreak
	}
	if s.Rating > s.PeakRating {
		s.PeakRating = s.Rating
	}
	return s
}

// PlayerPatch sets individual player fields. Nil fields are left alone.
type PlayerPatch struct {
	DisplayName  *string
	IGN          *string
	UUID         *string
	Banned       *bool
	Muted        *bool
	Frozen       *bool
	Settings     *PlayerSettings
	StrikesCount *int
	LatestStrike *StrikeStamp
	AddIgnore    string
	RemoveIgnore string
}

// PlayerQuery filters player listings.
type PlayerQuery struct {
	IDs []string
	// MinRating includes players with rating >= MinRating when > 0.
	MinRating int
	// LastGameBefore selects players whose last game is older than the time.
	LastGameBefore *time.Time
	// LatestStrikeBefore selects players with strikes whose latest strike is older than the time.
	LatestStrikeBefore *time.Time
	SortByRating       bool
	Limit              int
}

// Default values for freshly registered players.
const (
	DefaultRating = 0
)
