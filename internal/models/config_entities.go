package models

import (
	"fmt"
	"sort"
)

// RankBand is a rating interval [MinRating, MaxRating) with its scoring deltas.
// MaxRating == 0 marks the open-ended top band.
type RankBand struct {
	ID        string `json:"id" bson:"_id"`
	RoleRef   string `json:"roleRef" bson:"roleRef"`
	MinRating int    `json:"minRating" bson:"minRating"`
	MaxRating int    `json:"maxRating" bson:"maxRating"`
	WinDelta  int    `json:"winDelta" bson:"winDelta"`
	LoseDelta int    `json:"loseDelta" bson:"loseDelta"`
	MVPBonus  int    `json:"mvpBonus" bson:"mvpBonus"`
	ColorHex  string `json:"colorHex" bson:"colorHex"`
	Name      string `json:"name" bson:"name"`
}

// OpenEnded reports whether the band has no upper bound.
func (b RankBand) OpenEnded() bool {
	return b.MaxRating == 0
}

// Contains reports whether rating falls in [MinRating, MaxRating).
func (b RankBand) Contains(rating int) bool {
	if rating < b.MinRating {
		return false
	}
	return b.OpenEnded() || rating < b.MaxRating
}

// ValidateBands checks that the bands are contiguous, non-overlapping and
// cover [0, inf). It returns the bands sorted by MinRating.
func ValidateBands(bands []RankBand) ([]RankBand, error) {
	if len(bands) == 0 {
		return nil, NewValidationError(map[string]string{"bands": "at least one band is required"})
	}
	sorted := append([]RankBand(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinRating < sorted[j].MinRating })

	fields := map[string]string{}
	if sorted[0].MinRating != 0 {
		fields["bands"] = "first band must start at 0"
	}
	for i, b := range sorted {
		key := fmt.Sprintf("bands[%s]", b.ID)
		if b.ID == "" {
			fields[fmt.Sprintf("bands[%d].id", i)] = "required"
		}
		if b.WinDelta <= 0 {
			fields[key+".winDelta"] = "must be positive"
		}
		if b.LoseDelta >= 0 {
			fields[key+".loseDelta"] = "must be negative"
		}
		last := i == len(sorted)-1
		if b.OpenEnded() {
			if !last {
				fields[key+".maxRating"] = "only the top band may be open-ended"
			}
			continue
		}
		if b.MaxRating <= b.MinRating {
			fields[key+".maxRating"] = "must be greater than minRating"
		}
		if last {
			fields[key+".maxRating"] = "top band must be open-ended"
			continue
		}
		if next := sorted[i+1]; next.MinRating != b.MaxRating {
			fields[key+".maxRating"] = fmt.Sprintf("next band starts at %d, expected %d", next.MinRating, b.MaxRating)
		}
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}
	return sorted, nil
}

// Queue is a voice room designated as a matchmaking queue. The queue ID is the
// channel ref of that room.
type Queue struct {
	ID         string `json:"id" bson:"_id"`
	ChannelRef string `json:"channelRef" bson:"channelRef"`
	Name       string `json:"name" bson:"name"`
	MaxPlayers int    `json:"maxPlayers" bson:"maxPlayers"`
	MinRating  int    `json:"minRating" bson:"minRating"`
	MaxRating  int    `json:"maxRating" bson:"maxRating"`
	Casual     bool   `json:"casual" bson:"casual"`
	Enabled    bool   `json:"enabled" bson:"enabled"`
}

func (q Queue) Validate() error {
	fields := map[string]string{}
	if q.ID == "" {
		fields["id"] = "required"
	}
	if q.MaxPlayers < 2 || q.MaxPlayers%2 != 0 {
		fields["maxPlayers"] = "must be an even number >= 2"
	}
	if q.MinRating >= q.MaxRating {
		fields["minRating"] = "must be less than maxRating"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

// Kind returns the match kind produced by this queue.
func (q Queue) Kind() MatchKind {
	if q.Casual {
		return MatchCasual
	}
	return MatchRanked
}

// PermissionBinding maps a capability key (e.g. "staff", "banned") to chat roles.
type PermissionBinding struct {
	Key      string   `json:"key" bson:"_id"`
	RoleRefs []string `json:"roleRefs" bson:"roleRefs"`
}

// Well-known permission binding keys.
const (
	BindingStaff        = "staff"
	BindingScreensharer = "screensharer"
	BindingBanned       = "banned"
	BindingMuted        = "muted"
	BindingFrozen       = "frozen"
	BindingRegistered   = "registered"
)
