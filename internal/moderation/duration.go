package moderation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rbw-core/internal/models"
)

// ParseDuration reads "<int>[smhd]", e.g. "30m" or "7d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, models.Invalid("duration", fmt.Sprintf("%q is not <int>[smhd]", s))
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, models.Invalid("duration", fmt.Sprintf("%q is not <int>[smhd]", s))
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, models.Invalid("duration", fmt.Sprintf("unknown unit in %q", s))
	}
	return time.Duration(n) * unit, nil
}

// StrikeAction is what a strike count triggers: a warning or a ban.
type StrikeAction struct {
	Strikes int
	Warn    bool
	Ban     time.Duration
}

func (a StrikeAction) String() string {
	if a.Warn || a.Ban == 0 {
		return "warn"
	}
	return "ban " + a.Ban.String()
}

// StrikeTable resolves strike counts to actions. Counts above the highest
// configured key use the highest action.
type StrikeTable []StrikeAction

// ParseStrikeActions reads a map of "<n>strike" to "warn" or a duration.
func ParseStrikeActions(raw map[string]string) (StrikeTable, error) {
	fields := map[string]string{}
	table := make(StrikeTable, 0, len(raw))
	for key, value := range raw {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(key), "strike"))
		if err != nil || n <= 0 || !strings.HasSuffix(strings.ToLower(key), "strike") {
			fields[key] = "key must look like 3strike"
			continue
		}
		if strings.EqualFold(strings.TrimSpace(value), "warn") {
			table = append(table, StrikeAction{Strikes: n, Warn: true})
			continue
		}
		d, err := ParseDuration(value)
		if err != nil {
			fields[key] = "must be warn or <int>[smhd]"
			continue
		}
		table = append(table, StrikeAction{Strikes: n, Ban: d})
	}
	if len(fields) > 0 {
		return nil, models.NewValidationError(fields)
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Strikes < table[j].Strikes })
	return table, nil
}

// For returns the action for the n-th strike. Counts below the first key and
// gaps between keys fall back to the closest lower key, or a warning.
func (t StrikeTable) For(n int) StrikeAction {
	action := StrikeAction{Strikes: n, Warn: true}
	for _, a := range t {
		if a.Strikes > n {
			break
		}
		action = a
	}
	action.Strikes = n
	return action
}
