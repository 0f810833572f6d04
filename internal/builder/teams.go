package builder

import (
	"math/rand"
	"sort"

	"github.com/elliotchance/pie/v2"
)

// SplitTeams seats parties largest-first, each on the side with fewer
// players when it fits (team1 on ties), then deals the shuffled singles to
// whichever side is short. Parties that fit nowhere are dealt as singles.
func SplitTeams(players []string, parties [][]string, rng *rand.Rand) (team1, team2 []string) {
	half := len(players) / 2

	groups := make([][]string, 0, len(parties))
	for _, p := range parties {
		members := pie.Filter(p, func(id string) bool { return pie.Contains(players, id) })
		if len(members) > 1 {
			groups = append(groups, members)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i]) > len(groups[j]) })

	seated := map[string]bool{}
	for _, g := range groups {
		switch {
		case len(team1) <= len(team2) && len(team1)+len(g) <= half:
			team1 = append(team1, g...)
		case len(team2)+len(g) <= half:
			team2 = append(team2, g...)
		case len(team1)+len(g) <= half:
			team1 = append(team1, g...)
		default:
			continue
		}
		for _, id := range g {
			seated[id] = true
		}
	}

	singles := pie.FilterNot(pie.Unique(players), func(id string) bool { return seated[id] })
	rng.Shuffle(len(singles), func(i, j int) { singles[i], singles[j] = singles[j], singles[i] })
	for _, id := range singles {
		if len(team1) <= len(team2) && len(team1) < half || len(team2) >= half {
			team1 = append(team1, id)
		} else {
			team2 = append(team2, id)
		}
	}
	return team1, team2
}
