package matchmaking

import (
	"math/rand"
	"sort"
	"time"
)

// Group is a unit of admission: a party, or a single player when PartyID is empty.
type Group struct {
	PartyID  string
	Members  []string
	JoinedAt time.Time
}

// Plan is one batch selected from a queue snapshot.
type Plan struct {
	Groups  []Group
	Partial bool
}

func (p Plan) Players() []string {
	var out []string
	for _, g := range p.Groups {
		out = append(out, g.Members...)
	}
	return out
}

// Parties returns the member lists of the multi-player groups.
func (p Plan) Parties() [][]string {
	var out [][]string
	for _, g := range p.Groups {
		if len(g.Members) > 1 {
			out = append(out, append([]string(nil), g.Members...))
		}
	}
	return out
}

type Rules struct {
	MaxPlayers  int
	MinPartial  int
	PartialWait time.Duration
	// AllowPartial is false while the queue is inside its processing cooldown.
	AllowPartial bool
}

// ComputeBatches extracts as many full batches as the snapshot allows, then
// at most one partial batch once the oldest group has waited long enough.
func ComputeBatches(groups []Group, rules Rules, now time.Time, rng *rand.Rand) []Plan {
	if rules.MaxPlayers < 2 || len(groups) == 0 {
		return nil
	}

	var parties, singles []Group
	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		if len(g.Members) > 1 {
			parties = append(parties, g)
		} else {
			singles = append(singles, g)
		}
	}
	sort.SliceStable(parties, func(i, j int) bool {
		if len(parties[i].Members) != len(parties[j].Members) {
			return len(parties[i].Members) > len(parties[j].Members)
		}
		return parties[i].JoinedAt.Before(parties[j].JoinedAt)
	})
	rng.Shuffle(len(singles), func(i, j int) { singles[i], singles[j] = singles[j], singles[i] })

	var plans []Plan
	for {
		batch, restParties, restSingles, ok := pack(parties, singles, rules.MaxPlayers, true)
		if !ok {
			break
		}
		plans = append(plans, Plan{Groups: batch})
		parties, singles = restParties, restSingles
	}

	if !rules.AllowPartial || rules.MinPartial < 2 {
		return plans
	}
	remaining := size(parties) + size(singles)
	if remaining < rules.MinPartial || now.Sub(oldest(parties, singles)) < rules.PartialWait {
		return plans
	}
	capacity := remaining
	if capacity >= rules.MaxPlayers {
		capacity = rules.MaxPlayers - 1
	}
	capacity -= capacity % 2
	if capacity < rules.MinPartial {
		return plans
	}
	batch, _, _, _ := pack(parties, singles, capacity, false)
	batch = evenOut(batch)
	if n := size(batch); n >= rules.MinPartial && n < rules.MaxPlayers {
		plans = append(plans, Plan{Groups: batch, Partial: true})
	}
	return plans
}

// pack seats parties largest-first while they fit, then fills from singles.
// With exact set, ok is false unless the batch reaches capacity.
func pack(parties, singles []Group, capacity int, exact bool) (batch, restParties, restSingles []Group, ok bool) {
	n := 0
	for _, p := range parties {
		if n+len(p.Members) <= capacity {
			batch = append(batch, p)
			n += len(p.Members)
		} else {
			restParties = append(restParties, p)
		}
	}
	i := 0
	for ; i < len(singles) && n < capacity; i++ {
		batch = append(batch, singles[i])
		n++
	}
	restSingles = append(restSingles, singles[i:]...)
	if exact && n != capacity {
		return nil, parties, singles, false
	}
	return batch, restParties, restSingles, true
}

// evenOut drops the last single, or failing that the smallest odd party, so
// the batch can be split into equal teams.
func evenOut(batch []Group) []Group {
	if size(batch)%2 == 0 {
		return batch
	}
	for i := len(batch) - 1; i >= 0; i-- {
		if len(batch[i].Members) == 1 {
			return append(batch[:i:i], batch[i+1:]...)
		}
	}
	for i := len(batch) - 1; i >= 0; i-- {
		if len(batch[i].Members)%2 == 1 {
			return append(batch[:i:i], batch[i+1:]...)
		}
	}
	return batch
}

func size(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Members)
	}
	return n
}

func oldest(lists ...[]Group) time.Time {
	var t time.Time
	for _, l := range lists {
		for _, g := range l {
			if t.IsZero() || g.JoinedAt.Before(t) {
				t = g.JoinedAt
			}
		}
	}
	return t
}
