package builder

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/matchmaking"
	"rbw-core/internal/models"
	"rbw-core/internal/store"
	"rbw-core/internal/testsetup"
)

func TestSplitTeams_PartySeatedOnTeam1(t *testing.T) {
	team1, team2 := SplitTeams([]string{"A", "B", "C", "D"}, [][]string{{"C", "D"}}, rand.New(rand.NewSource(1)))
	assert.Equal(t, []string{"C", "D"}, team1)
	assert.ElementsMatch(t, []string{"A", "B"}, team2)
}

func TestSplitTeams_SecondPartyGoesToSmallerSide(t *testing.T) {
	players := []string{"a1", "a2", "a3", "b1", "b2", "c", "d", "e"}
	team1, team2 := SplitTeams(players, [][]string{{"b1", "b2"}, {"a1", "a2", "a3"}}, rand.New(rand.NewSource(2)))
	assert.Subset(t, team1, []string{"a1", "a2", "a3"})
	assert.Subset(t, team2, []string{"b1", "b2"})
	assert.Len(t, team1, 4)
	assert.Len(t, team2, 4)
}

// Teams are disjoint, equal in size and together hold every player.
func TestSplitTeams_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for iter := 0; iter < 500; iter++ {
		n := 2 * (1 + rng.Intn(4))
		var players []string
		for i := 0; i < n; i++ {
			players = append(players, fmt.Sprintf("p%d", i))
		}
		var parties [][]string
		for i := 0; i < n; {
			size := 1 + rng.Intn(n/2)
			if i+size > n {
				break
			}
			if size > 1 {
				parties = append(parties, players[i:i+size])
			}
			i += size
		}

		team1, team2 := SplitTeams(players, parties, rand.New(rand.NewSource(int64(iter))))
		require.Len(t, team1, n/2)
		require.Len(t, team2, n/2)
		assert.Empty(t, pie.Intersect(team1, team2))
		assert.ElementsMatch(t, players, append(append([]string(nil), team1...), team2...))
	}
}

type warpRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (w *warpRecorder) StartWarp(_ context.Context, matchID string) {
	w.mu.Lock()
	w.ids = append(w.ids, matchID)
	w.mu.Unlock()
}

type harness struct {
	builder *Builder
	f       *testsetup.Fixtures
	host    *testsetup.FakeHost
	metrics *testsetup.Metrics
	warps   *warpRecorder
}

func newHarness(t *testing.T) *harness {
	return newHarnessOver(t, func(m *store.Memory) Store { return m })
}

func newHarnessOver(t *testing.T, wrap func(*store.Memory) Store) *harness {
	f := testsetup.NewFixtures(t)
	h := testsetup.NewFakeHost()
	m := testsetup.NewMetrics()
	b := New(Config{Maps: []string{"Aquarium"}, GamesCategory: "games"}, wrap(f.Store), h, clock.NewFake(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)), m, testsetup.Logger(t))
	w := &warpRecorder{}
	b.SetWarper(w)
	for id, rating := range map[string]int{"A": 1000, "B": 1010, "C": 990, "D": 1020} {
		f.Player(id, rating)
	}
	return &harness{builder: b, f: f, host: h, metrics: m, warps: w}
}

// brokenStore fails history writes with ErrTransient.
type brokenStore struct {
	*store.Memory
	counter bool
	history bool
}

func (s *brokenStore) IncrementCounter(ctx context.Context, name string) (int64, error) {
	if s.counter {
		return 0, models.ErrTransient
	}
	return s.Memory.IncrementCounter(ctx, name)
}

func (s *brokenStore) InsertRecentGames(ctx context.Context, rows []models.RecentGame) error {
	if s.history {
		return models.ErrTransient
	}
	return s.Memory.InsertRecentGames(ctx, rows)
}

func batch() matchmaking.Batch {
	return matchmaking.Batch{
		Queue:   models.Queue{ID: "q4", MaxPlayers: 4, MaxRating: 5000, Enabled: true},
		Players: []string{"A", "B", "C", "D"},
		Parties: [][]string{{"C", "D"}},
	}
}

func TestBuild_PersistsMatchAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.builder.HandleBatch(ctx, batch())

	require.Len(t, h.warps.ids, 1)
	m, err := h.f.Store.GetMatch(ctx, h.warps.ids[0])
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, m.ID)
	assert.Equal(t, models.MatchPending, m.State)
	assert.Equal(t, models.MatchRanked, m.Kind)
	assert.Equal(t, "Aquarium", m.Map)
	assert.Equal(t, []string{"C", "D"}, m.Team1)
	assert.ElementsMatch(t, []string{"A", "B"}, m.Team2)

	rows, err := h.f.Store.FindRecentGames(ctx, models.RecentGameQuery{MatchID: m.ID})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	ids := map[int64]bool{}
	for _, r := range rows {
		assert.Equal(t, models.ResultPending, r.Result)
		assert.Equal(t, m.TeamOf(r.PlayerID), r.Team)
		ids[r.ID] = true
	}
	assert.Len(t, ids, 4)

	for _, id := range m.Players() {
		assert.Equal(t, 1, h.f.GetPlayer(id).GamesPlayed)
	}

	res, err := h.f.Store.GetResources(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.TextChannelRef)
	assert.Len(t, res.VoiceRefs(), 2)
	assert.Len(t, h.host.VoiceMoves(), 4)
	assert.Len(t, h.host.NoticesOf(host.NoticeMatchCreated), 1)
	assert.Equal(t, 1, h.metrics.Count("match:ranked"))
}

func TestBuild_RedrawsTakenID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.f.Store.InsertMatch(ctx, &models.Match{ID: "AAAAAA", State: models.MatchScored}))

	draws := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	h.builder.newID = func() (string, error) {
		id := draws[0]
		draws = draws[1:]
		return id, nil
	}

	m, err := h.builder.Build(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", m.ID)

	old, err := h.f.Store.GetMatch(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, models.MatchScored, old.State)
}

func TestBuild_IDAllocationExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.f.Store.InsertMatch(ctx, &models.Match{ID: "AAAAAA"}))
	h.builder.newID = func() (string, error) { return "AAAAAA", nil }

	_, err := h.builder.Build(ctx, batch())
	assert.ErrorIs(t, err, models.ErrIDAllocationExhausted)
	assert.ErrorIs(t, err, models.ErrFatal)

	h.builder.HandleBatch(ctx, batch())
	assert.Empty(t, h.warps.ids)
	assert.Len(t, h.host.LobbyMoves(), 4)
}

func TestBuild_CounterFailureLeavesNothingBehind(t *testing.T) {
	h := newHarnessOver(t, func(m *store.Memory) Store { return &brokenStore{Memory: m, counter: true} })
	ctx := context.Background()

	h.builder.HandleBatch(ctx, batch())

	matches, err := h.f.Store.FindMatches(ctx, models.MatchQuery{})
	require.NoError(t, err)
	assert.Empty(t, matches)
	res, err := h.f.Store.ListResources(ctx)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Empty(t, h.host.Channels())
	assert.Empty(t, h.warps.ids)
	assert.Len(t, h.host.LobbyMoves(), 4)
}

func TestBuild_HistoryFailureVoidsMatch(t *testing.T) {
	h := newHarnessOver(t, func(m *store.Memory) Store { return &brokenStore{Memory: m, history: true} })
	ctx := context.Background()

	_, err := h.builder.Build(ctx, batch())
	require.ErrorIs(t, err, models.ErrTransient)

	matches, err := h.f.Store.FindMatches(ctx, models.MatchQuery{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchVoided, matches[0].State)
	assert.Equal(t, models.SystemActor, matches[0].VoidedBy)
	assert.NotNil(t, matches[0].EndedAt)

	res, err := h.f.Store.ListResources(ctx)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Empty(t, h.host.Channels())
	assert.Empty(t, h.host.VoiceMoves())
	for _, id := range []string{"A", "B", "C", "D"} {
		assert.Zero(t, h.f.GetPlayer(id).GamesPlayed, id)
	}
}

func TestBuild_ProvisioningFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.host.FailCreate[host.ChannelVoice] = true
	ctx := context.Background()

	m, err := h.builder.Build(ctx, batch())
	require.NoError(t, err)

	res, err := h.f.Store.GetResources(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.TextChannelRef)
	assert.Empty(t, res.VoiceRefs())
	assert.Empty(t, h.host.VoiceMoves())
}

func TestBuild_MutedPlayerCannotSpeak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	yes := true
	require.NoError(t, h.f.Store.UpdatePlayer(ctx, "A", models.PlayerPatch{Muted: &yes}))

	m, err := h.builder.Build(ctx, batch())
	require.NoError(t, err)
	res, err := h.f.Store.GetResources(ctx, m.ID)
	require.NoError(t, err)

	ref := res.Team1VoiceRef
	if m.TeamOf("A") == 2 {
		ref = res.Team2VoiceRef
	}
	spec := h.host.Channels()[ref]
	for _, g := range spec.Grants {
		if g.PlayerID == "A" {
			assert.Contains(t, g.Deny, host.CapSpeak)
			assert.NotContains(t, g.Allow, host.CapSpeak)
			return
		}
	}
	t.Fatal("no grant for muted player")
}
