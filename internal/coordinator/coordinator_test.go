package coordinator

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/bridge"
	"rbw-core/internal/clock"
	"rbw-core/internal/host"
	"rbw-core/internal/metrics"
	"rbw-core/internal/models"
	"rbw-core/internal/scoring"
	"rbw-core/internal/testsetup"
)

const wsPath = "/rbw/websocket"

type fakeScorer struct {
	mu     sync.Mutex
	scored []scoring.Outcome
	voided []string
}

func (s *fakeScorer) Score(_ context.Context, o scoring.Outcome) (*scoring.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scored = append(s.scored, o)
	return &scoring.Result{Match: &models.Match{ID: o.MatchID, State: models.MatchScored}}, nil
}

func (s *fakeScorer) Void(_ context.Context, matchID, _, _ string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voided = append(s.voided, matchID)
	return &models.Match{ID: matchID, State: models.MatchVoided}, nil
}

func (s *fakeScorer) Voided() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.voided...)
}

type harness struct {
	c       *Coordinator
	bridge  *bridge.Bridge
	srv     *httptest.Server
	f       *testsetup.Fixtures
	host    *testsetup.FakeHost
	metrics *testsetup.Metrics
	scorer  *fakeScorer
}

func newHarness(t *testing.T) *harness {
	b := bridge.New(bridge.Config{
		Path:            wsPath,
		PingInterval:    time.Second,
		PongTimeout:     time.Second,
		WriteTimeout:    time.Second,
		JanitorInterval: 10 * time.Millisecond,
		RequestTimeout:  time.Second,
		MaxMessageBytes: 1 << 16,
	}, clock.Real{}, metrics.Noop{}, zerolog.Nop())
	b.Start()
	srv := httptest.NewServer(b)

	f := testsetup.NewFixtures(t)
	h := testsetup.NewFakeHost()
	m := testsetup.NewMetrics()
	scorer := &fakeScorer{}
	c := New(Config{
		WarpTimeout:   time.Second,
		MaxAttempts:   3,
		RetryDelay:    10 * time.Millisecond,
		SweepInterval: time.Hour,
	}, f.Store, f.Registry, b, scorer, h, clock.Real{}, m, zerolog.Nop())
	c.RegisterHandlers(b)

	t.Cleanup(func() {
		c.Stop()
		_ = b.Shutdown(context.Background())
		srv.Close()
	})
	return &harness{c: c, bridge: b, srv: srv, f: f, host: h, metrics: m, scorer: scorer}
}

func (h *harness) peer(t *testing.T, r testsetup.Responder) *testsetup.GamePeer {
	before := h.bridge.Clients()
	p := testsetup.DialPeer(t, h.srv, wsPath, r)
	testsetup.WithGomega(t).Eventually(h.bridge.Clients, time.Second, 5*time.Millisecond).Should(gomega.Equal(before + 1))
	return p
}

func (h *harness) match(t *testing.T, id string, state models.MatchState) *models.Match {
	ctx := context.Background()
	for _, p := range []string{"A", "B", "C", "D"} {
		if _, err := h.f.Store.GetPlayer(ctx, p); err != nil {
			h.f.Player(p, 1000)
		}
	}
	m := &models.Match{ID: id, Team1: []string{"A", "B"}, Team2: []string{"C", "D"}, State: state, Kind: models.MatchRanked, Map: "Lighthouse", CreatedAt: time.Now()}
	require.NoError(t, h.f.Store.InsertMatch(ctx, m))
	require.NoError(t, h.f.Store.InsertResources(ctx, &models.MatchResources{
		MatchID:        id,
		TextChannelRef: "text-" + id,
		Team1VoiceRef:  "v1-" + id,
		Team2VoiceRef:  "v2-" + id,
	}))
	return m
}

func offline(in testsetup.Frame) testsetup.Frame {
	return testsetup.Frame{
		"type":            bridge.TypeWarpFailedOfflinePlayers,
		"request_id":      in.RequestID(),
		"game_id":         in["game_id"],
		"offline_players": []string{"a"},
	}
}

func success(in testsetup.Frame) testsetup.Frame {
	return testsetup.Frame{"type": bridge.TypeWarpSuccess, "request_id": in.RequestID(), "game_id": in["game_id"]}
}

func warpState(h *harness, id string) func() WarpState {
	return func() WarpState {
		s, _ := h.c.Warp(id)
		return s.State
	}
}

func TestWarp_RetriesOfflineThenSucceeds(t *testing.T) {
	h := newHarness(t)
	g := testsetup.WithGomega(t)
	h.match(t, "XYZ123", models.MatchPending)

	var calls int32
	peer := h.peer(t, func(in testsetup.Frame) []testsetup.Frame {
		if in.Type() != bridge.TypeWarpPlayers {
			return nil
		}
		if atomic.AddInt32(&calls, 1) <= 2 {
			return []testsetup.Frame{offline(in)}
		}
		return []testsetup.Frame{success(in)}
	})

	h.c.StartWarp(context.Background(), "XYZ123")

	g.Eventually(warpState(h, "XYZ123"), 3*time.Second, 10*time.Millisecond).Should(gomega.Equal(WarpActive))
	s, _ := h.c.Warp("XYZ123")
	assert.Equal(t, 3, s.Attempts)
	assert.Equal(t, 2, h.metrics.Count("warp:offline_players"))
	assert.Equal(t, 1, h.metrics.Count("warp:success"))

	sent := peer.Received(bridge.TypeWarpPlayers)
	require.Len(t, sent, 3)
	assert.Equal(t, "XYZ123", sent[0]["game_id"])
	assert.Equal(t, "Lighthouse", sent[0]["map"])
	assert.Equal(t, true, sent[0]["is_ranked"])
	team1 := sent[0]["team1"].([]interface{})
	assert.Equal(t, map[string]interface{}{"ign": "a", "uuid": "uuid-a"}, team1[0])

	m, err := h.f.Store.GetMatch(context.Background(), "XYZ123")
	require.NoError(t, err)
	assert.Equal(t, models.MatchPending, m.State)
	assert.Nil(t, m.EndedAt)
	assert.Empty(t, h.host.NoticesOf(host.NoticeWarpExhausted))
}

func TestWarp_ExhaustedThenStaffRetry(t *testing.T) {
	h := newHarness(t)
	g := testsetup.WithGomega(t)
	h.match(t, "EXH001", models.MatchPending)

	var allow atomic.Bool
	h.peer(t, func(in testsetup.Frame) []testsetup.Frame {
		if in.Type() != bridge.TypeWarpPlayers {
			return nil
		}
		if allow.Load() {
			return []testsetup.Frame{success(in)}
		}
		return []testsetup.Frame{offline(in)}
	})

	h.c.StartWarp(context.Background(), "EXH001")
	g.Eventually(warpState(h, "EXH001"), 3*time.Second, 10*time.Millisecond).Should(gomega.Equal(WarpExhausted))

	s, _ := h.c.Warp("EXH001")
	assert.Equal(t, 3, s.Attempts)
	assert.Equal(t, []string{"a"}, s.Offline)
	notices := h.host.NoticesOf(host.NoticeWarpExhausted)
	require.Len(t, notices, 1)
	assert.Equal(t, "text-EXH001", notices[0].ChannelRef)

	m, err := h.f.Store.GetMatch(context.Background(), "EXH001")
	require.NoError(t, err)
	assert.Equal(t, models.MatchPending, m.State)

	allow.Store(true)
	require.NoError(t, h.c.Retry(context.Background(), "EXH001"))
	g.Eventually(warpState(h, "EXH001"), 3*time.Second, 10*time.Millisecond).Should(gomega.Equal(WarpActive))
}

func TestWarp_ArenaNotFoundIsTerminal(t *testing.T) {
	h := newHarness(t)
	g := testsetup.WithGomega(t)
	h.match(t, "ARN001", models.MatchPending)

	h.peer(t, func(in testsetup.Frame) []testsetup.Frame {
		if in.Type() != bridge.TypeWarpPlayers {
			return nil
		}
		return []testsetup.Frame{{"type": bridge.TypeWarpFailedArenaNotFound, "request_id": in.RequestID(), "game_id": in["game_id"], "map": "Lighthouse"}}
	})

	h.c.StartWarp(context.Background(), "ARN001")
	g.Eventually(warpState(h, "ARN001"), 3*time.Second, 10*time.Millisecond).Should(gomega.Equal(WarpFailed))

	s, _ := h.c.Warp("ARN001")
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, 1, h.metrics.Count("warp:arena_not_found"))
	require.Len(t, h.host.NoticesOf(host.NoticeWarpFailed), 1)
	assert.Contains(t, h.host.NoticesOf(host.NoticeWarpFailed)[0].Text, "Lighthouse")
}

func TestWarp_NoClientsExhausts(t *testing.T) {
	h := newHarness(t)
	g := testsetup.WithGomega(t)
	h.match(t, "NOC001", models.MatchPending)

	h.c.StartWarp(context.Background(), "NOC001")
	g.Eventually(warpState(h, "NOC001"), 3*time.Second, 10*time.Millisecond).Should(gomega.Equal(WarpExhausted))
	assert.Equal(t, 3, h.metrics.Count("warp:no_clients"))
}

func TestRetry_RejectsFinishedMatch(t *testing.T) {
	h := newHarness(t)
	h.match(t, "DONE01", models.MatchScored)

	err := h.c.Retry(context.Background(), "DONE01")
	assert.ErrorIs(t, err, models.ErrConflict)

	err = h.c.Retry(context.Background(), "NOPE01")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleScoring_MapsIGNsAndDefaultsMVPs(t *testing.T) {
	h := newHarness(t)
	h.match(t, "SCR001", models.MatchPending)

	_, err := h.c.HandleScoring(context.Background(), bridge.Scoring{
		GameID:            "SCR001",
		WinningTeamNumber: 2,
		BedsBroken:        []string{"C"},
		Players: map[string]models.PlayerGameStats{
			"a":        {Kills: 3},
			"C":        {Kills: 5, Deaths: 1},
			"d":        {Kills: 5},
			"stranger": {Kills: 9},
		},
	})
	require.NoError(t, err)

	require.Len(t, h.scorer.scored, 1)
	o := h.scorer.scored[0]
	assert.Equal(t, "SCR001", o.MatchID)
	assert.Equal(t, 2, o.WinningTeam)
	assert.ElementsMatch(t, []string{"C", "D"}, o.MVPs)
	assert.Equal(t, []string{"C"}, o.BedBreakers)
	assert.Len(t, o.Stats, 3)
	assert.Equal(t, 3, o.Stats["A"].Kills)
	assert.Equal(t, GameServerActor, o.Actor)
}

func TestHandleScoring_ExplicitMVPs(t *testing.T) {
	h := newHarness(t)
	h.match(t, "SCR002", models.MatchPending)

	_, err := h.c.HandleScoring(context.Background(), bridge.Scoring{
		GameID:            "SCR002",
		WinningTeamNumber: 1,
		MVPs:              []string{"B"},
		Players:           map[string]models.PlayerGameStats{"a": {Kills: 8}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, h.scorer.scored[0].MVPs)
}

func TestBridge_VoidingFrameReachesScorer(t *testing.T) {
	h := newHarness(t)
	g := testsetup.WithGomega(t)
	h.match(t, "VOD001", models.MatchScored)

	peer := h.peer(t, nil)
	peer.Send(testsetup.Frame{"type": bridge.TypeVoiding, "gameid": "VOD001", "reason": "server crash"})

	g.Eventually(h.scorer.Voided, time.Second, 10*time.Millisecond).Should(gomega.Equal([]string{"VOD001"}))
}

func TestBridge_InvalidScoringGetsTypedError(t *testing.T) {
	h := newHarness(t)
	g := testsetup.WithGomega(t)

	peer := h.peer(t, nil)
	peer.Send(testsetup.Frame{"type": bridge.TypeScoring, "request_id": "r-1", "gameid": "X", "winningTeamNumber": 5})

	g.Eventually(func() int { return len(peer.Received(bridge.TypeError)) }, time.Second, 10*time.Millisecond).Should(gomega.Equal(1))
	reply := peer.Received(bridge.TypeError)[0]
	assert.Equal(t, "r-1", reply.RequestID())
	assert.Equal(t, models.ErrValidation.Error(), reply["code"])
}

func TestSweepChannels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.match(t, "SWP001", models.MatchScored)
	h.match(t, "SWP002", models.MatchVoided)
	h.match(t, "SWP003", models.MatchPending)
	h.host.SetOccupants("v2-SWP002", "C")
	require.NoError(t, h.f.Store.InsertResources(ctx, &models.MatchResources{MatchID: "GONE01", TextChannelRef: "text-GONE01", Team1VoiceRef: "v1-GONE01"}))

	require.NoError(t, h.c.SweepChannels(ctx))

	assert.ElementsMatch(t, []string{"v1-SWP001", "v2-SWP001", "text-SWP001", "v1-GONE01", "text-GONE01"}, h.host.Deleted())
	left, err := h.f.Store.ListResources(ctx)
	require.NoError(t, err)
	var ids []string
	for _, r := range left {
		ids = append(ids, r.MatchID)
	}
	assert.ElementsMatch(t, []string{"SWP002", "SWP003"}, ids)
}

func TestCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.match(t, "CAL001", models.MatchPending)
	h.f.Player("Caller", 500)

	reply := h.c.handleCall(ctx, bridge.CallCmd{RequesterIGN: "caller", TargetIGN: "D"})
	assert.Equal(t, bridge.TypeCallSuccess, reply.Type)
	grants := h.host.Grants("v2-CAL001")
	require.Len(t, grants, 1)
	assert.Equal(t, "Caller", grants[0].PlayerID)
	assert.Contains(t, grants[0].Allow, host.CapSpeak)

	reply = h.c.handleCall(ctx, bridge.CallCmd{RequesterIGN: "caller", TargetIGN: "nobody"})
	assert.Equal(t, bridge.TypeCallFailure, reply.Type)
	assert.Equal(t, "nobody is not registered", reply.Payload.(bridge.CallResult).Reason)

	h.f.Player("Idle", 500)
	reply = h.c.handleCall(ctx, bridge.CallCmd{RequesterIGN: "caller", TargetIGN: "idle"})
	assert.Equal(t, bridge.TypeCallFailure, reply.Type)
}

func TestQueueFromIngame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.f.Player("P", 500)
	q := h.f.Queue("4v4", 8)

	reply := h.c.handleQueueFromIngame(ctx, bridge.QueueFromIngame{IGN: "p", QueueType: "4V4"})
	assert.Equal(t, bridge.TypeQueueJoinSuccess, reply.Type)
	moves := h.host.VoiceMoves()
	require.Len(t, moves, 1)
	assert.Equal(t, q.ChannelRef, moves[0].ChannelRef)

	reply = h.c.handleQueueFromIngame(ctx, bridge.QueueFromIngame{IGN: "p", QueueType: "2v2"})
	assert.Equal(t, bridge.TypeQueueJoinError, reply.Type)

	reply = h.c.handleQueueFromIngame(ctx, bridge.QueueFromIngame{IGN: "ghost", QueueType: "4v4"})
	assert.Equal(t, bridge.TypeQueueJoinError, reply.Type)
}
