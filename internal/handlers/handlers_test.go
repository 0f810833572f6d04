package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/auth"
	"rbw-core/internal/clock"
	"rbw-core/internal/coordinator"
	"rbw-core/internal/matchmaking"
	"rbw-core/internal/middleware"
	"rbw-core/internal/models"
	"rbw-core/internal/scoring"
	"rbw-core/internal/testsetup"
)

type fakeScorer struct {
	mu       sync.Mutex
	outcomes []scoring.Outcome
	voidErr  error
	booster  time.Duration
}

func (s *fakeScorer) Score(_ context.Context, o scoring.Outcome) (*scoring.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return &scoring.Result{Match: &models.Match{ID: o.MatchID, State: models.MatchScored}, Multiplier: 1}, nil
}

func (s *fakeScorer) Void(_ context.Context, matchID, _, _ string) (*models.Match, error) {
	if s.voidErr != nil {
		return nil, s.voidErr
	}
	return &models.Match{ID: matchID, State: models.MatchVoided}, nil
}

func (s *fakeScorer) Submit(_ context.Context, matchID, actor string) (*models.Match, error) {
	return &models.Match{ID: matchID, State: models.MatchSubmitted, SubmittedBy: actor}, nil
}

func (s *fakeScorer) SetBooster(_ context.Context, m float64, actor string, d time.Duration) (*models.Booster, error) {
	s.booster = d
	return &models.Booster{Multiplier: m, SetBy: actor}, nil
}

func (s *fakeScorer) Multiplier(context.Context) (float64, error) { return 1, nil }

type fakeWarps struct{}

func (fakeWarps) Retry(_ context.Context, matchID string) error {
	if matchID == "BUSY01" {
		return fmt.Errorf("match %s is warping: %w", matchID, models.ErrConflict)
	}
	return nil
}

func (fakeWarps) Warp(matchID string) (coordinator.WarpStatus, bool) {
	return coordinator.WarpStatus{MatchID: matchID, State: coordinator.WarpActive, Attempts: 1}, true
}

type fakeStatus struct{}

func (fakeStatus) Status(context.Context) ([]matchmaking.QueueStatus, error) {
	return []matchmaking.QueueStatus{{QueueID: "4v4", Name: "4v4", Players: []string{"A"}, IGNs: []string{"a"}, Capacity: 8, Enabled: true}}, nil
}

type harness struct {
	srv    http.Handler
	jwt    *auth.JWTService
	f      *testsetup.Fixtures
	scorer *fakeScorer
}

func newHarness(t *testing.T) *harness {
	f := testsetup.NewFixtures(t)
	jwtSvc := auth.NewJWTService("staff-secret", "")
	scorer := &fakeScorer{}
	rt := &Router{
		Matchmaking:  NewMatchmakingHandler(fakeStatus{}, f.Registry),
		Leaderboard:  NewLeaderboardHandler(f.Store),
		Matches:      NewMatchHandler(scorer, fakeWarps{}, f.Store),
		Moderation:   NewModerationHandler(nil),
		Parties:      NewPartyHandler(nil),
		Verification: NewVerificationHandler(nil),
		Auth:         middleware.NewAuthMiddleware(jwtSvc),
		Limiter:      middleware.NewRateLimiter(clock.Real{}),
		Store:        f.Store,
	}
	return &harness{
		srv:    rt.Handler(RouterConfig{FrontendURL: "http://localhost:3000", BridgePath: "/rbw/websocket"}, zerolog.Nop()),
		jwt:    jwtSvc,
		f:      f,
		scorer: scorer,
	}
}

func (h *harness) token(t *testing.T, roles ...string) string {
	tok, err := h.jwt.GenerateStaffToken("staff-1", roles)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", models.ErrConflict), http.StatusConflict},
		{models.Invalid("x", "bad"), http.StatusBadRequest},
		{models.ErrPermissionDenied, http.StatusForbidden},
		{models.ErrPolicyViolation, http.StatusUnprocessableEntity},
		{models.ErrTimeout, http.StatusGatewayTimeout},
		{models.ErrTransient, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestPublicRoutes(t *testing.T) {
	h := newHarness(t)
	h.f.Player("Top", 1500)
	h.f.Player("Mid", 1200)
	h.f.Player("Low", 900)

	w := h.do("GET", "/api/leaderboard?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]LeaderboardEntry](t, w)
	require.Len(t, entries, 2)
	assert.Equal(t, LeaderboardEntry{Rank: 1, IGN: "top", Rating: 1500}, entries[0])
	assert.Equal(t, "mid", entries[1].IGN)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusBadRequest, h.do("GET", "/api/leaderboard?limit=zero", "", nil).Code)

	w = h.do("GET", "/api/queues", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4v4", decode[[]matchmaking.QueueStatus](t, w)[0].QueueID)

	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/players/nobody", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do("GET", "/health", "", nil).Code)
}

func TestGetMatchIncludesWarp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.f.Store.InsertMatch(context.Background(), &models.Match{ID: "ABC123", State: models.MatchPending, Team1: []string{"A"}, Team2: []string{"B"}}))

	w := h.do("GET", "/api/matches/abc123", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "ABC123", body["id"])
	assert.Equal(t, string(coordinator.WarpActive), body["warp"].(map[string]interface{})["state"])
}

func TestStaffRoutes_Auth(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusUnauthorized, h.do("POST", "/api/staff/matches/ABC123/submit", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do("POST", "/api/staff/matches/ABC123/submit", h.token(t, auth.RoleModerator), nil).Code)

	w := h.do("POST", "/api/staff/matches/abc123/submit", h.token(t, auth.RoleScorer), nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[models.Match](t, w)
	assert.Equal(t, "ABC123", m.ID)
	assert.Equal(t, "staff-1", m.SubmittedBy)

	assert.Equal(t, http.StatusForbidden, h.do("PUT", "/api/staff/booster", h.token(t, auth.RoleScorer), BoosterRequest{Multiplier: 2}).Code)
}

func TestScoreRoute(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, auth.RoleScorer)

	w := h.do("POST", "/api/staff/matches/ABC123/score", tok, ScoreRequest{
		WinningTeam: 1,
		Stats: map[string]models.PlayerGameStats{
			"A": {Kills: 9},
			"B": {Kills: 3},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.scorer.outcomes, 1)
	o := h.scorer.outcomes[0]
	assert.Equal(t, "ABC123", o.MatchID)
	assert.Equal(t, []string{"A"}, o.MVPs)
	assert.Equal(t, "staff-1", o.Actor)

	w = h.do("POST", "/api/staff/matches/BUSY01/retry", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, w).Code)

	h.scorer.voidErr = models.ErrNotFound
	assert.Equal(t, http.StatusNotFound, h.do("POST", "/api/staff/matches/NOPE00/void", tok, VoidRequest{Reason: "x"}).Code)

	req := httptest.NewRequest("POST", "/api/staff/matches/ABC123/score", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Fields, "body")
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, auth.RoleAdmin)

	w := h.do("PUT", "/api/staff/booster", tok, BoosterRequest{Multiplier: 2, Duration: "2h"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2*time.Hour, h.scorer.booster)
	assert.Equal(t, http.StatusBadRequest, h.do("PUT", "/api/staff/booster", tok, BoosterRequest{Multiplier: 2, Duration: "forever"}).Code)

	bands := testsetup.DefaultBands()
	w = h.do("PUT", "/api/staff/bands", tok, bands)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = h.do("GET", "/api/bands", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.RankBand](t, w), 3)

	gap := []models.RankBand{{ID: "a", MinRating: 0, MaxRating: 100}, {ID: "b", MinRating: 200}}
	assert.Equal(t, http.StatusBadRequest, h.do("PUT", "/api/staff/bands", tok, gap).Code)

	q := models.Queue{ChannelRef: "vc-4v4", Name: "4v4", MaxPlayers: 8, MinRating: 0, MaxRating: 3000, Enabled: true}
	w = h.do("PUT", "/api/staff/queues/4v4", tok, q)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = h.do("GET", "/api/staff/queues", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	queues := decode[[]models.Queue](t, w)
	require.Len(t, queues, 1)
	assert.Equal(t, "4v4", queues[0].ID)
	assert.Equal(t, http.StatusNoContent, h.do("DELETE", "/api/staff/queues/4v4", tok, nil).Code)
}
