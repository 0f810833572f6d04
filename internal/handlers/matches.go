package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"rbw-core/internal/coordinator"
	"rbw-core/internal/models"
	"rbw-core/internal/moderation"
	"rbw-core/internal/scoring"
)

// MatchScorer is the scoring service seen from the staff API.
type MatchScorer interface {
	Score(ctx context.Context, o scoring.Outcome) (*scoring.Result, error)
	Void(ctx context.Context, matchID, actor, reason string) (*models.Match, error)
	Submit(ctx context.Context, matchID, actor string) (*models.Match, error)
	SetBooster(ctx context.Context, multiplier float64, actor string, duration time.Duration) (*models.Booster, error)
	Multiplier(ctx context.Context) (float64, error)
}

// WarpController retries and reports match warps.
type WarpController interface {
	Retry(ctx context.Context, matchID string) error
	Warp(matchID string) (coordinator.WarpStatus, bool)
}

type MatchReader interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
}

type MatchHandler struct {
	scorer  MatchScorer
	warps   WarpController
	matches MatchReader
}

func NewMatchHandler(scorer MatchScorer, warps WarpController, matches MatchReader) *MatchHandler {
	return &MatchHandler{scorer: scorer, warps: warps, matches: matches}
}

type MatchResponse struct {
	*models.Match
	Warp *coordinator.WarpStatus `json:"warp,omitempty"`
}

type ScoreRequest struct {
	WinningTeam int                               `json:"winningTeam"`
	MVPs        []string                          `json:"mvps"`
	BedBreakers []string                          `json:"bedBreakers"`
	Stats       map[string]models.PlayerGameStats `json:"stats"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
}

type BoosterRequest struct {
	Multiplier float64 `json:"multiplier"`
	// Duration is a "<int>[smhd]" string; empty never expires.
	Duration string `json:"duration,omitempty"`
}

func matchID(r *http.Request) string {
	return strings.ToUpper(mux.Vars(r)["matchId"])
}

// GET /api/matches/{matchId}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.matches.GetMatch(r.Context(), matchID(r))
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	resp := MatchResponse{Match: m}
	if ws, ok := h.warps.Warp(m.ID); ok {
		resp.Warp = &ws
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// POST /api/staff/matches/{matchId}/retry
func (h *MatchHandler) RetryWarp(w http.ResponseWriter, r *http.Request) {
	if err := h.warps.Retry(r.Context(), matchID(r)); err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "warp restarted"})
}

// POST /api/staff/matches/{matchId}/submit
func (h *MatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	m, err := h.scorer.Submit(r.Context(), matchID(r), staffID(r))
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// POST /api/staff/matches/{matchId}/score
func (h *MatchHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	stats := req.Stats
	mvps := req.MVPs
	if len(mvps) == 0 && len(stats) > 0 {
		mvps = scoring.DefaultMVPs(stats)
	}
	res, err := h.scorer.Score(r.Context(), scoring.Outcome{
		MatchID:     matchID(r),
		WinningTeam: req.WinningTeam,
		MVPs:        mvps,
		BedBreakers: req.BedBreakers,
		Stats:       stats,
		Actor:       staffID(r),
	})
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// POST /api/staff/matches/{matchId}/void
func (h *MatchHandler) Void(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	m, err := h.scorer.Void(r.Context(), matchID(r), staffID(r), req.Reason)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// GET /api/booster
func (h *MatchHandler) GetBooster(w http.ResponseWriter, r *http.Request) {
	m, err := h.scorer.Multiplier(r.Context())
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]float64{"multiplier": m})
}

// PUT /api/staff/booster
func (h *MatchHandler) SetBooster(w http.ResponseWriter, r *http.Request) {
	var req BoosterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = moderation.ParseDuration(req.Duration); err != nil {
			respondWithErr(w, r, err)
			return
		}
	}
	b, err := h.scorer.SetBooster(r.Context(), req.Multiplier, staffID(r), d)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}
