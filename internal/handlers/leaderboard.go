package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"rbw-core/internal/models"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 200
)

// PlayerDirectory is the read side of the player store.
type PlayerDirectory interface {
	FindPlayers(ctx context.Context, q models.PlayerQuery) ([]models.Player, error)
	FindPlayerByIGN(ctx context.Context, ign string) (*models.Player, error)
}

type LeaderboardHandler struct {
	players PlayerDirectory
}

func NewLeaderboardHandler(players PlayerDirectory) *LeaderboardHandler {
	return &LeaderboardHandler{players: players}
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	IGN       string `json:"ign"`
	Rating    int    `json:"rating"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
	WinStreak int    `json:"winStreak"`
	MVPs      int    `json:"mvps"`
	Games     int    `json:"gamesPlayed"`
}

// GetLeaderboard returns the top players by rating.
// GET /api/leaderboard?limit=N
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithErr(w, r, models.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	players, err := h.players.FindPlayers(ctx, models.PlayerQuery{SortByRating: true, Limit: limit})
	if err != nil {
		respondWithErr(w, r, err)
		return
	}

	entries := make([]LeaderboardEntry, len(players))
	for i, p := range players {
		entries[i] = LeaderboardEntry{
			Rank:      i + 1,
			IGN:       p.IGN,
			Rating:    p.Rating,
			Wins:      p.Wins,
			Losses:    p.Losses,
			WinStreak: p.WinStreak,
			MVPs:      p.MVPs,
			Games:     p.GamesPlayed,
		}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// GetPlayer returns a player profile by in-game name.
// GET /api/players/{ign}
func (h *LeaderboardHandler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := h.players.FindPlayerByIGN(r.Context(), mux.Vars(r)["ign"])
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}
