package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"rbw-core/internal/models"
	"rbw-core/internal/moderation"
)

// Moderator is the sanction side of the staff API.
type Moderator interface {
	Ban(ctx context.Context, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error)
	Mute(ctx context.Context, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error)
	Unban(ctx context.Context, playerID, staffID, reason string) error
	Unmute(ctx context.Context, playerID, staffID, reason string) error
	Active(ctx context.Context, kind models.SanctionKind, playerID string) ([]models.Sanction, error)
	Strike(ctx context.Context, playerID, staffID, reason string) (*moderation.StrikeResult, error)
	StartScreenshare(ctx context.Context, targetID, requesterID, reason string, automatic bool) (*models.Screenshare, error)
	CloseScreenshare(ctx context.Context, targetID, closedBy string, state models.ScreenshareState) error
}

type ModerationHandler struct {
	mod Moderator
}

func NewModerationHandler(mod Moderator) *ModerationHandler {
	return &ModerationHandler{mod: mod}
}

type SanctionRequest struct {
	Reason string `json:"reason"`
	// Duration is a "<int>[smhd]" string.
	Duration string `json:"duration"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type CloseScreenshareRequest struct {
	State models.ScreenshareState `json:"state"`
}

func playerID(r *http.Request) string {
	return mux.Vars(r)["playerId"]
}

func (h *ModerationHandler) restrict(apply func(ctx context.Context, playerID, staffID, reason string, d time.Duration) (*models.Sanction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SanctionRequest
		if err := decodeJSON(r, &req); err != nil {
			respondWithErr(w, r, err)
			return
		}
		d, err := moderation.ParseDuration(req.Duration)
		if err != nil {
			respondWithErr(w, r, err)
			return
		}
		s, err := apply(r.Context(), playerID(r), staffID(r), req.Reason, d)
		if err != nil {
			respondWithErr(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, s)
	}
}

func (h *ModerationHandler) lift(fn func(ctx context.Context, playerID, staffID, reason string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReasonRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				respondWithErr(w, r, err)
				return
			}
		}
		if err := fn(r.Context(), playerID(r), staffID(r), req.Reason); err != nil {
			respondWithErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /api/staff/players/{playerId}/ban
func (h *ModerationHandler) Ban(w http.ResponseWriter, r *http.Request) { h.restrict(h.mod.Ban)(w, r) }

// DELETE /api/staff/players/{playerId}/ban
func (h *ModerationHandler) Unban(w http.ResponseWriter, r *http.Request) { h.lift(h.mod.Unban)(w, r) }

// POST /api/staff/players/{playerId}/mute
func (h *ModerationHandler) Mute(w http.ResponseWriter, r *http.Request) {
	h.restrict(h.mod.Mute)(w, r)
}

// DELETE /api/staff/players/{playerId}/mute
func (h *ModerationHandler) Unmute(w http.ResponseWriter, r *http.Request) {
	h.lift(h.mod.Unmute)(w, r)
}

// GET /api/staff/players/{playerId}/sanctions
func (h *ModerationHandler) GetSanctions(w http.ResponseWriter, r *http.Request) {
	out := map[models.SanctionKind][]models.Sanction{}
	for _, kind := range []models.SanctionKind{models.SanctionBan, models.SanctionMute} {
		active, err := h.mod.Active(r.Context(), kind, playerID(r))
		if err != nil {
			respondWithErr(w, r, err)
			return
		}
		out[kind] = active
	}
	respondWithJSON(w, http.StatusOK, out)
}

// POST /api/staff/players/{playerId}/strikes
func (h *ModerationHandler) Strike(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	if req.Reason == "" {
		respondWithErr(w, r, models.Invalid("reason", "is required"))
		return
	}
	res, err := h.mod.Strike(r.Context(), playerID(r), staffID(r), req.Reason)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

// POST /api/staff/players/{playerId}/screenshare
func (h *ModerationHandler) StartScreenshare(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	ss, err := h.mod.StartScreenshare(r.Context(), playerID(r), staffID(r), req.Reason, false)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, ss)
}

// DELETE /api/staff/players/{playerId}/screenshare
func (h *ModerationHandler) CloseScreenshare(w http.ResponseWriter, r *http.Request) {
	req := CloseScreenshareRequest{State: models.ScreenshareClosed}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondWithErr(w, r, err)
			return
		}
	}
	if err := h.mod.CloseScreenshare(r.Context(), playerID(r), staffID(r), req.State); err != nil {
		respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
