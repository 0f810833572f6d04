package handlers

import (
	"context"
	"net/http"

	"rbw-core/internal/models"
)

type Verifier interface {
	Issue(ctx context.Context, playerID, ign string) (models.PendingVerification, error)
}

type VerificationHandler struct {
	verifier Verifier
}

func NewVerificationHandler(v Verifier) *VerificationHandler {
	return &VerificationHandler{verifier: v}
}

type IssueVerificationRequest struct {
	IGN string `json:"ign"`
}

// Issue starts an IGN verification for a player. The returned code is
// shown to the player, who types it in game.
// POST /api/staff/players/{playerId}/verification
func (h *VerificationHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	pv, err := h.verifier.Issue(r.Context(), playerID(r), req.IGN)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pv)
}
