package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"rbw-core/internal/models"
)

// PartyManager is the party service as driven by the chat client.
type PartyManager interface {
	Get(ctx context.Context, playerID string) (*models.Party, error)
	Invite(ctx context.Context, leaderID, targetID string) (*models.Party, error)
	Accept(ctx context.Context, playerID, leaderID string) (*models.Party, error)
	Kick(ctx context.Context, leaderID, targetID string) (*models.Party, error)
	Leave(ctx context.Context, playerID string) error
	Disband(ctx context.Context, leaderID string) error
	PromoteLeader(ctx context.Context, leaderID, newLeaderID string) (*models.Party, error)
	SetPrivate(ctx context.Context, leaderID string, private bool) (*models.Party, error)
	AddIgnore(ctx context.Context, playerID, targetID string) error
	RemoveIgnore(ctx context.Context, playerID, targetID string) error
}

// PartyHandler exposes party operations on behalf of a player. The chat
// client authenticates as staff and names the acting player in the path.
type PartyHandler struct {
	parties PartyManager
}

func NewPartyHandler(parties PartyManager) *PartyHandler {
	return &PartyHandler{parties: parties}
}

type TargetRequest struct {
	TargetID string `json:"targetId"`
}

type PrivacyRequest struct {
	Private bool `json:"private"`
}

func (h *PartyHandler) target(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req TargetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return "", false
	}
	if req.TargetID == "" {
		respondWithErr(w, r, models.Invalid("targetId", "is required"))
		return "", false
	}
	return req.TargetID, true
}

func (h *PartyHandler) withTarget(fn func(ctx context.Context, actor, target string) (*models.Party, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, ok := h.target(w, r)
		if !ok {
			return
		}
		p, err := fn(r.Context(), playerID(r), target)
		if err != nil {
			respondWithErr(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, p)
	}
}

// GET /api/parties/{playerId}
func (h *PartyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.parties.Get(r.Context(), playerID(r))
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// POST /api/parties/{playerId}/invite
func (h *PartyHandler) Invite(w http.ResponseWriter, r *http.Request) {
	h.withTarget(h.parties.Invite)(w, r)
}

// POST /api/parties/{playerId}/accept/{leaderId}
func (h *PartyHandler) Accept(w http.ResponseWriter, r *http.Request) {
	p, err := h.parties.Accept(r.Context(), playerID(r), mux.Vars(r)["leaderId"])
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// POST /api/parties/{playerId}/kick
func (h *PartyHandler) Kick(w http.ResponseWriter, r *http.Request) {
	h.withTarget(h.parties.Kick)(w, r)
}

// POST /api/parties/{playerId}/promote
func (h *PartyHandler) Promote(w http.ResponseWriter, r *http.Request) {
	h.withTarget(h.parties.PromoteLeader)(w, r)
}

// POST /api/parties/{playerId}/leave
func (h *PartyHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.parties.Leave(r.Context(), playerID(r)); err != nil {
		respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/parties/{playerId}
func (h *PartyHandler) Disband(w http.ResponseWriter, r *http.Request) {
	if err := h.parties.Disband(r.Context(), playerID(r)); err != nil {
		respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/parties/{playerId}/privacy
func (h *PartyHandler) SetPrivate(w http.ResponseWriter, r *http.Request) {
	var req PrivacyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithErr(w, r, err)
		return
	}
	p, err := h.parties.SetPrivate(r.Context(), playerID(r), req.Private)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// POST /api/parties/{playerId}/ignores
func (h *PartyHandler) AddIgnore(w http.ResponseWriter, r *http.Request) {
	target, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.parties.AddIgnore(r.Context(), playerID(r), target); err != nil {
		respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/parties/{playerId}/ignores/{targetId}
func (h *PartyHandler) RemoveIgnore(w http.ResponseWriter, r *http.Request) {
	if err := h.parties.RemoveIgnore(r.Context(), playerID(r), mux.Vars(r)["targetId"]); err != nil {
		respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
