package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"rbw-core/internal/matchmaking"
	"rbw-core/internal/models"
)

// QueueStatusSource reports the live queue membership.
type QueueStatusSource interface {
	Status(ctx context.Context) ([]matchmaking.QueueStatus, error)
}

// QueueRegistry is the configuration side of queues and rank bands.
type QueueRegistry interface {
	Bands(ctx context.Context) ([]models.RankBand, error)
	ConfigureBands(ctx context.Context, bands []models.RankBand) ([]models.RankBand, error)
	Queues(ctx context.Context) ([]models.Queue, error)
	UpsertQueue(ctx context.Context, q models.Queue) error
	DeleteQueue(ctx context.Context, id string) error
}

type MatchmakingHandler struct {
	status   QueueStatusSource
	registry QueueRegistry
}

func NewMatchmakingHandler(status QueueStatusSource, registry QueueRegistry) *MatchmakingHandler {
	return &MatchmakingHandler{status: status, registry: registry}
}

// GetQueues returns every queue with its current members.
// GET /api/queues
func (h *MatchmakingHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.Status(r.Context())
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// GET /api/bands
func (h *MatchmakingHandler) GetBands(w http.ResponseWriter, r *http.Request) {
	bands, err := h.registry.Bands(r.Context())
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bands)
}

// PutBands replaces the whole rank band table.
// PUT /api/staff/bands
func (h *MatchmakingHandler) PutBands(w http.ResponseWriter, r *http.Request) {
	var bands []models.RankBand
	if err := decodeJSON(r, &bands); err != nil {
		respondWithErr(w, r, err)
		return
	}
	saved, err := h.registry.ConfigureBands(r.Context(), bands)
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// GET /api/staff/queues
func (h *MatchmakingHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.registry.Queues(r.Context())
	if err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, queues)
}

// PUT /api/staff/queues/{queueId}
func (h *MatchmakingHandler) PutQueue(w http.ResponseWriter, r *http.Request) {
	var q models.Queue
	if err := decodeJSON(r, &q); err != nil {
		respondWithErr(w, r, err)
		return
	}
	q.ID = mux.Vars(r)["queueId"]
	if err := h.registry.UpsertQueue(r.Context(), q); err != nil {
		respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, q)
}

// DELETE /api/staff/queues/{queueId}
func (h *MatchmakingHandler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteQueue(r.Context(), mux.Vars(r)["queueId"]); err != nil {
		respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
