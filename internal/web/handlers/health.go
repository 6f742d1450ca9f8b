package handlers

import (
	"context"
	"net/http"
	"time"
)

// Counter reports how many identity records are enrolled.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler reports liveness and the state of the store and the
// embedding server.
type HealthHandler struct {
	store     Counter
	embedding Pinger
}

// NewHealthHandler creates a health handler. embedding may be nil.
func NewHealthHandler(store Counter, embedding Pinger) *HealthHandler {
	return &HealthHandler{store: store, embedding: embedding}
}

type healthResponse struct {
	Status    string `json:"status"`
	Records   int    `json:"records"`
	Store     string `json:"store"`
	Embedding string `json:"embedding,omitempty"`
}

// Get handles GET /health. It answers 200 while the store works, even when
// the embedding server is down.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	n, err := h.store.Count(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Store = "unavailable"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Records = n

	if h.embedding != nil {
		resp.Embedding = "ok"
		if err := h.embedding.Health(ctx); err != nil {
			resp.Status = "degraded"
			resp.Embedding = "unavailable"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
