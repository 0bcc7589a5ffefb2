package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perchlabs/synapse/internal/store"
)

type edgeJSON struct {
	ID               string  `json:"id"`
	SourceID         string  `json:"source_id"`
	TargetID         string  `json:"target_id"`
	Weight           float64 `json:"weight"`
	EdgeType         string  `json:"edge_type"`
	CreatedAt        int64   `json:"created_at"`
	LastStrengthened *int64  `json:"last_strengthened,omitempty"`
}

func toEdgeJSON(e *store.Edge) edgeJSON {
	return edgeJSON{
		ID:               e.ID,
		SourceID:         e.SourceID,
		TargetID:         e.TargetID,
		Weight:           e.Weight,
		EdgeType:         e.EdgeType,
		CreatedAt:        e.CreatedAt,
		LastStrengthened: e.LastStrengthened,
	}
}

// handleUpsertEdge creates an edge, or returns the existing one
// untouched: 201 on create, 200 on existing. Strengthening is the
// co-activation endpoint's job.
func (s *Server) handleUpsertEdge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string   `json:"source_id"`
		TargetID string   `json:"target_id"`
		EdgeType string   `json:"edge_type"`
		Weight   *float64 `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &store.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	if req.SourceID == "" || req.TargetID == "" {
		s.writeError(w, &store.ValidationError{Field: "source_id", Reason: "source_id and target_id required"})
		return
	}
	if req.EdgeType == "" {
		req.EdgeType = "related"
	}
	weight := 0.5
	if req.Weight != nil {
		weight = *req.Weight
	}

	edge, created, err := s.db.UpsertEdge(r.Context(), req.SourceID, req.TargetID, req.EdgeType, weight)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toEdgeJSON(edge))
}

func (s *Server) handleGetEdge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "edgeID")

	edge, err := s.db.GetEdge(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeJSON(edge))
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "edgeID")

	if err := s.db.DeleteEdge(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
