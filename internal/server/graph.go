package server

import (
	"encoding/json"
	"net/http"

	"github.com/perchlabs/synapse/internal/engine"
	"github.com/perchlabs/synapse/internal/store"
)

func (s *Server) handleCoactivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeIDs []string `json:"node_ids"`
		Context string   `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &store.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}

	result, err := s.engine.Coactivate(r.Context(), req.NodeIDs, req.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type traversalStepJSON struct {
	Node       nodeJSON `json:"node"`
	Depth      int      `json:"depth"`
	PathWeight float64  `json:"path_weight"`
}

func (s *Server) handleTraverse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartNodeID string  `json:"start_node_id"`
		MaxDepth    int     `json:"max_depth"`
		MaxNodes    int     `json:"max_nodes"`
		MinWeight   float64 `json:"min_weight"`
		Algorithm   string  `json:"algorithm"`
		Direction   string  `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &store.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}

	steps, err := s.engine.Traverse(r.Context(), engine.TraverseParams{
		StartID:   req.StartNodeID,
		MaxDepth:  req.MaxDepth,
		MaxNodes:  req.MaxNodes,
		MinWeight: req.MinWeight,
		Algorithm: req.Algorithm,
		Direction: req.Direction,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]traversalStepJSON, 0, len(steps))
	for i := range steps {
		out = append(out, traversalStepJSON{
			Node:       toNodeJSON(&steps[i].Node),
			Depth:      steps[i].Depth,
			PathWeight: steps[i].PathWeight,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start_node_id": req.StartNodeID,
		"count":         len(out),
		"steps":         out,
	})
}

// handleDecayRun triggers a decay pass on demand, same pass the
// background worker runs on its interval.
func (s *Server) handleDecayRun(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.RunDecay(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
