package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/perchlabs/synapse/internal/store"
)

// nodeJSON is the wire shape of a node.
type nodeJSON struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Summary      string   `json:"summary,omitempty"`
	Source       string   `json:"source"`
	Tags         []string `json:"tags,omitempty"`
	AccessCount  int      `json:"access_count"`
	DecayScore   float64  `json:"decay_score"`
	Status       string   `json:"status"`
	CreatedAt    int64    `json:"created_at"`
	LastAccessed *int64   `json:"last_accessed,omitempty"`
}

func toNodeJSON(n *store.Node) nodeJSON {
	return nodeJSON{
		ID:           n.ID,
		Content:      n.Content,
		Summary:      n.Summary,
		Source:       n.Source,
		Tags:         n.Tags,
		AccessCount:  n.AccessCount,
		DecayScore:   n.DecayScore,
		Status:       n.Status,
		CreatedAt:    n.CreatedAt,
		LastAccessed: n.LastAccessed,
	}
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string   `json:"content"`
		Source  string   `json:"source"`
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &store.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	if req.Source == "" {
		req.Source = "conversation"
	}

	node, err := s.db.CreateNode(r.Context(), req.Content, req.Source, req.Summary, req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNodeJSON(node))
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")

	node, err := s.db.GetNode(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.engine.RecordAccess(r.Context(), id)
	writeJSON(w, http.StatusOK, toNodeJSON(node))
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")

	var req struct {
		Content *string   `json:"content"`
		Summary *string   `json:"summary"`
		Source  *string   `json:"source"`
		Tags    *[]string `json:"tags"`
		Status  *string   `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &store.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}

	node, err := s.db.UpdateNode(r.Context(), id, store.NodeUpdate{
		Content: req.Content,
		Summary: req.Summary,
		Source:  req.Source,
		Tags:    req.Tags,
		Status:  req.Status,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeJSON(node))
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")

	if err := s.db.DeleteNode(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearchNodes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	opts := store.SearchOpts{
		Limit:           queryInt(r, "limit", 10),
		Source:          r.URL.Query().Get("source"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}

	nodes, err := s.db.SearchNodes(r.Context(), query, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeNodeList(w, query, nodes)
}

func (s *Server) handleRecentNodes(w http.ResponseWriter, r *http.Request) {
	opts := store.SearchOpts{
		Limit:           queryInt(r, "limit", 20),
		Source:          r.URL.Query().Get("source"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}

	nodes, err := s.db.ListRecentNodes(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeNodeList(w, "", nodes)
}

func (s *Server) handleConnectedNodes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")

	direction := r.URL.Query().Get("direction")
	if direction == "" {
		direction = store.DirectionBoth
	}
	minWeight := queryFloat(r, "min_weight", 0.1)
	limit := queryInt(r, "limit", 10)

	// 404 for unknown ids rather than an empty result.
	if _, err := s.db.GetNodeRaw(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	connected, err := s.db.ConnectedNodes(r.Context(), id, direction, minWeight, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type connectedJSON struct {
		Node      nodeJSON `json:"node"`
		Weight    float64  `json:"weight"`
		EdgeType  string   `json:"edge_type"`
		Direction string   `json:"direction"`
	}
	out := make([]connectedJSON, len(connected))
	for i, c := range connected {
		out[i] = connectedJSON{
			Node:      toNodeJSON(&c.Node),
			Weight:    c.Weight,
			EdgeType:  c.EdgeType,
			Direction: c.Direction,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":   id,
		"count":     len(out),
		"connected": out,
	})
}

func writeNodeList(w http.ResponseWriter, query string, nodes []store.Node) {
	out := make([]nodeJSON, len(nodes))
	for i := range nodes {
		out[i] = toNodeJSON(&nodes[i])
	}
	resp := map[string]any{
		"count": len(out),
		"nodes": out,
	}
	if query != "" {
		resp["query"] = query
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
