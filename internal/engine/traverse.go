package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/perchlabs/synapse/internal/store"
)

// Traversal algorithms.
const (
	AlgorithmBFS = "bfs"
	AlgorithmDFS = "dfs"
)

// TraverseParams bounds a graph exploration. Zero values take the
// documented defaults.
type TraverseParams struct {
	StartID   string
	MaxDepth  int     // default 2
	MaxNodes  int     // default 20
	MinWeight float64 // default 0.2
	Algorithm string  // bfs (default) or dfs
	Direction string  // outgoing, incoming, or both (default)
}

// TraversalStep is one emitted node with its discovery depth and the
// product of edge weights along the discovered path from the start.
type TraversalStep struct {
	Node       store.Node
	Depth      int
	PathWeight float64
}

// Traverse explores the graph from a start node, following edges at or
// above MinWeight in the allowed directions, bounded by depth and node
// budget. Archived nodes are excluded, the start node included: an
// archived start reports not-found. An active start node is always the
// first step, depth 0, path weight 1.0, even with no qualifying edges.
//
// BFS output is depth ascending; within a depth, path weight descending
// with ties broken by node id. A node is claimed at first discovery and
// never revisited. DFS emits in preorder discovery order, expanding each
// node's edges by weight descending then neighbor id, under the same
// budgets and first-discovery rule.
//
// Every emitted node is loaded through the tracked read, so traversal
// counts as retrieval and the reported access counts are pre-increment.
func (e *Engine) Traverse(ctx context.Context, p TraverseParams) ([]TraversalStep, error) {
	if p.StartID == "" {
		return nil, &store.ValidationError{Field: "start_node_id", Reason: "required"}
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = 2
	}
	if p.MaxNodes <= 0 {
		p.MaxNodes = 20
	}
	if p.MinWeight <= 0 {
		p.MinWeight = 0.2
	}
	switch p.Algorithm {
	case "":
		p.Algorithm = AlgorithmBFS
	case AlgorithmBFS, AlgorithmDFS:
	default:
		return nil, &store.ValidationError{Field: "algorithm", Reason: "must be bfs or dfs"}
	}
	switch p.Direction {
	case "":
		p.Direction = store.DirectionBoth
	case store.DirectionOutgoing, store.DirectionIncoming, store.DirectionBoth:
	default:
		return nil, &store.ValidationError{Field: "direction", Reason: "must be outgoing, incoming, or both"}
	}

	// The start node must exist before any node is emitted (and counted).
	// Archived nodes are excluded from traversal entirely, start
	// included; they stay reachable only by direct id lookup.
	start, err := e.DB.GetNodeRaw(ctx, p.StartID)
	if err != nil {
		return nil, fmt.Errorf("traverse start: %w", err)
	}
	if start.Status == store.StatusArchived {
		return nil, fmt.Errorf("traverse start: %w", store.ErrNotFound)
	}

	if p.Algorithm == AlgorithmDFS {
		return e.traverseDFS(ctx, p)
	}
	return e.traverseBFS(ctx, p)
}

type frontierEntry struct {
	id         string
	pathWeight float64
}

func (e *Engine) traverseBFS(ctx context.Context, p TraverseParams) ([]TraversalStep, error) {
	visited := map[string]bool{p.StartID: true}
	level := []frontierEntry{{id: p.StartID, pathWeight: 1.0}}

	var steps []TraversalStep
	for depth := 0; len(level) > 0 && len(steps) < p.MaxNodes; depth++ {
		// Emission order within a depth: path weight descending, ties by
		// node id. Expansion follows the same order so first-discovery is
		// deterministic.
		sort.SliceStable(level, func(i, j int) bool {
			if level[i].pathWeight != level[j].pathWeight {
				return level[i].pathWeight > level[j].pathWeight
			}
			return level[i].id < level[j].id
		})

		var next []frontierEntry
		for _, entry := range level {
			if len(steps) >= p.MaxNodes {
				break
			}

			node, err := e.DB.GetNode(ctx, entry.id)
			if err != nil {
				return nil, fmt.Errorf("traverse node %s: %w", entry.id, err)
			}
			steps = append(steps, TraversalStep{Node: *node, Depth: depth, PathWeight: entry.pathWeight})

			if depth >= p.MaxDepth {
				continue
			}

			neighbors, err := e.DB.NeighborEdges(ctx, entry.id, p.Direction, p.MinWeight)
			if err != nil {
				return nil, fmt.Errorf("traverse edges of %s: %w", entry.id, err)
			}
			for _, ne := range neighbors {
				if visited[ne.OtherID] {
					continue
				}
				visited[ne.OtherID] = true
				next = append(next, frontierEntry{id: ne.OtherID, pathWeight: entry.pathWeight * ne.Weight})
			}
		}
		level = next
	}
	return steps, nil
}

func (e *Engine) traverseDFS(ctx context.Context, p TraverseParams) ([]TraversalStep, error) {
	type stackEntry struct {
		id         string
		depth      int
		pathWeight float64
	}

	visited := make(map[string]bool)
	stack := []stackEntry{{id: p.StartID, depth: 0, pathWeight: 1.0}}

	var steps []TraversalStep
	for len(stack) > 0 && len(steps) < p.MaxNodes {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[entry.id] {
			continue
		}
		visited[entry.id] = true

		node, err := e.DB.GetNode(ctx, entry.id)
		if err != nil {
			return nil, fmt.Errorf("traverse node %s: %w", entry.id, err)
		}
		steps = append(steps, TraversalStep{Node: *node, Depth: entry.depth, PathWeight: entry.pathWeight})

		if entry.depth >= p.MaxDepth {
			continue
		}

		neighbors, err := e.DB.NeighborEdges(ctx, entry.id, p.Direction, p.MinWeight)
		if err != nil {
			return nil, fmt.Errorf("traverse edges of %s: %w", entry.id, err)
		}
		// Push in reverse so the heaviest edge is explored first.
		for i := len(neighbors) - 1; i >= 0; i-- {
			ne := neighbors[i]
			if visited[ne.OtherID] {
				continue
			}
			stack = append(stack, stackEntry{
				id:         ne.OtherID,
				depth:      entry.depth + 1,
				pathWeight: entry.pathWeight * ne.Weight,
			})
		}
	}
	return steps, nil
}

// Stats is a snapshot of graph size and connectivity.
type Stats struct {
	NodeCount      int            `json:"node_count"`
	ArchivedCount  int            `json:"archived_count"`
	EdgeCount      int            `json:"edge_count"`
	AvgConnections float64        `json:"avg_connections"`
	NodesBySource  map[string]int `json:"nodes_by_source"`
}

// GraphStats reports node/edge counts and average connections per
// active node.
func (e *Engine) GraphStats(ctx context.Context) (*Stats, error) {
	active, archived, bySource, err := e.DB.NodeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}
	edges, err := e.DB.EdgeCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}

	avg := 0.0
	if active > 0 {
		avg = float64(edges) / float64(active)
	}
	return &Stats{
		NodeCount:      active,
		ArchivedCount:  archived,
		EdgeCount:      edges,
		AvgConnections: avg,
		NodesBySource:  bySource,
	}, nil
}
