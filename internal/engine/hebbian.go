package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/perchlabs/synapse/internal/store"
)

// CoactivationDetail reports one pairwise edge update.
type CoactivationDetail struct {
	SourceID  string  `json:"source_id"`
	TargetID  string  `json:"target_id"`
	NewWeight float64 `json:"new_weight"`
	Created   bool    `json:"created"`
}

// CoactivationResult summarizes a co-activation call.
type CoactivationResult struct {
	EdgesCreated      int                  `json:"edges_created"`
	EdgesStrengthened int                  `json:"edges_strengthened"`
	Details           []CoactivationDetail `json:"details"`
}

// Coactivate strengthens the association between every unordered pair of
// the given nodes: n ids produce exactly n·(n−1)/2 pair updates. For
// each pair the edge first-seen→second-seen is created at the learning
// rate or strengthened by it, clamped to 1.0. The reverse direction is
// only touched in symmetric mode; a single directed edge never implies
// its mirror.
//
// Reported weights are each as of that pair's own atomic update;
// concurrent co-activations on overlapping pairs serialize per edge and
// none is lost.
func (e *Engine) Coactivate(ctx context.Context, nodeIDs []string, reason string) (*CoactivationResult, error) {
	if len(nodeIDs) < 2 {
		return nil, &store.ValidationError{Field: "node_ids", Reason: "need at least 2 ids"}
	}
	seen := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		if id == "" {
			return nil, &store.ValidationError{Field: "node_ids", Reason: "empty id"}
		}
		if seen[id] {
			return nil, &store.ValidationError{Field: "node_ids", Reason: fmt.Sprintf("duplicate id %s", id)}
		}
		seen[id] = true
	}

	// Reject unknown ids before any mutation.
	for _, id := range nodeIDs {
		if _, err := e.DB.GetNodeRaw(ctx, id); err != nil {
			return nil, fmt.Errorf("coactivate node %s: %w", id, err)
		}
	}

	result := &CoactivationResult{}
	for i := 0; i < len(nodeIDs); i++ {
		for j := i + 1; j < len(nodeIDs); j++ {
			if err := e.strengthenPair(ctx, nodeIDs[i], nodeIDs[j], result); err != nil {
				return nil, err
			}
		}
	}

	e.log.Debug().
		Int("nodes", len(nodeIDs)).
		Int("created", result.EdgesCreated).
		Int("strengthened", result.EdgesStrengthened).
		Str("reason", reason).
		Msg("coactivation")
	return result, nil
}

func (e *Engine) strengthenPair(ctx context.Context, a, b string, result *CoactivationResult) error {
	directions := [][2]string{{a, b}}
	if e.Params.Symmetric {
		directions = append(directions, [2]string{b, a})
	}

	for _, d := range directions {
		_, weight, created, err := e.DB.StrengthenOrCreateEdge(ctx, d[0], d[1], e.Params.LearningRate)
		if err != nil {
			return fmt.Errorf("strengthen %s->%s: %w", d[0], d[1], err)
		}
		if created {
			result.EdgesCreated++
		} else {
			result.EdgesStrengthened++
		}
		result.Details = append(result.Details, CoactivationDetail{
			SourceID:  d[0],
			TargetID:  d[1],
			NewWeight: weight,
			Created:   created,
		})
	}
	return nil
}

// RecordAccess notes a tracked retrieval for the implicit co-activation
// window. When auto co-activation is on, the retrieved node is
// co-activated with every distinct node retrieved within the window;
// the earlier retrieval is the edge source. Failures are logged, never
// surfaced to the retrieval path.
func (e *Engine) RecordAccess(ctx context.Context, nodeID string) {
	if !e.Params.AutoCoactivate {
		return
	}

	now := time.Now()
	cutoff := now.Add(-e.Params.CoactivationWindow)

	e.mu.Lock()
	kept := e.recent[:0]
	for _, r := range e.recent {
		if r.at.After(cutoff) && r.nodeID != nodeID {
			kept = append(kept, r)
		}
	}
	e.recent = append(kept, recentAccess{nodeID: nodeID, at: now})

	partners := make([]string, 0, len(kept))
	for _, r := range kept {
		partners = append(partners, r.nodeID)
	}
	e.mu.Unlock()

	for _, partner := range partners {
		result := &CoactivationResult{}
		if err := e.strengthenPair(ctx, partner, nodeID, result); err != nil {
			e.log.Warn().Err(err).
				Str("source", partner).
				Str("target", nodeID).
				Msg("implicit coactivation failed")
		}
	}
}
