package engine

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DecayStats summarizes one decay pass.
type DecayStats struct {
	EdgesDecayed  int `json:"edges_decayed"`
	EdgesPruned   int `json:"edges_pruned"`
	NodesDecayed  int `json:"nodes_decayed"`
	NodesArchived int `json:"nodes_archived"`
	RowFailures   int `json:"row_failures"`
}

// RunDecay applies one decay pass: every edge weight and node
// decay_score is multiplied by DecayFactor^hours, where hours is the
// fractional time since that row's reference instant: the latest of
// creation, reinforcement (strengthen/access), and the previous decay
// application. Stamping last_decayed_at in the same statement makes the
// pass idempotent: an immediate re-run sees elapsed ≈ 0 and multiplies
// by ≈ 1, while a missed run sees a larger elapsed and applies the
// correct total. Overlapping passes (a manual trigger racing the
// worker) are safe too: the row update matches the decay stamp it was
// computed from, so only one of two racing updates lands per row.
//
// Edges below MinEdgeWeight are deleted; nodes below MinNodeScore are
// archived. Each row update is independent and atomic: a failed row is
// logged, skipped, and retried next run. Cancellation aborts the
// remainder of the pass cleanly.
func (e *Engine) RunDecay(ctx context.Context) (*DecayStats, error) {
	stats := &DecayStats{}
	now := time.Now().UnixMilli()

	edges, err := e.DB.ListEdgesForDecay(ctx)
	if err != nil {
		return nil, fmt.Errorf("decay: %w", err)
	}
	for _, row := range edges {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("decay aborted: %w", err)
		}

		ref := latest(row.CreatedAt, row.LastStrengthened, row.LastDecayedAt)
		mult := e.decayMultiplier(ref, now)
		if mult >= 1.0 {
			continue
		}

		applied, err := e.DB.ApplyEdgeDecay(ctx, row.ID, mult, row.LastStrengthened, row.LastDecayedAt, now)
		if err != nil {
			stats.RowFailures++
			e.log.Warn().Err(err).Str("edge_id", row.ID).Msg("edge decay skipped")
			continue
		}
		if applied {
			stats.EdgesDecayed++
		}
	}

	pruned, err := e.DB.PruneEdgesBelow(ctx, e.Params.MinEdgeWeight)
	if err != nil {
		stats.RowFailures++
		e.log.Warn().Err(err).Msg("edge prune failed")
	} else {
		stats.EdgesPruned = pruned
	}

	nodes, err := e.DB.ListNodesForDecay(ctx)
	if err != nil {
		return stats, fmt.Errorf("decay: %w", err)
	}
	for _, row := range nodes {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("decay aborted: %w", err)
		}

		ref := latest(row.CreatedAt, row.LastAccessed, row.LastDecayedAt)
		mult := e.decayMultiplier(ref, now)
		if mult >= 1.0 {
			continue
		}

		applied, err := e.DB.ApplyNodeDecay(ctx, row.ID, mult, row.LastAccessed, row.LastDecayedAt, now)
		if err != nil {
			stats.RowFailures++
			e.log.Warn().Err(err).Str("node_id", row.ID).Msg("node decay skipped")
			continue
		}
		if applied {
			stats.NodesDecayed++
		}
	}

	archived, err := e.DB.ArchiveNodesBelow(ctx, e.Params.MinNodeScore)
	if err != nil {
		stats.RowFailures++
		e.log.Warn().Err(err).Msg("node archival failed")
	} else {
		stats.NodesArchived = archived
	}

	return stats, nil
}

// decayMultiplier returns DecayFactor^hours for the fractional hours
// elapsed since ref. Computed in Go because modernc sqlite has no pow().
func (e *Engine) decayMultiplier(ref, now int64) float64 {
	elapsed := now - ref
	if elapsed <= 0 {
		return 1.0
	}
	hours := float64(elapsed) / float64(time.Hour.Milliseconds())
	return math.Pow(e.Params.DecayFactor, hours)
}

func latest(base int64, stamps ...*int64) int64 {
	ref := base
	for _, s := range stamps {
		if s != nil && *s > ref {
			ref = *s
		}
	}
	return ref
}
