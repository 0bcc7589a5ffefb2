package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Edge types. Directed: related/causal/temporal/contradicts all read
// source→target.
var EdgeTypes = []string{"related", "causal", "temporal", "contradicts"}

// Edge is a directed, weighted association between two nodes.
type Edge struct {
	ID               string
	SourceID         string
	TargetID         string
	Weight           float64
	EdgeType         string
	CreatedAt        int64
	LastStrengthened *int64
	LastDecayedAt    *int64
}

// Direction selects which edges a connectivity query follows.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
	DirectionBoth     = "both"
)

// ConnectedNode pairs a neighbor with the edge that reaches it.
type ConnectedNode struct {
	Node      Node
	Weight    float64
	EdgeType  string
	Direction string

	// strengthStamp orders equal-weight results (most recently
	// strengthened first); falls back to edge creation time.
	strengthStamp int64
}

func validateEdgeType(edgeType string) error {
	for _, t := range EdgeTypes {
		if t == edgeType {
			return nil
		}
	}
	return &ValidationError{Field: "edge_type", Reason: fmt.Sprintf("%q not one of %v", edgeType, EdgeTypes)}
}

func validateWeight(field string, w float64) error {
	if w < 0.0 || w > 1.0 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%g outside [0.0, 1.0]", w)}
	}
	return nil
}

func isForeignKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// UpsertEdge creates the edge source→target if absent. If the edge
// already exists this is a no-op returning the existing edge:
// strengthening is co-activation's job, not upsert's.
func (db *DB) UpsertEdge(ctx context.Context, sourceID, targetID, edgeType string, weight float64) (*Edge, bool, error) {
	if sourceID == targetID {
		return nil, false, &ValidationError{Field: "target_id", Reason: "self-loop edges are not allowed"}
	}
	if err := validateEdgeType(edgeType); err != nil {
		return nil, false, err
	}
	if err := validateWeight("weight", weight); err != nil {
		return nil, false, err
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	var created bool
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO memory_edges (id, source_id, target_id, edge_type, weight, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, target_id) DO NOTHING
		`, id, sourceID, targetID, edgeType, weight, now)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = rows > 0
		return nil
	})
	if isForeignKeyErr(err) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert edge: %w", err)
	}

	edge, err := db.GetEdgeBetween(ctx, sourceID, targetID)
	if err != nil {
		return nil, false, err
	}
	return edge, created, nil
}

const edgeColumns = `id, source_id, target_id, weight, edge_type, created_at, last_strengthened, last_decayed_at`

// GetEdge returns an edge by id.
func (db *DB) GetEdge(ctx context.Context, id string) (*Edge, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM memory_edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get edge: %w", err)
	}
	return e, nil
}

// GetEdgeBetween returns the edge source→target, if any.
func (db *DB) GetEdgeBetween(ctx context.Context, sourceID, targetID string) (*Edge, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM memory_edges WHERE source_id = ? AND target_id = ?`, sourceID, targetID)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get edge between: %w", err)
	}
	return e, nil
}

// DeleteEdge removes an edge by id.
func (db *DB) DeleteEdge(ctx context.Context, id string) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, "DELETE FROM memory_edges WHERE id = ?", id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

// StrengthenOrCreateEdge is the per-pair Hebbian update: a single atomic
// upsert that either creates source→target at the learning rate or adds
// the rate to the stored weight, clamped to 1.0. The returned weight is
// the value as of this call's own update; concurrent calls on the same
// pair serialize at the row and none is lost.
func (db *DB) StrengthenOrCreateEdge(ctx context.Context, sourceID, targetID string, rate float64) (edgeID string, newWeight float64, created bool, err error) {
	if sourceID == targetID {
		return "", 0, false, &ValidationError{Field: "target_id", Reason: "self-loop edges are not allowed"}
	}
	if err := validateWeight("learning_rate", rate); err != nil {
		return "", 0, false, err
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	err = withRetry(ctx, func(ctx context.Context) error {
		return db.QueryRowContext(ctx, `
			INSERT INTO memory_edges (id, source_id, target_id, edge_type, weight, created_at)
			VALUES (?, ?, ?, 'related', ?, ?)
			ON CONFLICT(source_id, target_id) DO UPDATE SET
				weight = MIN(1.0, weight + ?),
				last_strengthened = ?
			RETURNING id, weight
		`, id, sourceID, targetID, rate, now, rate, now).Scan(&edgeID, &newWeight)
	})
	if isForeignKeyErr(err) {
		return "", 0, false, ErrNotFound
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("strengthen edge: %w", err)
	}
	return edgeID, newWeight, edgeID == id, nil
}

// StrengthenEdge adds delta to an existing edge's weight, clamped to
// 1.0, in one conditional statement. Returns the new weight.
func (db *DB) StrengthenEdge(ctx context.Context, sourceID, targetID string, delta float64) (float64, error) {
	if err := validateWeight("delta", delta); err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	var newWeight float64
	err := withRetry(ctx, func(ctx context.Context) error {
		return db.QueryRowContext(ctx, `
			UPDATE memory_edges
			SET weight = MIN(1.0, weight + ?), last_strengthened = ?
			WHERE source_id = ? AND target_id = ?
			RETURNING weight
		`, delta, now, sourceID, targetID).Scan(&newWeight)
	})
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("strengthen edge: %w", err)
	}
	return newWeight, nil
}

// ConnectedNodes returns active neighbors of a node reachable over edges
// at or above minWeight, sorted by weight descending, ties broken by
// most recently strengthened first.
func (db *DB) ConnectedNodes(ctx context.Context, nodeID, direction string, minWeight float64, limit int) ([]ConnectedNode, error) {
	switch direction {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
	default:
		return nil, &ValidationError{Field: "direction", Reason: "must be outgoing, incoming, or both"}
	}
	if limit <= 0 {
		limit = 10
	}

	var results []ConnectedNode

	collect := func(dir string) error {
		var join, where string
		if dir == DirectionOutgoing {
			join = "JOIN memory_edges e ON n.id = e.target_id"
			where = "e.source_id = ?"
		} else {
			join = "JOIN memory_edges e ON n.id = e.source_id"
			where = "e.target_id = ?"
		}

		rows, err := db.QueryContext(ctx, `
			SELECT `+prefixedNodeColumns("n")+`, e.weight, e.edge_type, COALESCE(e.last_strengthened, e.created_at)
			FROM memory_nodes n `+join+`
			WHERE `+where+` AND e.weight >= ? AND n.status = 'active'
			ORDER BY e.weight DESC, COALESCE(e.last_strengthened, e.created_at) DESC
			LIMIT ?
		`, nodeID, minWeight, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var cn ConnectedNode
			var summary, tags sql.NullString
			var embedding []byte
			var lastAccessed, lastDecayed sql.NullInt64
			var strengthStamp int64
			n := &cn.Node
			if err := rows.Scan(&n.ID, &n.Content, &summary, &n.Source, &tags, &embedding,
				&n.AccessCount, &n.DecayScore, &n.Status, &n.CreatedAt, &lastAccessed, &lastDecayed,
				&cn.Weight, &cn.EdgeType, &strengthStamp); err != nil {
				return err
			}
			n.Summary = summary.String
			n.Embedding = embedding
			if tags.Valid && tags.String != "" {
				if err := unmarshalTags(tags.String, &n.Tags); err != nil {
					return err
				}
			}
			if lastAccessed.Valid {
				n.LastAccessed = &lastAccessed.Int64
			}
			if lastDecayed.Valid {
				n.LastDecayedAt = &lastDecayed.Int64
			}
			cn.Direction = dir
			cn.strengthStamp = strengthStamp
			results = append(results, cn)
		}
		return rows.Err()
	}

	if direction == DirectionOutgoing || direction == DirectionBoth {
		if err := collect(DirectionOutgoing); err != nil {
			return nil, fmt.Errorf("connected outgoing: %w", err)
		}
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		if err := collect(DirectionIncoming); err != nil {
			return nil, fmt.Errorf("connected incoming: %w", err)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Weight != results[j].Weight {
			return results[i].Weight > results[j].Weight
		}
		return results[i].strengthStamp > results[j].strengthStamp
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// NeighborEdge is a traversal adjacency entry: the node on the other
// end of a qualifying edge and that edge's weight.
type NeighborEdge struct {
	OtherID string
	Weight  float64
}

// NeighborEdges returns every active neighbor reachable from nodeID over
// edges at or above minWeight, ordered by weight descending then
// neighbor id for deterministic expansion.
func (db *DB) NeighborEdges(ctx context.Context, nodeID, direction string, minWeight float64) ([]NeighborEdge, error) {
	var neighbors []NeighborEdge

	collect := func(otherCol, whereCol string) error {
		rows, err := db.QueryContext(ctx, `
			SELECT e.`+otherCol+`, e.weight
			FROM memory_edges e
			JOIN memory_nodes n ON n.id = e.`+otherCol+`
			WHERE e.`+whereCol+` = ? AND e.weight >= ? AND n.status = 'active'
		`, nodeID, minWeight)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ne NeighborEdge
			if err := rows.Scan(&ne.OtherID, &ne.Weight); err != nil {
				return err
			}
			neighbors = append(neighbors, ne)
		}
		return rows.Err()
	}

	if direction == DirectionOutgoing || direction == DirectionBoth {
		if err := collect("target_id", "source_id"); err != nil {
			return nil, fmt.Errorf("neighbor edges outgoing: %w", err)
		}
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		if err := collect("source_id", "target_id"); err != nil {
			return nil, fmt.Errorf("neighbor edges incoming: %w", err)
		}
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Weight != neighbors[j].Weight {
			return neighbors[i].Weight > neighbors[j].Weight
		}
		return neighbors[i].OtherID < neighbors[j].OtherID
	})
	return neighbors, nil
}

// EdgeDecayRow is the slice of edge state the decay worker reads.
type EdgeDecayRow struct {
	ID               string
	Weight           float64
	CreatedAt        int64
	LastStrengthened *int64
	LastDecayedAt    *int64
}

// ListEdgesForDecay returns decay state for every edge.
func (db *DB) ListEdgesForDecay(ctx context.Context) ([]EdgeDecayRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, weight, created_at, last_strengthened, last_decayed_at
		FROM memory_edges
	`)
	if err != nil {
		return nil, fmt.Errorf("list edges for decay: %w", err)
	}
	defer rows.Close()

	var out []EdgeDecayRow
	for rows.Next() {
		var r EdgeDecayRow
		var strengthened, decayed sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Weight, &r.CreatedAt, &strengthened, &decayed); err != nil {
			return nil, fmt.Errorf("scan edge decay row: %w", err)
		}
		if strengthened.Valid {
			r.LastStrengthened = &strengthened.Int64
		}
		if decayed.Valid {
			r.LastDecayedAt = &decayed.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyEdgeDecay multiplies an edge's weight in a single statement,
// clamped to [0,1], stamping last_decayed_at. Guarded by both stamps the
// multiplier was derived from: if a strengthen lands in between the
// decay is skipped and recomputed next run, and if another decay pass
// got there first the stale update misses rather than decaying the same
// window twice.
func (db *DB) ApplyEdgeDecay(ctx context.Context, id string, multiplier float64, observedStrengthened, observedDecayed *int64, now int64) (bool, error) {
	var strengthGuard, decayGuard any
	if observedStrengthened != nil {
		strengthGuard = *observedStrengthened
	}
	if observedDecayed != nil {
		decayGuard = *observedDecayed
	}
	var applied bool
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, `
			UPDATE memory_edges
			SET weight = MAX(0.0, MIN(1.0, weight * ?)), last_decayed_at = ?
			WHERE id = ? AND last_strengthened IS ? AND last_decayed_at IS ?
		`, multiplier, now, id, strengthGuard, decayGuard)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = rows > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("apply edge decay: %w", err)
	}
	return applied, nil
}

// PruneEdgesBelow deletes every edge under the weight floor.
func (db *DB) PruneEdgesBelow(ctx context.Context, minWeight float64) (int, error) {
	var pruned int64
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, "DELETE FROM memory_edges WHERE weight < ?", minWeight)
		if err != nil {
			return err
		}
		pruned, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune edges: %w", err)
	}
	return int(pruned), nil
}

// EdgeCount returns the total number of edges.
func (db *DB) EdgeCount(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_edges").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("edge count: %w", err)
	}
	return count, nil
}

func scanEdge(row rowScanner) (*Edge, error) {
	var e Edge
	var strengthened, decayed sql.NullInt64
	err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Weight, &e.EdgeType,
		&e.CreatedAt, &strengthened, &decayed)
	if err != nil {
		return nil, err
	}
	if strengthened.Valid {
		e.LastStrengthened = &strengthened.Int64
	}
	if decayed.Valid {
		e.LastDecayedAt = &decayed.Int64
	}
	return &e, nil
}
