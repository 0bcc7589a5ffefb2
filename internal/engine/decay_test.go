package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/synapse/internal/store"
)

// backdate rewrites a row's created_at so decay sees elapsed time.
func backdateEdge(t *testing.T, e *Engine, edgeID string, ago time.Duration) {
	t.Helper()
	then := time.Now().Add(-ago).UnixMilli()
	_, err := e.DB.Exec("UPDATE memory_edges SET created_at = ? WHERE id = ?", then, edgeID)
	require.NoError(t, err)
}

func backdateNode(t *testing.T, e *Engine, nodeID string, ago time.Duration) {
	t.Helper()
	then := time.Now().Add(-ago).UnixMilli()
	_, err := e.DB.Exec("UPDATE memory_nodes SET created_at = ? WHERE id = ?", then, nodeID)
	require.NoError(t, err)
}

func TestRunDecayEdges(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.99, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "a", "b")

	edge, _, err := e.DB.UpsertEdge(ctx, ids[0], ids[1], "related", 0.8)
	require.NoError(t, err)
	backdateEdge(t, e, edge.ID, 2*time.Hour)

	stats, err := e.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesDecayed)
	assert.Zero(t, stats.RowFailures)

	got, err := e.DB.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	want := 0.8 * math.Pow(0.99, 2)
	assert.InDelta(t, want, got.Weight, 1e-4)
	require.NotNil(t, got.LastDecayedAt)
}

func TestRunDecayIdempotent(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.99, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "a", "b")

	edge, _, err := e.DB.UpsertEdge(ctx, ids[0], ids[1], "related", 0.8)
	require.NoError(t, err)
	backdateEdge(t, e, edge.ID, 5*time.Hour)

	_, err = e.RunDecay(ctx)
	require.NoError(t, err)
	first, err := e.DB.GetEdge(ctx, edge.ID)
	require.NoError(t, err)

	// An immediate re-run sees elapsed ≈ 0 since the decay stamp and
	// leaves the weight effectively unchanged.
	_, err = e.RunDecay(ctx)
	require.NoError(t, err)
	second, err := e.DB.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.InDelta(t, first.Weight, second.Weight, 1e-6)
}

func TestDecayOverlappingPassesApplyOnce(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.99, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "a", "b")

	edge, _, err := e.DB.UpsertEdge(ctx, ids[0], ids[1], "related", 0.8)
	require.NoError(t, err)
	backdateEdge(t, e, edge.ID, 24*time.Hour)

	// Two passes race: both snapshot the row before either updates it.
	rows, err := e.DB.ListEdgesForDecay(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	snapshot := rows[0]
	mult := e.decayMultiplier(latest(snapshot.CreatedAt, snapshot.LastStrengthened, snapshot.LastDecayedAt), time.Now().UnixMilli())

	_, err = e.RunDecay(ctx)
	require.NoError(t, err)

	// The second pass applies its snapshot-derived update after the
	// first already stamped the row: it must miss, not decay the same
	// window again.
	applied, err := e.DB.ApplyEdgeDecay(ctx, snapshot.ID, mult, snapshot.LastStrengthened, snapshot.LastDecayedAt, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.False(t, applied, "stale pass decayed the row a second time")

	got, err := e.DB.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	want := 0.8 * math.Pow(0.99, 24)
	assert.InDelta(t, want, got.Weight, 1e-3)
}

func TestRunDecaySkipsFreshRows(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.99, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "a", "b")

	edge, _, err := e.DB.UpsertEdge(ctx, ids[0], ids[1], "related", 0.8)
	require.NoError(t, err)

	// Fresh edge and nodes: sub-second elapsed decays by a negligible
	// amount, nothing is pruned or archived.
	stats, err := e.RunDecay(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EdgesPruned)
	assert.Zero(t, stats.NodesArchived)

	got, err := e.DB.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Weight, 1e-6)
}

func TestRunDecayPrunesWeakEdges(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.99, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "a", "b", "c")

	weak, _, err := e.DB.UpsertEdge(ctx, ids[0], ids[1], "related", 0.04)
	require.NoError(t, err)
	_, _, err = e.DB.UpsertEdge(ctx, ids[0], ids[2], "related", 0.5)
	require.NoError(t, err)

	stats, err := e.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesPruned)

	_, err = e.DB.GetEdge(ctx, weak.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	count, err := e.DB.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunDecayArchivesFadedNodes(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.5, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "fading", "fresh")

	// 0.5^8 hours drops a full score well under the 0.1 floor.
	backdateNode(t, e, ids[0], 8*time.Hour)

	stats, err := e.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NodesArchived)

	got, err := e.DB.GetNodeRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "archived", got.Status)

	keep, err := e.DB.GetNodeRaw(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "active", keep.Status)
}

func TestRunDecayAccessResetsReference(t *testing.T) {
	e := testEngine(t, Params{DecayFactor: 0.5, MinEdgeWeight: 0.05, MinNodeScore: 0.1})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "revisited")

	backdateNode(t, e, ids[0], 8*time.Hour)

	// A retrieval now moves the reference instant to the access stamp,
	// so the old creation time no longer drives the decay.
	_, err := e.DB.GetNode(ctx, ids[0])
	require.NoError(t, err)

	_, err = e.RunDecay(ctx)
	require.NoError(t, err)

	got, err := e.DB.GetNodeRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.DecayScore, 1e-6)
	assert.Equal(t, "active", got.Status)
}

func TestRunDecayCanceled(t *testing.T) {
	e := testEngine(t, Params{})
	ids := createNodes(t, e.DB, "a", "b")
	_, _, err := e.DB.UpsertEdge(context.Background(), ids[0], ids[1], "related", 0.5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.RunDecay(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
