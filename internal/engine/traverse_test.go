package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/synapse/internal/store"
)

func mustEdge(t *testing.T, e *Engine, source, target string, weight float64) {
	t.Helper()
	_, _, err := e.DB.UpsertEdge(context.Background(), source, target, "related", weight)
	require.NoError(t, err)
}

func TestTraverseSingleNode(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "lonely")

	steps, err := e.Traverse(ctx, TraverseParams{StartID: ids[0]})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, ids[0], steps[0].Node.ID)
	assert.Equal(t, 0, steps[0].Depth)
	assert.Equal(t, 1.0, steps[0].PathWeight)
}

func TestTraverseBFSOrdering(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	// start -> heavy (0.9), start -> light (0.4), heavy -> deep (0.8)
	ids := createNodes(t, e.DB, "start", "heavy", "light", "deep")
	start, heavy, light, deep := ids[0], ids[1], ids[2], ids[3]
	mustEdge(t, e, start, heavy, 0.9)
	mustEdge(t, e, start, light, 0.4)
	mustEdge(t, e, heavy, deep, 0.8)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: start, MaxDepth: 3})
	require.NoError(t, err)
	require.Len(t, steps, 4)

	// Depth ascending; within a depth, path weight descending.
	assert.Equal(t, start, steps[0].Node.ID)
	assert.Equal(t, heavy, steps[1].Node.ID)
	assert.Equal(t, light, steps[2].Node.ID)
	assert.Equal(t, deep, steps[3].Node.ID)

	assert.Equal(t, []int{0, 1, 1, 2}, []int{steps[0].Depth, steps[1].Depth, steps[2].Depth, steps[3].Depth})

	// Path weight is the product along the discovered path.
	assert.InDelta(t, 0.9, steps[1].PathWeight, 1e-9)
	assert.InDelta(t, 0.4, steps[2].PathWeight, 1e-9)
	assert.InDelta(t, 0.72, steps[3].PathWeight, 1e-9)
}

func TestTraverseFirstDiscoveryWins(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	// Two paths to shared: direct (0.9) and via mid (0.8 * 0.9). The
	// direct discovery at depth 1 claims it.
	ids := createNodes(t, e.DB, "start", "shared", "mid")
	start, shared, mid := ids[0], ids[1], ids[2]
	mustEdge(t, e, start, shared, 0.9)
	mustEdge(t, e, start, mid, 0.8)
	mustEdge(t, e, mid, shared, 0.9)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: start, MaxDepth: 3})
	require.NoError(t, err)
	require.Len(t, steps, 3)

	var sharedSteps []TraversalStep
	for _, s := range steps {
		if s.Node.ID == shared {
			sharedSteps = append(sharedSteps, s)
		}
	}
	require.Len(t, sharedSteps, 1, "a node is emitted exactly once")
	assert.Equal(t, 1, sharedSteps[0].Depth)
	assert.InDelta(t, 0.9, sharedSteps[0].PathWeight, 1e-9)
}

func TestTraverseBudgets(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "start", "n1", "n2", "n3")
	start := ids[0]
	for _, id := range ids[1:] {
		mustEdge(t, e, start, id, 0.9)
	}
	mustEdge(t, e, ids[1], ids[2], 0.9)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: start, MaxNodes: 2})
	require.NoError(t, err)
	assert.Len(t, steps, 2, "node budget caps emission")

	steps, err = e.Traverse(ctx, TraverseParams{StartID: start, MaxDepth: 1, MaxNodes: 20})
	require.NoError(t, err)
	for _, s := range steps {
		assert.LessOrEqual(t, s.Depth, 1, "depth budget caps expansion")
	}
}

func TestTraverseMinWeight(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "start", "strong", "faint")
	mustEdge(t, e, ids[0], ids[1], 0.8)
	mustEdge(t, e, ids[0], ids[2], 0.1)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: ids[0], MinWeight: 0.2})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, ids[1], steps[1].Node.ID)
}

func TestTraverseSkipsArchived(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "start", "gone")
	mustEdge(t, e, ids[0], ids[1], 0.9)

	archived := store.StatusArchived
	_, err := e.DB.UpdateNode(ctx, ids[1], store.NodeUpdate{Status: &archived})
	require.NoError(t, err)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: ids[0]})
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestTraverseArchivedStart(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "buried")

	archived := store.StatusArchived
	_, err := e.DB.UpdateNode(ctx, ids[0], store.NodeUpdate{Status: &archived})
	require.NoError(t, err)

	_, err = e.Traverse(ctx, TraverseParams{StartID: ids[0]})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The rejection leaves no access tracked on the archived node.
	raw, err := e.DB.GetNodeRaw(ctx, ids[0])
	require.NoError(t, err)
	assert.Zero(t, raw.AccessCount)
}

func TestTraverseDirection(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "start", "down", "up")
	mustEdge(t, e, ids[0], ids[1], 0.9)
	mustEdge(t, e, ids[2], ids[0], 0.9)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: ids[0], Direction: store.DirectionOutgoing})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, ids[1], steps[1].Node.ID)

	steps, err = e.Traverse(ctx, TraverseParams{StartID: ids[0], Direction: store.DirectionBoth})
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestTraverseDFSPreorder(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	// start -> a (0.9) -> a1 (0.9); start -> b (0.5)
	ids := createNodes(t, e.DB, "start", "a", "b", "a1")
	start, a, b, a1 := ids[0], ids[1], ids[2], ids[3]
	mustEdge(t, e, start, a, 0.9)
	mustEdge(t, e, start, b, 0.5)
	mustEdge(t, e, a, a1, 0.9)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: start, MaxDepth: 3, Algorithm: AlgorithmDFS})
	require.NoError(t, err)
	require.Len(t, steps, 4)

	// The heaviest branch is explored to the bottom before the sibling.
	got := []string{steps[0].Node.ID, steps[1].Node.ID, steps[2].Node.ID, steps[3].Node.ID}
	assert.Equal(t, []string{start, a, a1, b}, got)
}

func TestTraverseRecordsAccess(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "start", "next")
	mustEdge(t, e, ids[0], ids[1], 0.9)

	steps, err := e.Traverse(ctx, TraverseParams{StartID: ids[0]})
	require.NoError(t, err)
	// Emitted counts are pre-increment.
	assert.Equal(t, 0, steps[0].Node.AccessCount)

	raw, err := e.DB.GetNodeRaw(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, 1, raw.AccessCount, "traversal counts as retrieval")
}

func TestTraverseValidation(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()

	_, err := e.Traverse(ctx, TraverseParams{})
	assert.True(t, store.IsValidation(err), "missing start: %v", err)

	_, err = e.Traverse(ctx, TraverseParams{StartID: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	ids := createNodes(t, e.DB, "start")
	_, err = e.Traverse(ctx, TraverseParams{StartID: ids[0], Algorithm: "idfs"})
	assert.True(t, store.IsValidation(err), "bad algorithm: %v", err)
}

func TestGraphStats(t *testing.T) {
	e := testEngine(t, Params{})
	ctx := context.Background()
	ids := createNodes(t, e.DB, "a", "b", "c", "d")
	mustEdge(t, e, ids[0], ids[1], 0.9)
	mustEdge(t, e, ids[0], ids[2], 0.9)

	archived := store.StatusArchived
	_, err := e.DB.UpdateNode(ctx, ids[3], store.NodeUpdate{Status: &archived})
	require.NoError(t, err)

	stats, err := e.GraphStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 1, stats.ArchivedCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.InDelta(t, 2.0/3.0, stats.AvgConnections, 1e-9)
	assert.Equal(t, 3, stats.NodesBySource["conversation"])
}
