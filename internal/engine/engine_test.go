package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/perchlabs/synapse/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEngine(t *testing.T, params Params) *Engine {
	t.Helper()
	return New(testDB(t), params, zerolog.Nop())
}

func createNodes(t *testing.T, db *store.DB, contents ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(contents))
	for _, c := range contents {
		n, err := db.CreateNode(context.Background(), c, "conversation", "", nil)
		if err != nil {
			t.Fatalf("CreateNode %q: %v", c, err)
		}
		ids = append(ids, n.ID)
	}
	return ids
}

func TestDefaultParams(t *testing.T) {
	e := New(testDB(t), Params{}, zerolog.Nop())
	def := DefaultParams()
	if e.Params != def {
		t.Errorf("Params = %+v, want defaults %+v", e.Params, def)
	}
}

func TestStartStopDecayWorker(t *testing.T) {
	e := testEngine(t, Params{})
	e.StartDecayWorker()
	e.Stop() // must not hang
}
