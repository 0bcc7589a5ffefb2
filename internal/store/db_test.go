package store

import (
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion = %d, want 2", v)
	}
}

func TestTablesExist(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	tables := []string{"schema_versions", "memory_nodes", "memory_edges"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestNodeConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Valid insert
	_, err = db.Exec(`
		INSERT INTO memory_nodes (id, content, source, created_at)
		VALUES ('n1', 'hello', 'conversation', 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// decay_score out of range
	_, err = db.Exec(`
		INSERT INTO memory_nodes (id, content, source, decay_score, created_at)
		VALUES ('n2', 'hello', 'conversation', 1.5, 1000)
	`)
	if err == nil {
		t.Error("expected error for decay_score > 1.0, got nil")
	}

	// Invalid status
	_, err = db.Exec(`
		INSERT INTO memory_nodes (id, content, source, status, created_at)
		VALUES ('n3', 'hello', 'conversation', 'stale', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid status, got nil")
	}
}

func TestEdgeConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	for _, id := range []string{"a", "b"} {
		if _, err := db.Exec(
			"INSERT INTO memory_nodes (id, content, source, created_at) VALUES (?, 'x', 'conversation', 1000)", id,
		); err != nil {
			t.Fatalf("insert node %s: %v", id, err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO memory_edges (id, source_id, target_id, weight, created_at)
		VALUES ('e1', 'a', 'b', 0.5, 1000)
	`)
	if err != nil {
		t.Fatalf("valid edge insert failed: %v", err)
	}

	// Duplicate pair
	_, err = db.Exec(`
		INSERT INTO memory_edges (id, source_id, target_id, weight, created_at)
		VALUES ('e2', 'a', 'b', 0.3, 1000)
	`)
	if err == nil {
		t.Error("expected unique constraint error for duplicate pair, got nil")
	}

	// Unknown node
	_, err = db.Exec(`
		INSERT INTO memory_edges (id, source_id, target_id, weight, created_at)
		VALUES ('e3', 'a', 'ghost', 0.3, 1000)
	`)
	if err == nil {
		t.Error("expected foreign key error for unknown target, got nil")
	}

	// Invalid edge type
	_, err = db.Exec(`
		INSERT INTO memory_edges (id, source_id, target_id, weight, edge_type, created_at)
		VALUES ('e4', 'b', 'a', 0.3, 'friendly', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid edge_type, got nil")
	}
}
