package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memory_nodes: content nodes with access tracking and decay",
		SQL: `
CREATE TABLE memory_nodes (
    id              TEXT PRIMARY KEY,
    content         TEXT NOT NULL,
    summary         TEXT,
    source          TEXT NOT NULL,
    tags            TEXT,
    embedding       BLOB,

    -- Access tracking
    access_count    INTEGER NOT NULL DEFAULT 0,
    last_accessed   INTEGER,

    -- Decay
    decay_score     REAL NOT NULL DEFAULT 1.0 CHECK (decay_score >= 0.0 AND decay_score <= 1.0),
    last_decayed_at INTEGER,
    status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),

    created_at      INTEGER NOT NULL
);

CREATE INDEX idx_nodes_source   ON memory_nodes(source);
CREATE INDEX idx_nodes_accessed ON memory_nodes(last_accessed DESC);
CREATE INDEX idx_nodes_status   ON memory_nodes(status);
`,
	},
	{
		Version:     2,
		Description: "memory_edges: directed weighted associations",
		SQL: `
CREATE TABLE memory_edges (
    id               TEXT PRIMARY KEY,
    source_id        TEXT NOT NULL,
    target_id        TEXT NOT NULL,
    weight           REAL NOT NULL DEFAULT 0.5 CHECK (weight >= 0.0 AND weight <= 1.0),
    edge_type        TEXT NOT NULL DEFAULT 'related' CHECK (edge_type IN ('related', 'causal', 'temporal', 'contradicts')),
    created_at       INTEGER NOT NULL,
    last_strengthened INTEGER,
    last_decayed_at  INTEGER,

    FOREIGN KEY (source_id) REFERENCES memory_nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES memory_nodes(id) ON DELETE CASCADE,
    UNIQUE (source_id, target_id)
);

CREATE INDEX idx_edges_source ON memory_edges(source_id);
CREATE INDEX idx_edges_target ON memory_edges(target_id);
CREATE INDEX idx_edges_weight ON memory_edges(weight DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
