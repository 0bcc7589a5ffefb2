package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Node statuses. Archived nodes stay queryable by id but are excluded
// from search and traversal.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// DefaultSources is the allow-list for the node source tag. Stored as a
// free string so deployments can extend it via configuration.
var DefaultSources = []string{"conversation", "perch_tick", "research", "reflection"}

// Node is a stored unit of memory content with independent decay and
// access state.
type Node struct {
	ID            string
	Content       string
	Summary       string
	Source        string
	Tags          []string
	Embedding     []byte
	AccessCount   int
	DecayScore    float64
	Status        string
	CreatedAt     int64
	LastAccessed  *int64
	LastDecayedAt *int64
}

// NodeUpdate holds the fields of a partial node update. Nil fields are
// left untouched.
type NodeUpdate struct {
	Content   *string
	Summary   *string
	Source    *string
	Tags      *[]string
	Embedding *[]byte
	Status    *string
}

// AllowedSources is the active source allow-list. Empty disables
// validation.
func (db *DB) AllowedSources() []string {
	if db.sources == nil {
		return DefaultSources
	}
	return db.sources
}

// SetAllowedSources replaces the source allow-list.
func (db *DB) SetAllowedSources(sources []string) {
	db.sources = sources
}

func (db *DB) validateSource(source string) error {
	allowed := db.AllowedSources()
	if len(allowed) == 0 {
		return nil
	}
	for _, s := range allowed {
		if s == source {
			return nil
		}
	}
	return &ValidationError{Field: "source", Reason: fmt.Sprintf("%q not in allow-list %v", source, allowed)}
}

// CreateNode inserts a new memory node and returns it. The node starts
// with access_count 0, decay_score 1.0, and no last_accessed stamp.
func (db *DB) CreateNode(ctx context.Context, content, source, summary string, tags []string) (*Node, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if err := db.validateSource(source); err != nil {
		return nil, err
	}

	node := &Node{
		ID:         uuid.NewString(),
		Content:    content,
		Summary:    summary,
		Source:     source,
		Tags:       tags,
		DecayScore: 1.0,
		Status:     StatusActive,
		CreatedAt:  time.Now().UnixMilli(),
	}

	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return nil, err
	}

	err = withRetry(ctx, func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO memory_nodes (id, content, summary, source, tags, access_count, decay_score, status, created_at)
			VALUES (?, ?, NULLIF(?, ''), ?, ?, 0, 1.0, 'active', ?)
		`, node.ID, node.Content, node.Summary, node.Source, tagsJSON, node.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}
	return node, nil
}

const nodeColumns = `id, content, summary, source, tags, embedding, access_count, decay_score, status, created_at, last_accessed, last_decayed_at`

// GetNode returns a node by id and records the retrieval: access_count
// is incremented and last_accessed stamped in the same statement. The
// returned AccessCount is the value before this call's increment, so
// callers logging "N-th access" see pre-increment counts even under
// concurrent retrievals.
func (db *DB) GetNode(ctx context.Context, id string) (*Node, error) {
	now := time.Now().UnixMilli()
	var n *Node
	err := withRetry(ctx, func(ctx context.Context) error {
		row := db.QueryRowContext(ctx, `
			UPDATE memory_nodes
			SET access_count = access_count + 1, last_accessed = ?
			WHERE id = ?
			RETURNING id, content, summary, source, tags, embedding, access_count - 1, decay_score, status, created_at, last_accessed, last_decayed_at
		`, now, id)
		var err error
		n, err = scanNode(row)
		return err
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// GetNodeRaw returns a node by id without touching its access state.
// Used for introspection reads that must not count as retrievals.
func (db *DB) GetNodeRaw(ctx context.Context, id string) (*Node, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM memory_nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node raw: %w", err)
	}
	return n, nil
}

// UpdateNode applies a partial update. Nil fields are untouched.
func (db *DB) UpdateNode(ctx context.Context, id string, upd NodeUpdate) (*Node, error) {
	var sets []string
	var args []any

	if upd.Content != nil {
		if strings.TrimSpace(*upd.Content) == "" {
			return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
		}
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Summary != nil {
		sets = append(sets, "summary = NULLIF(?, '')")
		args = append(args, *upd.Summary)
	}
	if upd.Source != nil {
		if err := db.validateSource(*upd.Source); err != nil {
			return nil, err
		}
		sets = append(sets, "source = ?")
		args = append(args, *upd.Source)
	}
	if upd.Tags != nil {
		tagsJSON, err := marshalTags(*upd.Tags)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}
	if upd.Embedding != nil {
		sets = append(sets, "embedding = ?")
		args = append(args, *upd.Embedding)
	}
	if upd.Status != nil {
		if *upd.Status != StatusActive && *upd.Status != StatusArchived {
			return nil, &ValidationError{Field: "status", Reason: "must be active or archived"}
		}
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}

	if len(sets) == 0 {
		return nil, &ValidationError{Field: "fields", Reason: "no updatable fields supplied"}
	}

	args = append(args, id)
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx,
			"UPDATE memory_nodes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
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
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	return db.GetNodeRaw(ctx, id)
}

// DeleteNode removes a node. Every edge referencing it as source or
// target cascades away with it.
func (db *DB) DeleteNode(ctx context.Context, id string) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, "DELETE FROM memory_nodes WHERE id = ?", id)
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
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// SearchOpts narrows SearchNodes and ListRecentNodes.
type SearchOpts struct {
	Limit           int
	Source          string
	IncludeArchived bool
}

// SearchNodes matches query as a substring of content or summary.
// Tags are opaque strings, not indexed terms, and are never searched.
// Results come back most-recently-accessed first, never-accessed last.
func (db *DB) SearchNodes(ctx context.Context, query string, opts SearchOpts) ([]Node, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + escapeLike(query) + "%"
	q := `SELECT ` + nodeColumns + ` FROM memory_nodes
		WHERE (content LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern}
	if !opts.IncludeArchived {
		q += " AND status = 'active'"
	}
	if opts.Source != "" {
		q += " AND source = ?"
		args = append(args, opts.Source)
	}
	q += " ORDER BY last_accessed IS NULL, last_accessed DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListRecentNodes returns nodes ordered by last_accessed descending,
// never-accessed nodes last.
func (db *DB) ListRecentNodes(ctx context.Context, opts SearchOpts) ([]Node, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	q := `SELECT ` + nodeColumns + ` FROM memory_nodes WHERE 1=1`
	var args []any
	if !opts.IncludeArchived {
		q += " AND status = 'active'"
	}
	if opts.Source != "" {
		q += " AND source = ?"
		args = append(args, opts.Source)
	}
	q += " ORDER BY last_accessed IS NULL, last_accessed DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// NodeDecayRow is the slice of node state the decay worker reads.
type NodeDecayRow struct {
	ID            string
	DecayScore    float64
	CreatedAt     int64
	LastAccessed  *int64
	LastDecayedAt *int64
}

// ListNodesForDecay returns decay state for every active node.
func (db *DB) ListNodesForDecay(ctx context.Context) ([]NodeDecayRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, decay_score, created_at, last_accessed, last_decayed_at
		FROM memory_nodes WHERE status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("list nodes for decay: %w", err)
	}
	defer rows.Close()

	var out []NodeDecayRow
	for rows.Next() {
		var r NodeDecayRow
		var lastAccessed, lastDecayed sql.NullInt64
		if err := rows.Scan(&r.ID, &r.DecayScore, &r.CreatedAt, &lastAccessed, &lastDecayed); err != nil {
			return nil, fmt.Errorf("scan node decay row: %w", err)
		}
		if lastAccessed.Valid {
			r.LastAccessed = &lastAccessed.Int64
		}
		if lastDecayed.Valid {
			r.LastDecayedAt = &lastDecayed.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyNodeDecay multiplies a node's decay_score in a single statement,
// clamped to [0,1], stamping last_decayed_at. The update is guarded by
// both stamps the multiplier was derived from: a retrieval in between
// skips the decay until next run, and a concurrent decay pass that
// already stamped the row makes the stale update miss instead of
// decaying the same window twice. Returns whether the row was updated.
func (db *DB) ApplyNodeDecay(ctx context.Context, id string, multiplier float64, observedAccess, observedDecayed *int64, now int64) (bool, error) {
	var accessGuard, decayGuard any
	if observedAccess != nil {
		accessGuard = *observedAccess
	}
	if observedDecayed != nil {
		decayGuard = *observedDecayed
	}
	var applied bool
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx, `
			UPDATE memory_nodes
			SET decay_score = MAX(0.0, MIN(1.0, decay_score * ?)), last_decayed_at = ?
			WHERE id = ? AND status = 'active' AND last_accessed IS ? AND last_decayed_at IS ?
		`, multiplier, now, id, accessGuard, decayGuard)
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
		return false, fmt.Errorf("apply node decay: %w", err)
	}
	return applied, nil
}

// ArchiveNodesBelow flags every active node under the score floor as
// archived. Soft state only: the rows stay put for edge integrity and
// audit.
func (db *DB) ArchiveNodesBelow(ctx context.Context, minScore float64) (int, error) {
	var archived int64
	err := withRetry(ctx, func(ctx context.Context) error {
		res, err := db.ExecContext(ctx,
			"UPDATE memory_nodes SET status = 'archived' WHERE status = 'active' AND decay_score < ?", minScore)
		if err != nil {
			return err
		}
		archived, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("archive nodes: %w", err)
	}
	return int(archived), nil
}

// NodeCounts returns active and archived node counts plus a by-source
// breakdown of active nodes.
func (db *DB) NodeCounts(ctx context.Context) (active, archived int, bySource map[string]int, err error) {
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FILTER (WHERE status = 'active'), COUNT(*) FILTER (WHERE status = 'archived') FROM memory_nodes",
	).Scan(&active, &archived)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("node counts: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT source, COUNT(*) FROM memory_nodes WHERE status = 'active' GROUP BY source")
	if err != nil {
		return 0, 0, nil, fmt.Errorf("nodes by source: %w", err)
	}
	defer rows.Close()

	bySource = make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return 0, 0, nil, fmt.Errorf("scan source count: %w", err)
		}
		bySource[source] = count
	}
	return active, archived, bySource, rows.Err()
}

func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func unmarshalTags(raw string, dst *[]string) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("unmarshal tags: %w", err)
	}
	return nil
}

// prefixedNodeColumns qualifies the node column list with a table alias
// for joins.
func prefixedNodeColumns(alias string) string {
	cols := strings.Split(nodeColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// escapeLike escapes LIKE metacharacters so user queries match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var summary, tags sql.NullString
	var embedding []byte
	var lastAccessed, lastDecayed sql.NullInt64
	err := row.Scan(&n.ID, &n.Content, &summary, &n.Source, &tags, &embedding,
		&n.AccessCount, &n.DecayScore, &n.Status, &n.CreatedAt, &lastAccessed, &lastDecayed)
	if err != nil {
		return nil, err
	}
	n.Summary = summary.String
	n.Embedding = embedding
	if tags.Valid && tags.String != "" {
		if err := unmarshalTags(tags.String, &n.Tags); err != nil {
			return nil, err
		}
	}
	if lastAccessed.Valid {
		n.LastAccessed = &lastAccessed.Int64
	}
	if lastDecayed.Valid {
		n.LastDecayedAt = &lastDecayed.Int64
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
