package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/learngraph/internal/graph"
)

var _ graph.Persister = (*GraphRepo)(nil)

// GraphRepo persists graph nodes, edges and mastery changes. It implements
// graph.Persister.
type GraphRepo struct {
	db  *sql.DB
	seq *sequenceCounter
}

var nodeColumns = []string{
	"id", "owner_user_id", "type", "mastery_score", "attributes",
	"active", "seq", "created_at", "updated_at",
}

var edgeColumns = []string{
	"id", "source_id", "target_id", "type", "weight", "properties",
	"created_at", "updated_at",
}

var masteryEventColumns = []string{
	"sequence", "timestamp", "user_id", "node_id", "edge_id",
	"old_score", "new_score", "cause",
}

// SaveNode upserts a node.
func (r *GraphRepo) SaveNode(ctx context.Context, n graph.Node) error {
	attrs, err := marshalMap(n.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes of %q: %w", n.ID, err)
	}
	query, args := builder().Insert("nodes").
		Columns(nodeColumns...).
		Values(n.ID, n.OwnerUserID, string(n.Type), n.MasteryScore, attrs,
			boolInt(n.Active), n.Seq, unixNano(n.CreatedAt), unixNano(n.UpdatedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save node %q: %w", n.ID, err)
	}
	return nil
}

// SaveEdge upserts an edge.
func (r *GraphRepo) SaveEdge(ctx context.Context, e graph.Edge) error {
	props, err := marshalMap(e.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties of %q: %w", e.ID, err)
	}
	query, args := builder().Insert("edges").
		Columns(edgeColumns...).
		Values(e.ID, e.SourceID, e.TargetID, string(e.Type), e.Weight, props,
			unixNano(e.CreatedAt), unixNano(e.UpdatedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save edge %q: %w", e.ID, err)
	}
	return nil
}

// SaveChange appends a mastery change to the event log.
func (r *GraphRepo) SaveChange(ctx context.Context, c graph.Change) error {
	seq, err := r.seq.Next(ctx)
	if err != nil {
		return err
	}
	query, args := builder().Insert("mastery_events").
		Columns(masteryEventColumns...).
		Values(seq, unixNano(c.At), c.UserID, c.NodeID, c.EdgeID, c.Old, c.New, c.Cause).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save mastery event for %q -> %q: %w", c.UserID, c.NodeID, err)
	}
	return nil
}

// LoadChanges returns every mastery change, oldest first.
func (r *GraphRepo) LoadChanges(ctx context.Context) ([]graph.Change, error) {
	query, args := builder().Select(masteryEventColumns...).
		From(builder().Table("mastery_events")).
		OrderBy("timestamp", "sequence").
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mastery events: %w", err)
	}
	defer rows.Close()

	var out []graph.Change
	for rows.Next() {
		var (
			c      graph.Change
			seq    int64
			atNano int64
		)
		if err := rows.Scan(&seq, &atNano, &c.UserID, &c.NodeID, &c.EdgeID,
			&c.Old, &c.New, &c.Cause); err != nil {
			return nil, fmt.Errorf("scan mastery event: %w", err)
		}
		c.Kind = graph.ChangeMasteryUpdated
		c.At = fromUnixNano(atNano)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteLearner removes every node owned by userID, every edge touching
// one of them and the learner's mastery history, in one transaction.
func (r *GraphRepo) DeleteLearner(ctx context.Context, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	owned := func() *entsql.Selector {
		return builder().Select("id").From(builder().Table("nodes")).
			Where(entsql.EQ("owner_user_id", userID))
	}
	query, args := builder().Delete("edges").
		Where(entsql.Or(
			entsql.In("source_id", owned()),
			entsql.In("target_id", owned()),
		)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete edges of %q: %w", userID, err)
	}

	query, args = builder().Delete("nodes").
		Where(entsql.EQ("owner_user_id", userID)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete nodes of %q: %w", userID, err)
	}

	query, args = builder().Delete("mastery_events").
		Where(entsql.EQ("user_id", userID)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete mastery events of %q: %w", userID, err)
	}
	return tx.Commit()
}

// LoadGraph returns all nodes in creation order and all edges in insertion
// order.
func (r *GraphRepo) LoadGraph(ctx context.Context) ([]graph.Node, []graph.Edge, error) {
	nodes, err := r.loadNodes(ctx)
	if err != nil {
		return nil, nil, err
	}
	edges, err := r.loadEdges(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

func (r *GraphRepo) loadNodes(ctx context.Context) ([]graph.Node, error) {
	query, args := builder().Select(nodeColumns...).
		From(builder().Table("nodes")).
		OrderBy("seq").
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []graph.Node
	for rows.Next() {
		var (
			n                graph.Node
			typ, attrs       string
			active           int
			created, updated int64
		)
		if err := rows.Scan(&n.ID, &n.OwnerUserID, &typ, &n.MasteryScore, &attrs,
			&active, &n.Seq, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Type = graph.NodeType(typ)
		n.Active = active != 0
		n.CreatedAt, n.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		if n.Attributes, err = unmarshalMap(attrs); err != nil {
			return nil, fmt.Errorf("decode attributes of %q: %w", n.ID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *GraphRepo) loadEdges(ctx context.Context) ([]graph.Edge, error) {
	query, args := builder().Select(edgeColumns...).
		From(builder().Table("edges")).
		OrderBy("created_at", "id").
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var (
			e                graph.Edge
			typ, props       string
			created, updated int64
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &typ, &e.Weight, &props,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Type = graph.EdgeType(typ)
		e.CreatedAt, e.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		if e.Properties, err = unmarshalMap(props); err != nil {
			return nil, fmt.Errorf("decode properties of %q: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
