package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/learngraph/internal/content"
)

var _ content.Cache = (*PayloadRepo)(nil)

// PayloadRepo keeps the last good payload per (node, kind). It implements
// content.Cache and backs the content service's fallback.
type PayloadRepo struct {
	db *sql.DB
}

// Get returns the cached payload, or nil without error on a miss.
func (r *PayloadRepo) Get(ctx context.Context, nodeID string, kind content.Kind) (*content.Payload, error) {
	query, args := builder().Select("payload").
		From(builder().Table("payload_cache")).
		Where(entsql.And(
			entsql.EQ("node_id", nodeID),
			entsql.EQ("kind", string(kind)),
		)).
		Query()

	var raw string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payload %s/%s: %w", nodeID, kind, err)
	}
	var p content.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload %s/%s: %w", nodeID, kind, err)
	}
	return &p, nil
}

// Put replaces the cached payload for p's node and kind.
func (r *PayloadRepo) Put(ctx context.Context, p *content.Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query, args := builder().Insert("payload_cache").
		Columns("node_id", "kind", "difficulty", "payload", "generated_at").
		Values(p.NodeID, string(p.Kind), string(p.Difficulty), string(raw), unixNano(p.GeneratedAt)).
		OnConflict(entsql.ConflictColumns("node_id", "kind"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put payload %s/%s: %w", p.NodeID, p.Kind, err)
	}
	return nil
}

// Invalidate drops cached payloads for nodeID.
func (r *PayloadRepo) Invalidate(ctx context.Context, nodeID string) error {
	query, args := builder().Delete("payload_cache").
		Where(entsql.EQ("node_id", nodeID)).
		Query()
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
