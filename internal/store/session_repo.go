package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/learngraph/internal/pipeline"
)

// ErrSessionNotFound is returned when no session is archived under an id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepo archives sessions with their workflow log.
type SessionRepo struct {
	db *sql.DB
}

// SaveSession upserts s.
func (r *SessionRepo) SaveSession(ctx context.Context, s *pipeline.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	query, args := builder().Insert("sessions").
		Columns("id", "user_id", "status", "stage", "target_id", "started_at", "ended_at", "snapshot").
		Values(s.ID, s.UserID, string(s.Status), string(s.Stage), s.TargetID,
			unixNano(s.StartedAt), unixNano(s.EndedAt), string(raw)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession loads an archived session.
func (r *SessionRepo) GetSession(ctx context.Context, id string) (*pipeline.Session, error) {
	query, args := builder().Select("snapshot").
		From(builder().Table("sessions")).
		Where(entsql.EQ("id", id)).
		Query()
	var raw string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return decodeSession(raw)
}

// RecentSessions returns up to limit sessions for userID, newest first.
func (r *SessionRepo) RecentSessions(ctx context.Context, userID string, limit int) ([]*pipeline.Session, error) {
	sel := builder().Select("snapshot").
		From(builder().Table("sessions")).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("started_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestHistory returns the cross-session counters carried by the user's
// most recent terminal session.
func (r *SessionRepo) LatestHistory(ctx context.Context, userID string) (pipeline.History, error) {
	query, args := builder().Select("snapshot").
		From(builder().Table("sessions")).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.NEQ("status", string(pipeline.StatusActive)),
		)).
		OrderBy(entsql.Desc("ended_at")).
		Limit(1).
		Query()
	var raw string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.History{}, nil
	}
	if err != nil {
		return pipeline.History{}, fmt.Errorf("latest history for %s: %w", userID, err)
	}
	s, err := decodeSession(raw)
	if err != nil {
		return pipeline.History{}, err
	}
	return s.History, nil
}

func decodeSession(raw string) (*pipeline.Session, error) {
	var s pipeline.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
