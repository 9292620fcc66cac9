package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/learngraph/internal/llm"
	"github.com/abhisek/learngraph/internal/motivation"
)

var (
	_ llm.Recorder      = (*EventRepo)(nil)
	_ motivation.Ledger = (*EventRepo)(nil)
)

// ErrEventNotFound is returned when a sequence number has no event.
var ErrEventNotFound = errors.New("event not found")

// QueryOpts filters event queries. Zero values mean no bound.
type QueryOpts struct {
	Limit  int
	After  int64 // sequence > After
	Before int64 // sequence < Before
	From   time.Time
	To     time.Time
	UserID string // reward events only
}

// EventRepo appends and queries the LLM request and reward logs.
type EventRepo struct {
	db  *sql.DB
	seq *sequenceCounter
}

// LLMEvent is a stored LLM request.
type LLMEvent struct {
	Sequence  int64
	Timestamp time.Time
	llm.RequestEvent
}

// AwardEvent is a stored reward.
type AwardEvent struct {
	Sequence  int64
	Timestamp time.Time
	UserID    string
	SessionID string
	motivation.Award
}

var llmColumns = []string{
	"sequence", "timestamp", "provider", "model", "purpose", "input_tokens",
	"output_tokens", "latency_ms", "success", "error_message", "request_body",
	"response_body",
}

var awardColumns = []string{
	"sequence", "timestamp", "user_id", "session_id", "kind", "rarity",
	"node_id", "reason", "points",
}

// AppendLLMRequest stores one LLM call. It implements llm.Recorder.
func (r *EventRepo) AppendLLMRequest(ctx context.Context, e llm.RequestEvent) error {
	seq, err := r.seq.Next(ctx)
	if err != nil {
		return err
	}
	query, args := builder().Insert("llm_request_events").
		Columns(llmColumns...).
		Values(seq, time.Now().UnixNano(), e.Provider, e.Model, e.Purpose,
			e.InputTokens, e.OutputTokens, e.LatencyMs, boolInt(e.Success),
			e.ErrorMessage, e.RequestBody, e.ResponseBody).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append llm event: %w", err)
	}
	return nil
}

// RecordAward stores one award. It implements motivation.Ledger.
func (r *EventRepo) RecordAward(ctx context.Context, userID, sessionID string, a motivation.Award) error {
	seq, err := r.seq.Next(ctx)
	if err != nil {
		return err
	}
	query, args := builder().Insert("reward_events").
		Columns(awardColumns...).
		Values(seq, time.Now().UnixNano(), userID, sessionID, string(a.Kind),
			string(a.Rarity), a.NodeID, a.Reason, a.Points).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record award: %w", err)
	}
	return nil
}

// QueryLLMEvents returns LLM events newest first.
func (r *EventRepo) QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMEvent, error) {
	sel := builder().Select(llmColumns...).From(builder().Table("llm_request_events"))
	applyOpts(sel, opts)

	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query llm events: %w", err)
	}
	defer rows.Close()

	var out []LLMEvent
	for rows.Next() {
		e, err := scanLLMEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLLMEvent returns the LLM event with the given sequence number.
func (r *EventRepo) GetLLMEvent(ctx context.Context, seq int64) (LLMEvent, error) {
	query, args := builder().Select(llmColumns...).
		From(builder().Table("llm_request_events")).
		Where(entsql.EQ("sequence", seq)).
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return LLMEvent{}, fmt.Errorf("get llm event: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return LLMEvent{}, err
		}
		return LLMEvent{}, fmt.Errorf("llm event %d: %w", seq, ErrEventNotFound)
	}
	return scanLLMEvent(rows)
}

func scanLLMEvent(rows *sql.Rows) (LLMEvent, error) {
	var (
		e       LLMEvent
		ts      int64
		success int
	)
	err := rows.Scan(&e.Sequence, &ts, &e.Provider, &e.Model, &e.Purpose,
		&e.InputTokens, &e.OutputTokens, &e.LatencyMs, &success,
		&e.ErrorMessage, &e.RequestBody, &e.ResponseBody)
	if err != nil {
		return LLMEvent{}, fmt.Errorf("scan llm event: %w", err)
	}
	e.Timestamp = fromUnixNano(ts)
	e.Success = success != 0
	return e, nil
}

// QueryAwards returns reward events newest first.
func (r *EventRepo) QueryAwards(ctx context.Context, opts QueryOpts) ([]AwardEvent, error) {
	sel := builder().Select(awardColumns...).From(builder().Table("reward_events"))
	applyOpts(sel, opts)
	if opts.UserID != "" {
		sel.Where(entsql.EQ("user_id", opts.UserID))
	}

	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query awards: %w", err)
	}
	defer rows.Close()

	var out []AwardEvent
	for rows.Next() {
		var (
			a            AwardEvent
			ts           int64
			kind, rarity string
		)
		if err := rows.Scan(&a.Sequence, &ts, &a.UserID, &a.SessionID, &kind, &rarity,
			&a.NodeID, &a.Reason, &a.Points); err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		a.Timestamp = fromUnixNano(ts)
		a.Kind = motivation.AwardKind(kind)
		a.Rarity = motivation.Rarity(rarity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UsageStats aggregates LLM token usage for one group.
type UsageStats struct {
	Key          string
	Requests     int
	Failures     int
	InputTokens  int64
	OutputTokens int64
	AvgLatencyMs float64
}

// LLMUsageByPurpose groups LLM usage by request purpose.
func (r *EventRepo) LLMUsageByPurpose(ctx context.Context, opts QueryOpts) ([]UsageStats, error) {
	return r.llmUsage(ctx, "purpose", opts)
}

// LLMUsageByModel groups LLM usage by model.
func (r *EventRepo) LLMUsageByModel(ctx context.Context, opts QueryOpts) ([]UsageStats, error) {
	return r.llmUsage(ctx, "model", opts)
}

func (r *EventRepo) llmUsage(ctx context.Context, key string, opts QueryOpts) ([]UsageStats, error) {
	sel := builder().Select(
		key,
		entsql.Count("*"),
		"SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)",
		entsql.Sum("input_tokens"),
		entsql.Sum("output_tokens"),
		"AVG(latency_ms)",
	).From(builder().Table("llm_request_events")).
		GroupBy(key).
		OrderBy(key)
	applyBounds(sel, opts)

	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("llm usage by %s: %w", key, err)
	}
	defer rows.Close()

	var out []UsageStats
	for rows.Next() {
		var s UsageStats
		if err := rows.Scan(&s.Key, &s.Requests, &s.Failures, &s.InputTokens,
			&s.OutputTokens, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func applyOpts(sel *entsql.Selector, opts QueryOpts) {
	applyBounds(sel, opts)
	sel.OrderBy(entsql.Desc("sequence"))
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}
}

func applyBounds(sel *entsql.Selector, opts QueryOpts) {
	if opts.After > 0 {
		sel.Where(entsql.GT("sequence", opts.After))
	}
	if opts.Before > 0 {
		sel.Where(entsql.LT("sequence", opts.Before))
	}
	if !opts.From.IsZero() {
		sel.Where(entsql.GTE("timestamp", opts.From.UnixNano()))
	}
	if !opts.To.IsZero() {
		sel.Where(entsql.LT("timestamp", opts.To.UnixNano()))
	}
}
