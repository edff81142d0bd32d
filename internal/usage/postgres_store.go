package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Log(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO task_usage (client_id, request_id, task_type, provider, model, success, fallback_used, estimated_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.ClientID, rec.RequestID, rec.TaskType, rec.Provider, rec.Model,
		rec.Success, rec.FallbackUsed, rec.EstimatedTokens, rec.CostUSD, rec.LatencyMs,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByClient(ctx context.Context, clientID string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, client_id, request_id, task_type, provider, model, success, fallback_used, estimated_tokens, cost_usd, latency_ms, created_at
		FROM task_usage
		WHERE client_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Record, error) {
		var r Record
		err := row.Scan(
			&r.ID, &r.ClientID, &r.RequestID, &r.TaskType, &r.Provider, &r.Model,
			&r.Success, &r.FallbackUsed, &r.EstimatedTokens, &r.CostUSD, &r.LatencyMs, &r.CreatedAt,
		)
		return &r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) SummarizeByClient(ctx context.Context, clientID string, from, to time.Time) (Summary, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT success),
		       COUNT(*) FILTER (WHERE fallback_used),
		       COALESCE(SUM(estimated_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM task_usage
		WHERE client_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var sum Summary
	err := s.db.QueryRow(ctx, query, clientID, from, to).Scan(
		&sum.TotalRequests, &sum.FailedRequests, &sum.FallbacksUsed, &sum.EstimatedTokens, &sum.TotalCostUSD,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize usage: %w", err)
	}

	return sum, nil
}
