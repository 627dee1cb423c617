package billing

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

func (s *PostgresStore) Insert(ctx context.Context, log *RequestLog) error {
	query := `
		INSERT INTO requests (project_id, provider, model, input_tokens, output_tokens, cost, latency_ms, status, error_message, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.ProjectID, log.Provider, log.Model,
		log.InputTokens, log.OutputTokens, log.Cost, log.LatencyMs,
		log.Status, log.ErrorMessage, log.Tags,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUsageByProject(ctx context.Context, projectID string, from, to time.Time) ([]*RequestLog, error) {
	query := `
		SELECT id, project_id, provider, model, input_tokens, output_tokens, cost, latency_ms, status, error_message, tags, created_at
		FROM requests
		WHERE project_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	logs := make([]*RequestLog, 0)
	for rows.Next() {
		var l RequestLog
		err := rows.Scan(
			&l.ID, &l.ProjectID, &l.Provider, &l.Model,
			&l.InputTokens, &l.OutputTokens, &l.Cost, &l.LatencyMs,
			&l.Status, &l.ErrorMessage, &l.Tags, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}

	return logs, nil
}

func (s *PostgresStore) GetTotalCostByProject(ctx context.Context, projectID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)::float8
		FROM requests
		WHERE project_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total float64
	err := s.db.QueryRow(ctx, query, projectID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
