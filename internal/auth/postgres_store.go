package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByKeyHash(ctx context.Context, keyHash string) (*Project, error) {
	query := `
		SELECT id, name, api_key_hash, active, created_at
		FROM projects
		WHERE api_key_hash = $1 AND active = true
	`

	var p Project
	err := s.db.QueryRow(ctx, query, keyHash).Scan(
		&p.ID, &p.Name, &p.APIKeyHash, &p.Active, &p.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &p, nil
}

func (s *PostgresStore) Create(ctx context.Context, project *Project) error {
	if project.APIKeyHash == "" {
		return errors.New("api_key_hash is required")
	}

	query := `
		INSERT INTO projects (id, name, api_key_hash, active)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4)
		RETURNING id, created_at
	`

	err := s.db.QueryRow(ctx, query,
		project.ID, project.Name, project.APIKeyHash, project.Active,
	).Scan(&project.ID, &project.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, projectID string) (string, error) {
	query := `UPDATE projects SET active = false WHERE id = $1 RETURNING api_key_hash`

	var keyHash string
	err := s.db.QueryRow(ctx, query, projectID).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrProjectNotFound
		}
		return "", fmt.Errorf("failed to deactivate project: %w", err)
	}

	return keyHash, nil
}
