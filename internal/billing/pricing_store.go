package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxDB is a DB that can also open transactions, as *pgxpool.Pool does.
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresPricingStore struct {
	db TxDB
}

func NewPostgresPricingStore(db TxDB) *PostgresPricingStore {
	return &PostgresPricingStore{db: db}
}

func (s *PostgresPricingStore) GetPrice(ctx context.Context, provider, model string) (*PriceEntry, error) {
	query := `
		SELECT provider, model, input_cost_per_1k::float8, output_cost_per_1k::float8
		FROM pricing
		WHERE provider = $1 AND model = $2
	`

	var p PriceEntry
	err := s.db.QueryRow(ctx, query, provider, model).Scan(
		&p.Provider, &p.Model, &p.InputCostPer1k, &p.OutputCostPer1k,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("failed to get price: %w", err)
	}

	return &p, nil
}

// ReplaceAll deletes every pricing row and inserts entries in a single
// transaction, so readers never observe a partially seeded table.
func (s *PostgresPricingStore) ReplaceAll(ctx context.Context, entries []PriceEntry) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM pricing`); err != nil {
			return fmt.Errorf("failed to clear pricing: %w", err)
		}

		insert := `
			INSERT INTO pricing (provider, model, input_cost_per_1k, output_cost_per_1k, updated_at)
			VALUES ($1, $2, $3, $4, now())
		`
		for _, e := range entries {
			if _, err := tx.Exec(ctx, insert, e.Provider, e.Model, e.InputCostPer1k, e.OutputCostPer1k); err != nil {
				return fmt.Errorf("failed to insert pricing for %s/%s: %w", e.Provider, e.Model, err)
			}
		}
		return nil
	})
}
