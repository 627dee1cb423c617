package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRows struct {
	pgx.Rows
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		case *float64:
			*p = row[i].(float64)
		case **string:
			*p, _ = row[i].(*string)
		case *map[string]any:
			*p, _ = row[i].(map[string]any)
		case *time.Time:
			*p = row[i].(time.Time)
		}
	}
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return r.err }

type fakeTx struct {
	pgx.Tx
	execs      []string
	execArgs   [][]any
	failOn     string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.failOn != "" && strings.Contains(sql, t.failOn) {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	t.execs = append(t.execs, strings.TrimSpace(sql))
	t.execArgs = append(t.execArgs, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	queryRow func(sql string, args ...any) pgx.Row
	query    func(sql string, args ...any) (pgx.Rows, error)
	tx       *fakeTx
}

func (d *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return d.queryRow(sql, args...)
}

func (d *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return d.query(sql, args...)
}

func (d *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return d.tx, nil
}

func TestPostgresStore_Insert(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotArgs []any
	db := &fakeDB{queryRow: func(sql string, args ...any) pgx.Row {
		gotArgs = args
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*string) = "req-1"
			*dest[1].(*time.Time) = created
			return nil
		}}
	}}
	store := NewPostgresStore(db)

	msg := "boom"
	log := &RequestLog{
		ProjectID: "proj-1", Provider: "openai", Model: "gpt-4",
		InputTokens: 1000, OutputTokens: 500, Cost: 0.06, LatencyMs: 120,
		Status: "error", ErrorMessage: &msg, Tags: map[string]any{"env": "prod"},
	}
	require.NoError(t, store.Insert(context.Background(), log))

	assert.Equal(t, "req-1", log.ID)
	assert.Equal(t, created, log.CreatedAt)
	require.Len(t, gotArgs, 10)
	assert.Equal(t, "proj-1", gotArgs[0])
	assert.Equal(t, 0.06, gotArgs[5])
	assert.Equal(t, &msg, gotArgs[8])
}

func TestPostgresStore_InsertError(t *testing.T) {
	db := &fakeDB{queryRow: func(string, ...any) pgx.Row {
		return fakeRow{scan: func(...any) error { return errors.New("unique violation") }}
	}}
	store := NewPostgresStore(db)

	err := store.Insert(context.Background(), &RequestLog{ProjectID: "p"})
	require.ErrorContains(t, err, "failed to insert request")
	require.ErrorContains(t, err, "unique violation")
}

func TestPostgresStore_GetUsageByProject(t *testing.T) {
	now := time.Now().UTC()
	db := &fakeDB{query: func(sql string, args ...any) (pgx.Rows, error) {
		require.Equal(t, "proj-1", args[0])
		return &fakeRows{rows: [][]any{
			{"r1", "proj-1", "openai", "gpt-4", int64(10), int64(20), 0.0015, int64(50), "success", (*string)(nil), map[string]any(nil), now},
			{"r2", "proj-1", "anthropic", "claude-sonnet-4", int64(1000), int64(0), 0.003, int64(90), "success", (*string)(nil), map[string]any{"team": "a"}, now},
		}}, nil
	}}
	store := NewPostgresStore(db)

	logs, err := store.GetUsageByProject(context.Background(), "proj-1", now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "r1", logs[0].ID)
	assert.Equal(t, int64(1000), logs[1].InputTokens)
	assert.Equal(t, "a", logs[1].Tags["team"])
}

func TestPostgresStore_GetUsageByProjectEmpty(t *testing.T) {
	db := &fakeDB{query: func(string, ...any) (pgx.Rows, error) {
		return &fakeRows{}, nil
	}}
	logs, err := NewPostgresStore(db).GetUsageByProject(context.Background(), "p", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestPostgresStore_GetTotalCostByProject(t *testing.T) {
	db := &fakeDB{queryRow: func(string, ...any) pgx.Row {
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*float64) = 1.25
			return nil
		}}
	}}
	total, err := NewPostgresStore(db).GetTotalCostByProject(context.Background(), "p", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1.25, total)
}

func TestPostgresPricingStore_GetPrice(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db := &fakeDB{queryRow: func(sql string, args ...any) pgx.Row {
			assert.Equal(t, []any{"openai", "gpt-4"}, args)
			return fakeRow{scan: func(dest ...any) error {
				*dest[0].(*string) = "openai"
				*dest[1].(*string) = "gpt-4"
				*dest[2].(*float64) = 0.03
				*dest[3].(*float64) = 0.06
				return nil
			}}
		}}
		price, err := NewPostgresPricingStore(db).GetPrice(context.Background(), "openai", "gpt-4")
		require.NoError(t, err)
		assert.Equal(t, &PriceEntry{Provider: "openai", Model: "gpt-4", InputCostPer1k: 0.03, OutputCostPer1k: 0.06}, price)
	})

	t.Run("not found", func(t *testing.T) {
		db := &fakeDB{queryRow: func(string, ...any) pgx.Row {
			return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
		}}
		_, err := NewPostgresPricingStore(db).GetPrice(context.Background(), "openai", "gpt-5")
		require.ErrorIs(t, err, ErrPriceNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		db := &fakeDB{queryRow: func(string, ...any) pgx.Row {
			return fakeRow{scan: func(...any) error { return errors.New("timeout") }}
		}}
		_, err := NewPostgresPricingStore(db).GetPrice(context.Background(), "openai", "gpt-4")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrPriceNotFound)
	})
}

func TestPostgresPricingStore_ReplaceAll(t *testing.T) {
	entries := []PriceEntry{
		{Provider: "openai", Model: "gpt-4", InputCostPer1k: 0.03, OutputCostPer1k: 0.06},
		{Provider: "anthropic", Model: "claude-sonnet-4", InputCostPer1k: 0.003, OutputCostPer1k: 0.015},
	}

	t.Run("commits delete and inserts", func(t *testing.T) {
		tx := &fakeTx{}
		store := NewPostgresPricingStore(&fakeDB{tx: tx})

		require.NoError(t, store.ReplaceAll(context.Background(), entries))
		assert.True(t, tx.committed)
		assert.False(t, tx.rolledBack)
		require.Len(t, tx.execs, 3)
		assert.Equal(t, "DELETE FROM pricing", tx.execs[0])
		assert.Equal(t, []any{"anthropic", "claude-sonnet-4", 0.003, 0.015}, tx.execArgs[2])
	})

	t.Run("rolls back on insert failure", func(t *testing.T) {
		tx := &fakeTx{failOn: "INSERT"}
		store := NewPostgresPricingStore(&fakeDB{tx: tx})

		err := store.ReplaceAll(context.Background(), entries)
		require.ErrorContains(t, err, "openai/gpt-4")
		assert.False(t, tx.committed)
		assert.True(t, tx.rolledBack)
	})
}
