package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo persists journal entries in a journal_entries table.
//
// NOTE: This repo assumes the following table exists:
//
//	CREATE TABLE journal_entries (
//	  id          TEXT PRIMARY KEY,
//	  customer_id TEXT NOT NULL,
//	  event       TEXT NOT NULL,
//	  call_id     TEXT NOT NULL DEFAULT '',
//	  flow        TEXT NOT NULL DEFAULT '',
//	  detail      TEXT NOT NULL DEFAULT '',
//	  created_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX journal_entries_customer_idx ON journal_entries (customer_id, created_at);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO journal_entries (id, customer_id, event, call_id, flow, detail, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CustomerID,
		e.Event,
		e.CallID,
		e.Flow,
		e.Detail,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCustomer(ctx context.Context, customerID string) ([]Entry, error) {
	const q = `
SELECT id, customer_id, event, call_id, flow, detail, created_at
FROM journal_entries
WHERE customer_id = $1
ORDER BY created_at, id
`
	return r.queryEntries(ctx, q, customerID)
}

func (r *PostgresRepo) ListRange(ctx context.Context, from, to time.Time) ([]Entry, error) {
	const q = `
SELECT id, customer_id, event, call_id, flow, detail, created_at
FROM journal_entries
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at, id
`
	return r.queryEntries(ctx, q, from, to)
}

func (r *PostgresRepo) queryEntries(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.CustomerID,
			&e.Event,
			&e.CallID,
			&e.Flow,
			&e.Detail,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
