package customers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tablecall/pkg/utils"
)

// PostgresStore persists customer records in a customers table using raw SQL
// over database/sql with the pgx stdlib driver.
//
// NOTE: This store assumes the following table exists:
//
//	CREATE TABLE customers (
//	  customer_id           TEXT PRIMARY KEY,
//	  name                  TEXT NOT NULL,
//	  mobile                TEXT NOT NULL,
//	  email                 TEXT NOT NULL DEFAULT '',
//	  status                TEXT NOT NULL,
//	  order_details         TEXT NOT NULL DEFAULT '',
//	  expected_arrival_time TIMESTAMPTZ,
//	  arrival_confirmed     BOOLEAN NOT NULL DEFAULT FALSE,
//	  last_call_time        TIMESTAMPTZ,
//	  last_call_id          TEXT NOT NULL DEFAULT '',
//	  remarks               TEXT NOT NULL DEFAULT '',
//	  call_in_flight        BOOLEAN NOT NULL DEFAULT FALSE,
//	  call_attempts         INTEGER NOT NULL DEFAULT 0,
//	  notified              BOOLEAN NOT NULL DEFAULT FALSE,
//	  created_at            TIMESTAMPTZ NOT NULL,
//	  updated_at            TIMESTAMPTZ NOT NULL
//	);
//
// Per-record atomicity comes from row-level locking: Update locks the row
// FOR UPDATE, applies the patch, and writes the full row back in one
// transaction.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Create(ctx context.Context, c Customer) error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if err := insertCustomer(ctx, s.db, c); err != nil {
		return fmt.Errorf("%w: insert customer: %w", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Customer, error) {
	c, err := getCustomer(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("%w: get customer: %w", ErrStorage, err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Customer, error) {
	out, err := listCustomers(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("%w: list customers: %w", ErrStorage, err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) (Customer, error) {
	var out Customer
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := lockCustomer(ctx, tx, id)
		if err != nil {
			return err
		}
		updated := p.apply(cur, s.clock().UTC())
		if err := saveCustomer(ctx, tx, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("%w: update customer: %w", ErrStorage, err)
	}
	return out, nil
}

const customerColumns = `customer_id, name, mobile, email, status, order_details,
       expected_arrival_time, arrival_confirmed, last_call_time, last_call_id,
       remarks, call_in_flight, call_attempts, notified, created_at, updated_at`

func insertCustomer(ctx context.Context, db *sql.DB, c Customer) error {
	const q = `
INSERT INTO customers (
  customer_id, name, mobile, email, status, order_details,
  expected_arrival_time, arrival_confirmed, last_call_time, last_call_id,
  remarks, call_in_flight, call_attempts, notified, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
`
	_, err := db.ExecContext(ctx, q,
		c.ID,
		c.Name,
		c.Mobile,
		c.Email,
		c.Status,
		c.OrderDetails,
		c.ExpectedArrivalTime,
		c.ArrivalConfirmed,
		c.LastCallTime,
		c.LastCallID,
		c.Remarks,
		c.CallInFlight,
		c.CallAttempts,
		c.Notified,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func getCustomer(ctx context.Context, db *sql.DB, id string) (Customer, error) {
	const q = `
SELECT ` + customerColumns + `
FROM customers
WHERE customer_id = $1
`
	return scanCustomer(db.QueryRowContext(ctx, q, id))
}

func lockCustomer(ctx context.Context, tx *sql.Tx, id string) (Customer, error) {
	// Lock the row to serialize concurrent mutations per customer.
	const q = `
SELECT ` + customerColumns + `
FROM customers
WHERE customer_id = $1
FOR UPDATE
`
	return scanCustomer(tx.QueryRowContext(ctx, q, id))
}

func listCustomers(ctx context.Context, db *sql.DB) ([]Customer, error) {
	const q = `
SELECT ` + customerColumns + `
FROM customers
ORDER BY created_at, customer_id
`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func saveCustomer(ctx context.Context, tx *sql.Tx, c Customer) error {
	const q = `
UPDATE customers SET
  name = $2, mobile = $3, email = $4, status = $5, order_details = $6,
  expected_arrival_time = $7, arrival_confirmed = $8, last_call_time = $9,
  last_call_id = $10, remarks = $11, call_in_flight = $12, call_attempts = $13,
  notified = $14, updated_at = $15
WHERE customer_id = $1
`
	_, err := tx.ExecContext(ctx, q,
		c.ID,
		c.Name,
		c.Mobile,
		c.Email,
		c.Status,
		c.OrderDetails,
		c.ExpectedArrivalTime,
		c.ArrivalConfirmed,
		c.LastCallTime,
		c.LastCallID,
		c.Remarks,
		c.CallInFlight,
		c.CallAttempts,
		c.Notified,
		c.UpdatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (Customer, error) {
	var c Customer
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Mobile,
		&c.Email,
		&c.Status,
		&c.OrderDetails,
		&c.ExpectedArrivalTime,
		&c.ArrivalConfirmed,
		&c.LastCallTime,
		&c.LastCallID,
		&c.Remarks,
		&c.CallInFlight,
		&c.CallAttempts,
		&c.Notified,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}
