package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS simulated_requests (
	id          BIGSERIAL PRIMARY KEY,
	endpoint    TEXT NOT NULL,
	status      INT NOT NULL,
	duration_s  DOUBLE PRECISION NOT NULL,
	failed      BOOLEAN NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS simulated_requests_endpoint_idx
	ON simulated_requests (endpoint, created_at);
`

// PostgresLedger appends simulated requests to a Postgres table so traffic
// can be inspected after the fact.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger connects to dsn and creates the ledger table if needed.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &PostgresLedger{db: db}, nil
}

func (l *PostgresLedger) Record(ctx context.Context, r Result) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO simulated_requests (endpoint, status, duration_s, failed) VALUES ($1, $2, $3, $4)`,
		r.Endpoint, r.Status, r.Duration, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
