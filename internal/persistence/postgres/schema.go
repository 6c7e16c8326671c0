package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the decision and position tables
const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          UUID PRIMARY KEY,
	ticker      TEXT NOT NULL,
	as_of       TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	stage       TEXT NOT NULL DEFAULT '',
	reason_code TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS decisions_ticker_as_of ON decisions (ticker, as_of DESC);

CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	ticker     TEXT NOT NULL,
	family     TEXT NOT NULL,
	units      INTEGER NOT NULL CHECK (units > 0),
	exposure   DOUBLE PRECISION NOT NULL,
	risk       DOUBLE PRECISION NOT NULL,
	beta_delta DOUBLE PRECISION NOT NULL DEFAULT 0,
	opened_at  TIMESTAMPTZ NOT NULL
);`

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
