package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/persistence"
)

// positionRepo implements PositionRepo for PostgreSQL
type positionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionRepo creates a new PostgreSQL position repository
func NewPositionRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionRepo {
	return &positionRepo{db: db, timeout: timeout}
}

// Upsert inserts or replaces the position by id
func (r *positionRepo) Upsert(ctx context.Context, p ledger.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if p.ID == "" || p.Ticker == "" {
		return fmt.Errorf("position id and ticker are required")
	}

	query := `
		INSERT INTO positions (id, ticker, family, units, exposure, risk, beta_delta, opened_at)
		VALUES (:id, :ticker, :family, :units, :exposure, :risk, :beta_delta, :opened_at)
		ON CONFLICT (id) DO UPDATE SET
			units = EXCLUDED.units,
			exposure = EXCLUDED.exposure,
			risk = EXCLUDED.risk,
			beta_delta = EXCLUDED.beta_delta`

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes the position; deleting an unknown id is not an error
func (r *positionRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", id, err)
	}
	return nil
}

// List returns open positions oldest first
func (r *positionRepo) List(ctx context.Context) ([]ledger.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ticker, family, units, exposure, risk, beta_delta, opened_at
		FROM positions
		ORDER BY opened_at, id`

	var out []ledger.Position
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return out, nil
}
