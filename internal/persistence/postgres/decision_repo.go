package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/pipeline"
)

// decisionRepo implements DecisionRepo for PostgreSQL; the full record is kept as jsonb
type decisionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionRepo creates a new PostgreSQL decision repository
func NewDecisionRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionRepo {
	return &decisionRepo{db: db, timeout: timeout}
}

// Insert upserts on id so an acknowledgment replaces the pending record
func (r *decisionRepo) Insert(ctx context.Context, rec *pipeline.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.ID == "" {
		return fmt.Errorf("decision id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	query := `
		INSERT INTO decisions (id, ticker, as_of, status, stage, reason_code, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			reason_code = EXCLUDED.reason_code,
			payload = EXCLUDED.payload,
			updated_at = now()`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Ticker, rec.AsOf, string(rec.Status), rec.Stage, string(rec.ReasonCode), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert decision %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns nil, nil when the id is unknown
func (r *decisionRepo) Get(ctx context.Context, id string) (*pipeline.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowxContext(ctx, `SELECT payload FROM decisions WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get decision %s: %w", id, err)
	}
	return decode(payload)
}

// ListRecent returns the newest records first; an empty ticker lists all
func (r *decisionRepo) ListRecent(ctx context.Context, ticker string, limit int) ([]*pipeline.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT payload
		FROM decisions
		WHERE ($1 = '' OR ticker = $1)
		ORDER BY as_of DESC, updated_at DESC
		LIMIT $2`

	var payloads [][]byte
	if err := r.db.SelectContext(ctx, &payloads, query, strings.ToUpper(ticker), limit); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	out := make([]*pipeline.DecisionRecord, 0, len(payloads))
	for _, p := range payloads {
		rec, err := decode(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decode(payload []byte) (*pipeline.DecisionRecord, error) {
	var rec pipeline.DecisionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return &rec, nil
}
