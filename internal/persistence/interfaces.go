package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/pipeline"
)

// DecisionRepo stores pipeline decision records keyed by their deterministic ID
type DecisionRepo interface {
	// Insert stores the record; an existing ID is overwritten so an
	// acknowledged decision replaces its pending_ack predecessor
	Insert(ctx context.Context, rec *pipeline.DecisionRecord) error

	// Get returns the record or nil when the ID is unknown
	Get(ctx context.Context, id string) (*pipeline.DecisionRecord, error)

	// ListRecent returns the newest records, optionally for one ticker
	ListRecent(ctx context.Context, ticker string, limit int) ([]*pipeline.DecisionRecord, error)
}

// PositionRepo persists open ledger positions
type PositionRepo interface {
	Upsert(ctx context.Context, p ledger.Position) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]ledger.Position, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Decisions DecisionRepo
	Positions PositionRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}

var (
	_ pipeline.Recorder = DecisionRepo(nil)
	_ ledger.Store      = PositionRepo(nil)
)
