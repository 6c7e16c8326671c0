package http

import (
	"time"

	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/pipeline"
)

// EvaluateRequest is the POST /evaluate body. An empty ticker evaluates the
// top candidate of the selected sector.
type EvaluateRequest struct {
	Ticker      string `json:"ticker" validate:"omitempty,ticker"`
	Acknowledge bool   `json:"acknowledge"`
}

// CycleRequest is the POST /cycle body
type CycleRequest struct {
	Top int `json:"top" default:"3" validate:"gte=1,lte=20"`
}

// DecisionsQuery holds the GET /decisions query parameters
type DecisionsQuery struct {
	Ticker string `json:"ticker" validate:"omitempty,ticker"`
	Limit  int    `json:"limit" default:"50" validate:"gte=1,lte=500"`
}

// CycleResponse wraps the records of one cycle
type CycleResponse struct {
	Count     int                        `json:"count"`
	Decisions []*pipeline.DecisionRecord `json:"decisions"`
}

// DecisionsResponse lists stored decisions newest first
type DecisionsResponse struct {
	Count     int                        `json:"count"`
	Decisions []*pipeline.DecisionRecord `json:"decisions"`
}

// LedgerResponse is the current ledger snapshot with derived percentages
type LedgerResponse struct {
	ledger.State
	OpenRiskPct float64       `json:"open_risk_pct"`
	Limits      ledger.Limits `json:"limits"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string                  `json:"status"` // "healthy", "degraded"
	Timestamp     time.Time               `json:"timestamp"`
	Uptime        string                  `json:"uptime"`
	Version       string                  `json:"version"`
	LedgerVersion uint64                  `json:"ledger_version"`
	Database      persistence.HealthCheck `json:"database"`
	StreamClients int                     `json:"stream_clients"`
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   []ValidationError `json:"details,omitempty"`
}

// ValidationError describes one rejected request field
type ValidationError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
