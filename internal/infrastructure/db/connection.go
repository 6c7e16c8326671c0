package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/persistence/postgres"
)

// Config holds database connection configuration. An empty DSN disables persistence.
type Config struct {
	DSN             string        `yaml:"dsn" env:"TRADEGATE_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"`     // Default: 10
	MaxIdleConns    int           `yaml:"max_idle_conns"`     // Default: 5
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`  // Default: 30m
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"` // Default: 5m
	QueryTimeout    time.Duration `yaml:"query_timeout"`      // Default: 5s
	Migrate         bool          `yaml:"migrate"`            // apply the schema on connect
}

// DefaultConfig returns pool defaults with persistence disabled
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    5 * time.Second,
		Migrate:         true,
	}
}

// Enabled reports whether a DSN is configured
func (c Config) Enabled() bool { return c.DSN != "" }

// Manager manages database connections and repository instances
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens and pings the pool. With no DSN it returns a disabled
// manager whose Repository is nil.
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	if !config.Enabled() {
		return &Manager{config: config, health: &healthChecker{}}, nil
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	m, err := newManager(ctx, db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// newManager configures the pool on an open handle
func newManager(ctx context.Context, db *sqlx.DB, config Config) (*Manager, error) {
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if config.Migrate {
		if err := postgres.Migrate(pingCtx, db); err != nil {
			return nil, err
		}
	}

	log.Info().
		Int("max_open_conns", config.MaxOpenConns).
		Dur("query_timeout", config.QueryTimeout).
		Msg("Database connected")

	return &Manager{
		db:     db,
		config: config,
		repos: &persistence.Repository{
			Decisions: postgres.NewDecisionRepo(db, config.QueryTimeout),
			Positions: postgres.NewPositionRepo(db, config.QueryTimeout),
		},
		health: &healthChecker{enabled: true, db: db, timeout: config.QueryTimeout},
	}, nil
}

// Repository returns the repository collection, or nil if the database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the health checker
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB returns the underlying connection
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.db != nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

// Health returns current repository health status
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Healthy:        true,
			Errors:         []string{"Database persistence disabled"},
			ConnectionPool: map[string]int{"status": 0},
			LastCheck:      time.Now(),
		}
	}

	start := time.Now()
	var errs []string
	healthy := true
	if err := h.Ping(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errs,
		ConnectionPool: map[string]int{
			"max_open":      stats.MaxOpenConnections,
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    int(stats.WaitCount),
			"wait_duration": int(stats.WaitDuration.Milliseconds()),
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity
func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}
