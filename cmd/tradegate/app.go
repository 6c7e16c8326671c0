package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/data/cache"
	"github.com/sawpanic/tradegate/internal/gates"
	"github.com/sawpanic/tradegate/internal/infrastructure/db"
	httpapi "github.com/sawpanic/tradegate/internal/interfaces/http"
	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/outbox"
	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/sizing"
	"github.com/sawpanic/tradegate/internal/strength"
)

// app is the fully wired runtime shared by the commands
type app struct {
	cfg       *config.Config
	asOf      time.Time
	provider  market.Provider
	pipeline  *pipeline.Pipeline
	metrics   *httpapi.MetricsRegistry
	hub       *httpapi.Hub
	db        *db.Manager
	decisions persistence.DecisionRepo
	outbox    outbox.Publisher
}

// newProvider returns the mock provider pinned at asOf, or the live gateway
// client with its cache
func newProvider(cfg *config.Config, flags *globalFlags, metrics *httpapi.MetricsRegistry) (market.Provider, time.Time, error) {
	asOf, err := parseAsOf(flags.asOf)
	if err != nil {
		return nil, time.Time{}, err
	}
	if flags.mock {
		log.Debug().Time("as_of", asOf).Msg("Using mock market data")
		return market.NewMockProvider(asOf), asOf, nil
	}
	if flags.asOf != "" {
		return nil, time.Time{}, errors.New("--as-of requires --mock")
	}

	var observer market.ErrorObserver
	var c cache.Cache = cache.NewAuto(cfg.Provider.Cache)
	if metrics != nil {
		observer = metrics
		c = cache.WithObserver(c, "market", metrics)
	}
	p, err := market.NewHTTPProvider(cfg.Provider, c, observer)
	if err != nil {
		return nil, time.Time{}, err
	}
	return p, asOf, nil
}

// newApp wires config, provider, storage, outbox and the pipeline
func newApp(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: httpapi.NewMetricsRegistry()}
	a.hub = httpapi.NewHub(a.metrics)

	a.provider, a.asOf, err = newProvider(cfg, flags, a.metrics)
	if err != nil {
		return nil, err
	}

	a.db, err = db.NewManager(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	var store ledger.Store
	if repos := a.db.Repository(); repos != nil {
		a.decisions = repos.Decisions
		store = repos.Positions
	} else {
		a.decisions = persistence.NewMemoryDecisions(cfg.Ledger.MemoryRecords)
	}

	l := ledger.New(ledger.State{
		PortfolioValue: cfg.Ledger.PortfolioValue,
		Cash:           cfg.Ledger.Cash,
	}, cfg.Ledger.Limits, store)
	if err := l.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	a.outbox, err = outbox.New(cfg.Outbox)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithRecorder(a.decisions),
		pipeline.WithPublisher(a.outbox),
		pipeline.WithBroadcaster(a.hub),
		pipeline.WithObserver(a.metrics),
	}
	classifier := regime.NewClassifier(cfg.Regime)
	if flags.mock {
		clock := func() time.Time { return a.asOf }
		classifier = regime.NewClassifierWithClock(cfg.Regime, clock)
		opts = append(opts, pipeline.WithClock(clock))
	}

	a.pipeline, err = pipeline.New(cfg.Pipeline, pipeline.Components{
		Provider:   a.provider,
		Classifier: classifier,
		Ranker:     strength.NewRanker(cfg.Strength),
		Selector:   mechanism.NewSelector(cfg.Mechanism),
		Sizer:      sizing.NewSizer(cfg.Sizing),
		Liquidity:  liquidity.NewGate(cfg.Liquidity),
		Gate:       gates.NewGate(cfg.Gates, l, a.metrics),
		Ledger:     l,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the outbox writer and the database pool
func (a *app) Close() {
	if a.outbox != nil {
		if err := a.outbox.Close(); err != nil {
			log.Warn().Err(err).Msg("Outbox close failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Database close failed")
		}
	}
}
