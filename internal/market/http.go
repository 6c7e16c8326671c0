package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/data/cache"
	"github.com/sawpanic/tradegate/internal/net/breaker"
	"github.com/sawpanic/tradegate/internal/net/ratelimit"
	"github.com/sawpanic/tradegate/internal/policy"
)

// Endpoint families; each has its own breaker, limiter bucket and cache TTL
const (
	FamilySnapshot   = "snapshot"
	FamilySectors    = "sectors"
	FamilyInstrument = "instrument"
	FamilyOptions    = "options"
	FamilyEarnings   = "earnings"
	FamilyMacro      = "macro"
)

// ErrorObserver receives provider failures, typically the metrics registry
type ErrorObserver interface {
	RecordProviderError(endpoint, kind string)
}

// HTTPConfig configures the quote gateway client
type HTTPConfig struct {
	BaseURL   string           `yaml:"base_url" env:"TRADEGATE_PROVIDER_URL"`
	APIKey    string           `yaml:"api_key"`
	Timeout   time.Duration    `yaml:"timeout"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Breaker   breaker.Config   `yaml:"breaker"`
	Cache     cache.Config     `yaml:"cache"`
}

// DefaultHTTPConfig returns a local gateway with conservative limits
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:   "http://127.0.0.1:9090",
		Timeout:   5 * time.Second,
		RateLimit: ratelimit.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
	}
}

// HTTPProvider is the live Provider: a JSON REST client for an external quote
// gateway, guarded by a per-family circuit breaker and rate limiter, with a
// read-through cache.
type HTTPProvider struct {
	cfg      HTTPConfig
	base     *url.URL
	client   *http.Client
	limiter  *ratelimit.Limiter
	breakers *breaker.Set
	cache    cache.Cache
	observer ErrorObserver
}

// NewHTTPProvider builds a live provider. A nil cache disables caching.
func NewHTTPProvider(cfg HTTPConfig, c cache.Cache, observer ErrorObserver) (*HTTPProvider, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPProvider{
		cfg:      cfg,
		base:     base,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  ratelimit.NewLimiterWithConfig(cfg.RateLimit),
		breakers: breaker.NewSet("gateway", cfg.Breaker),
		cache:    c,
		observer: observer,
	}, nil
}

// BreakerStates reports the state of every endpoint breaker
func (p *HTTPProvider) BreakerStates() map[string]string {
	return p.breakers.States()
}

// Snapshot fetches the cycle snapshot
func (p *HTTPProvider) Snapshot(ctx context.Context) (*MarketSnapshot, error) {
	var snap MarketSnapshot
	if err := p.fetch(ctx, FamilySnapshot, "/v1/snapshot", nil, p.cfg.Cache.SnapshotTTL, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SectorMembers fetches the constituents of a sector benchmark
func (p *HTTPProvider) SectorMembers(ctx context.Context, sector string) ([]string, error) {
	var members []string
	path := "/v1/sectors/" + url.PathEscape(sector) + "/members"
	if err := p.fetch(ctx, FamilySectors, path, nil, p.cfg.Cache.CalendarTTL, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Instrument fetches per-ticker history and volatility state
func (p *HTTPProvider) Instrument(ctx context.Context, ticker string) (*Instrument, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, policy.Invalid("ticker", ticker, "must not be empty")
	}
	var inst Instrument
	if err := p.fetch(ctx, FamilyInstrument, "/v1/instruments/"+url.PathEscape(ticker), nil, p.cfg.Cache.InstrumentTTL, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// OptionQuote fetches top-of-book for one contract
func (p *HTTPProvider) OptionQuote(ctx context.Context, c OptionContract) (*OptionQuote, error) {
	q := url.Values{}
	q.Set("underlying", strings.ToUpper(c.Underlying))
	q.Set("right", string(c.Right))
	q.Set("strike", strconv.FormatFloat(c.Strike, 'f', 2, 64))
	q.Set("expiration", c.Expiration.Format("2006-01-02"))

	var quote OptionQuote
	if err := p.fetch(ctx, FamilyOptions, "/v1/options/quote", q, p.cfg.Cache.QuoteTTL, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// Earnings fetches the next earnings report
func (p *HTTPProvider) Earnings(ctx context.Context, ticker string) (*EarningsInfo, error) {
	var info EarningsInfo
	path := "/v1/earnings/" + url.PathEscape(strings.ToUpper(ticker))
	if err := p.fetch(ctx, FamilyEarnings, path, nil, p.cfg.Cache.CalendarTTL, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MacroEvents fetches scheduled releases in a window
func (p *HTTPProvider) MacroEvents(ctx context.Context, from, to time.Time) ([]MacroEvent, error) {
	q := url.Values{}
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))

	var events []MacroEvent
	if err := p.fetch(ctx, FamilyMacro, "/v1/macro", q, p.cfg.Cache.CalendarTTL, &events); err != nil {
		return nil, err
	}
	return events, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.code, e.body)
}

// fetch performs a cached, rate-limited, breaker-guarded GET and decodes JSON into out
func (p *HTTPProvider) fetch(ctx context.Context, family, path string, query url.Values, ttl time.Duration, out interface{}) error {
	u := *p.base
	u.Path = p.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	key := family + ":" + u.RequestURI()

	if p.cache != nil {
		if b, ok := p.cache.Get(ctx, key); ok {
			if err := json.Unmarshal(b, out); err == nil {
				return nil
			}
		}
	}

	if err := p.limiter.Wait(ctx, p.base.Host, family); err != nil {
		return p.fail(family, policy.FromContext(family, err))
	}

	raw, err := p.breakers.Get(family).Execute(func() (any, error) {
		return p.get(ctx, u.String())
	})
	if err != nil {
		var se *statusError
		switch {
		case errors.Is(err, breaker.ErrOpen):
			return p.fail(family, policy.Unavailable(family, "circuit open"))
		case errors.As(err, &se) && se.code == http.StatusNotFound:
			return p.fail(family, policy.Unavailable(family, "not found: %s", path))
		case errors.As(err, &se):
			return p.fail(family, policy.Unavailable(family, "%s", se.Error()))
		}
		return p.fail(family, policy.FromContext(family, fmt.Errorf("request %s: %w", path, err)))
	}

	body := raw.([]byte)
	if err := json.Unmarshal(body, out); err != nil {
		return p.fail(family, fmt.Errorf("decode %s response: %w", family, err))
	}
	if p.cache != nil && ttl > 0 {
		p.cache.Set(ctx, key, body, ttl)
	}
	return nil
}

func (p *HTTPProvider) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (p *HTTPProvider) fail(family string, err error) error {
	kind := policy.Kind(err)
	if p.observer != nil {
		p.observer.RecordProviderError(family, kind)
	}
	log.Warn().Err(err).Str("endpoint", family).Str("kind", kind).Msg("market data request failed")
	return err
}
