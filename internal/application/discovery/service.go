// Package discovery produces the candidate market list the engines score.
//
// Relevant() serves a short-TTL cache over several upstream queries fetched
// concurrently. Contextual() skips the cache while a severe crisis is
// active. Every fresh result also feeds the whale and arbitrage detectors,
// whose flags the scorer reads through IsWhale/HasArbitrage.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

const (
	DefaultTTL          = 30 * time.Second
	DefaultMinLiquidity = 1000.0
	DefaultMaxDays      = 30.0
	defaultTimeout      = 10 * time.Second
)

// ErrNoMarkets is returned when every upstream query failed and nothing is cached.
var ErrNoMarkets = errors.New("discovery: no markets available")

// DefaultQueries are the upstream listings merged into one candidate set.
func DefaultQueries() []ports.MarketQuery {
	return []ports.MarketQuery{
		{Name: "volume", Order: "volume24hr", Limit: 100},
		{Name: "liquidity", Order: "liquidity", Limit: 100},
		{Name: "geopolitics", Tag: "geopolitics", Order: "volume24hr", Limit: 50},
		{Name: "economy", Tag: "economy", Order: "volume24hr", Limit: 50},
	}
}

// Config parametriza el servicio de descubrimiento.
type Config struct {
	TTL            time.Duration
	MinLiquidity   float64
	MaxDays        float64 // max days to expiry
	Queries        []ports.MarketQuery
	RequestTimeout time.Duration
	Whale          WhaleConfig
	Arbitrage      ArbitrageConfig
	MaxAlerts      int
}

// Service is safe for concurrent use by both engine loops.
type Service struct {
	provider ports.MarketProvider
	cfg      Config
	whales   *Detector
	arbs     *Detector
	now      func() time.Time
	group    singleflight.Group

	mu        sync.Mutex
	cached    []domain.Market
	fetchedAt time.Time
}

// NewService creates a discovery Service. Zero config fields take defaults.
func NewService(provider ports.MarketProvider, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MinLiquidity < 0 {
		cfg.MinLiquidity = 0
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = DefaultMaxDays
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultQueries()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	return &Service{
		provider: provider,
		cfg:      cfg,
		whales:   NewWhaleDetector(cfg.Whale, cfg.MaxAlerts),
		arbs:     NewArbitrageDetector(cfg.Arbitrage, cfg.MaxAlerts),
		now:      time.Now,
	}
}

// Relevant returns the filtered candidate markets, from cache while fresh.
func (s *Service) Relevant(ctx context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.cfg.TTL {
		out := cloneMarkets(s.cached)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()
	return s.refresh(ctx)
}

// Contextual is Relevant, except that a severe crisis forces a fresh fetch.
func (s *Service) Contextual(ctx context.Context, crisis domain.Crisis) ([]domain.Market, error) {
	if crisis.Severe() {
		return s.refresh(ctx)
	}
	return s.Relevant(ctx)
}

// refresh deduplica los fetch concurrentes de ambos loops con singleflight.
// El fetch compartido no hereda la cancelación de quien lo arrancó; cada
// query ya va acotada por RequestTimeout.
func (s *Service) refresh(ctx context.Context) ([]domain.Market, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("discovery.refresh: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return cloneMarkets(r.Val.([]domain.Market)), nil
	}
}

func (s *Service) fetch(ctx context.Context) ([]domain.Market, error) {
	results := make([][]domain.Market, len(s.cfg.Queries))
	failures := make([]error, len(s.cfg.Queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range s.cfg.Queries {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, s.cfg.RequestTimeout)
			defer cancel()
			markets, err := s.provider.FetchMarkets(qctx, q)
			if err != nil {
				// una query caída no tumba las demás
				slog.Warn("discovery query failed", "query", q.Name, "err", err)
				failures[i] = err
				return nil
			}
			results[i] = markets
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(failures...); err != nil && allFailed(failures) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cached != nil {
			slog.Warn("discovery: serving stale markets", "age", s.now().Sub(s.fetchedAt).Round(time.Second), "err", err)
			return s.cached, nil
		}
		return nil, fmt.Errorf("discovery.fetch: %w: %w", ErrNoMarkets, err)
	}

	now := s.now()
	markets := s.filter(dedupe(results), now)

	s.whales.Observe(markets, now)
	s.arbs.Observe(markets, now)

	s.mu.Lock()
	s.cached = markets
	s.fetchedAt = now
	s.mu.Unlock()

	slog.Debug("discovery refreshed", "markets", len(markets), "queries", len(s.cfg.Queries))
	return markets, nil
}

// filter keeps open, liquid markets expiring within MaxDays with usable prices.
func (s *Service) filter(markets []domain.Market, now time.Time) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	maxHours := s.cfg.MaxDays * 24
	for _, m := range markets {
		if m.Closed || !m.HasOutcomePrices() {
			continue
		}
		if m.Liquidity < s.cfg.MinLiquidity {
			continue
		}
		if m.EndDate.IsZero() {
			continue
		}
		hours := m.EndDate.Sub(now).Hours()
		if hours <= 0 || hours > maxHours {
			continue
		}
		out = append(out, m)
	}
	return out
}

// IsWhale reports whether marketID is currently flagged by the whale detector.
func (s *Service) IsWhale(marketID string) bool { return s.whales.Flagged(marketID) }

// HasArbitrage reports whether marketID currently shows an outcome mispricing.
func (s *Service) HasArbitrage(marketID string) bool { return s.arbs.Flagged(marketID) }

// Alerts returns the bounded whale and arbitrage alert lists, oldest first.
func (s *Service) Alerts() (whales, arbitrage []domain.Alert) {
	return s.whales.Alerts(), s.arbs.Alerts()
}

// dedupe merges query results by market ID in first-seen order.
func dedupe(results [][]domain.Market) []domain.Market {
	seen := make(map[string]bool)
	var out []domain.Market
	for _, batch := range results {
		for _, m := range batch {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

func allFailed(errs []error) bool {
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return true
}

func cloneMarkets(in []domain.Market) []domain.Market {
	return append([]domain.Market(nil), in...)
}
