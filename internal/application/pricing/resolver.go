// Package pricing resolves the best available probability-price for a
// (market, side) pair, falling back from the order book to published outcome
// prices to the last trade price.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

const (
	DefaultTTL          = 30 * time.Second
	DefaultMaxSpreadPct = 10.0
	DefaultWarnings     = 50
	defaultTimeout      = 10 * time.Second
)

// Config controla el comportamiento del resolver.
type Config struct {
	TTL            time.Duration
	MaxSpreadPct   float64       // spreads above this fall back to outcome prices
	MaxWarnings    int           // bounded spread-warning list
	RequestTimeout time.Duration // per upstream call
}

// Resolver is shared by every engine partition; it is safe for concurrent use.
type Resolver struct {
	source ports.PriceSource
	cache  ports.PriceCache
	cfg    Config
	now    func() time.Time

	mu       sync.Mutex
	warnings []domain.SpreadWarning
}

// NewResolver creates a Resolver. A nil cache uses an in-memory TTL cache.
func NewResolver(source ports.PriceSource, cache ports.PriceCache, cfg Config) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSpreadPct <= 0 {
		cfg.MaxSpreadPct = DefaultMaxSpreadPct
	}
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = DefaultWarnings
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{
		source: source,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
	}
}

// CacheKey is the cache key for (marketID, side).
func CacheKey(marketID string, side domain.Side) string {
	return "price:" + marketID + ":" + string(side)
}

// Resolve returns a price strictly inside (0,1) or an error wrapping
// domain.ErrPriceUnavailable. It never returns a zero price.
func (r *Resolver) Resolve(ctx context.Context, marketID string, side domain.Side) (domain.Quote, error) {
	if !side.Valid() {
		return domain.Quote{}, fmt.Errorf("pricing.Resolve: %w: %q", domain.ErrInvalidSide, side)
	}

	key := CacheKey(marketID, side)
	if q, ok := r.cache.Get(ctx, key); ok && r.now().Sub(q.FetchedAt) < r.cfg.TTL {
		return q, nil
	}

	q, err := r.resolveUncached(ctx, marketID, side)
	if err != nil {
		return domain.Quote{}, err
	}
	r.cache.Set(ctx, key, q, r.cfg.TTL)
	return q, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, marketID string, side domain.Side) (domain.Quote, error) {
	now := r.now()
	quote := domain.Quote{MarketID: marketID, Side: side, FetchedAt: now}

	// 1. Order book
	book, err := r.fetchBook(ctx, marketID, side)
	switch {
	case err != nil:
		slog.Debug("order book unavailable, falling back", "market", marketID, "side", side, "err", err)
	case !domain.ValidPrice(book.Price):
		slog.Debug("order book price invalid, falling back", "market", marketID, "side", side, "price", book.Price)
	default:
		spread := book.SpreadPct()
		if spread <= r.cfg.MaxSpreadPct {
			quote.Price = book.Price
			quote.Source = domain.SourceBook
			quote.SpreadPct = spread
			return quote, nil
		}
		r.recordSpreadWarning(domain.SpreadWarning{MarketID: marketID, Side: side, SpreadPct: spread, At: now})
		quote.SpreadPct = spread
	}

	// 2-3. Outcome prices, then last trade
	prices, err := r.fetchMarketPrices(ctx, marketID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("pricing.Resolve %s/%s: %w: %v", marketID, side, domain.ErrPriceUnavailable, err)
	}
	if p := prices.OutcomePrices[side.Index()]; domain.ValidPrice(p) {
		quote.Price = p
		quote.Source = domain.SourceOutcome
		return quote, nil
	}
	if last := prices.LastTradePrice; domain.ValidPrice(last) {
		quote.Price = last
		if side == domain.SideNo {
			quote.Price = 1 - last
		}
		quote.Source = domain.SourceLastTrade
		return quote, nil
	}

	return domain.Quote{}, fmt.Errorf("pricing.Resolve %s/%s: %w", marketID, side, domain.ErrPriceUnavailable)
}

func (r *Resolver) fetchBook(ctx context.Context, marketID string, side domain.Side) (domain.BookQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	return r.source.FetchBookQuote(ctx, marketID, side)
}

func (r *Resolver) fetchMarketPrices(ctx context.Context, marketID string) (domain.MarketPrices, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	return r.source.FetchMarketPrices(ctx, marketID)
}

func (r *Resolver) recordSpreadWarning(w domain.SpreadWarning) {
	slog.Warn("wide spread, using outcome price",
		"market", w.MarketID,
		"side", w.Side,
		"spread_pct", fmt.Sprintf("%.1f%%", w.SpreadPct),
		"max_pct", fmt.Sprintf("%.1f%%", r.cfg.MaxSpreadPct),
	)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
	if over := len(r.warnings) - r.cfg.MaxWarnings; over > 0 {
		r.warnings = append([]domain.SpreadWarning(nil), r.warnings[over:]...)
	}
}

// Warnings returns a copy of the bounded spread-warning list, oldest first.
func (r *Resolver) Warnings() []domain.SpreadWarning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SpreadWarning(nil), r.warnings...)
}
