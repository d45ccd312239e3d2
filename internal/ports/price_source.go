package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// PriceSource provides the raw price tiers the resolver falls back through.
type PriceSource interface {
	// FetchBookQuote returns the order-book execution quote for buying side.
	FetchBookQuote(ctx context.Context, marketID string, side domain.Side) (domain.BookQuote, error)

	// FetchMarketPrices returns published outcome prices and the last trade price.
	FetchMarketPrices(ctx context.Context, marketID string) (domain.MarketPrices, error)
}

// PriceCache stores resolved quotes for a bounded time.
// Implementations must be safe for concurrent use.
type PriceCache interface {
	Get(ctx context.Context, key string) (domain.Quote, bool)
	Set(ctx context.Context, key string, q domain.Quote, ttl time.Duration)
}
