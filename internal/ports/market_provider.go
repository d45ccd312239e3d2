package ports

import (
	"context"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// MarketQuery describes one upstream discovery query.
type MarketQuery struct {
	Name  string // label used in logs
	Tag   string // optional tag filter
	Order string // e.g. "volume24hr", "liquidity"
	Limit int
}

// MarketProvider obtiene mercados candidatos desde el upstream.
// Los mercados se devuelven ya normalizados a domain.Market.
type MarketProvider interface {
	FetchMarkets(ctx context.Context, q MarketQuery) ([]domain.Market, error)
}
