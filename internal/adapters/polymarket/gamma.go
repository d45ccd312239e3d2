package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

const (
	gammaMarketsPath  = "/markets"
	defaultQueryLimit = 100
)

// FetchMarkets ejecuta una query de discovery contra Gamma /markets.
// Solo mercados activos y abiertos, ordenados descendente por q.Order.
func (c *Client) FetchMarkets(ctx context.Context, q ports.MarketQuery) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	if q.Order != "" {
		params.Set("order", q.Order)
		params.Set("ascending", "false")
	}
	if q.Tag != "" {
		params.Set("tag_slug", q.Tag)
	}

	var resp []gammaMarket
	if err := c.get(ctx, c.gamma, gammaMarketsPath+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("gamma.FetchMarkets %s: %w", q.Name, err)
	}

	markets := mapGammaMarkets(resp)
	for _, m := range markets {
		c.rememberTokens(m)
	}

	slog.Debug("gamma query fetched",
		"query", q.Name,
		"raw", len(resp),
		"binary", len(markets),
	)
	return markets, nil
}

// fetchMarket obtiene un mercado por id vía GET /markets/{id}.
func (c *Client) fetchMarket(ctx context.Context, marketID string) (gammaMarket, error) {
	if marketID == "" {
		return gammaMarket{}, fmt.Errorf("empty market id")
	}
	var resp gammaMarket
	if err := c.get(ctx, c.gamma, gammaMarketsPath+"/"+url.PathEscape(marketID), &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return gammaMarket{}, fmt.Errorf("market %s: %w", marketID, domain.ErrNotFound)
		}
		return gammaMarket{}, err
	}
	if m, ok := mapGammaMarket(resp); ok {
		c.rememberTokens(m)
	}
	return resp, nil
}

// FetchMarketPrices devuelve outcomePrices y lastTradePrice de un mercado.
func (c *Client) FetchMarketPrices(ctx context.Context, marketID string) (domain.MarketPrices, error) {
	raw, err := c.fetchMarket(ctx, marketID)
	if err != nil {
		return domain.MarketPrices{}, fmt.Errorf("gamma.FetchMarketPrices: %w", err)
	}
	m, ok := mapGammaMarket(raw)
	if !ok {
		return domain.MarketPrices{}, fmt.Errorf("gamma.FetchMarketPrices %s: not a binary market", marketID)
	}
	return domain.MarketPrices{
		OutcomePrices:  m.OutcomePrices,
		LastTradePrice: m.LastTradePrice,
	}, nil
}

// FetchResolution devuelve el estado de resolución de un mercado expirado.
func (c *Client) FetchResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	raw, err := c.fetchMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("gamma.FetchResolution: %w", err)
	}
	res, err := mapResolution(raw)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("gamma.FetchResolution: %w", err)
	}
	if res.MarketID == "" {
		res.MarketID = marketID
	}
	return res, nil
}

// FetchSlug devuelve el slug de un mercado (solo para display).
func (c *Client) FetchSlug(ctx context.Context, marketID string) (string, error) {
	raw, err := c.fetchMarket(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("gamma.FetchSlug: %w", err)
	}
	return raw.Slug, nil
}

func (c *Client) rememberTokens(m domain.Market) {
	if m.ID == "" || m.TokenIDs[0] == "" || m.TokenIDs[1] == "" {
		return
	}
	c.tokens.Store(m.ID, m.TokenIDs)
}
