package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

const bookPath = "/book"

// FetchBookQuote devuelve la quote de ejecución (best ask) para comprar side
// en marketID. El token id sale de la cache; si no está, se pide el mercado a Gamma.
func (c *Client) FetchBookQuote(ctx context.Context, marketID string, side domain.Side) (domain.BookQuote, error) {
	if !side.Valid() {
		return domain.BookQuote{}, domain.ErrInvalidSide
	}
	tokenID, err := c.tokenFor(ctx, marketID, side)
	if err != nil {
		return domain.BookQuote{}, fmt.Errorf("clob.FetchBookQuote: %w", err)
	}

	var resp bookResponse
	if err := c.get(ctx, c.clob, bookPath+"?token_id="+url.QueryEscape(tokenID), &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return domain.BookQuote{}, fmt.Errorf("clob.FetchBookQuote %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.BookQuote{}, fmt.Errorf("clob.FetchBookQuote %s: %w", marketID, err)
	}
	return mapOrderBook(resp).Quote(), nil
}

func (c *Client) tokenFor(ctx context.Context, marketID string, side domain.Side) (string, error) {
	if v, ok := c.tokens.Load(marketID); ok {
		return v.([2]string)[side.Index()], nil
	}
	if _, err := c.fetchMarket(ctx, marketID); err != nil {
		return "", err
	}
	v, ok := c.tokens.Load(marketID)
	if !ok {
		return "", fmt.Errorf("market %s has no clob token ids", marketID)
	}
	return v.([2]string)[side.Index()], nil
}
