package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	book       domain.BookQuote
	bookErr    error
	prices     domain.MarketPrices
	pricesErr  error
	bookCalls  int
	priceCalls int
}

func (f *fakeSource) FetchBookQuote(_ context.Context, _ string, _ domain.Side) (domain.BookQuote, error) {
	f.bookCalls++
	return f.book, f.bookErr
}

func (f *fakeSource) FetchMarketPrices(_ context.Context, _ string) (domain.MarketPrices, error) {
	f.priceCalls++
	return f.prices, f.pricesErr
}

func newTestResolver(src *fakeSource) *Resolver {
	return NewResolver(src, nil, Config{TTL: time.Minute, MaxSpreadPct: 10})
}

func TestResolve_BookWithinSpread(t *testing.T) {
	src := &fakeSource{book: domain.BookQuote{Bid: 0.40, Ask: 0.42, Price: 0.42}}
	r := newTestResolver(src)

	q, err := r.Resolve(context.Background(), "m1", domain.SideYes)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, q.Price, 1e-9)
	assert.Equal(t, domain.SourceBook, q.Source)
	assert.Equal(t, 0, src.priceCalls)
	assert.Empty(t, r.Warnings())
}

func TestResolve_WideSpreadFallsBackToOutcome(t *testing.T) {
	// bid 0.43 / ask 0.50 → ~15% spread
	src := &fakeSource{
		book:   domain.BookQuote{Bid: 0.43, Ask: 0.50, Price: 0.50},
		prices: domain.MarketPrices{OutcomePrices: [2]float64{0.46, 0.54}},
	}
	r := newTestResolver(src)

	q, err := r.Resolve(context.Background(), "m1", domain.SideNo)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOutcome, q.Source)
	assert.InDelta(t, 0.54, q.Price, 1e-9)

	warnings := r.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "m1", warnings[0].MarketID)
	assert.Greater(t, warnings[0].SpreadPct, 10.0)
}

func TestResolve_BookErrorFallsBackToOutcome(t *testing.T) {
	src := &fakeSource{
		bookErr: errors.New("timeout"),
		prices:  domain.MarketPrices{OutcomePrices: [2]float64{0.30, 0.70}},
	}
	r := newTestResolver(src)

	q, err := r.Resolve(context.Background(), "m1", domain.SideYes)
	require.NoError(t, err)
	assert.InDelta(t, 0.30, q.Price, 1e-9)
	assert.Empty(t, r.Warnings(), "a failed book is not a spread warning")
}

func TestResolve_LastTradeInvertedForNo(t *testing.T) {
	src := &fakeSource{
		bookErr: errors.New("no book"),
		prices:  domain.MarketPrices{LastTradePrice: 0.35},
	}
	r := newTestResolver(src)

	yes, err := r.Resolve(context.Background(), "m1", domain.SideYes)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLastTrade, yes.Source)
	assert.InDelta(t, 0.35, yes.Price, 1e-9)

	no, err := r.Resolve(context.Background(), "m1", domain.SideNo)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, no.Price, 1e-9)
}

func TestResolve_AllSourcesFailIsUnavailableNotZero(t *testing.T) {
	src := &fakeSource{
		bookErr:   errors.New("down"),
		pricesErr: errors.New("down"),
	}
	r := newTestResolver(src)

	q, err := r.Resolve(context.Background(), "m1", domain.SideYes)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Zero(t, q.Price)
}

func TestResolve_OutOfRangePricesAreUnavailable(t *testing.T) {
	src := &fakeSource{
		book:   domain.BookQuote{Bid: 0, Ask: 0, Price: 0},
		prices: domain.MarketPrices{OutcomePrices: [2]float64{1, 0}, LastTradePrice: 1},
	}
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), "m1", domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	src := &fakeSource{book: domain.BookQuote{Bid: 0.40, Ask: 0.41, Price: 0.41}}
	r := newTestResolver(src)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Resolve(context.Background(), "m1", domain.SideYes)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "m1", domain.SideYes)
	require.NoError(t, err)
	assert.Equal(t, 1, src.bookCalls)

	// Other side is a distinct key
	_, err = r.Resolve(context.Background(), "m1", domain.SideNo)
	require.NoError(t, err)
	assert.Equal(t, 2, src.bookCalls)

	now = now.Add(2 * time.Minute)
	_, err = r.Resolve(context.Background(), "m1", domain.SideYes)
	require.NoError(t, err)
	assert.Equal(t, 3, src.bookCalls)
}

func TestResolve_InvalidSide(t *testing.T) {
	r := newTestResolver(&fakeSource{})
	_, err := r.Resolve(context.Background(), "m1", domain.Side("MAYBE"))
	assert.ErrorIs(t, err, domain.ErrInvalidSide)
}

func TestResolver_WarningsBounded(t *testing.T) {
	src := &fakeSource{
		book:   domain.BookQuote{Bid: 0.10, Ask: 0.50, Price: 0.50},
		prices: domain.MarketPrices{OutcomePrices: [2]float64{0.3, 0.7}},
	}
	r := NewResolver(src, nil, Config{TTL: time.Nanosecond, MaxWarnings: 3})
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := r.Resolve(context.Background(), id, domain.SideYes)
		require.NoError(t, err)
	}
	w := r.Warnings()
	require.Len(t, w, 3)
	assert.Equal(t, "c", w[0].MarketID)
	assert.Equal(t, "e", w[2].MarketID)
}
