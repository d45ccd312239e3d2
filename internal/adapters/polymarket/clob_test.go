package polymarket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/polysignal/internal/adapters/polymarket"
	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(clobSrv, gammaSrv *httptest.Server) *polymarket.Client {
	clobURL := ""
	gammaURL := ""
	if clobSrv != nil {
		clobURL = clobSrv.URL
	}
	if gammaSrv != nil {
		gammaURL = gammaSrv.URL
	}
	return polymarket.NewClient(clobURL, gammaURL)
}

const singleMarket = `{
	"id": "512340",
	"slug": "ceasefire-hold-march",
	"outcomes": "[\"Yes\", \"No\"]",
	"outcomePrices": "[\"0.32\", \"0.68\"]",
	"clobTokenIds": "[\"tok_yes_1\", \"tok_no_1\"]",
	"lastTradePrice": "0.31",
	"active": true,
	"closed": false
}`

func TestFetchMarkets_Success(t *testing.T) {
	data, err := os.ReadFile("../../../testdata/fixtures/gamma_markets.json")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("active"))
		assert.Equal(t, "false", q.Get("closed"))
		assert.Equal(t, "volume24hr", q.Get("order"))
		assert.Equal(t, "false", q.Get("ascending"))
		assert.Equal(t, "geopolitics", q.Get("tag_slug"))
		assert.Equal(t, "50", q.Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer srv.Close()

	client := newTestClient(nil, srv)
	markets, err := client.FetchMarkets(context.Background(), ports.MarketQuery{
		Name: "geo", Tag: "geopolitics", Order: "volume24hr", Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, markets, 2, "non-binary market must be dropped")

	m := markets[0]
	assert.Equal(t, "512340", m.ID)
	assert.Equal(t, "ceasefire-hold-march", m.Slug)
	assert.Equal(t, [2]float64{0.32, 0.68}, m.OutcomePrices)
	assert.Equal(t, [2]string{"tok_yes_1", "tok_no_1"}, m.TokenIDs)
	assert.InDelta(t, 0.31, m.LastTradePrice, 1e-9)
	assert.InDelta(t, 84210.5, m.Volume24h, 1e-9)
	assert.InDelta(t, 15230.75, m.Liquidity, 1e-9)
	assert.True(t, m.AcceptingOrders)
	assert.Equal(t, []string{"Geopolitics", "Middle East"}, m.Tags)
	assert.Equal(t, 2026, m.EndDate.Year())

	m2 := markets[1]
	assert.Equal(t, [2]float64{0.05, 0.95}, m2.OutcomePrices)
	assert.Zero(t, m2.LastTradePrice)
	assert.InDelta(t, 4000, m2.Liquidity, 1e-9)
	assert.Equal(t, []string{"interest rates"}, m2.Tags)
	assert.False(t, m2.EndDate.IsZero())
}

func TestFetchMarkets_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad tag"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(nil, srv).FetchMarkets(context.Background(), ports.MarketQuery{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFetchMarketPrices_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/markets/512340", r.URL.Path)
		w.Write([]byte(singleMarket))
	}))
	defer srv.Close()

	prices, err := newTestClient(nil, srv).FetchMarketPrices(context.Background(), "512340")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, [2]float64{0.32, 0.68}, prices.OutcomePrices)
	assert.InDelta(t, 0.31, prices.LastTradePrice, 1e-9)
}

func TestFetchSlug_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(singleMarket))
	}))
	defer srv.Close()

	start := time.Now()
	slug, err := newTestClient(nil, srv).FetchSlug(context.Background(), "512340")
	require.NoError(t, err)
	assert.Equal(t, "ceasefire-hold-march", slug)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond, "Retry-After honored")
}

func TestFetchMarkets_TimeoutOption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := polymarket.NewClient("", srv.URL, polymarket.WithTimeout(50*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := c.FetchMarkets(ctx, ports.MarketQuery{Name: "slow"})
	assert.Error(t, err)
}

func TestFetchResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "77",
			"outcomes": ["Yes","No"],
			"outcomePrices": "[\"1\", \"0\"]",
			"active": true,
			"closed": true,
			"acceptingOrders": false
		}`))
	}))
	defer srv.Close()

	res, err := newTestClient(nil, srv).FetchResolution(context.Background(), "77")
	require.NoError(t, err)
	assert.True(t, res.Resolved())
	assert.False(t, res.AcceptingOrders)
	assert.Equal(t, [2]float64{1, 0}, res.FinalPrices)
	assert.Equal(t, "77", res.MarketID)
}

func TestFetchResolution_ClosedWithoutFinalPrices(t *testing.T) {
	for name, body := range map[string]string{
		"missing":     `{"id":"77","outcomes":"[\"Yes\",\"No\"]","closed":true,"active":false}`,
		"unparseable": `{"id":"77","outcomePrices":"[\"n/a\", \"0\"]","closed":true}`,
		"all zero":    `{"id":"77","outcomePrices":["0","0"],"closed":true}`,
		"three":       `{"id":"77","outcomes":["A","B","C"],"outcomePrices":["1","0","0"],"closed":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(nil, srv).FetchResolution(context.Background(), "77")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
		})
	}
}

func TestFetchResolution_OpenMarketNeedsNoFinalPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"77","closed":false,"active":true,"acceptingOrders":false}`))
	}))
	defer srv.Close()

	res, err := newTestClient(nil, srv).FetchResolution(context.Background(), "77")
	require.NoError(t, err)
	assert.False(t, res.Resolved())
}

func TestFetchResolution_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(nil, srv).FetchResolution(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchSlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(singleMarket))
	}))
	defer srv.Close()

	slug, err := newTestClient(nil, srv).FetchSlug(context.Background(), "512340")
	require.NoError(t, err)
	assert.Equal(t, "ceasefire-hold-march", slug)
}

func TestFetchBookQuote_ResolvesTokenOnce(t *testing.T) {
	var gammaCalls atomic.Int32
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gammaCalls.Add(1)
		w.Write([]byte(singleMarket))
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		switch r.URL.Query().Get("token_id") {
		case "tok_no_1":
			w.Write([]byte(`{"asset_id":"tok_no_1",
				"bids":[{"price":"0.66","size":"100"},{"price":"0.67","size":"20"}],
				"asks":[{"price":"0.70","size":"50"},{"price":"0.69","size":"10"}]}`))
		default:
			w.Write([]byte(`{"asset_id":"tok_yes_1","bids":[],"asks":[{"price":"0.33","size":"5"}]}`))
		}
	}))
	defer clob.Close()

	client := newTestClient(clob, gamma)

	q, err := client.FetchBookQuote(context.Background(), "512340", domain.SideNo)
	require.NoError(t, err)
	assert.Equal(t, 0.69, q.Price)
	assert.Equal(t, 0.67, q.Bid)
	assert.Equal(t, 0.69, q.Ask)

	q, err = client.FetchBookQuote(context.Background(), "512340", domain.SideYes)
	require.NoError(t, err)
	assert.Equal(t, 0.33, q.Price)
	assert.Zero(t, q.Bid)
	assert.Equal(t, 100.0, q.SpreadPct(), "one-sided book is never acceptable")

	assert.Equal(t, int32(1), gammaCalls.Load(), "token ids must be cached")
}

func TestFetchBookQuote_InvalidSide(t *testing.T) {
	_, err := newTestClient(nil, nil).FetchBookQuote(context.Background(), "1", domain.Side("MAYBE"))
	assert.ErrorIs(t, err, domain.ErrInvalidSide)
}

func TestFetchBookQuote_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv, srv).FetchBookQuote(ctx, "512340", domain.SideYes)
	require.Error(t, err)
}
