package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu      sync.Mutex
	byQuery map[string][]domain.Market
	fail    map[string]bool
	calls   int
}

func (f *fakeProvider) FetchMarkets(_ context.Context, q ports.MarketQuery) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[q.Name] {
		return nil, errors.New("upstream 503")
	}
	return f.byQuery[q.Name], nil
}

func (f *fakeProvider) setFail(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]bool)
	for _, n := range names {
		f.fail[n] = true
	}
}

func market(id string, days, liquidity float64) domain.Market {
	return domain.Market{
		ID:            id,
		Question:      "Question " + id,
		OutcomePrices: [2]float64{0.4, 0.6},
		Liquidity:     liquidity,
		Volume24h:     100,
		EndDate:       testNow.Add(time.Duration(days * 24 * float64(time.Hour))),
	}
}

func newTestService(p ports.MarketProvider, cfg Config) (*Service, *time.Time) {
	now := testNow
	if len(cfg.Queries) == 0 {
		cfg.Queries = []ports.MarketQuery{{Name: "a"}, {Name: "b"}}
	}
	s := NewService(p, cfg)
	s.now = func() time.Time { return now }
	return s, &now
}

func ids(markets []domain.Market) []string {
	out := make([]string, len(markets))
	for i, m := range markets {
		out[i] = m.ID
	}
	return out
}

func TestRelevant_MergesDedupesAndFilters(t *testing.T) {
	closed := market("closed", 5, 5000)
	closed.Closed = true
	noPrices := market("noprices", 5, 5000)
	noPrices.OutcomePrices = [2]float64{0, 1}

	p := &fakeProvider{byQuery: map[string][]domain.Market{
		"a": {market("m1", 5, 5000), market("m2", 10, 5000), market("illiquid", 5, 10)},
		"b": {market("m2", 10, 5000), market("far", 90, 5000), market("expired", -1, 5000), closed, noPrices, market("m3", 1, 2000)},
	}}
	s, _ := newTestService(p, Config{MinLiquidity: 1000, MaxDays: 30})

	got, err := s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(got))
}

func TestRelevant_CachesWithinTTL(t *testing.T) {
	p := &fakeProvider{byQuery: map[string][]domain.Market{"a": {market("m1", 5, 5000)}}}
	s, now := newTestService(p, Config{TTL: 30 * time.Second})

	_, err := s.Relevant(context.Background())
	require.NoError(t, err)
	_, err = s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls) // one round of two queries

	*now = now.Add(31 * time.Second)
	_, err = s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, p.calls)
}

func TestRelevant_PartialFailureIsSkipped(t *testing.T) {
	p := &fakeProvider{byQuery: map[string][]domain.Market{"b": {market("m1", 5, 5000)}}}
	p.setFail("a")
	s, _ := newTestService(p, Config{})

	got, err := s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(got))
}

func TestRelevant_TotalFailure(t *testing.T) {
	p := &fakeProvider{byQuery: map[string][]domain.Market{"a": {market("m1", 5, 5000)}}}
	s, now := newTestService(p, Config{TTL: time.Second})

	// no cache yet → error
	p.setFail("a", "b")
	_, err := s.Relevant(context.Background())
	assert.ErrorIs(t, err, ErrNoMarkets)

	// warm the cache, then fail again → stale result
	p.setFail()
	_, err = s.Relevant(context.Background())
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	p.setFail("a", "b")
	got, err := s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(got))
}

func TestContextual_BypassesCacheOnSevereCrisis(t *testing.T) {
	p := &fakeProvider{byQuery: map[string][]domain.Market{"a": {market("m1", 5, 5000)}}}
	s, _ := newTestService(p, Config{TTL: time.Hour})

	_, err := s.Contextual(context.Background(), domain.UnknownCrisis())
	require.NoError(t, err)
	_, err = s.Contextual(context.Background(), domain.Crisis{Known: true, Level: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)

	_, err = s.Contextual(context.Background(), domain.Crisis{Known: true, Level: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, p.calls)
}

// gatedProvider bloquea cada FetchMarkets hasta release o cancelación.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
	markets []domain.Market
}

func (g *gatedProvider) FetchMarkets(ctx context.Context, _ ports.MarketQuery) ([]domain.Market, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.markets, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRelevant_SharedRefreshSurvivesCallerCancel(t *testing.T) {
	p := &gatedProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
		markets: []domain.Market{market("x", 5, 5000)},
	}
	s, _ := newTestService(p, Config{Queries: []ports.MarketQuery{{Name: "a"}}})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Relevant(ctxA)
		errA <- err
	}()
	<-p.started

	type result struct {
		markets []domain.Market
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		m, err := s.Relevant(context.Background())
		resB <- result{m, err}
	}()
	time.Sleep(20 * time.Millisecond) // B se une al vuelo en curso

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(p.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, []string{"x"}, ids(r.markets))
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.EqualValues(t, 1, p.calls.Load(), "one upstream fetch shared by both callers")

	cached, err := s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(cached))
}

func TestRelevant_ReturnsIndependentCopies(t *testing.T) {
	p := &fakeProvider{byQuery: map[string][]domain.Market{"a": {market("m1", 5, 5000)}}}
	s, _ := newTestService(p, Config{})

	first, err := s.Relevant(context.Background())
	require.NoError(t, err)
	first[0].Score = 99

	second, err := s.Relevant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second[0].Score)
}

func TestDetectors_FlagAndAlertOnce(t *testing.T) {
	whale := market("whale", 5, 10_000)
	whale.Volume24h = 80_000
	arb := market("arb", 5, 5000)
	arb.OutcomePrices = [2]float64{0.45, 0.50}

	p := &fakeProvider{byQuery: map[string][]domain.Market{"a": {whale, arb, market("plain", 5, 5000)}}}
	s, now := newTestService(p, Config{TTL: time.Second})

	_, err := s.Relevant(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsWhale("whale"))
	assert.False(t, s.IsWhale("plain"))
	assert.True(t, s.HasArbitrage("arb"))
	assert.False(t, s.HasArbitrage("plain"))

	*now = now.Add(time.Minute)
	_, err = s.Relevant(context.Background())
	require.NoError(t, err)

	whales, arbs := s.Alerts()
	require.Len(t, whales, 1)
	require.Len(t, arbs, 1)
	assert.Equal(t, domain.AlertWhale, whales[0].Kind)
	assert.InDelta(t, 0.95, arbs[0].Value, 1e-9)
}

func TestArbitrageDetector_Bounds(t *testing.T) {
	d := NewArbitrageDetector(ArbitrageConfig{}, 2)
	mk := func(id string, yes, no float64) domain.Market {
		return domain.Market{ID: id, OutcomePrices: [2]float64{yes, no}}
	}

	d.Observe([]domain.Market{
		mk("zero", 0.02, 0.02),  // 0.04, missing data
		mk("edge", 0.985, 0),    // not below the bound
		mk("fair", 0.5, 0.5),    // 1.0
		mk("cheap", 0.3, 0.6),   // 0.9
		mk("cheap2", 0.1, 0.1),  // 0.2
		mk("cheap3", 0.4, 0.55), // 0.95
	}, testNow)

	assert.False(t, d.Flagged("zero"))
	assert.False(t, d.Flagged("edge"))
	assert.False(t, d.Flagged("fair"))
	assert.True(t, d.Flagged("cheap"))

	alerts := d.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "cheap2", alerts[0].MarketID)
	assert.Equal(t, "cheap3", alerts[1].MarketID)

	// a market that stops matching is unflagged
	d.Observe([]domain.Market{mk("cheap", 0.5, 0.5)}, testNow)
	assert.False(t, d.Flagged("cheap"))
}
