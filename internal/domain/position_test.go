package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceHistory_RingEviction(t *testing.T) {
	h := NewPriceHistory(3)
	_, ok := h.Last()
	assert.False(t, ok)

	for _, p := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		h.Append(p)
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []float64{0.3, 0.4, 0.5}, h.Values())
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 0.5, last)
}

func TestPriceHistory_JSONKeepsOrderAndCapacity(t *testing.T) {
	h := NewPriceHistory(2)
	h.Append(0.41)
	h.Append(0.42)
	h.Append(0.43)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"capacity":2,"prices":[0.42,0.43]}`, string(data))

	var back PriceHistory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2, back.Cap())
	assert.Equal(t, []float64{0.42, 0.43}, back.Values())
}

func TestPriceHistory_ZeroValueAppend(t *testing.T) {
	var h PriceHistory
	h.Append(0.5)
	assert.Equal(t, DefaultHistorySize, h.Cap())
	assert.Equal(t, 1, h.Len())
}

func TestPosition_LastPriceAndReturn(t *testing.T) {
	pos := Position{EntryPrice: 0.40, History: NewPriceHistory(5)}
	assert.Equal(t, 0.40, pos.LastPrice(), "falls back to entry without observations")

	pos.History.Append(0.50)
	assert.Equal(t, 0.50, pos.LastPrice())
	assert.InDelta(t, 0.25, pos.Return(0.50), 1e-12)
	assert.InDelta(t, -0.15, pos.Return(0.34), 1e-12)
	assert.Zero(t, Position{}.Return(0.5))
}

func TestPosition_CheckInvariants(t *testing.T) {
	ok := Position{ID: "p1", Side: SideYes, EntryPrice: 0.25, Size: 10, Shares: 40}
	assert.NoError(t, ok.CheckInvariants())

	badSide := ok
	badSide.Side = "MAYBE"
	assert.ErrorIs(t, badSide.CheckInvariants(), ErrInvalidSide)

	badPrice := ok
	badPrice.EntryPrice = 1
	assert.ErrorIs(t, badPrice.CheckInvariants(), ErrInvalidPrice)

	badShares := ok
	badShares.Shares = 39
	assert.Error(t, badShares.CheckInvariants())
}

func TestPosition_CloneIsDeep(t *testing.T) {
	closed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pos := Position{History: NewPriceHistory(3), ClosedAt: &closed}
	pos.History.Append(0.3)

	c := pos.Clone()
	c.History.Append(0.9)
	*c.ClosedAt = closed.Add(time.Hour)

	assert.Equal(t, []float64{0.3}, pos.History.Values())
	assert.Equal(t, closed, *pos.ClosedAt)
}

func TestPosition_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, Position{}.Expired(now), "unknown end date never expires")
	assert.True(t, Position{EndDate: now}.Expired(now))
	assert.False(t, Position{EndDate: now.Add(time.Minute)}.Expired(now))
}

func TestSideAndMarketHelpers(t *testing.T) {
	assert.Equal(t, 0, SideYes.Index())
	assert.Equal(t, 1, SideNo.Index())
	assert.Equal(t, SideNo, SideYes.Opposite())

	s, err := ParseSide("no")
	require.NoError(t, err)
	assert.Equal(t, SideNo, s)
	for _, v := range []string{"yEs", " YES ", "Yes"} {
		s, err = ParseSide(v)
		require.NoError(t, err, v)
		assert.Equal(t, SideYes, s)
	}
	_, err = ParseSide("maybe")
	assert.ErrorIs(t, err, ErrInvalidSide)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := Market{OutcomePrices: [2]float64{0.3, 0.65}, EndDate: now.Add(48 * time.Hour)}
	assert.Equal(t, 0.65, m.PriceFor(SideNo))
	assert.InDelta(t, 0.95, m.OutcomeSum(), 1e-12)
	assert.True(t, m.HasOutcomePrices())
	assert.InDelta(t, 2.0, m.DaysToExpiry(now), 1e-12)
	assert.True(t, math.IsInf(Market{}.DaysToExpiry(now), 1))

	assert.False(t, ValidPrice(0))
	assert.False(t, ValidPrice(1))
	assert.False(t, ValidPrice(math.NaN()))
	assert.True(t, ValidPrice(0.01))
}

func TestCrisis_Severe(t *testing.T) {
	assert.False(t, UnknownCrisis().Severe())
	assert.True(t, Crisis{Known: true, Level: 1}.Severe())
	assert.True(t, Crisis{Known: true, Level: 2}.Severe())
	assert.False(t, Crisis{Known: true, Level: 3}.Severe())
	assert.False(t, Crisis{Known: false, Level: 1}.Severe())
}

func TestBookQuote_SpreadPct(t *testing.T) {
	ob := OrderBook{
		Bids: []BookEntry{{Price: 0.48, Size: 10}},
		Asks: []BookEntry{{Price: 0.52, Size: 10}},
	}
	q := ob.Quote()
	assert.Equal(t, 0.52, q.Price)
	assert.InDelta(t, 8.0, q.SpreadPct(), 1e-9)

	assert.Equal(t, 100.0, OrderBook{Asks: ob.Asks}.Quote().SpreadPct(), "one-sided book")
}

func TestTruncateQuestion(t *testing.T) {
	assert.Equal(t, "short", TruncateQuestion("short", "id", 10))
	assert.Equal(t, "abcdefg...", TruncateQuestion("abcdefghijklmnop", "id", 10))
	assert.Equal(t, "0x123456789012345678...", TruncateQuestion("", "0x1234567890123456789012345", 40))
}

func TestTruncateQuestion_Multibyte(t *testing.T) {
	got := TruncateQuestion("¿Habrá alto el fuego en Gaza?", "id", 10)
	assert.Equal(t, "¿Habrá ...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 10, utf8.RuneCountInString(got))

	got = TruncateQuestion("Will 東京 host the 2032 Olympics?", "id", 8)
	assert.Equal(t, "Will ...", got)
	assert.Equal(t, "Will 東京...", TruncateQuestion("Will 東京 host", "id", 10))
	assert.True(t, utf8.ValidString(TruncateQuestion("ñññññññññññ", "id", 6)))
}

func TestResolution_HasFinalPrices(t *testing.T) {
	assert.True(t, Resolution{FinalPrices: [2]float64{1, 0}}.HasFinalPrices())
	assert.True(t, Resolution{FinalPrices: [2]float64{0.5, 0.5}}.HasFinalPrices())
	assert.False(t, Resolution{}.HasFinalPrices())
	assert.False(t, Resolution{FinalPrices: [2]float64{1.2, 0}}.HasFinalPrices())
	assert.False(t, Resolution{FinalPrices: [2]float64{math.NaN(), 1}}.HasFinalPrices())
}
