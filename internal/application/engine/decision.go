package engine

import (
	"github.com/alejandrodnm/polysignal/internal/domain"
)

const (
	DefaultMinTick        = 0.01
	DefaultCrisisMaxPrice = 0.60
	DefaultLongShotMax    = 0.10
	DefaultBandMin        = 0.20
	DefaultBandMax        = 0.45
	DefaultMomentumVolume = 50_000.0
)

// DecisionConfig holds the thresholds of the entry ladder.
type DecisionConfig struct {
	MinTick        float64 // smallest tradable price
	CrisisMaxPrice float64 // max YES price for a crisis-aligned entry
	LongShotMax    float64
	BandMin        float64
	BandMax        float64
	MomentumVolume float64 // volume24h floor for a momentum entry
}

func (c *DecisionConfig) setDefaults() {
	if c.MinTick <= 0 {
		c.MinTick = DefaultMinTick
	}
	if c.CrisisMaxPrice <= 0 {
		c.CrisisMaxPrice = DefaultCrisisMaxPrice
	}
	if c.LongShotMax <= 0 {
		c.LongShotMax = DefaultLongShotMax
	}
	if c.BandMin <= 0 {
		c.BandMin = DefaultBandMin
	}
	if c.BandMax <= 0 {
		c.BandMax = DefaultBandMax
	}
	if c.MomentumVolume <= 0 {
		c.MomentumVolume = DefaultMomentumVolume
	}
}

// Decision is the side chosen for a market and the ladder rung that chose it.
type Decision struct {
	Side domain.Side
	Rule string
}

// Decide walks the entry ladder over the market's published outcome prices.
// The first rung that matches wins:
//
//  1. crisis-aligned: severe crisis, geopolitical/economic market, YES ≤ CrisisMaxPrice
//  2. long shot: a side priced ≤ LongShotMax
//  3. moderate band: YES, else NO, inside [BandMin, BandMax]
//  4. momentum: volume24h ≥ MomentumVolume, cheaper side
func Decide(m domain.Market, crisis domain.Crisis, cfg DecisionConfig) (Decision, bool) {
	if !m.HasOutcomePrices() {
		return Decision{}, false
	}
	yes := m.PriceFor(domain.SideYes)
	no := m.PriceFor(domain.SideNo)
	tradable := func(p float64) bool { return p >= cfg.MinTick && p < 1 }

	if crisis.Severe() &&
		(m.Category == domain.CategoryGeopolitical || m.Category == domain.CategoryEconomic) &&
		yes <= cfg.CrisisMaxPrice && tradable(yes) {
		return Decision{Side: domain.SideYes, Rule: "crisis-aligned"}, true
	}

	cheap := domain.SideYes
	if no < yes {
		cheap = cheap.Opposite()
	}
	cheapPrice := m.PriceFor(cheap)
	if cheapPrice <= cfg.LongShotMax && tradable(cheapPrice) {
		return Decision{Side: cheap, Rule: "long-shot"}, true
	}

	inBand := func(p float64) bool { return p >= cfg.BandMin && p <= cfg.BandMax }
	if inBand(yes) {
		return Decision{Side: domain.SideYes, Rule: "band"}, true
	}
	if inBand(no) {
		return Decision{Side: domain.SideNo, Rule: "band"}, true
	}

	if m.Volume24h >= cfg.MomentumVolume && tradable(cheapPrice) {
		return Decision{Side: cheap, Rule: "momentum"}, true
	}
	return Decision{}, false
}
