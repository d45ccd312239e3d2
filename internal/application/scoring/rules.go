package scoring

import (
	"github.com/alejandrodnm/polysignal/internal/domain"
)

// Input is everything a rule may look at. Category is already assigned.
type Input struct {
	Market       domain.Market
	Category     domain.Category
	DaysToExpiry float64
	Momentum     float64 // volume24h / (liquidity + 1)
	Whale        bool
	Arbitrage    bool
	Crisis       domain.Crisis
}

// Rule adds Weight to the score when Applies holds.
type Rule struct {
	Name    string
	Weight  float64
	Applies func(in Input) bool
}

// Multiplier scales the additive total when Applies holds.
type Multiplier struct {
	Name    string
	Factor  float64
	Applies func(in Input) bool
}

const (
	MinScore = 0
	MaxScore = 100
)

// DefaultRules is the additive weight table. Rules sharing a prefix are
// mutually exclusive tiers.
var DefaultRules = []Rule{
	{"expiry<5d", 25, func(in Input) bool { return in.DaysToExpiry >= 0 && in.DaysToExpiry < 5 }},
	{"expiry<10d", 15, func(in Input) bool { return in.DaysToExpiry >= 5 && in.DaysToExpiry < 10 }},

	{"momentum>0.5", 30, func(in Input) bool { return in.Momentum > 0.5 }},
	{"momentum>0.1", 15, func(in Input) bool { return in.Momentum > 0.1 && in.Momentum <= 0.5 }},

	{"whale", 35, func(in Input) bool { return in.Whale }},
	{"arbitrage", 25, func(in Input) bool { return in.Arbitrage }},

	{"crisis:geopolitical", 60, func(in Input) bool {
		return in.Crisis.Severe() && in.Category == domain.CategoryGeopolitical
	}},
	{"crisis:economic", 40, func(in Input) bool {
		return in.Crisis.Severe() && in.Category == domain.CategoryEconomic
	}},
	{"crisis:sports", -50, func(in Input) bool {
		return in.Crisis.Severe() && in.Category == domain.CategorySports
	}},

	{"sports", -20, func(in Input) bool {
		return in.Category == domain.CategorySports && !in.Crisis.Severe()
	}},
	{"diversification", 10, func(in Input) bool { return in.Category != domain.CategorySports }},
}

// DefaultMultipliers apply after the additive rules, before the clamp.
var DefaultMultipliers = []Multiplier{
	{"intensity>80:geopolitical", 1.3, func(in Input) bool {
		return in.Crisis.Known && in.Crisis.Intensity > 80 && in.Category == domain.CategoryGeopolitical
	}},
	{"intensity<30:economic", 1.2, func(in Input) bool {
		return in.Crisis.Known && in.Crisis.Intensity < 30 && in.Category == domain.CategoryEconomic
	}},
}

// clamp bounds v to [MinScore, MaxScore].
func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
