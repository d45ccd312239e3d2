// Package scoring computes a bounded relevance score per market from
// momentum, anomaly flags and the external crisis signal.
//
// The score is built from a declarative weight table (rules.go): additive
// rules first, then multipliers, then a clamp to [0,100]. Every applied rule
// is recorded on the market as a reason so each decision is auditable.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// AnomalySet is the read side of the discovery anomaly detectors.
type AnomalySet interface {
	IsWhale(marketID string) bool
	HasArbitrage(marketID string) bool
}

type noAnomalies struct{}

func (noAnomalies) IsWhale(string) bool      { return false }
func (noAnomalies) HasArbitrage(string) bool { return false }

// Scorer applies a rule table to markets.
type Scorer struct {
	rules       []Rule
	multipliers []Multiplier
	anomalies   AnomalySet
	now         func() time.Time
}

// New creates a Scorer with the default weight table. A nil anomaly set
// disables the whale and arbitrage rules.
func New(anomalies AnomalySet) *Scorer {
	if anomalies == nil {
		anomalies = noAnomalies{}
	}
	return &Scorer{
		rules:       DefaultRules,
		multipliers: DefaultMultipliers,
		anomalies:   anomalies,
		now:         time.Now,
	}
}

// Score returns the clamped integer score for m and annotates m with its
// category, score and the reasons that contributed.
func (s *Scorer) Score(m *domain.Market, crisis domain.Crisis) int {
	in := s.input(*m, crisis)

	var total float64
	reasons := make([]string, 0, 6)
	for _, r := range s.rules {
		if r.Applies(in) {
			total += r.Weight
			reasons = append(reasons, fmt.Sprintf("%s(%+g)", r.Name, r.Weight))
		}
	}
	for _, mul := range s.multipliers {
		if mul.Applies(in) {
			total *= mul.Factor
			reasons = append(reasons, fmt.Sprintf("%s(x%g)", mul.Name, mul.Factor))
		}
	}

	score := int(math.Round(clamp(total)))
	m.Category = in.Category
	m.Score = score
	m.ScoreReasons = reasons
	return score
}

// ScoreAll scores every market in place.
func (s *Scorer) ScoreAll(markets []domain.Market, crisis domain.Crisis) {
	for i := range markets {
		s.Score(&markets[i], crisis)
	}
}

func (s *Scorer) input(m domain.Market, crisis domain.Crisis) Input {
	return Input{
		Market:       m,
		Category:     Categorize(m),
		DaysToExpiry: m.DaysToExpiry(s.now()),
		Momentum:     Momentum(m),
		Whale:        s.anomalies.IsWhale(m.ID),
		Arbitrage:    s.anomalies.HasArbitrage(m.ID),
		Crisis:       crisis,
	}
}

// Momentum is volume24h / (liquidity + 1).
func Momentum(m domain.Market) float64 {
	liq := m.Liquidity
	if liq < 0 {
		liq = 0
	}
	return m.Volume24h / (liq + 1)
}

// Rank returns the markets ordered by score descending. Ties keep discovery
// order, so the first-seen market wins.
func Rank(markets []domain.Market) []domain.Market {
	out := append([]domain.Market(nil), markets...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Top returns the highest-scoring market, first-seen on ties.
func Top(markets []domain.Market) (domain.Market, bool) {
	if len(markets) == 0 {
		return domain.Market{}, false
	}
	best := 0
	for i := 1; i < len(markets); i++ {
		if markets[i].Score > markets[best].Score {
			best = i
		}
	}
	return markets[best], true
}
