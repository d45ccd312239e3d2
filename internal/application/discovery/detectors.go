package discovery

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

const (
	DefaultWhaleVolume = 50_000.0
	DefaultWhaleRatio  = 2.0
	DefaultArbMinSum   = 0.05
	DefaultArbMaxSum   = 0.985
)

// WhaleConfig flags markets with unusual volume relative to their liquidity.
type WhaleConfig struct {
	MinVolume float64 // volume24h floor
	MinRatio  float64 // volume24h / (liquidity + 1)
}

// ArbitrageConfig flags markets whose outcome prices sum inside (MinSum, MaxSum).
type ArbitrageConfig struct {
	MinSum float64
	MaxSum float64
}

// Detector keeps the set of currently flagged markets plus a bounded list of
// alerts, one per newly flagged market.
type Detector struct {
	kind  domain.AlertKind
	match func(m domain.Market) (float64, bool)
	max   int

	mu      sync.RWMutex
	flagged map[string]bool
	alerts  []domain.Alert // oldest first
}

// NewWhaleDetector creates the volume-anomaly detector.
func NewWhaleDetector(cfg WhaleConfig, maxAlerts int) *Detector {
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = DefaultWhaleVolume
	}
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = DefaultWhaleRatio
	}
	return newDetector(domain.AlertWhale, maxAlerts, func(m domain.Market) (float64, bool) {
		liq := m.Liquidity
		if liq < 0 {
			liq = 0
		}
		ratio := m.Volume24h / (liq + 1)
		return ratio, m.Volume24h >= cfg.MinVolume && ratio >= cfg.MinRatio
	})
}

// NewArbitrageDetector creates the outcome-mispricing detector. Sums at or
// below MinSum are treated as missing data, not opportunities.
func NewArbitrageDetector(cfg ArbitrageConfig, maxAlerts int) *Detector {
	if cfg.MinSum <= 0 {
		cfg.MinSum = DefaultArbMinSum
	}
	if cfg.MaxSum <= 0 {
		cfg.MaxSum = DefaultArbMaxSum
	}
	return newDetector(domain.AlertArbitrage, maxAlerts, func(m domain.Market) (float64, bool) {
		sum := m.OutcomeSum()
		return sum, sum > cfg.MinSum && sum < cfg.MaxSum
	})
}

func newDetector(kind domain.AlertKind, maxAlerts int, match func(domain.Market) (float64, bool)) *Detector {
	if maxAlerts <= 0 {
		maxAlerts = domain.DefaultAlertRetention
	}
	return &Detector{
		kind:    kind,
		match:   match,
		max:     maxAlerts,
		flagged: make(map[string]bool),
	}
}

// Observe replaces the flagged set with the matches in markets and returns
// the alerts raised for markets that were not flagged before.
func (d *Detector) Observe(markets []domain.Market, now time.Time) []domain.Alert {
	next := make(map[string]bool)
	var raised []domain.Alert

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range markets {
		value, ok := d.match(m)
		if !ok {
			continue
		}
		next[m.ID] = true
		if d.flagged[m.ID] {
			continue // ya conocido
		}
		a := domain.Alert{
			Kind:       d.kind,
			MarketID:   m.ID,
			Question:   m.Question,
			Value:      value,
			DetectedAt: now,
		}
		raised = append(raised, a)
		slog.Warn(fmt.Sprintf("%s detected", d.kind),
			"market", domain.TruncateQuestion(m.Question, m.ID, 60),
			"value", fmt.Sprintf("%.4f", value),
		)
	}

	d.flagged = next
	d.alerts = append(d.alerts, raised...)
	if over := len(d.alerts) - d.max; over > 0 {
		d.alerts = append([]domain.Alert(nil), d.alerts[over:]...)
	}
	return raised
}

// Flagged reports whether marketID matched on the last observation.
func (d *Detector) Flagged(marketID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flagged[marketID]
}

// Alerts returns a copy of the bounded alert list.
func (d *Detector) Alerts() []domain.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.Alert(nil), d.alerts...)
}
