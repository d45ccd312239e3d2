package domain

import (
	"math"
	"time"
)

// Crisis levels run from 1 (most severe) to 5 (calm).
const (
	CrisisLevelMostSevere = 1
	CrisisLevelCalm       = 5
	crisisSevereMaxLevel  = 2
)

// Crisis is the external crisis signal. A zero value is "unknown" and
// disables every crisis-based adjustment.
type Crisis struct {
	Known     bool
	Level     int     // lower = more severe
	Intensity float64 // 0..100
	UpdatedAt time.Time
}

// UnknownCrisis returns the "no signal" value.
func UnknownCrisis() Crisis {
	return Crisis{}
}

// Severe reports whether the signal is known and at one of the two most
// severe levels.
func (c Crisis) Severe() bool {
	return c.Known && c.Level >= CrisisLevelMostSevere && c.Level <= crisisSevereMaxLevel
}

// Resolution is the formal resolution status of a market.
type Resolution struct {
	MarketID        string
	Closed          bool
	AcceptingOrders bool
	FinalPrices     [2]float64
}

// Resolved reports whether the market is formally resolved.
func (r Resolution) Resolved() bool {
	return r.Closed
}

// HasFinalPrices reports whether both final prices are usable, i.e. finite,
// within [0,1] and not both zero.
func (r Resolution) HasFinalPrices() bool {
	a, b := r.FinalPrices[0], r.FinalPrices[1]
	for _, v := range []float64{a, b} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return a+b > 0
}

// AlertKind classifies anomaly alerts published by the discovery detectors.
type AlertKind string

const (
	AlertWhale     AlertKind = "WHALE"
	AlertArbitrage AlertKind = "ARBITRAGE"
)

// Alert is one anomaly observation.
type Alert struct {
	Kind       AlertKind `json:"kind"`
	MarketID   string    `json:"market_id"`
	Question   string    `json:"question"`
	Value      float64   `json:"value"` // volume ratio for whales, outcome sum for arbitrage
	DetectedAt time.Time `json:"detected_at"`
}
