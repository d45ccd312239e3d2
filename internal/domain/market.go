package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Side is one of the two mutually exclusive outcomes of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Index returns the position of the side in an outcome price pair.
func (s Side) Index() int {
	if s == SideNo {
		return 1
	}
	return 0
}

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideNo {
		return SideYes
	}
	return SideNo
}

// ParseSide accepts "YES"/"NO" in any case, ignoring surrounding spaces.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "YES":
		return SideYes, nil
	case "NO":
		return SideNo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, v)
}

// Category is the topic bucket a market is scored under.
type Category string

const (
	CategoryGeopolitical Category = "GEOPOLITICAL"
	CategoryEconomic     Category = "ECONOMIC"
	CategorySports       Category = "SPORTS"
	CategoryPolitics     Category = "POLITICS"
	CategoryCrypto       Category = "CRYPTO"
	CategoryOther        Category = "OTHER"
)

// Market is a read-only snapshot of a binary prediction market, normalized at
// the adapter boundary. Category, Score and ScoreReasons are per-cycle
// annotations written by the scorer.
type Market struct {
	ID              string
	Question        string
	Slug            string
	OutcomePrices   [2]float64 // YES, NO; sums ≈1 but may diverge
	LastTradePrice  float64
	Volume24h       float64
	Liquidity       float64
	EndDate         time.Time
	Tags            []string
	TokenIDs        [2]string // CLOB token ids for YES, NO
	Closed          bool
	AcceptingOrders bool

	Category     Category
	Score        int
	ScoreReasons []string
}

// PriceFor returns the published outcome price for side.
func (m Market) PriceFor(side Side) float64 {
	return m.OutcomePrices[side.Index()]
}

// OutcomeSum returns YES + NO outcome prices.
func (m Market) OutcomeSum() float64 {
	return m.OutcomePrices[0] + m.OutcomePrices[1]
}

// HasOutcomePrices reports whether both outcome prices are usable probabilities.
func (m Market) HasOutcomePrices() bool {
	return ValidPrice(m.OutcomePrices[0]) && ValidPrice(m.OutcomePrices[1])
}

// DaysToExpiry returns the days until EndDate. Negative once expired, +Inf if
// EndDate is unknown.
func (m Market) DaysToExpiry(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return math.Inf(1)
	}
	return m.EndDate.Sub(now).Hours() / 24
}

// Expired reports whether the market end time has passed.
func (m Market) Expired(now time.Time) bool {
	return !m.EndDate.IsZero() && !now.Before(m.EndDate)
}

// ValidPrice reports whether p is a finite probability strictly inside (0,1).
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0 && p < 1
}

// TruncateQuestion devuelve la pregunta truncada a maxLen caracteres.
// Si la pregunta está vacía usa el id del mercado como fallback.
func TruncateQuestion(question, marketID string, maxLen int) string {
	q := question
	if q == "" {
		q = truncateRunes(marketID, 20)
	}
	if utf8.RuneCountInString(q) > maxLen {
		q = truncateRunes(q, maxLen-3)
	}
	return q
}

// truncateRunes corta s a n runas y añade "..." si hubo corte.
func truncateRunes(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
