package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PositionStatus is the lifecycle state of a position. CLOSED is terminal.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// CloseReason records which transition closed a position.
type CloseReason string

const (
	CloseTakeProfit         CloseReason = "TAKE_PROFIT"
	CloseStopLoss           CloseReason = "STOP_LOSS"
	CloseResolvedWin        CloseReason = "RESOLVED_WIN"
	CloseResolvedLoss       CloseReason = "RESOLVED_LOSS"
	CloseResolutionFallback CloseReason = "RESOLUTION_FALLBACK"
)

// DefaultHistorySize bounds the per-position price history.
const DefaultHistorySize = 50

// Position is one stake on a binary market outcome (a.k.a. Trade).
//
// Invariants: Shares == Size / EntryPrice and EntryPrice ∈ (0,1).
type Position struct {
	ID         string         `json:"id"`
	MarketID   string         `json:"market_id"`
	Question   string         `json:"question"`
	Slug       string         `json:"slug,omitempty"`
	Side       Side           `json:"side"`
	EntryPrice float64        `json:"entry_price"`
	Size       float64        `json:"size"` // capital committed net of entry fee
	EntryFees  float64        `json:"entry_fees"`
	Shares     float64        `json:"shares"`
	History    PriceHistory   `json:"price_history"`
	Status     PositionStatus `json:"status"`
	Confidence int            `json:"confidence"`
	Category   Category       `json:"category"`
	OpenedAt   time.Time      `json:"opened_at"`
	EndDate    time.Time      `json:"end_date"`

	ExitPrice       float64     `json:"exit_price,omitempty"`
	ExitFees        float64     `json:"exit_fees,omitempty"`
	NetExitProceeds float64     `json:"net_exit_proceeds,omitempty"`
	Profit          float64     `json:"profit,omitempty"`
	CloseReason     CloseReason `json:"close_reason,omitempty"`
	Degraded        bool        `json:"degraded,omitempty"` // closed on a proxy price, not a true outcome
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
}

// IsOpen reports whether the position is still OPEN.
func (p Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// Cost is everything debited from capital at open.
func (p Position) Cost() float64 {
	return p.Size + p.EntryFees
}

// LastPrice returns the most recent observed price, falling back to the entry
// price when no observation has been recorded yet.
func (p Position) LastPrice() float64 {
	if last, ok := p.History.Last(); ok {
		return last
	}
	return p.EntryPrice
}

// Return is the unrealized return at price, e.g. 0.25 for +25%.
func (p Position) Return(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// Expired reports whether the market behind the position has ended.
func (p Position) Expired(now time.Time) bool {
	return !p.EndDate.IsZero() && !now.Before(p.EndDate)
}

// CheckInvariants validates the entry invariants of the position.
func (p Position) CheckInvariants() error {
	if !p.Side.Valid() {
		return fmt.Errorf("position %s: %w: %q", p.ID, ErrInvalidSide, p.Side)
	}
	if !ValidPrice(p.EntryPrice) {
		return fmt.Errorf("position %s: %w: entry %v", p.ID, ErrInvalidPrice, p.EntryPrice)
	}
	want := p.Size / p.EntryPrice
	if math.Abs(p.Shares-want) > 1e-6*math.Max(1, want) {
		return fmt.Errorf("position %s: shares %.6f != size/entry %.6f", p.ID, p.Shares, want)
	}
	return nil
}

// PriceHistory is a fixed-capacity ring buffer of observed prices.
// It serializes as an ordered JSON array, oldest first.
type PriceHistory struct {
	buf  []float64
	head int
	n    int
}

// NewPriceHistory creates an empty history holding at most size prices.
func NewPriceHistory(size int) PriceHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return PriceHistory{buf: make([]float64, size)}
}

// Append records p, evicting the oldest price when full.
func (h *PriceHistory) Append(p float64) {
	if len(h.buf) == 0 {
		h.buf = make([]float64, DefaultHistorySize)
	}
	idx := (h.head + h.n) % len(h.buf)
	h.buf[idx] = p
	if h.n < len(h.buf) {
		h.n++
		return
	}
	h.head = (h.head + 1) % len(h.buf)
}

// Len returns the number of stored prices.
func (h PriceHistory) Len() int { return h.n }

// Cap returns the ring capacity.
func (h PriceHistory) Cap() int { return len(h.buf) }

// Last returns the newest price.
func (h PriceHistory) Last() (float64, bool) {
	if h.n == 0 {
		return 0, false
	}
	return h.buf[(h.head+h.n-1)%len(h.buf)], true
}

// Values returns the prices oldest first.
func (h PriceHistory) Values() []float64 {
	out := make([]float64, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Clone returns an independent copy.
func (h PriceHistory) Clone() PriceHistory {
	c := PriceHistory{buf: make([]float64, len(h.buf)), head: h.head, n: h.n}
	copy(c.buf, h.buf)
	return c
}

type priceHistoryJSON struct {
	Capacity int       `json:"capacity"`
	Prices   []float64 `json:"prices"`
}

func (h PriceHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceHistoryJSON{Capacity: h.Cap(), Prices: h.Values()})
}

func (h *PriceHistory) UnmarshalJSON(data []byte) error {
	var raw priceHistoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = NewPriceHistory(raw.Capacity)
	for _, p := range raw.Prices {
		h.Append(p)
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Position) Clone() Position {
	c := p
	c.History = p.History.Clone()
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return c
}
