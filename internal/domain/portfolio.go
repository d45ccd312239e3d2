package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Default retention bounds for the portfolio's bounded lists.
const (
	DefaultClosedRetention = 100
	DefaultCapitalHistory  = 500
	DefaultLogRetention    = 200
	DefaultAlertRetention  = 50
)

// reconcileTolerance absorbs float rounding in Audit.
const reconcileTolerance = 1e-6

// CapitalPoint is one sample of the capital-history series.
type CapitalPoint struct {
	At      time.Time `json:"at"`
	Capital float64   `json:"capital"`
	Equity  float64   `json:"equity"`
}

// LogEntry is a diagnostic line kept alongside the persisted state.
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Portfolio is one partition's mutable aggregate. It is owned by exactly one
// engine goroutine; everything else sees copies produced by Snapshot.
type Portfolio struct {
	Name            string         `json:"name"`
	Capital         float64        `json:"capital"`
	StartingCapital float64        `json:"starting_capital"`
	TotalTrades     int            `json:"total_trades"`
	WinningTrades   int            `json:"winning_trades"`
	LosingTrades    int            `json:"losing_trades"`
	RealizedPnL     float64        `json:"realized_pnl"`
	Active          []Position     `json:"active_positions"`
	Closed          []Position     `json:"closed_positions"` // most recent first
	CapitalHistory  []CapitalPoint `json:"capital_history"`
	Logs            []LogEntry     `json:"logs"`
	Alerts          []string       `json:"alerts"`
	UpdatedAt       time.Time      `json:"updated_at"`

	ClosedRetention int `json:"-"`
	HistoryLimit    int `json:"-"`
}

// NewPortfolio creates a partition holding startingCapital in free cash.
func NewPortfolio(name string, startingCapital float64) *Portfolio {
	return &Portfolio{
		Name:            name,
		Capital:         startingCapital,
		StartingCapital: startingCapital,
	}
}

// Reset returns the partition to its initial capital with empty lists.
func (p *Portfolio) Reset() {
	p.Capital = p.StartingCapital
	p.TotalTrades = 0
	p.WinningTrades = 0
	p.LosingTrades = 0
	p.RealizedPnL = 0
	p.Active = nil
	p.Closed = nil
	p.CapitalHistory = nil
	p.Logs = nil
	p.Alerts = nil
}

// ActivePosition returns the index of the OPEN position with id.
func (p *Portfolio) ActivePosition(id string) (int, bool) {
	for i := range p.Active {
		if p.Active[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// HasMarket reports whether an OPEN position already exists on marketID.
func (p *Portfolio) HasMarket(marketID string) bool {
	for i := range p.Active {
		if p.Active[i].MarketID == marketID {
			return true
		}
	}
	return false
}

// OpenExposure is Σ(size + entry fees) over OPEN positions.
func (p *Portfolio) OpenExposure() float64 {
	var total float64
	for _, pos := range p.Active {
		total += pos.Cost()
	}
	return total
}

// MarkToMarket values OPEN positions at their last observed price.
func (p *Portfolio) MarkToMarket() float64 {
	var total float64
	for _, pos := range p.Active {
		total += pos.Shares * pos.LastPrice()
	}
	return total
}

// Archive moves a closed position from the active list to the head of the
// closed list, evicting beyond the retention count.
func (p *Portfolio) Archive(pos Position) {
	if i, ok := p.ActivePosition(pos.ID); ok {
		p.Active = append(p.Active[:i], p.Active[i+1:]...)
	}
	retention := p.ClosedRetention
	if retention <= 0 {
		retention = DefaultClosedRetention
	}
	p.Closed = append([]Position{pos}, p.Closed...)
	if len(p.Closed) > retention {
		p.Closed = p.Closed[:retention]
	}
}

// RecordCapital appends a capital-history sample, bounded.
func (p *Portfolio) RecordCapital(at time.Time) {
	limit := p.HistoryLimit
	if limit <= 0 {
		limit = DefaultCapitalHistory
	}
	p.CapitalHistory = append(p.CapitalHistory, CapitalPoint{
		At:      at,
		Capital: p.Capital,
		Equity:  p.Capital + p.MarkToMarket(),
	})
	if over := len(p.CapitalHistory) - limit; over > 0 {
		p.CapitalHistory = append([]CapitalPoint(nil), p.CapitalHistory[over:]...)
	}
}

// Log appends a diagnostic entry, bounded.
func (p *Portfolio) Log(at time.Time, level, msg string) {
	p.Logs = append(p.Logs, LogEntry{At: at, Level: level, Message: msg})
	if over := len(p.Logs) - DefaultLogRetention; over > 0 {
		p.Logs = append([]LogEntry(nil), p.Logs[over:]...)
	}
}

// Alert appends an operator alert, bounded.
func (p *Portfolio) Alert(msg string) {
	p.Alerts = append(p.Alerts, msg)
	if over := len(p.Alerts) - DefaultAlertRetention; over > 0 {
		p.Alerts = append([]string(nil), p.Alerts[over:]...)
	}
}

// ReconciliationGap returns (capital + Σopen cost) − (starting + realized).
// Entry fees are part of each position's cost, so for a consistent ledger the
// gap is zero; a positive gap means capital was created out of nothing.
func (p *Portfolio) ReconciliationGap() float64 {
	return (p.Capital + p.OpenExposure()) - (p.StartingCapital + p.RealizedPnL)
}

// ErrReconciliation is returned by Audit when the ledger does not balance.
var ErrReconciliation = errors.New("portfolio reconciliation failed")

// Audit checks the ledger invariant and every open position's invariants.
func (p *Portfolio) Audit() error {
	if gap := p.ReconciliationGap(); math.Abs(gap) > reconcileTolerance*math.Max(1, p.StartingCapital) {
		return fmt.Errorf("%w: %s gap %.6f", ErrReconciliation, p.Name, gap)
	}
	for _, pos := range p.Active {
		if err := pos.CheckInvariants(); err != nil {
			return err
		}
	}
	return nil
}

// Stats are the aggregate counters exposed to collaborators.
type Stats struct {
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRate           float64 `json:"win_rate"`
	RealizedPnL       float64 `json:"realized_pnl"`
	OpenExposure      float64 `json:"open_exposure"`
	Equity            float64 `json:"equity"`
	ReconciliationGap float64 `json:"reconciliation_gap"`
}

// Snapshot is the read-only view of a partition.
type Snapshot struct {
	Name            string         `json:"name"`
	Capital         float64        `json:"capital"`
	StartingCapital float64        `json:"starting_capital"`
	Active          []Position     `json:"active_positions"`
	Closed          []Position     `json:"closed_positions"`
	CapitalHistory  []CapitalPoint `json:"capital_history"`
	Alerts          []string       `json:"alerts"`
	Stats           Stats          `json:"stats"`
	TakenAt         time.Time      `json:"taken_at"`
}

// Snapshot deep-copies the partition.
func (p *Portfolio) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Name:            p.Name,
		Capital:         p.Capital,
		StartingCapital: p.StartingCapital,
		Active:          make([]Position, len(p.Active)),
		Closed:          make([]Position, len(p.Closed)),
		CapitalHistory:  append([]CapitalPoint(nil), p.CapitalHistory...),
		Alerts:          append([]string(nil), p.Alerts...),
		TakenAt:         now,
	}
	for i, pos := range p.Active {
		s.Active[i] = pos.Clone()
	}
	for i, pos := range p.Closed {
		s.Closed[i] = pos.Clone()
	}
	s.Stats = Stats{
		TotalTrades:       p.TotalTrades,
		WinningTrades:     p.WinningTrades,
		LosingTrades:      p.LosingTrades,
		RealizedPnL:       p.RealizedPnL,
		OpenExposure:      p.OpenExposure(),
		Equity:            p.Capital + p.MarkToMarket(),
		ReconciliationGap: p.ReconciliationGap(),
	}
	if decided := p.WinningTrades + p.LosingTrades; decided > 0 {
		s.Stats.WinRate = float64(p.WinningTrades) / float64(decided)
	}
	return s
}
