package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPos(id string, size, fees, entry float64) Position {
	return Position{
		ID: id, MarketID: "m-" + id, Side: SideYes,
		EntryPrice: entry, Size: size, EntryFees: fees, Shares: size / entry,
		Status: PositionOpen, History: NewPriceHistory(5),
	}
}

func TestPortfolio_AuditBalancedLedger(t *testing.T) {
	p := NewPortfolio("standard", 1000)

	pos := openPos("a", 49.5, 0.5, 0.5)
	p.Capital -= pos.Cost()
	p.Active = append(p.Active, pos)
	require.NoError(t, p.Audit())
	assert.InDelta(t, 0, p.ReconciliationGap(), 1e-9)

	// cierre con beneficio: capital y pnl se mueven juntos
	p.Active = nil
	p.Capital += 60
	p.RealizedPnL += 60 - pos.Cost()
	require.NoError(t, p.Audit())

	p.Capital += 5 // dinero de la nada
	assert.ErrorIs(t, p.Audit(), ErrReconciliation)
}

func TestPortfolio_AuditChecksOpenPositions(t *testing.T) {
	p := NewPortfolio("turbo", 500)
	bad := openPos("x", 10, 0, 0.5)
	bad.Shares = 1
	p.Capital -= bad.Cost()
	p.Active = append(p.Active, bad)
	assert.Error(t, p.Audit())
}

func TestPortfolio_ArchiveRetention(t *testing.T) {
	p := NewPortfolio("standard", 1000)
	p.ClosedRetention = 2
	for _, id := range []string{"a", "b", "c"} {
		pos := openPos(id, 10, 0, 0.5)
		p.Active = append(p.Active, pos)
		pos.Status = PositionClosed
		p.Archive(pos)
	}
	assert.Empty(t, p.Active)
	require.Len(t, p.Closed, 2)
	assert.Equal(t, "c", p.Closed[0].ID, "most recent first")
	assert.Equal(t, "b", p.Closed[1].ID)
	assert.False(t, p.HasMarket("m-c"))
}

func TestPortfolio_BoundedLists(t *testing.T) {
	p := NewPortfolio("standard", 100)
	p.HistoryLimit = 3
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p.RecordCapital(now.Add(time.Duration(i) * time.Minute))
	}
	require.Len(t, p.CapitalHistory, 3)
	assert.Equal(t, now.Add(2*time.Minute), p.CapitalHistory[0].At)

	for i := 0; i < DefaultAlertRetention+5; i++ {
		p.Alert("gap")
	}
	assert.Len(t, p.Alerts, DefaultAlertRetention)

	for i := 0; i < DefaultLogRetention+1; i++ {
		p.Log(now, "INFO", "tick")
	}
	assert.Len(t, p.Logs, DefaultLogRetention)
}

func TestPortfolio_ResetKeepsStartingCapital(t *testing.T) {
	p := NewPortfolio("turbo", 500)
	p.Capital = 120
	p.TotalTrades, p.WinningTrades, p.LosingTrades = 4, 1, 3
	p.RealizedPnL = -380
	p.Active = []Position{openPos("a", 10, 0, 0.5)}
	p.Closed = []Position{openPos("b", 10, 0, 0.5)}
	p.Alert("x")

	p.Reset()
	assert.Equal(t, 500.0, p.Capital)
	assert.Zero(t, p.TotalTrades)
	assert.Zero(t, p.RealizedPnL)
	assert.Empty(t, p.Active)
	assert.Empty(t, p.Closed)
	assert.Empty(t, p.Alerts)
	assert.NoError(t, p.Audit())
}

func TestPortfolio_SnapshotIsIndependent(t *testing.T) {
	p := NewPortfolio("standard", 1000)
	pos := openPos("a", 100, 0, 0.5)
	pos.History.Append(0.6)
	p.Capital -= pos.Cost()
	p.Active = append(p.Active, pos)
	p.WinningTrades, p.LosingTrades = 3, 1

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := p.Snapshot(now)
	assert.Equal(t, now, s.TakenAt)
	assert.Equal(t, 0.75, s.Stats.WinRate)
	assert.InDelta(t, 100, s.Stats.OpenExposure, 1e-9)
	assert.InDelta(t, 900+200*0.6, s.Stats.Equity, 1e-9)

	s.Active[0].History.Append(0.9)
	s.Active[0].Question = "changed"
	assert.Equal(t, []float64{0.6}, p.Active[0].History.Values())
	assert.Empty(t, p.Active[0].Question)
}
