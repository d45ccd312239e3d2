package notify

import (
	"fmt"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// ReportInput bundles everything PrintReport needs for one partition.
type ReportInput struct {
	Snapshot domain.Snapshot
	ByReason map[domain.CloseReason]int // from the journal; nil if unavailable
	Recent   []domain.Position          // closed trades, most recent first
	Capital  []domain.CapitalPoint      // capital history, oldest first
}

// PrintReport prints a full report for each partition.
func (c *Console) PrintReport(inputs []ReportInput) {
	if len(inputs) == 0 {
		fmt.Fprintln(c.out, "\n  No portfolio data yet. Run the engine for a few cycles first.")
		return
	}
	for _, in := range inputs {
		c.printPartition(in)
	}
}

func (c *Console) printPartition(in ReportInput) {
	s := in.Snapshot
	st := s.Stats

	fmt.Fprintf(c.out, "\n========================================================\n")
	fmt.Fprintf(c.out, "  PORTFOLIO %s  (as of %s)\n", s.Name, s.TakenAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(c.out, "========================================================\n")

	growth := 0.0
	if s.StartingCapital > 0 {
		growth = (st.Equity/s.StartingCapital - 1) * 100
	}
	fmt.Fprintf(c.out, "  Starting capital:  $%.2f\n", s.StartingCapital)
	fmt.Fprintf(c.out, "  Free capital:      $%.2f\n", s.Capital)
	fmt.Fprintf(c.out, "  Open exposure:     $%.2f (%d positions)\n", st.OpenExposure, len(s.Active))
	fmt.Fprintf(c.out, "  Equity:            $%.2f (%+.2f%%)\n", st.Equity, growth)
	fmt.Fprintf(c.out, "  Realized PnL:      %s\n", signed(st.RealizedPnL))
	fmt.Fprintf(c.out, "  Trades:            %d  W:%d L:%d  win rate %.1f%%\n",
		st.TotalTrades, st.WinningTrades, st.LosingTrades, st.WinRate*100)
	if gap := st.ReconciliationGap; gap > 1e-6 || gap < -1e-6 {
		fmt.Fprintf(c.out, "  !! Reconciliation gap: $%.6f\n", gap)
	}

	if len(in.Capital) > 0 {
		lo, hi := in.Capital[0].Equity, in.Capital[0].Equity
		for _, pt := range in.Capital[1:] {
			lo, hi = min(lo, pt.Equity), max(hi, pt.Equity)
		}
		first, last := in.Capital[0], in.Capital[len(in.Capital)-1]
		fmt.Fprintf(c.out, "  Equity history:    %d samples since %s  low $%.2f high $%.2f  %s\n",
			len(in.Capital), first.At.Format("2006-01-02"), lo, hi, signed(last.Equity-first.Equity))
	}

	if len(in.ByReason) > 0 {
		fmt.Fprintf(c.out, "\n  --- CLOSES BY REASON ---\n")
		for _, r := range []domain.CloseReason{
			domain.CloseTakeProfit, domain.CloseStopLoss,
			domain.CloseResolvedWin, domain.CloseResolvedLoss, domain.CloseResolutionFallback,
		} {
			if n := in.ByReason[r]; n > 0 {
				fmt.Fprintf(c.out, "  %-20s %d\n", r, n)
			}
		}
	}

	if len(s.Active) > 0 {
		fmt.Fprintf(c.out, "\n  --- OPEN POSITIONS ---\n")
		c.printPositions(s.Active)
	}

	recent := in.Recent
	if len(recent) == 0 {
		recent = s.Closed
	}
	if len(recent) > 10 {
		recent = recent[:10]
	}
	if len(recent) > 0 {
		fmt.Fprintf(c.out, "\n  --- RECENT CLOSES ---\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Closed", "Side", "Market", "Entry", "Exit", "Profit", "Reason")
		for _, p := range recent {
			closed := "-"
			if p.ClosedAt != nil {
				closed = p.ClosedAt.Format("01-02 15:04")
			}
			reason := string(p.CloseReason)
			if p.Degraded {
				reason += "*"
			}
			tbl.Append(
				closed,
				string(p.Side),
				positionLabel(p),
				fmt.Sprintf("%.3f", p.EntryPrice),
				fmt.Sprintf("%.3f", p.ExitPrice),
				signed(p.Profit),
				reason,
			)
		}
		tbl.Render()
	}

	for i, a := range s.Alerts {
		if i >= 5 {
			break
		}
		fmt.Fprintf(c.out, "  !! %s\n", a)
	}
	fmt.Fprintln(c.out)
}
