package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier: una línea compacta por ciclo y,
// opcionalmente, la tabla de posiciones abiertas.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyCycle imprime el resultado del ciclo.
func (c *Console) NotifyCycle(_ context.Context, r domain.CycleReport) error {
	c.printCompact(r)
	if c.table && len(r.Snapshot.Active) > 0 {
		c.printPositions(r.Snapshot.Active)
	}
	return nil
}

// printCompact imprime lo esencial en 1-3 líneas.
func (c *Console) printCompact(r domain.CycleReport) {
	s := r.Snapshot
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][%s] %d mkts | open %d | +%d -%d | pend %d | cap $%.2f eq $%.2f | pnl %s",
		r.StartedAt.Format("15:04:05"), strings.ToUpper(r.Partition),
		r.Markets, len(s.Active), len(r.Opened), len(r.Closed), r.Pending,
		s.Capital, s.Stats.Equity, signed(s.Stats.RealizedPnL))

	if len(r.Closed) > 0 {
		fmt.Fprintf(&sb, " | tp %d sl %d res %d fb %d",
			r.ClosedBy(domain.CloseTakeProfit), r.ClosedBy(domain.CloseStopLoss),
			r.ClosedBy(domain.CloseResolvedWin)+r.ClosedBy(domain.CloseResolvedLoss),
			r.ClosedBy(domain.CloseResolutionFallback))
	}
	if r.Crisis.Known {
		fmt.Fprintf(&sb, " | crisis L%d/%.0f", r.Crisis.Level, r.Crisis.Intensity)
	}
	if r.PriceFailures > 0 {
		fmt.Fprintf(&sb, " | price err %d", r.PriceFailures)
	}

	for _, p := range r.Opened {
		fmt.Fprintf(&sb, "\n  >> OPEN  %s %s @%.3f $%.2f [%d]",
			p.Side, compactName(p.Question, 40), p.EntryPrice, p.Size, p.Confidence)
	}
	for _, p := range r.Closed {
		mark := ""
		if p.Degraded {
			mark = " (degraded)"
		}
		fmt.Fprintf(&sb, "\n  << CLOSE %s %s %s %s%s",
			p.CloseReason, p.Side, compactName(p.Question, 40), signed(p.Profit), mark)
	}
	for i, w := range r.Warnings {
		if i >= 2 {
			break
		}
		fmt.Fprintf(&sb, "\n  !! %s", w)
	}

	fmt.Fprintln(c.out, sb.String())
}

// printPositions imprime la tabla de posiciones abiertas.
func (c *Console) printPositions(active []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Side", "Market", "Entry", "Last", "Ret", "Size", "Score", "Ends")

	for i, p := range active {
		last := p.LastPrice()
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(p.Side),
			positionLabel(p),
			fmt.Sprintf("%.3f", p.EntryPrice),
			fmt.Sprintf("%.3f", last),
			fmt.Sprintf("%+.1f%%", p.Return(last)*100),
			fmt.Sprintf("$%.2f", p.Size),
			fmt.Sprintf("%d", p.Confidence),
			endDateLabel(p.EndDate),
		)
	}
	table.Render()
}

// --- helpers ---

func positionLabel(p domain.Position) string {
	return domain.TruncateQuestion(p.Question, p.MarketID, 38)
}

func endDateLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func signed(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

func compactName(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	cut := string(r[:maxLen])
	if idx := strings.LastIndex(cut, " "); idx >= 0 && utf8.RuneCountInString(cut[:idx]) > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
