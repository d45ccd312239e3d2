package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polysignal/internal/application/risk"
	"github.com/alejandrodnm/polysignal/internal/application/scoring"
	"github.com/alejandrodnm/polysignal/internal/domain"
)

// RunCycle executes one lifecycle iteration:
//
//	enrichments → price update → TP/SL → expiry resolution → open → capital history → persist → notify
//
// Per-market failures are logged and skipped. A failed audit becomes a
// portfolio alert. The returned error covers cancellation and persistence
// failures only. RunCycle must not be called concurrently with Run.
func (e *Engine) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	start := e.now()
	report := domain.CycleReport{Partition: e.cfg.Name, StartedAt: start}

	e.applyEnrichments()

	crisis := domain.UnknownCrisis()
	if e.deps.Crisis != nil {
		crisis = e.deps.Crisis.Current(ctx)
	}
	report.Crisis = crisis

	e.updatePrices(ctx, &report)
	e.checkExits(&report)
	e.checkExpiries(ctx, &report)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("engine.RunCycle %s: %w", e.cfg.Name, err)
	}
	e.openPositions(ctx, crisis, &report)

	now := e.now()
	e.portfolio.RecordCapital(now)
	e.portfolio.UpdatedAt = now

	if err := e.portfolio.Audit(); err != nil {
		e.portfolio.Alert(err.Error())
		e.logEvent(slog.LevelWarn, "portfolio audit failed", "err", err)
	}

	cycleErr := e.persist(ctx, &report)

	e.publish()
	report.Snapshot = e.Snapshot()
	report.Duration = e.now().Sub(start)

	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyCycle(ctx, report); err != nil {
			slog.Warn("notifier error", "partition", e.cfg.Name, "err", err)
		}
	}

	slog.Debug("engine cycle complete",
		"partition", e.cfg.Name,
		"markets", report.Markets,
		"opened", len(report.Opened),
		"closed", len(report.Closed),
		"pending", report.Pending,
		"capital", fmt.Sprintf("$%.2f", e.portfolio.Capital),
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, cycleErr
}

// updatePrices appends a fresh quote to every open position's history.
// A failed resolution leaves the history untouched for this cycle.
func (e *Engine) updatePrices(ctx context.Context, report *domain.CycleReport) {
	for i := range e.portfolio.Active {
		pos := &e.portfolio.Active[i]
		q, err := e.quote(ctx, pos.MarketID, pos.Side)
		if err != nil {
			report.PriceFailures++
			slog.Debug("price unavailable",
				"partition", e.cfg.Name,
				"market", pos.MarketID,
				"side", pos.Side,
				"err", err,
			)
			continue
		}
		pos.History.Append(q.Price)
		report.PricesUpdated++
	}
}

// checkExits closes positions that crossed take-profit or stop-loss.
// Take-profit is evaluated first.
func (e *Engine) checkExits(report *domain.CycleReport) {
	for _, pos := range e.activeCopy() {
		last, ok := pos.History.Last()
		if !ok {
			continue
		}
		ret := pos.Return(last)
		switch {
		case ret >= e.cfg.TakeProfit-thresholdEpsilon:
			e.closeAt(pos, e.deps.Ledger.PriceExit(pos, last), domain.CloseTakeProfit, false, report)
		case ret <= -e.cfg.StopLoss+thresholdEpsilon:
			e.closeAt(pos, e.deps.Ledger.PriceExit(pos, last), domain.CloseStopLoss, false, report)
		}
	}
}

// checkExpiries resolves positions whose market has ended. A market that is
// not formally closed yet stays OPEN with a rate-limited notice; a failed
// resolution query closes at the last known price, flagged as degraded.
func (e *Engine) checkExpiries(ctx context.Context, report *domain.CycleReport) {
	now := e.now()
	for _, pos := range e.activeCopy() {
		if !pos.Expired(now) {
			continue
		}

		res, err := e.resolution(ctx, pos.MarketID)
		if err == nil && res.Resolved() && !res.HasFinalPrices() {
			err = fmt.Errorf("market %s resolved without final prices: %w", pos.MarketID, domain.ErrPriceUnavailable)
		}
		if err != nil {
			e.logEvent(slog.LevelWarn, "resolution query failed, closing at last price",
				"market", pos.MarketID, "price", fmt.Sprintf("%.4f", pos.LastPrice()), "err", err)
			e.closeAt(pos, e.deps.Ledger.PriceExit(pos, pos.LastPrice()), domain.CloseResolutionFallback, true, report)
			continue
		}

		if !res.Resolved() {
			report.Pending++
			e.notice(pos.ID).Do(func() {
				e.logEvent(slog.LevelInfo, "market expired, resolution pending",
					"market", pos.MarketID,
					"question", domain.TruncateQuestion(pos.Question, pos.MarketID, 50),
					"accepting_orders", res.AcceptingOrders,
				)
			})
			continue
		}

		final := res.FinalPrices[pos.Side.Index()]
		if final >= e.cfg.WinThreshold {
			e.closeAt(pos, e.deps.Ledger.PricePayout(pos, 1), domain.CloseResolvedWin, false, report)
		} else {
			e.closeAt(pos, e.deps.Ledger.PricePayout(pos, 0), domain.CloseResolvedLoss, false, report)
		}
	}
}

// openPositions walks the ranked candidates and opens at most
// MaxOpensPerCycle new positions.
func (e *Engine) openPositions(ctx context.Context, crisis domain.Crisis, report *domain.CycleReport) {
	if e.deps.Markets == nil {
		return
	}
	markets, err := e.deps.Markets.Contextual(ctx, crisis)
	if err != nil {
		report.Warnings = append(report.Warnings, "discovery: "+err.Error())
		slog.Warn("discovery failed", "partition", e.cfg.Name, "err", err)
		return
	}
	report.Markets = len(markets)
	if len(markets) == 0 {
		return
	}

	if e.deps.Scorer != nil {
		e.deps.Scorer.ScoreAll(markets, crisis)
	}
	if top, ok := scoring.Top(markets); ok {
		report.TopSignal = &top
	}

	now := e.now()
	opened := 0
	for _, m := range scoring.Rank(markets) {
		if len(e.portfolio.Active) >= e.cfg.MaxPositions || opened >= e.cfg.MaxOpensPerCycle {
			return
		}
		if m.Score < e.cfg.MinScore {
			return // ranked: nothing below qualifies either
		}
		if e.portfolio.HasMarket(m.ID) || m.Expired(now) {
			continue
		}

		d, ok := Decide(m, crisis, e.cfg.Decision)
		if !ok {
			continue
		}

		pos, err := e.open(ctx, m, d, now)
		if errors.Is(err, domain.ErrInsufficientCapital) {
			slog.Debug("not enough capital to open", "partition", e.cfg.Name, "capital", e.portfolio.Capital)
			return
		}
		if err != nil {
			slog.Debug("open skipped", "partition", e.cfg.Name, "market", m.ID, "err", err)
			continue
		}
		opened++
		report.Opened = append(report.Opened, pos)
	}
}

func (e *Engine) open(ctx context.Context, m domain.Market, d Decision, now time.Time) (domain.Position, error) {
	q, err := e.quote(ctx, m.ID, d.Side)
	if err != nil {
		return domain.Position{}, err
	}
	if q.Price < e.cfg.Decision.MinTick || q.Price >= 1 {
		return domain.Position{}, fmt.Errorf("%w: %.4f outside [%.2f, 1)", domain.ErrInvalidPrice, q.Price, e.cfg.Decision.MinTick)
	}

	entry, err := e.deps.Ledger.PriceEntry(e.portfolio.Capital, q.Price)
	if err != nil {
		return domain.Position{}, err
	}

	pos := domain.Position{
		ID:         e.newID(),
		MarketID:   m.ID,
		Question:   m.Question,
		Slug:       m.Slug,
		Side:       d.Side,
		EntryPrice: entry.Price,
		Size:       entry.Net,
		EntryFees:  entry.Fee,
		Shares:     entry.Shares,
		History:    domain.NewPriceHistory(e.cfg.HistorySize),
		Status:     domain.PositionOpen,
		Confidence: m.Score,
		Category:   m.Category,
		OpenedAt:   now,
		EndDate:    m.EndDate,
	}
	if err := e.deps.Ledger.Open(e.portfolio, pos, entry); err != nil {
		return domain.Position{}, err
	}

	e.logEvent(slog.LevelInfo, "position opened",
		"market", domain.TruncateQuestion(m.Question, m.ID, 50),
		"side", d.Side,
		"rule", d.Rule,
		"score", m.Score,
		"price", fmt.Sprintf("%.4f", entry.Price),
		"size", fmt.Sprintf("$%.2f", entry.Net),
		"source", q.Source,
	)
	if pos.Slug == "" {
		e.enrichSlug(pos.ID, pos.MarketID)
	}
	return pos, nil
}

// closeAt settles pos through the ledger. Closing an already closed
// position is a no-op.
func (e *Engine) closeAt(pos domain.Position, exit risk.Exit, reason domain.CloseReason, degraded bool, report *domain.CycleReport) {
	closed, err := e.deps.Ledger.Settle(e.portfolio, pos.ID, exit, reason, degraded, e.now())
	if err != nil {
		slog.Debug("close skipped", "partition", e.cfg.Name, "position", pos.ID, "err", err)
		return
	}
	delete(e.notices, pos.ID)
	report.Closed = append(report.Closed, closed)

	level := slog.LevelInfo
	if degraded {
		level = slog.LevelWarn
	}
	e.logEvent(level, "position closed",
		"market", domain.TruncateQuestion(closed.Question, closed.MarketID, 50),
		"reason", reason,
		"exit", fmt.Sprintf("%.4f", closed.ExitPrice),
		"profit", fmt.Sprintf("$%.2f", closed.Profit),
	)
}

// persist saves the partition and mirrors the cycle into the journal.
// Journal failures are logged only.
func (e *Engine) persist(ctx context.Context, report *domain.CycleReport) error {
	if e.deps.Journal != nil {
		for _, pos := range report.Closed {
			if err := e.deps.Journal.RecordClose(ctx, e.cfg.Name, pos); err != nil {
				slog.Warn("journal close failed", "partition", e.cfg.Name, "position", pos.ID, "err", err)
			}
		}
		if n := len(e.portfolio.CapitalHistory); n > 0 {
			if err := e.deps.Journal.RecordCapital(ctx, e.cfg.Name, e.portfolio.CapitalHistory[n-1]); err != nil {
				slog.Warn("journal capital failed", "partition", e.cfg.Name, "err", err)
			}
		}
	}

	if e.deps.Store == nil {
		return nil
	}
	if err := e.deps.Store.Save(ctx, e.portfolio); err != nil {
		return fmt.Errorf("engine.persist %s: %w", e.cfg.Name, err)
	}
	return nil
}

func (e *Engine) quote(ctx context.Context, marketID string, side domain.Side) (domain.Quote, error) {
	if e.deps.Prices == nil {
		return domain.Quote{}, domain.ErrPriceUnavailable
	}
	return e.deps.Prices.Resolve(ctx, marketID, side)
}

func (e *Engine) resolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	if e.deps.Resolutions == nil {
		return domain.Resolution{}, errors.New("no resolution source")
	}
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	return e.deps.Resolutions.FetchResolution(rctx, marketID)
}

// notice returns the per-position throttle for pending-resolution notices.
func (e *Engine) notice(positionID string) *rate.Sometimes {
	s, ok := e.notices[positionID]
	if !ok {
		s = &rate.Sometimes{Interval: e.cfg.PendingNoticeInterval}
		e.notices[positionID] = s
	}
	return s
}

// activeCopy lets stages iterate while closes mutate the active list.
func (e *Engine) activeCopy() []domain.Position {
	return append([]domain.Position(nil), e.portfolio.Active...)
}
