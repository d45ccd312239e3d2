// Package engine runs the trade lifecycle of one portfolio partition.
//
// Each Engine owns exactly one domain.Portfolio and mutates it only from the
// goroutine running Run. Other goroutines read it through Snapshot (an
// atomically published deep copy) and ask for a reset through Reset, which
// is applied between cycles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polysignal/internal/application/risk"
	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

const (
	DefaultInterval              = 60 * time.Second
	DefaultErrorCooldown         = 5 * time.Minute
	DefaultRequestTimeout        = 10 * time.Second
	DefaultMinScore              = 40
	DefaultMaxPositions          = 10
	DefaultMaxOpensPerCycle      = 3
	DefaultTakeProfit            = 0.25
	DefaultStopLoss              = 0.15
	DefaultWinThreshold          = 0.99
	DefaultPendingNoticeInterval = 10 * time.Minute

	thresholdEpsilon = 1e-9
	slugBuffer       = 64
)

// MarketSource is the discovery surface the engine reads candidates from.
type MarketSource interface {
	Contextual(ctx context.Context, crisis domain.Crisis) ([]domain.Market, error)
}

// Quoter resolves the current price of one side of a market.
type Quoter interface {
	Resolve(ctx context.Context, marketID string, side domain.Side) (domain.Quote, error)
}

// CrisisReader returns the current crisis signal.
type CrisisReader interface {
	Current(ctx context.Context) domain.Crisis
}

// Scorer annotates markets with their score and category.
type Scorer interface {
	ScoreAll(markets []domain.Market, crisis domain.Crisis)
}

// Config holds the per-partition lifecycle parameters.
type Config struct {
	Name                  string
	StartingCapital       float64
	Interval              time.Duration
	ErrorCooldown         time.Duration
	RequestTimeout        time.Duration
	MinScore              int
	MaxPositions          int
	MaxOpensPerCycle      int
	TakeProfit            float64 // e.g. 0.25 = +25%
	StopLoss              float64 // e.g. 0.15 = −15%
	WinThreshold          float64 // final price at or above which a side won
	PendingNoticeInterval time.Duration
	ClosedRetention       int
	HistorySize           int
	Decision              DecisionConfig
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "standard"
	}
	if c.StartingCapital <= 0 {
		c.StartingCapital = 1000
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = DefaultErrorCooldown
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = DefaultMaxPositions
	}
	if c.MaxOpensPerCycle <= 0 {
		c.MaxOpensPerCycle = DefaultMaxOpensPerCycle
	}
	if c.TakeProfit <= 0 {
		c.TakeProfit = DefaultTakeProfit
	}
	if c.StopLoss <= 0 {
		c.StopLoss = DefaultStopLoss
	}
	if c.WinThreshold <= 0 || c.WinThreshold > 1 {
		c.WinThreshold = DefaultWinThreshold
	}
	if c.PendingNoticeInterval <= 0 {
		c.PendingNoticeInterval = DefaultPendingNoticeInterval
	}
	if c.ClosedRetention <= 0 {
		c.ClosedRetention = domain.DefaultClosedRetention
	}
	if c.HistorySize <= 0 {
		c.HistorySize = domain.DefaultHistorySize
	}
	c.Decision.setDefaults()
}

// Deps are the collaborators of an Engine. Store, Journal, Notifier and
// Slugs are optional.
type Deps struct {
	Markets     MarketSource
	Prices      Quoter
	Resolutions ports.ResolutionSource
	Crisis      CrisisReader
	Scorer      Scorer
	Ledger      *risk.Ledger
	Store       ports.PortfolioStore
	Journal     ports.Journal
	Notifier    ports.Notifier
	Slugs       ports.SlugProvider
}

type resetRequest struct {
	done chan error
}

// Engine is the lifecycle actor of one partition.
type Engine struct {
	cfg       Config
	deps      Deps
	portfolio *domain.Portfolio

	notices  map[string]*rate.Sometimes // pending-resolution notices per position
	slugs    chan slugResult
	slugWait map[string]bool
	bg       context.Context
	wg       sync.WaitGroup

	resets   chan resetRequest
	snapshot atomic.Pointer[domain.Snapshot]

	now   func() time.Time
	newID func() string
}

// New creates an Engine. A nil portfolio starts a fresh partition with
// cfg.StartingCapital.
func New(cfg Config, deps Deps, portfolio *domain.Portfolio) *Engine {
	cfg.setDefaults()
	if portfolio == nil {
		portfolio = domain.NewPortfolio(cfg.Name, cfg.StartingCapital)
	}
	portfolio.Name = cfg.Name
	portfolio.ClosedRetention = cfg.ClosedRetention
	if deps.Ledger == nil {
		deps.Ledger = risk.NewLedger(risk.DefaultConfig())
	}

	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		portfolio: portfolio,
		notices:   make(map[string]*rate.Sometimes),
		slugs:     make(chan slugResult, slugBuffer),
		slugWait:  make(map[string]bool),
		bg:        context.Background(),
		resets:    make(chan resetRequest),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	e.publish()
	return e
}

// Name returns the partition name.
func (e *Engine) Name() string { return e.cfg.Name }

// Snapshot returns the last published read-only view of the partition.
// Safe for concurrent use.
func (e *Engine) Snapshot() domain.Snapshot {
	if s := e.snapshot.Load(); s != nil {
		return *s
	}
	return domain.Snapshot{Name: e.cfg.Name}
}

// Run executes a cycle immediately and then every Interval until ctx is
// done. A failed or panicking cycle is logged and followed by ErrorCooldown.
func (e *Engine) Run(ctx context.Context) error {
	e.bg = ctx
	slog.Info("engine started",
		"partition", e.cfg.Name,
		"interval", e.cfg.Interval,
		"capital", fmt.Sprintf("$%.2f", e.portfolio.Capital),
		"open", len(e.portfolio.Active),
	)

	timer := time.NewTimer(e.safeCycle(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			slog.Info("engine stopped", "partition", e.cfg.Name)
			return nil
		case req := <-e.resets:
			req.done <- e.reset(ctx)
		case <-timer.C:
			timer.Reset(e.safeCycle(ctx))
		}
	}
}

// Reset asks the running loop to reset the partition to its starting
// capital with empty position lists, and waits for it to be applied.
func (e *Engine) Reset(ctx context.Context) error {
	req := resetRequest{done: make(chan error, 1)}
	select {
	case e.resets <- req:
	case <-ctx.Done():
		return fmt.Errorf("engine.Reset %s: %w", e.cfg.Name, ctx.Err())
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("engine.Reset %s: %w", e.cfg.Name, ctx.Err())
	}
}

func (e *Engine) reset(ctx context.Context) error {
	e.portfolio.Reset()
	e.notices = make(map[string]*rate.Sometimes)
	now := e.now()
	e.portfolio.UpdatedAt = now
	e.portfolio.Log(now, "WARN", "portfolio reset to starting capital")
	slog.Warn("portfolio reset", "partition", e.cfg.Name, "capital", e.portfolio.Capital)

	e.publish()
	if e.deps.Store != nil {
		if err := e.deps.Store.Save(ctx, e.portfolio); err != nil {
			return fmt.Errorf("engine.reset %s: %w", e.cfg.Name, err)
		}
	}
	return nil
}

// safeCycle runs one cycle and returns the delay until the next one.
func (e *Engine) safeCycle(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine cycle panicked",
				"partition", e.cfg.Name,
				"panic", r,
				"cooldown", e.cfg.ErrorCooldown,
			)
			delay = e.cfg.ErrorCooldown
		}
	}()

	if _, err := e.RunCycle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return e.cfg.Interval
		}
		slog.Error("engine cycle failed",
			"partition", e.cfg.Name,
			"err", err,
			"cooldown", e.cfg.ErrorCooldown,
		)
		return e.cfg.ErrorCooldown
	}
	return e.cfg.Interval
}

// publish stores a fresh deep copy for concurrent readers.
func (e *Engine) publish() {
	s := e.portfolio.Snapshot(e.now())
	e.snapshot.Store(&s)
}

// logEvent writes to both slog and the persisted diagnostic log.
func (e *Engine) logEvent(level slog.Level, msg string, args ...any) {
	slog.Log(context.Background(), level, msg, append([]any{"partition", e.cfg.Name}, args...)...)
	e.portfolio.Log(e.now(), level.String(), formatEvent(msg, args))
}

// formatEvent renders msg followed by key=value pairs.
func formatEvent(msg string, args []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", args[i], args[i+1])
	}
	return sb.String()
}
