// Package risk sizes positions, applies the fee and slippage models and keeps
// a partition's capital and win/loss counters consistent.
//
// Accounting, for every close type:
//
//	entry:  gross = size(capital); fee = gross × bps; net = gross − fee
//	        capital −= gross; shares = net / entryPrice
//	exit:   gross = shares × exitPrice; fee = gross × bps; net = gross − fee
//	        capital += net; profit = net − (size + entryFees)
//
// Amounts are rounded to USDC micro-units (6 decimals).
package risk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

const (
	DefaultMaxFraction  = 0.05
	DefaultMinTradeSize = 5.0
	DefaultHardCap      = 100.0
	DefaultFeeBps       = 100.0 // 1%
	DefaultMaxSlippage  = 0.005
	usdcDecimals        = 6
)

// Config holds the sizing, fee and slippage parameters of one partition.
type Config struct {
	MaxFraction  float64 // fraction of free capital per trade
	MinTradeSize float64
	HardCap      float64
	FeeBps       float64 // flat fee on notional, entry and exit
	MaxSlippage  float64 // max multiplicative premium, e.g. 0.005 = 0.5%
}

// DefaultConfig returns conservative paper-trading parameters.
func DefaultConfig() Config {
	return Config{
		MaxFraction:  DefaultMaxFraction,
		MinTradeSize: DefaultMinTradeSize,
		HardCap:      DefaultHardCap,
		FeeBps:       DefaultFeeBps,
		MaxSlippage:  DefaultMaxSlippage,
	}
}

// Ledger applies Config to a portfolio partition. It is not safe for
// concurrent use; each engine owns its own Ledger.
type Ledger struct {
	cfg      Config
	slippage func() float64 // uniform in [0,1)
}

// NewLedger creates a Ledger. Zero fields fall back to defaults, except FeeBps
// and MaxSlippage where zero is a legitimate setting.
func NewLedger(cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.MaxFraction <= 0 {
		cfg.MaxFraction = def.MaxFraction
	}
	if cfg.MinTradeSize <= 0 {
		cfg.MinTradeSize = def.MinTradeSize
	}
	if cfg.HardCap <= 0 {
		cfg.HardCap = def.HardCap
	}
	if cfg.HardCap < cfg.MinTradeSize {
		cfg.HardCap = cfg.MinTradeSize
	}
	if cfg.FeeBps < 0 {
		cfg.FeeBps = 0
	}
	if cfg.MaxSlippage < 0 {
		cfg.MaxSlippage = 0
	}
	return &Ledger{cfg: cfg, slippage: rand.Float64}
}

// Config returns the effective configuration.
func (l *Ledger) Config() Config { return l.cfg }

// PositionSize returns clamp(capital × MaxFraction, MinTradeSize, HardCap),
// or ErrInsufficientCapital if that exceeds the free capital.
func (l *Ledger) PositionSize(capital float64) (float64, error) {
	if math.IsNaN(capital) || capital < l.cfg.MinTradeSize {
		return 0, fmt.Errorf("risk.PositionSize: %w: capital %.2f < min %.2f",
			domain.ErrInsufficientCapital, capital, l.cfg.MinTradeSize)
	}
	size := capital * l.cfg.MaxFraction
	size = math.Max(size, l.cfg.MinTradeSize)
	size = math.Min(size, l.cfg.HardCap)
	size = roundUSDC(size)
	if size > capital {
		return 0, fmt.Errorf("risk.PositionSize: %w: size %.2f > capital %.2f",
			domain.ErrInsufficientCapital, size, capital)
	}
	return size, nil
}

// Entry is the priced result of an open decision.
type Entry struct {
	Gross  float64 // debited from capital
	Fee    float64
	Net    float64 // position size
	Price  float64 // execution price incl. slippage
	Shares float64
}

// PriceEntry sizes and prices an entry at quote for the given free capital.
func (l *Ledger) PriceEntry(capital, quote float64) (Entry, error) {
	if !domain.ValidPrice(quote) {
		return Entry{}, fmt.Errorf("risk.PriceEntry: %w: quote %v", domain.ErrInvalidPrice, quote)
	}
	gross, err := l.PositionSize(capital)
	if err != nil {
		return Entry{}, err
	}

	price := quote * (1 + l.cfg.MaxSlippage*l.slippage())
	if !domain.ValidPrice(price) {
		return Entry{}, fmt.Errorf("risk.PriceEntry: %w: %v after slippage", domain.ErrInvalidPrice, price)
	}

	fee := l.Fee(gross)
	net := roundUSDC(gross - fee)
	return Entry{
		Gross:  gross,
		Fee:    fee,
		Net:    net,
		Price:  price,
		Shares: net / price,
	}, nil
}

// Exit is the priced result of a close.
type Exit struct {
	Price  float64 // per-share price actually realized
	Gross  float64
	Fee    float64
	Net    float64 // credited to capital
	Profit float64
}

// PriceExit values a market exit at price, applying exit slippage.
func (l *Ledger) PriceExit(pos domain.Position, price float64) Exit {
	exitPrice := price * (1 - l.cfg.MaxSlippage*l.slippage())
	if exitPrice < 0 {
		exitPrice = 0
	}
	return l.exit(pos, exitPrice)
}

// PricePayout values a resolution payout (1 for the winning side, 0 for the
// losing side). No slippage applies to a payout.
func (l *Ledger) PricePayout(pos domain.Position, payoutPerShare float64) Exit {
	return l.exit(pos, payoutPerShare)
}

func (l *Ledger) exit(pos domain.Position, price float64) Exit {
	gross := roundUSDC(pos.Shares * price)
	fee := l.Fee(gross)
	net := roundUSDC(gross - fee)
	return Exit{
		Price:  price,
		Gross:  gross,
		Fee:    fee,
		Net:    net,
		Profit: net - (pos.Size + pos.EntryFees),
	}
}

// Fee returns the flat basis-point fee on notional.
func (l *Ledger) Fee(notional float64) float64 {
	if notional <= 0 || l.cfg.FeeBps == 0 {
		return 0
	}
	return roundUSDC(notional * l.cfg.FeeBps / 10_000)
}

// Open debits the entry from the portfolio and appends the position.
func (l *Ledger) Open(p *domain.Portfolio, pos domain.Position, e Entry) error {
	if e.Gross > p.Capital {
		return fmt.Errorf("risk.Open: %w: gross %.2f > capital %.2f",
			domain.ErrInsufficientCapital, e.Gross, p.Capital)
	}
	if err := pos.CheckInvariants(); err != nil {
		return fmt.Errorf("risk.Open: %w", err)
	}
	p.Capital = roundUSDC(p.Capital - e.Gross)
	p.TotalTrades++
	p.Active = append(p.Active, pos)
	return nil
}

// Settle closes the active position id with exit, credits capital and
// updates the win/loss counters. Settling a position that is not OPEN is a
// no-op returning ErrPositionClosed, so capital is never credited twice.
func (l *Ledger) Settle(p *domain.Portfolio, id string, exit Exit, reason domain.CloseReason, degraded bool, now time.Time) (domain.Position, error) {
	i, ok := p.ActivePosition(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("risk.Settle %s: %w", id, domain.ErrPositionClosed)
	}
	pos := p.Active[i]
	if !pos.IsOpen() {
		return domain.Position{}, fmt.Errorf("risk.Settle %s: %w", id, domain.ErrPositionClosed)
	}

	closedAt := now
	pos.Status = domain.PositionClosed
	pos.ExitPrice = exit.Price
	pos.ExitFees = exit.Fee
	pos.NetExitProceeds = exit.Net
	pos.Profit = exit.Profit
	pos.CloseReason = reason
	pos.Degraded = degraded
	pos.ClosedAt = &closedAt

	p.Capital = roundUSDC(p.Capital + exit.Net)
	p.RealizedPnL += exit.Profit
	if isWin(reason, exit.Profit) {
		p.WinningTrades++
	} else {
		p.LosingTrades++
	}
	p.Archive(pos)
	return pos, nil
}

func isWin(reason domain.CloseReason, profit float64) bool {
	switch reason {
	case domain.CloseTakeProfit, domain.CloseResolvedWin:
		return true
	case domain.CloseStopLoss, domain.CloseResolvedLoss:
		return false
	default:
		return profit > 0
	}
}

// roundUSDC rounds to 6 decimals, the precision of USDC.
func roundUSDC(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(usdcDecimals).Float64()
	return f
}
