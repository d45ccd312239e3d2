// Package crisis keeps the latest external crisis signal for the scorer.
package crisis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

const (
	DefaultPollInterval = time.Minute
	DefaultTTL          = 5 * time.Minute
	defaultTimeout      = 10 * time.Second
)

// Config controla cada cuánto se consulta la señal y cuánto vale la última lectura.
type Config struct {
	PollInterval   time.Duration
	TTL            time.Duration // a reading older than TTL is treated as unknown
	RequestTimeout time.Duration
}

// Monitor polls a CrisisSource lazily. It is shared by both engine loops.
type Monitor struct {
	source ports.CrisisSource
	cfg    Config
	now    func() time.Time

	mu        sync.Mutex
	last      domain.Crisis
	lastOK    time.Time
	checkedAt time.Time
}

// NewMonitor creates a Monitor. A nil source always reports UnknownCrisis.
func NewMonitor(source ports.CrisisSource, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	return &Monitor{source: source, cfg: cfg, now: time.Now}
}

// Current returns the crisis signal, polling the source when the last check
// is older than PollInterval. A failed poll keeps the last reading until it
// exceeds TTL; after that the signal is unknown.
func (m *Monitor) Current(ctx context.Context) domain.Crisis {
	if m.source == nil {
		return domain.UnknownCrisis()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.checkedAt.IsZero() || now.Sub(m.checkedAt) >= m.cfg.PollInterval {
		m.checkedAt = now
		m.poll(ctx, now)
	}

	if m.lastOK.IsZero() || now.Sub(m.lastOK) > m.cfg.TTL {
		return domain.UnknownCrisis()
	}
	return m.last
}

func (m *Monitor) poll(ctx context.Context, now time.Time) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	c, err := m.source.FetchCrisis(pctx)
	if err != nil {
		slog.Warn("crisis signal unavailable", "err", err)
		return
	}
	if !c.Known || c.Level < domain.CrisisLevelMostSevere || c.Level > domain.CrisisLevelCalm {
		slog.Warn("crisis signal out of range, ignoring", "level", c.Level, "intensity", c.Intensity)
		return
	}
	if c.Intensity < 0 {
		c.Intensity = 0
	}
	if c.Intensity > 100 {
		c.Intensity = 100
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	if c.Level != m.last.Level && m.last.Known {
		slog.Info("crisis level changed", "from", m.last.Level, "to", c.Level, "intensity", c.Intensity)
	}
	m.last = c
	m.lastOK = now
}
