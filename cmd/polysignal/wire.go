package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polysignal/config"
	"github.com/alejandrodnm/polysignal/internal/adapters/cache"
	crisisfeed "github.com/alejandrodnm/polysignal/internal/adapters/crisis"
	"github.com/alejandrodnm/polysignal/internal/adapters/httpapi"
	"github.com/alejandrodnm/polysignal/internal/adapters/metrics"
	"github.com/alejandrodnm/polysignal/internal/adapters/notify"
	"github.com/alejandrodnm/polysignal/internal/adapters/polymarket"
	"github.com/alejandrodnm/polysignal/internal/adapters/storage"
	"github.com/alejandrodnm/polysignal/internal/application/crisis"
	"github.com/alejandrodnm/polysignal/internal/application/discovery"
	"github.com/alejandrodnm/polysignal/internal/application/engine"
	"github.com/alejandrodnm/polysignal/internal/application/pricing"
	"github.com/alejandrodnm/polysignal/internal/application/risk"
	"github.com/alejandrodnm/polysignal/internal/application/scoring"
	"github.com/alejandrodnm/polysignal/internal/domain"
	"github.com/alejandrodnm/polysignal/internal/ports"
)

const (
	partitionStandard = "standard"
	partitionTurbo    = "turbo"

	stopFile         = "STOP"
	stopPollInterval = 5 * time.Second
	reportRecent     = 10
	reportWindow     = 30 * 24 * time.Hour
)

// app agrupa todos los componentes cableados.
type app struct {
	cfg       *config.Config
	discovery *discovery.Service
	scorer    *scoring.Scorer
	monitor   *crisis.Monitor
	store     *storage.FileStore
	journal   *storage.SQLiteJournal // nil = desactivado
	redis     *cache.RedisPriceCache // nil = cache en memoria
	metrics   *metrics.Metrics
	console   *notify.Console
	engines   []*engine.Engine
	server    *httpapi.Server // nil = API desactivada
}

func build(ctx context.Context, cfg *config.Config, table bool) (*app, error) {
	a := &app{cfg: cfg, console: notify.NewConsole(table)}
	timeout := cfg.API.RequestTimeout()

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, polymarket.WithTimeout(timeout))

	var priceCache ports.PriceCache
	if cfg.Redis.URL != "" {
		rc, err := cache.Open(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			// sin Redis seguimos con la cache en memoria
			slog.Warn("redis unavailable, using in-memory price cache", "err", err)
		} else {
			a.redis = rc
			priceCache = rc
		}
	}
	resolver := pricing.NewResolver(client, priceCache, pricing.Config{
		TTL:            time.Duration(cfg.Pricing.CacheTTLSeconds) * time.Second,
		MaxSpreadPct:   cfg.Pricing.MaxSpreadPct,
		RequestTimeout: timeout,
	})

	a.discovery = discovery.NewService(client, discovery.Config{
		TTL:            time.Duration(cfg.Discovery.CacheTTLSeconds) * time.Second,
		MinLiquidity:   cfg.Discovery.MinLiquidity,
		MaxDays:        cfg.Discovery.MaxDays,
		Queries:        queries(cfg.Discovery.Queries),
		RequestTimeout: timeout,
		Whale: discovery.WhaleConfig{
			MinVolume: cfg.Discovery.WhaleMinVolume,
			MinRatio:  cfg.Discovery.WhaleMinRatio,
		},
		Arbitrage: discovery.ArbitrageConfig{
			MinSum: cfg.Discovery.ArbMinSum,
			MaxSum: cfg.Discovery.ArbMaxSum,
		},
		MaxAlerts: cfg.Discovery.MaxAlerts,
	})
	a.scorer = scoring.New(a.discovery)

	var feed ports.CrisisSource
	if cfg.Crisis.URL != "" {
		feed = crisisfeed.NewClient(cfg.Crisis.URL)
	}
	a.monitor = crisis.NewMonitor(feed, crisis.Config{
		PollInterval:   time.Duration(cfg.Crisis.PollSeconds) * time.Second,
		TTL:            time.Duration(cfg.Crisis.TTLSeconds) * time.Second,
		RequestTimeout: timeout,
	})

	store, err := storage.NewFileStore(cfg.Storage.StateDir)
	if err != nil {
		return nil, err
	}
	a.store = store

	if dsn := cfg.Storage.JournalDSN; dsn != "off" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		j, err := storage.NewSQLiteJournal(dsn)
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = j
	}

	a.metrics = metrics.New(prometheus.NewRegistry())
	notifier := notify.Multi{a.console, a.metrics}

	for _, p := range []struct {
		name string
		cfg  config.EngineConfig
	}{
		{partitionStandard, cfg.Engine},
		{partitionTurbo, cfg.Turbo},
	} {
		if !p.cfg.IsEnabled() {
			slog.Info("partition disabled", "partition", p.name)
			continue
		}
		portfolio, err := store.Load(ctx, p.name)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("load partition %s: %w", p.name, err)
		}

		deps := engine.Deps{
			Markets:     a.discovery,
			Prices:      resolver,
			Resolutions: client,
			Crisis:      a.monitor,
			Scorer:      a.scorer,
			Ledger:      risk.NewLedger(riskConfig(cfg.Risk)),
			Store:       store,
			Notifier:    notifier,
			Slugs:       client,
		}
		if a.journal != nil {
			deps.Journal = a.journal
		}
		a.engines = append(a.engines, engine.New(engineConfig(p.name, p.cfg, timeout), deps, portfolio))
	}
	if len(a.engines) == 0 {
		a.close()
		return nil, errors.New("no partition enabled")
	}

	if cfg.Server.Enabled {
		partitions := make([]httpapi.Partition, 0, len(a.engines))
		for _, e := range a.engines {
			partitions = append(partitions, e)
		}
		a.server = httpapi.NewServer(httpapi.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			StreamInterval: time.Duration(cfg.Server.StreamSeconds) * time.Second,
		}, partitions, a.topSignals, a.discovery, a.metrics).WithWarnings(resolver)
		a.server.Hub().OnClients = func(n int) { a.metrics.WebSocketClients.Set(float64(n)) }
	}
	return a, nil
}

func engineConfig(name string, c config.EngineConfig, timeout time.Duration) engine.Config {
	return engine.Config{
		Name:             name,
		StartingCapital:  c.StartingCapital,
		Interval:         c.Interval(),
		ErrorCooldown:    c.ErrorCooldown(),
		RequestTimeout:   timeout,
		MinScore:         *c.MinScore,
		MaxPositions:     c.MaxPositions,
		MaxOpensPerCycle: c.MaxOpensPerCycle,
		TakeProfit:       c.TakeProfit,
		StopLoss:         c.StopLoss,
		WinThreshold:     c.WinThreshold,
		ClosedRetention:  c.ClosedRetention,
		HistorySize:      c.HistorySize,
		Decision: engine.DecisionConfig{
			MinTick:        c.Decision.MinTick,
			CrisisMaxPrice: c.Decision.CrisisMaxPrice,
			LongShotMax:    c.Decision.LongShotMax,
			BandMin:        c.Decision.BandMin,
			BandMax:        c.Decision.BandMax,
			MomentumVolume: c.Decision.MomentumVolume,
		},
	}
}

func riskConfig(c config.RiskConfig) risk.Config {
	return risk.Config{
		MaxFraction:  c.MaxFraction,
		MinTradeSize: c.MinTradeSize,
		HardCap:      c.HardCap,
		FeeBps:       float64(*c.FeeBps),
		MaxSlippage:  *c.MaxSlippage,
	}
}

func queries(qs []config.QueryConfig) []ports.MarketQuery {
	out := make([]ports.MarketQuery, 0, len(qs))
	for _, q := range qs {
		out = append(out, ports.MarketQuery{Name: q.Name, Tag: q.Tag, Order: q.Order, Limit: q.Limit})
	}
	return out // vacío = discovery.DefaultQueries
}

// topSignals puntúa los candidatos actuales con la señal de crisis vigente.
func (a *app) topSignals(ctx context.Context, limit int) ([]domain.Market, error) {
	markets, err := a.discovery.Relevant(ctx)
	if err != nil {
		return nil, err
	}
	a.scorer.ScoreAll(markets, a.monitor.Current(ctx))
	ranked := scoring.Rank(markets)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// run arranca las particiones y la API hasta que ctx termine o aparezca el fichero STOP.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range a.engines {
		g.Go(func() error { return e.Run(gctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.server.ListenAndServe(gctx) })
	}
	g.Go(func() error {
		watchStopFile(gctx, stopFile, cancel)
		return nil
	})

	slog.Info("engines started, press Ctrl+C or create STOP file to exit")
	return g.Wait()
}

// runOnce ejecuta un solo ciclo por partición.
func (a *app) runOnce(ctx context.Context) error {
	var errs []error
	for _, e := range a.engines {
		if _, err := e.RunCycle(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resetPartitions resetea y persiste las particiones nombradas sin arrancar los loops.
func (a *app) resetPartitions(ctx context.Context, which string) error {
	which = strings.ToLower(strings.TrimSpace(which))
	var done int
	for _, e := range a.engines {
		if which != "all" && which != e.Name() {
			continue
		}
		// Reset exige el loop de Run; aquí se aplica directamente sobre el documento.
		p, err := a.store.Load(ctx, e.Name())
		if err != nil {
			return err
		}
		if p == nil {
			slog.Info("nothing to reset", "partition", e.Name())
			done++
			continue
		}
		p.Reset()
		p.UpdatedAt = time.Now()
		p.Log(p.UpdatedAt, "WARN", "portfolio reset to starting capital")
		if err := a.store.Save(ctx, p); err != nil {
			return err
		}
		slog.Warn("portfolio reset", "partition", e.Name(), "capital", p.Capital)
		done++
	}
	if done == 0 {
		return fmt.Errorf("unknown or disabled partition %q", which)
	}
	return nil
}

// printReport imprime el estado persistido de cada partición más el journal.
func (a *app) printReport(ctx context.Context) {
	inputs := make([]notify.ReportInput, 0, len(a.engines))
	for _, e := range a.engines {
		p, err := a.store.Load(ctx, e.Name())
		if err != nil {
			slog.Warn("failed to load partition", "partition", e.Name(), "err", err)
			continue
		}
		if p == nil {
			continue
		}
		in := notify.ReportInput{Snapshot: p.Snapshot(time.Now())}
		if a.journal != nil {
			if st, err := a.journal.Stats(ctx, e.Name()); err == nil {
				in.ByReason = st.ByReason
			} else {
				slog.Warn("journal stats failed", "partition", e.Name(), "err", err)
			}
			if recent, err := a.journal.RecentCloses(ctx, e.Name(), reportRecent); err == nil {
				in.Recent = recent
			} else {
				slog.Warn("journal recent closes failed", "partition", e.Name(), "err", err)
			}
			if series, err := a.journal.CapitalSeries(ctx, e.Name(), time.Now().Add(-reportWindow)); err == nil {
				in.Capital = series
			} else {
				slog.Warn("journal capital series failed", "partition", e.Name(), "err", err)
			}
		}
		if in.Recent == nil {
			in.Recent = recentFromSnapshot(in.Snapshot, reportRecent)
		}
		inputs = append(inputs, in)
	}
	a.console.PrintReport(inputs)
}

// recentFromSnapshot usa los cerrados retenidos en el documento si no hay journal.
func recentFromSnapshot(s domain.Snapshot, n int) []domain.Position {
	if len(s.Closed) > n {
		return s.Closed[:n]
	}
	return s.Closed
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			slog.Warn("journal close failed", "err", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("redis close failed", "err", err)
		}
	}
}

// watchStopFile cancela cuando aparece el fichero de parada y lo borra.
func watchStopFile(ctx context.Context, path string, cancel context.CancelFunc) {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				slog.Info("STOP file detected, shutting down")
				os.Remove(path)
				cancel()
				return
			}
		}
	}
}
