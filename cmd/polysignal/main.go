package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polysignal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle per partition and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print open positions table after every cycle")
	report := flag.Bool("report", false, "print the persisted portfolio report and exit")
	reset := flag.String("reset", "", "reset a partition (standard|turbo|all) to its starting capital and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := build(ctx, cfg, *table)
	if err != nil {
		slog.Error("failed to initialize", "err", err)
		os.Exit(1)
	}
	defer app.close()

	switch {
	case *report:
		app.printReport(ctx)
		return
	case *reset != "":
		if err := app.resetPartitions(ctx, *reset); err != nil {
			slog.Error("reset failed", "err", err)
			os.Exit(1)
		}
		return
	case *once:
		if err := app.runOnce(ctx); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("polysignal starting",
		"config", *configPath,
		"partitions", len(app.engines),
		"http", cfg.Server.Enabled,
		"redis", cfg.Redis.URL != "",
		"crisis_feed", cfg.Crisis.URL != "",
	)

	if err := app.run(ctx); err != nil {
		slog.Error("polysignal exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("polysignal stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
