// Package main is the entry point for the TWAP fleet bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lsquant/twapbot/internal/alerting"
	"github.com/lsquant/twapbot/internal/assetmap"
	"github.com/lsquant/twapbot/internal/bus"
	"github.com/lsquant/twapbot/internal/config"
	"github.com/lsquant/twapbot/internal/engine"
	"github.com/lsquant/twapbot/internal/execution"
	"github.com/lsquant/twapbot/internal/fleet"
	"github.com/lsquant/twapbot/internal/margin"
	"github.com/lsquant/twapbot/internal/metrics"
	"github.com/lsquant/twapbot/internal/persistence"
	"github.com/lsquant/twapbot/internal/signalfeed"
	"github.com/lsquant/twapbot/internal/venue/paper"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`TWAP Fleet Bot - Ranking-Driven Batch Execution

Usage:
  twapbot <command> [options]

Commands:
  run        Start the bot against the configured venue
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  twapbot run --config config.yaml
  twapbot run --config config.yaml --unwind-after 6h
  twapbot validate --config config.yaml

Use "twapbot <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("twapbot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Total capital: $%.2f\n", cfg.Fleet.TotalCapital)
	fmt.Printf("  Top lists: %d longs / %d shorts\n", cfg.Fleet.TopLongs, cfg.Fleet.TopShorts)
	fmt.Printf("  Monitor buffer: %d longs / %d shorts\n", cfg.Fleet.MonitorLongs, cfg.Fleet.MonitorShorts)
	fmt.Printf("  Smart close: %v\n", cfg.Fleet.SmartClose)
	fmt.Printf("  Batch notional: $%.2f every %ds\n", cfg.Execution.BatchNotional, cfg.Execution.BatchIntervalSec)
	fmt.Printf("  Ranking feed: %s\n", cfg.Feed.URL)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	paperMode := fs.Bool("paper", true, "Paper trading mode (default: true)")
	unwindAfter := fs.Duration("unwind-after", 0, "Unwind the fleet and exit after this duration (0 = run until signal)")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if !*paperMode {
		slog.Error("only paper mode is supported")
		os.Exit(1)
	}

	if err := run(cfg, *unwindAfter, logger); err != nil {
		slog.Error("bot exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, unwindAfter time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("twapbot starting",
		"version", Version,
		"capital", cfg.Fleet.TotalCapital,
		"top_longs", cfg.Fleet.TopLongs,
		"top_shorts", cfg.Fleet.TopShorts,
		"network", cfg.Fleet.Network,
	)

	// Margin table and asset universe.
	tiers, err := margin.LoadTiers(cfg.Margin.TablePath)
	if err != nil {
		return fmt.Errorf("load margin table: %w", err)
	}
	resolver := margin.NewResolver(tiers)

	venueSymbols := resolver.Assets(cfg.Fleet.Network)
	feedSymbols := make([]string, 0, len(venueSymbols))
	for _, vs := range venueSymbols {
		feedSymbols = append(feedSymbols, feedSymbolFor(vs))
	}
	assets, err := assetmap.Build(feedSymbols, venueSymbols, cfg.Fleet.AssetBlacklist)
	if err != nil {
		return fmt.Errorf("build asset map: %w", err)
	}
	slog.Info("asset universe ready", "mapped", assets.Len(), "venue_symbols", len(venueSymbols))

	pv := paper.NewVenue(paper.Config{FillDelay: cfg.FillDelay()}, logger)
	defer func() { _ = pv.Shutdown(context.Background()) }()

	signalBus := bus.New(logger)
	alerter := buildAlerter(cfg, logger)
	eventEnabled := func(event alerting.AlertEvent) bool {
		return cfg.IsAlertEventEnabled(string(event))
	}

	// Each deployed worker gets an in-process batch execution controller,
	// driven by the control bus and trading against the paper venue.
	host, err := execution.NewHost(pv, pv, signalBus, execution.HostConfig{
		Style:          cfg.ExecutionStyle(),
		PriceBufferPct: cfg.PriceBuffer(),
	}, logger)
	if err != nil {
		return fmt.Errorf("create worker host: %w", err)
	}
	defer host.Close()

	deps := fleet.Deps{
		Resolver:    resolver,
		Assets:      assets,
		Lifecycle:   host,
		Signals:     signalBus,
		Alerter:     alerter,
		Logger:      logger,
		AlertEvents: eventEnabled,
	}

	var repo *persistence.SQLiteRepository
	if cfg.Persistence.Enabled {
		repo, err = persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			return fmt.Errorf("open worker journal: %w", err)
		}
		defer func() { _ = repo.Close() }()
		deps.Repo = repo
	}

	orch, err := fleet.New(cfg.ToFleetConfig(), deps)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if repo != nil {
		if err := orch.Adopt(ctx); err != nil {
			return fmt.Errorf("adopt journaled workers: %w", err)
		}
	}

	feed, err := signalfeed.New(cfg.ToFeedConfig(), logger, nil)
	if err != nil {
		return fmt.Errorf("create ranking feed: %w", err)
	}

	eng, err := engine.New(engine.Config{
		RebalancesPerMinute: cfg.Fleet.RebalancesPerMinute,
		HealthInterval:      cfg.HealthInterval(),
		UnwindOnShutdown:    cfg.Shutdown.UnwindOnShutdown || unwindAfter > 0,
		AlertEvents:         eventEnabled,
	}, orch, feed, alerter, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	feed.OnStateChange = eng.FeedStateHandler()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		srv.SetStatusProvider(eng.Status)
		srv.RegisterHealthCheck("engine", func() metrics.Check {
			if eng.IsRunning() {
				return metrics.Check{Status: "healthy"}
			}
			return metrics.Check{Status: "unhealthy", Message: "engine not running"}
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if unwindAfter > 0 {
		slog.Info("session window armed", "unwind_after", unwindAfter)
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received")
		case <-time.After(unwindAfter):
			slog.Info("session window elapsed, unwinding")
		}
	} else {
		<-ctx.Done()
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}

	slog.Info("twapbot shutdown complete")
	return nil
}

// buildAlerter assembles the alert fan-out from config. Returns nil when
// alerting is disabled or no channel is usable.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "telegram":
			alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		case "console":
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		}
	}

	switch len(alerters) {
	case 0:
		return nil
	case 1:
		return alerters[0]
	default:
		return alerting.NewMultiAlerter(logger, alerters...)
	}
}

// feedSymbolFor derives the screener symbol for a venue symbol. Venue
// contracts are quoted like BTC-PERP; the screener quotes spot pairs like
// BTCUSDT.
func feedSymbolFor(venueSymbol string) string {
	s := strings.ToUpper(venueSymbol)
	for _, sep := range []string{"/", "-", "_", ":"} {
		s = strings.ReplaceAll(s, sep, "")
	}
	for _, suffix := range []string{"USDT", "USDC", "USD", "PERP"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return s + "USDT"
}
