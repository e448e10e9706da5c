// Package main is the entry point for the flash-loan arbitrage coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hasanhalabi/arbitrage-smart-contract/business/trading"
	tradingDI "github.com/hasanhalabi/arbitrage-smart-contract/business/trading/di"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/apm"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/config"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/health"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/logger"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/metrics"
	"github.com/hasanhalabi/arbitrage-smart-contract/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// options are the command line actions, run in the order listed.
type options struct {
	configPath string
	caller     string
	deposit    string
	request    string
	requests   string
	withdraw   string
	balance    bool
	records    string
	pools      bool
	serve      bool
}

func (o options) hasAction() bool {
	return o.deposit != "" || o.request != "" || o.requests != "" || o.withdraw != "" ||
		o.balance || o.records != "" || o.pools
}

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.caller, "caller", "", "Caller address (defaults to trading.initiator_address)")
	flag.StringVar(&opts.deposit, "deposit", "", "Deposit this many base units into the reserve")
	flag.StringVar(&opts.request, "request", "", "Run the trade request in this JSON file")
	flag.StringVar(&opts.requests, "requests", "", "Run every trade request in this JSON lines file")
	flag.StringVar(&opts.withdraw, "withdraw", "", "Withdraw this many base units from the reserve")
	flag.BoolVar(&opts.balance, "balance", false, "Print the reserve balance")
	flag.StringVar(&opts.records, "records", "", "Print the step records of this trade id")
	flag.BoolVar(&opts.pools, "pools", false, "Print the paper pools")
	flag.BoolVar(&opts.serve, "serve", false, "Keep running with health and metrics endpoints after the actions")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("flash-arbitrage %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	// Run application
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	// Load configuration
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}

	log := logger.New(os.Stderr, logLevel, cfg.App.Name, apm.TraceID)
	log.Info(ctx, "starting flash-loan arbitrage coordinator",
		"version", version,
		"environment", cfg.App.Environment,
		"mode", cfg.Trading.Mode,
	)

	// Initialize observability if enabled
	if cfg.Telemetry.Enabled {
		stop, err := startTelemetry(ctx, cfg.Telemetry, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	// Create monolith (application container)
	mono, err := monolith.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer func() {
		if err := mono.Close(); err != nil {
			log.Error(ctx, "error closing modules", "error", err)
		}
	}()

	modules := []monolith.Module{
		&trading.Module{},
	}

	// Register all module services
	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	if cfg.Health.Enabled && (opts.serve || !opts.hasAction()) {
		healthServer := health.NewServer(cfg.Health.Port, version, log)
		registerChecks(healthServer, mono)
		if err := healthServer.Start(); err != nil {
			log.Warn(ctx, "failed to start health server", "error", err)
		} else {
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = healthServer.Stop(stopCtx)
			}()
		}
	}

	cli := &commands{
		cfg:      cfg,
		mono:     mono,
		registry: mono.AssetRegistry(),
		out:      os.Stdout,
	}
	if err := cli.run(ctx, opts); err != nil {
		return err
	}

	if opts.hasAction() && !opts.serve {
		return nil
	}

	log.Info(ctx, "ready, waiting for shutdown signal")
	<-ctx.Done()
	log.Info(ctx, "shutting down")
	return nil
}

// startTelemetry installs the trace and meter providers and serves the
// Prometheus endpoint. The returned func flushes the trace exporter.
func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, log logger.LoggerInterface) (func(), error) {
	traceProvider := apm.NewTraceProvider(log, apm.WithProvider(apm.Provider(cfg.TraceProvider), apm.ExporterConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     cfg.OTLPHeaders,
	}, log))

	meterProvider, err := metrics.NewMetricProvider(
		metrics.WithServiceName(cfg.ServiceName),
		metrics.WithProviderConfig(metrics.ProviderCfg{
			Provider: metrics.PrometheusProvider,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	go func() {
		if err := metrics.ServePrometheusMetrics(ctx, log, metrics.WithPort(cfg.PrometheusPort)); err != nil {
			log.Error(ctx, "prometheus server stopped", "error", err)
		}
	}()

	return func() {
		if err := traceProvider.Stop(); err != nil {
			log.Warn(ctx, "trace provider shutdown", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = meterProvider.Shutdown(shutdownCtx)
	}, nil
}

// registerChecks exposes the record store and, when configured, the node.
func registerChecks(s *health.Server, mono monolith.Monolith) {
	events := tradingDI.GetEventLog(mono.Services())
	s.RegisterCheck("event_log", func(ctx context.Context) (bool, string) {
		if _, err := events.OpenAttempts(ctx); err != nil {
			return false, err.Error()
		}
		return true, ""
	})

	if client := mono.EthClient(); client != nil {
		s.RegisterCheck("ethereum", func(ctx context.Context) (bool, string) {
			n, err := client.BlockNumber(ctx)
			if err != nil {
				return false, err.Error()
			}
			return true, fmt.Sprintf("block %d", n)
		})
	}
}
