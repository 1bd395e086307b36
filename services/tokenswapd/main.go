package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	deployment "tokenswap/config"
	"tokenswap/core"
	"tokenswap/gateway/middleware"
	"tokenswap/native/tokenswap"
	"tokenswap/observability/logging"
	telemetry "tokenswap/observability/otel"
	"tokenswap/services/tokenswapd/adapters"
	"tokenswap/services/tokenswapd/config"
	"tokenswap/services/tokenswapd/oracle"
	"tokenswap/services/tokenswapd/server"
	"tokenswap/services/tokenswapd/storage"
	kv "tokenswap/storage"
)

const sampleRetention = 7 * 24 * time.Hour

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/tokenswapd/config.yaml", "path to tokenswapd configuration file")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "tokenswapd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("TOKENSWAP_ENV"))
	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts.File = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}
	logger := logging.Setup("tokenswapd", env, logOpts)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "tokenswapd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	dep, err := deployment.Load(cfg.DeploymentPath)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	program, err := dep.Program()
	if err != nil {
		return err
	}

	db, err := kv.NewLevelDB(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()
	manager, err := openSubstrate(dep, db, logger)
	if err != nil {
		return err
	}

	signer, err := buildSigner(dep, program, logger)
	if err != nil {
		return fmt.Errorf("treasury signer: %w", err)
	}
	prices := tokenswap.NewManualOracle()
	engine, err := buildEngine(dep, program, signer, prices)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	exec, err := core.NewExecutor(manager, engine, program, logger)
	if err != nil {
		return err
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("resolve storage DSN: %w", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	feeds, err := dep.EngineFeeds()
	if err != nil {
		return err
	}
	source := adapters.NewHermes(cfg.Oracle.Endpoint, adapters.HermesOptions{Timeout: cfg.Oracle.Timeout.Duration, RetryCount: 1})
	mgr, err := oracle.New(store, source, prices, []oracle.Feed{
		{ID: feeds.Native, Label: "native"},
		{ID: feeds.AssetA, Label: "asset_a"},
		{ID: feeds.AssetB, Label: "asset_b"},
	}, cfg.Oracle.Interval.Duration,
		oracle.WithLogger(logger),
		oracle.WithTimeout(cfg.Oracle.Timeout.Duration),
		oracle.WithRetention(sampleRetention),
	)
	if err != nil {
		return fmt.Errorf("oracle manager: %w", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		CertFile:      cfg.TLS.CertPath,
		KeyFile:       cfg.TLS.KeyPath,
		RateLimits: map[string]middleware.RateLimit{
			"calls": {RatePerSecond: cfg.RateLimits.Calls.RatePerSecond, Burst: cfg.RateLimits.Calls.Burst},
			"reads": {RatePerSecond: cfg.RateLimits.Reads.RatePerSecond, Burst: cfg.RateLimits.Reads.Burst},
		},
	}, exec, store, logger)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("tokenswapd starting",
		slog.String("program", dep.ProgramID),
		slog.String("signer", dep.Signer.Mode),
		slog.String("custody", dep.Custody.Mode))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle manager exited", slog.Any("error", err))
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("tokenswapd stopped")
	return nil
}
