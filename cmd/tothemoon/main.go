// tothemoon tracks tokens migrating out of Pump.fun, scores their
// short-term arbitrage potential and publishes the ranking over HTTP
// and the NotArb export file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/config"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/dexscreener"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/events"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/export"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/httpapi"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/listener"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/scheduler"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/scoring"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/spam"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage/memory"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage/postgres"
)

func main() {
	useMemory := flag.Bool("use-memory", false, "run on the in-memory store instead of Postgres")
	addr := flag.String("addr", "", "HTTP listen address (overrides TTM_HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *useMemory {
		cfg.UseMemory = true
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger := config.NewLogger(cfg)
	cfg.LogConfig(logger)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Storage.
	var (
		tokenRepo    storage.TokenRepository
		settingsRepo storage.SettingsRepository
	)
	if cfg.UseMemory {
		mem := memory.New()
		tokenRepo, settingsRepo = mem, mem
		logger.Warn().Msg("running on the in-memory store, state is not durable")
	} else {
		pool, err := postgres.NewPool(rootCtx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connect failed")
		}
		defer pool.Close()
		if err := postgres.Bootstrap(rootCtx, pool); err != nil {
			logger.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		tokenRepo = postgres.NewTokenStore(pool)
		settingsRepo = postgres.NewSettingStore(pool)
	}

	settingsStore := settings.New(settingsRepo, logger, cfg.SettingsCacheTTL)

	monitor := health.New(tokenRepo, health.Options{
		Interval: cfg.MonitorInterval,
		Thresholds: health.Thresholds{
			CPULow: cfg.CPULowPct, CPUMedium: cfg.CPUMediumPct, CPUHigh: cfg.CPUHighPct,
			MemLow: cfg.MemLowPct, MemMedium: cfg.MemMediumPct, MemHigh: cfg.MemHighPct,
		},
		UnderLoadConcurrency: cfg.MaxConcurrentUnderLoad,
		UnderLoadTimeout:     cfg.TimeoutUnderLoad,
	}, logger)
	monitor.Start(rootCtx)

	// Two pair-data clients: hot for the fast lane, cold for everything else.
	hot := dexscreener.New(dexscreener.Config{
		Name:            "hot",
		BaseURL:         cfg.DexBaseURL,
		Timeout:         cfg.HotTimeout,
		CacheTTL:        cfg.HotCacheTTL,
		MinCallGap:      cfg.DexMinCallGap,
		MaxRetryElapsed: cfg.DexRetryBudget,
		BreakerFailures: cfg.DexBreakerFailures,
		BreakerCooldown: cfg.DexBreakerCooldown,
	}, logger, monitor.SetBreakerState)
	cold := dexscreener.New(dexscreener.Config{
		Name:            "cold",
		BaseURL:         cfg.DexBaseURL,
		Timeout:         cfg.ColdTimeout,
		CacheTTL:        cfg.ColdCacheTTL,
		MinCallGap:      cfg.DexMinCallGap,
		MaxRetryElapsed: cfg.DexRetryBudget,
		BreakerFailures: cfg.DexBreakerFailures,
		BreakerCooldown: cfg.DexBreakerCooldown,
	}, logger, monitor.SetBreakerState)
	monitor.SetBreakerState(hot.Name(), hot.State())
	monitor.SetBreakerState(cold.Name(), cold.State())

	// Events are optional; without a NATS URL the publisher is a no-op.
	pub := events.Disabled()
	if cfg.NATSEnabledURL != "" {
		if p, err := events.Connect(cfg.NATSEnabledURL, logger); err != nil {
			logger.Warn().Err(err).Msg("nats connect failed, events disabled")
		} else {
			pub = p
		}
	}
	defer pub.Close()

	scorer := scoring.NewService(tokenRepo, settingsStore, logger)
	analyzer := spam.New(cfg.SolanaRPCURL, cfg.SpamSignatureLimit, cfg.SpamRPCTimeout, logger)
	writer := export.NewWriter(cfg.ExportPath, logger)

	sched := scheduler.New(scheduler.Deps{
		Repo:     tokenRepo,
		Settings: settingsStore,
		Hot:      hot,
		Cold:     cold,
		Scoring:  scorer,
		Spam:     analyzer,
		Export:   writer,
		Health:   monitor,
		Events:   pub,
		Log:      logger,
	}, scheduler.Config{
		ActivationInterval:    cfg.ActivationInterval,
		ArchivalInterval:      cfg.ArchivalInterval,
		SpamInterval:          cfg.SpamInterval,
		ExportInterval:        cfg.ExportInterval,
		HotTimeout:            cfg.HotTimeout,
		ColdTimeout:           cfg.ColdTimeout,
		HotConcurrency:        cfg.HotConcurrency,
		ColdConcurrency:       cfg.ColdConcurrency,
		ActivationConcurrency: cfg.ActivationConcurrency,
		SpamConcurrency:       cfg.SpamConcurrency,
		MinBatchSize:          cfg.MinBatchSize,
		MaxBatchSize:          cfg.MaxBatchSize,
		SelectionCap:          cfg.SelectionCap,
		DeferredCapacity:      cfg.DeferredCapacity,
		DeferredDrainMax:      cfg.DeferredDrainMax,
		ExportCandidates:      cfg.ExportCandidates,
		ExportTopN:            cfg.ExportTopN,
		ExportGenerator:       cfg.ExportGenerator,
	})
	sched.Start(rootCtx)

	lst := listener.New(cfg.MigrationWSURL, tokenRepo, pub, cfg.ListenerMaxEvents, logger)
	go func() {
		if err := lst.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("migration listener exited")
		}
	}()

	api := httpapi.New(tokenRepo, settingsStore, monitor, sched, httpapi.Options{
		StaleAgeFactor: cfg.StaleAgeFactor,
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
	case <-rootCtx.Done():
	}

	// Second signal skips the graceful path.
	go func() {
		<-sigCh
		logger.Warn().Msg("second signal, forcing exit")
		os.Exit(1)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	stop() // winds down scheduler, listener and monitor

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	done := make(chan struct{})
	go func() {
		sched.Stop()
		monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("clean shutdown")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown grace elapsed, exiting with work in flight")
	}
}
