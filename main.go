package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"catalystbot/config"
	"catalystbot/internal/adapters/advisor"
	"catalystbot/internal/adapters/alpaca"
	"catalystbot/internal/adapters/logger"
	"catalystbot/internal/adapters/marketfeed"
	"catalystbot/internal/adapters/newswire"
	"catalystbot/internal/adapters/sqlite"
	"catalystbot/internal/bot"
	"catalystbot/internal/domain"
	"catalystbot/internal/events"
	"catalystbot/internal/executor"
	"catalystbot/internal/marketclock"
	"catalystbot/internal/monitor"
	"catalystbot/internal/ports"
	"catalystbot/internal/scheduler"
	"catalystbot/internal/server"
	"catalystbot/internal/signals"
	"catalystbot/internal/strategy"
)

// configProvider adapts a closure to the Config() accessor the monitor
// expects, breaking the construction cycle between monitor and machine.
type configProvider func() *domain.BotConfig

func (f configProvider) Config() *domain.BotConfig { return f() }

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load process configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: configuration error: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize the logger.
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	appLogger.Info(ctx, "Starting catalystbot")

	// 3. Market clock. The timezone is load-bearing for every session rule.
	clock, err := marketclock.New(cfg.MarketTimezone)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: cannot load market timezone")
		os.Exit(1)
	}

	// 4. Storage.
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: database initialization failed")
		os.Exit(1)
	}
	defer repo.Close()

	// 5. Broker client.
	broker, err := alpaca.New(alpaca.Config{
		KeyID:          cfg.BrokerKeyID,
		SecretKey:      cfg.BrokerSecretKey,
		PaperURL:       cfg.BrokerPaperURL,
		LiveURL:        cfg.BrokerLiveURL,
		Logger:         appLogger,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: broker client initialization failed")
		os.Exit(1)
	}

	// 6. Market data client.
	marketData, err := marketfeed.New(marketfeed.Config{
		BaseURL: cfg.MarketDataURL,
		APIKey:  cfg.MarketDataKey,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: market data client initialization failed")
		os.Exit(1)
	}

	// 7. Advisory client. Optional; unconfigured means tiers 3-4 reject.
	advisoryClient, err := advisor.New(advisor.Config{
		BaseURL: cfg.AdvisorURL,
		APIKey:  cfg.AdvisorKey,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: advisor client initialization failed")
		os.Exit(1)
	}
	if !advisoryClient.Available() {
		appLogger.Warn(ctx, "AI advisory not configured, tier 3-4 signals will be rejected")
	}

	// 8. Event hub.
	hub := events.NewHub()

	// 9. Strategy engine.
	engine := strategy.New(strategy.Config{
		Logger:    appLogger,
		Positions: repo,
		Snapshots: repo,
		Store:     repo,
		Location:  clock.Location(),
	})
	if err := engine.Hydrate(ctx); err != nil {
		appLogger.Warn(ctx, "Strategy cache hydration failed, continuing", map[string]interface{}{"error": err.Error()})
	}

	// 10. Position monitor. The config source is resolved lazily because the
	// machine is constructed right after with the monitor as its tracker.
	var machine *bot.Machine
	positionMonitor := monitor.New(monitor.Config{
		Logger:       appLogger,
		Positions:    repo,
		Snapshots:    repo,
		Broker:       broker,
		MarketData:   marketData,
		ConfigSource: configProvider(func() *domain.BotConfig { return machine.Config() }),
		Hub:          hub,
		Observer:     engine,
		PollInterval: cfg.PollInterval,
	})

	// 11. Bot state machine.
	var restartOrderStream func(domain.TradeMode)
	machine = bot.New(bot.Config{
		Logger:     appLogger,
		ConfigRepo: repo,
		Positions:  repo,
		Broker:     broker,
		Tracker:    positionMonitor,
		Hub:        hub,
		Location:   clock.Location(),
		OnModeSwitch: func(mode domain.TradeMode) {
			if restartOrderStream != nil {
				restartOrderStream(mode)
			}
		},
	})
	if err := machine.Init(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: bot initialization failed")
		os.Exit(1)
	}

	// 12. Trade executor.
	exec := executor.New(executor.Config{
		Logger:       appLogger,
		Positions:    repo,
		Broker:       broker,
		ConfigSource: machine,
		Tracker:      positionMonitor,
		Hub:          hub,
	})

	// 13. Signal evaluator.
	evaluator := signals.New(signals.Config{
		Logger:     appLogger,
		Bot:        machine,
		Clock:      clock,
		Strategy:   engine,
		MarketData: marketData,
		Advisor:    advisoryClient,
		Capacity:   positionMonitor,
		Dispatch:   exec,
		SignalLog:  repo,
		Hub:        hub,
	})

	// 14. Broker order-update stream, restartable on mode switch.
	var streamMu sync.Mutex
	var orderStop chan struct{}
	startOrderStream := func() {
		_, stop, err := broker.StreamOrderUpdates(ctx,
			func(upd *ports.OrderUpdate) { exec.HandleOrderUpdate(ctx, upd) },
			func(err error) { appLogger.Warn(ctx, "Order-update stream error", map[string]interface{}{"error": err.Error()}) },
		)
		if err != nil {
			appLogger.Error(ctx, err, "Starting order-update stream failed")
			return
		}
		streamMu.Lock()
		orderStop = stop
		streamMu.Unlock()
	}
	restartOrderStream = func(mode domain.TradeMode) {
		appLogger.Info(ctx, "Restarting order-update stream for new mode", map[string]interface{}{"mode": mode})
		streamMu.Lock()
		if orderStop != nil {
			close(orderStop)
			orderStop = nil
		}
		streamMu.Unlock()
		startOrderStream()
	}
	startOrderStream()

	// 15. News source streams.
	for name, url := range cfg.NewsSources {
		source, err := newswire.New(newswire.Config{
			Name:           name,
			URL:            url,
			Logger:         appLogger,
			ReconnectDelay: cfg.ReconnectDelay,
			OnReconnect:    evaluator.NoteReconnect,
		})
		if err != nil {
			appLogger.Error(ctx, err, "Skipping invalid news source", map[string]interface{}{"source": name})
			continue
		}
		if _, _, err := source.Stream(ctx,
			func(article *domain.NewsArticle) { evaluator.Evaluate(ctx, article) },
			func(err error) {
				appLogger.Warn(ctx, "News stream error", map[string]interface{}{"source": name, "error": err.Error()})
			},
		); err != nil {
			appLogger.Error(ctx, err, "Starting news stream failed", map[string]interface{}{"source": name})
		}
	}

	// 16. Position monitor poll loop.
	go positionMonitor.Run(ctx)

	// 17. Scheduled jobs in market-local time.
	jobs := scheduler.New(appLogger, clock.Location())
	mustSchedule(appLogger, jobs, "55 15 * * 1-5", "eod-sweep", func(jobCtx context.Context) {
		positionMonitor.SweepEOD(jobCtx)
	})
	mustSchedule(appLogger, jobs, "0 * * * *", "strategy-recompute", func(jobCtx context.Context) {
		if err := engine.Recompute(jobCtx); err != nil {
			appLogger.Error(jobCtx, err, "Hourly strategy recompute failed")
		}
	})
	// Marks the trading-day boundary; daily aggregates are date-keyed and
	// self-initialize, so there is deliberately no state to reset.
	mustSchedule(appLogger, jobs, "0 8 * * 1-5", "day-boundary", func(jobCtx context.Context) {
		appLogger.Info(jobCtx, "New trading day")
	})
	jobs.Start()
	defer jobs.Stop()

	// 18. Startup strategy recompute, off the critical path.
	go func() {
		if err := engine.Recompute(ctx); err != nil {
			appLogger.Error(ctx, err, "Startup strategy recompute failed")
		}
	}()

	// 19. HTTP API.
	api := server.New(server.Config{
		Logger:    appLogger,
		Machine:   machine,
		Monitor:   positionMonitor,
		Strategy:  engine,
		Positions: repo,
		SignalLog: repo,
		Hub:       hub,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		appLogger.Info(ctx, "HTTP API listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, err, "HTTP server failed")
			cancel()
		}
	}()

	// 20. Block until shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}
	cancel()
	appLogger.Info(context.Background(), "Shutdown complete")
}

func mustSchedule(log ports.Logger, jobs *scheduler.Scheduler, spec, name string, fn func(ctx context.Context)) {
	if err := jobs.Add(spec, name, fn); err != nil {
		log.Error(context.Background(), err, "FATAL: invalid cron spec", map[string]interface{}{"job": name, "spec": spec})
		os.Exit(1)
	}
}
