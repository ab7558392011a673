// syncd runs the realtime cache synchronization engine as a standalone
// daemon: it connects to the change feed, reconciles events into the
// in-memory query cache, and logs engine health.
//
// Usage: go run ./cmd/syncd --config configs/engine.local.yaml --session dev --user <user-id>
//
// Required environment variables:
//
//	HABITSTACK_ACCESS_TOKEN - access token bound to the feed connection
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/clock"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/config"
	"github.com/habitstack/realtime/internal/connection"
	"github.com/habitstack/realtime/internal/model"
	"github.com/habitstack/realtime/internal/reconcile"
	"github.com/habitstack/realtime/internal/router"
	"github.com/habitstack/realtime/internal/session"
	"github.com/habitstack/realtime/internal/subscription"
	"github.com/habitstack/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/engine.local.yaml", "path to config file")
	sessionID := flag.String("session", "local", "session id to bind")
	userID := flag.String("user", "", "authenticated user id")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	clk := clock.New()
	store := cache.New(cache.WithLogger(logger))
	co := coalesce.New(store, clk, cfg.Coalesce.FlushDelay, logger)
	engine := reconcile.NewEngine(store, co, logger)

	var sup *connection.Supervisor
	engine.Register(model.CollectionFriendships,
		reconcile.NewFriendship(store, co, engine.Generic(), logger))
	engine.Register(model.CollectionCoachMessages,
		reconcile.NewCoachMessage(store, co, engine.Generic(), logger))
	engine.Register(model.CollectionAccounts,
		reconcile.NewAccount(
			func() string { return *userID },
			func() {
				logger.Warn("account disabled, signing out")
				sup.Stop(false)
				cancel()
			},
			engine.Generic(),
			logger,
		))

	registry := subscription.NewRegistry(model.WatchList(), cfg.Subscribe.SettleTimeout, clk, logger)

	supCfg := connection.SupervisorConfig{
		Client: connection.ClientConfig{
			URL:            cfg.Feed.URL,
			PingTimeout:    cfg.Feed.PingTimeout,
			WriteTimeout:   cfg.Feed.WriteTimeout,
			RequestTimeout: cfg.Feed.RequestTimeout,
			BufferSize:     cfg.Feed.FrameBufferSize,
		},
		Backoff: connection.BackoffPolicy{
			Base:        cfg.Backoff.BaseDelay,
			Max:         cfg.Backoff.MaxDelay,
			MaxAttempts: cfg.Backoff.MaxAttempts,
			LongRetry:   cfg.Backoff.LongRetryDelay,
			Jitter:      cfg.Backoff.Jitter,
		},
		PartialRetryInterval:      cfg.Backoff.PartialRetryInterval,
		PartialMaxAttempts:        cfg.Backoff.PartialMaxAttempts,
		HealthInterval:            cfg.Health.Interval,
		StalenessThreshold:        cfg.Health.StalenessThreshold,
		SafetyResubscribeInterval: cfg.Health.SafetyResubscribeInterval,
		MinReconnectInterval:      cfg.Backoff.MinReconnectInterval,
		BackgroundGrace:           cfg.Health.BackgroundGrace,
		EventBufferSize:           cfg.Feed.EventBufferSize,
	}

	var rtr *router.Router
	tokens := session.StaticTokenProvider(os.Getenv("HABITSTACK_ACCESS_TOKEN"))
	sup = connection.NewSupervisor(supCfg, tokens, registry,
		connection.ActivityFunc(func() time.Time { return rtr.LastEventAt() }),
		logger)

	rtr = router.New(engine, sup.Events(), logger)
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	if err := sup.Start(ctx, *sessionID); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			sup.Stop(true)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			rtr.Stop(stopCtx)
			stopCancel()

			co.Flush()
			return

		case <-statsTicker.C:
			s := sup.Stats()
			r := rtr.Stats()
			e := engine.Stats()
			logger.Info("engine stats",
				"state", s.State,
				"channels_live", s.Live,
				"channels_total", s.Total,
				"frames_received", r.Received,
				"events_routed", r.Routed,
				"events_applied", e.Applied,
				"anomalies", e.Anomalies,
			)
		}
	}
}
