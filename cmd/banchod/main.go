package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shirokane/gobancho/internal/bancho"
	"github.com/shirokane/gobancho/internal/channel"
	"github.com/shirokane/gobancho/internal/chat"
	"github.com/shirokane/gobancho/internal/clock"
	"github.com/shirokane/gobancho/internal/config"
	"github.com/shirokane/gobancho/internal/db"
	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/match"
	"github.com/shirokane/gobancho/internal/metrics"
	"github.com/shirokane/gobancho/internal/session"
	"github.com/shirokane/gobancho/internal/spectator"
	"github.com/shirokane/gobancho/internal/stream"
	"github.com/shirokane/gobancho/internal/webhook"
)

const ConfigPath = "config/bancho.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("BANCHO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))

	slog.Info("bancho server starting",
		"component", cfg.Server.Component,
		"bind", cfg.Server.BindAddress,
		"port", cfg.Server.Port)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	store, err := kv.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer store.Close()
	slog.Info("redis connected", "addr", cfg.Redis.Addr)

	clk := clock.NewSystem()

	var sink metrics.Sink = metrics.Noop{}
	var prom *metrics.Prometheus
	if cfg.Server.MetricsPort > 0 {
		prom = metrics.NewPrometheus()
		sink = prom
	}

	notifier, err := webhook.New(cfg.Webhooks.Moderation, cfg.Webhooks.Admin, clk)
	if err != nil {
		return fmt.Errorf("configuring webhooks: %w", err)
	}

	sessions := session.New(store, clk, database, sink, cfg.Server.BotName)
	streams := stream.New(store, sessions, sink)
	sessions.SetBroadcaster(streams)
	sessions.SetModerationHook(notifier)
	channels := channel.New(store, streams)
	chatman := chat.New(sessions, channels, streams, database, clk)
	spectators := spectator.New(sessions, channels, streams, chatman)
	engine := match.New(store, sessions, streams, channels, chatman, clk)

	srv := bancho.New(cfg, bancho.Services{
		Store:      store,
		Users:      database,
		Clock:      clk,
		Metrics:    sink,
		Sessions:   sessions,
		Streams:    streams,
		Channels:   channels,
		Chat:       chatman,
		Spectators: spectators,
		Matches:    engine,
	})
	if err := srv.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping shared state: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("bancho server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := srv.RunWorkers(gctx); err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := srv.RunPubSub(gctx); err != nil {
			return fmt.Errorf("pub/sub bridge: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := notifier.Run(gctx); err != nil {
			return fmt.Errorf("webhook notifier: %w", err)
		}
		return nil
	})

	if prom != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler: mux,
		}
		g.Go(func() error {
			slog.Info("metrics listener started", "port", cfg.Server.MetricsPort)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
