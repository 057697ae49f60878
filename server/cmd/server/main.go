package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/collabhub/collabhub/server/internal/api"
	"github.com/collabhub/collabhub/server/internal/chat"
	"github.com/collabhub/collabhub/server/internal/config"
	"github.com/collabhub/collabhub/server/internal/metrics"
	"github.com/collabhub/collabhub/server/internal/polls"
	"github.com/collabhub/collabhub/server/internal/presence"
	"github.com/collabhub/collabhub/server/internal/stats"
	"github.com/collabhub/collabhub/server/internal/store"
	"github.com/collabhub/collabhub/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "load environment variables from this file when it exists")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load env file", "path", *envFile, "err", err)
	}

	slog.Info("collabhub-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"storage_backend", cfg.Server.Storage.Backend,
		"delete_mode", cfg.Server.Storage.DeleteMode,
		"stats_interval", cfg.Server.Hub.StatsInterval,
		"max_connections", cfg.Server.Hub.MaxConnections,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := openStorage(ctx, cfg.Server.Storage)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.Server.Storage.Backend, "err", err)
		os.Exit(1)
	}
	st := store.WithTimeout(backend, cfg.Server.Storage.Timeout)

	// Single writers of users, messages and polls.
	pres := presence.New(st)

	// No session survives a restart; clear what a previous run left active.
	if _, err := pres.Reset(ctx); err != nil {
		slog.Error("failed to reset presence", "err", err)
		_ = backend.Close(context.Background())
		os.Exit(1)
	}
	channel := chat.New(st, cfg.Server.Storage.HardDelete())
	engine := polls.New(st)
	agg := stats.New(pres, channel, engine, cfg.Server.Hub.StatsInterval)

	reg := metrics.New(nil)
	hub := ws.New(ws.Deps{
		Presence: pres,
		Chat:     channel,
		Polls:    engine,
		Stats:    agg,
		Metrics:  reg,
	}, cfg.Server.Hub)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Deps{
		Storage:        st,
		Presence:       pres,
		Chat:           channel,
		Polls:          engine,
		Stats:          agg,
		Connections:    hub.Count,
		MaxConnections: cfg.Server.Hub.MaxConnections,
	}))
	httpMux.Handle("/ws", hub)
	httpMux.Handle("/metrics", reg)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Hub: stats ticker. On shutdown it closes every session and waits for
	// their users to be written offline before storage is closed.
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		store.RunRetention(gctx, st, cfg.Server.Storage.Retention)
		return nil
	})

	// Hot reload of log level, rate limit and stats interval.
	g.Go(func() error {
		err := config.Watch(gctx, *configPath, func(c *config.Config) {
			level.Set(c.Server.Level())
			hub.Reconfigure(c.Server.Hub)
		})
		if err != nil {
			slog.Warn("config watch disabled", "path", *configPath, "err", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("collabhub-server shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	runErr := g.Wait()

	cctx, ccancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer ccancel()
	if err := backend.Close(cctx); err != nil {
		slog.Error("failed to close storage", "err", err)
	}

	if runErr != nil {
		slog.Error("collabhub-server stopped", "err", runErr)
		os.Exit(1)
	}
	slog.Info("collabhub-server stopped")
}
