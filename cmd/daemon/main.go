// SPDX-License-Identifier: MIT

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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/missionops/voicesync/internal/api"
	"github.com/missionops/voicesync/internal/bus"
	"github.com/missionops/voicesync/internal/cache"
	"github.com/missionops/voicesync/internal/config"
	"github.com/missionops/voicesync/internal/domain/notes"
	notestore "github.com/missionops/voicesync/internal/domain/notes/store"
	"github.com/missionops/voicesync/internal/domain/session"
	sessionstore "github.com/missionops/voicesync/internal/domain/session/store"
	vslog "github.com/missionops/voicesync/internal/log"
	"github.com/missionops/voicesync/internal/persistence/sqlite"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	vslog.Configure(vslog.Config{
		Level:   cfg.LogLevel,
		Service: "voicesync",
		Version: version,
	})
	logger := vslog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting voicesync")

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	// Durable store: one shared pool, per-module migrations.
	db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sessions, err := sessionstore.New(db)
	if err != nil {
		return err
	}
	noteStore, err := notestore.New(db)
	if err != nil {
		return err
	}

	// Fast cache: Redis when configured, in-memory otherwise.
	var cacheStore cache.Store
	if cfg.RedisAddr != "" {
		cacheStore, err = cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, vslog.WithComponent("cache"))
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
	} else {
		logger.Warn().Msg("no redis address configured, using in-memory cache")
		cacheStore = cache.NewMemoryStore(time.Minute)
	}
	defer func() { _ = cacheStore.Close() }()

	// Broadcast: Redis Streams when redis is available, in-process otherwise.
	var events bus.Bus
	if cfg.RedisAddr != "" {
		events, err = bus.NewStreamBus(bus.StreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, vslog.WithComponent("bus"))
		if err != nil {
			return fmt.Errorf("stream bus: %w", err)
		}
	} else {
		events = bus.NewMemoryBus()
	}
	defer func() { _ = events.Close() }()

	coord := session.NewCoordinator(cacheStore, sessions, events, session.Options{
		StateTTL:           cfg.StateTTL,
		GraceTTL:           cfg.GraceTTL,
		QueueTTL:           cfg.QueueTTL,
		SnapshotQueueDepth: cfg.SnapshotQueueDepth,
	})
	defer func() { _ = coord.Close() }()

	workflow := notes.NewWorkflow(noteStore, events, notes.Options{})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(coord, workflow, cfg.APIRateLimit).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
