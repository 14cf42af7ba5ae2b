// Harrier - Streaming transaction risk scoring and case graphs.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/broker"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/query"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/score"
	"github.com/opensource-finance/harrier/internal/state"
	"github.com/opensource-finance/harrier/internal/tracing"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Pick up a local .env when present; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"partitions", cfg.Engine.Partitions,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Tracing
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName)
		if err != nil {
			slog.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Error("failed to flush traces", "error", err)
			}
		}()
	}

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Event bus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Transaction log
	log := broker.NewMemoryLog(cfg.Engine.Partitions)

	// Profile service, detectors, aggregator
	profileSvc := profile.NewService(repo, cacheImpl)
	scorers := detector.DefaultScorers(profileSvc.Resolver())
	agg, err := score.NewAggregator(scorers, score.DefaultWeights())
	if err != nil {
		slog.Error("failed to initialize score aggregator", "error", err)
		os.Exit(1)
	}

	// Promotion policy
	promotion, err := policy.NewPromotion(cfg.Engine.PromotionPolicy,
		policy.WithThresholds(cfg.Engine.Thresholds()))
	if err != nil {
		slog.Error("failed to compile promotion policy", "error", err)
		os.Exit(1)
	}
	slog.Info("promotion policy compiled", "expression", promotion.Expression())

	// Entity state and case manager
	store := state.NewStore(cfg.Engine.WindowSteps)
	manager := cases.NewManager(cfg.Engine.HopRadius,
		cases.WithRepository(repo),
		cases.WithThresholds(cfg.Engine.Thresholds()))

	// Pipeline
	engine := pipeline.New(pipeline.Config{
		Topic: cfg.Engine.Topic,
		Group: cfg.Engine.Group,
	}, log, store, agg, promotion, manager).
		WithRepository(repo).
		WithBus(busImpl).
		WithCache(cacheImpl)

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("pipeline stopped", "error", err)
		}
	}()
	slog.Info("pipeline started", "topic", cfg.Engine.Topic, "group", cfg.Engine.Group)

	// HTTP API
	querySvc := query.NewService(manager, store, log, cfg.Engine.Topic, cfg.Engine.Group, profileSvc.GetProfile)
	handler := api.NewHandler(querySvc, manager, promotion, log, repo, cfg.Engine.Topic, Version)
	srv := api.NewServer(cfg.Server.Host, cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Drain the pipeline before closing the API so in-flight events commit.
	select {
	case <-pipelineDone:
	case <-time.After(10 * time.Second):
		slog.Warn("pipeline did not drain in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// loadConfig builds the runtime configuration from tier defaults plus
// environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("HARRIER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HARRIER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HARRIER_TOPIC"); v != "" {
		cfg.Engine.Topic = v
	}
	if v := os.Getenv("HARRIER_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.Partitions = n
		}
	}
	if v := os.Getenv("HARRIER_PROMOTION_POLICY"); v != "" {
		cfg.Engine.PromotionPolicy = v
	}
	if v := os.Getenv("HARRIER_OPEN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Engine.OpenThreshold = f
		}
	}
	if v := os.Getenv("HARRIER_REVIEW_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Engine.ReviewThreshold = f
		}
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_TRACING"); v == "true" {
		cfg.Tracing.Enabled = true
	}
	return cfg
}
