package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/alerting"
	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detector"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/enrich"
	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/internal/store"
	"github.com/driftwatch/driftwatch/internal/stream"
	"github.com/driftwatch/driftwatch/internal/textgen/ollama"
	"github.com/driftwatch/driftwatch/internal/version"
	"github.com/driftwatch/driftwatch/pkg/textgen"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "replay":
			runReplay(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration before the logger, so log level/format apply.
	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("DriftWatch starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database.
	db, err := store.New(v.GetString("database.path"))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	if err := db.Migrate(ctx, "detection", store.Migrations); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	results := store.NewResultStore(db.DB())
	logger.Info("database initialized", zap.String("path", v.GetString("database.path")))

	// Shared services.
	bus := event.NewBus(logger.Named("event"))

	// Baseline cache: Redis when configured, in-process memory otherwise.
	var cache baseline.Cache
	cacheTTL := v.GetDuration("baseline.cache_ttl")
	if v.GetBool("baseline.redis.enabled") {
		rc, err := baseline.NewRedisCache(ctx, baseline.RedisConfig{
			Addr:     v.GetString("baseline.redis.addr"),
			Password: v.GetString("baseline.redis.password"),
			DB:       v.GetInt("baseline.redis.db"),
			TTL:      cacheTTL,
		})
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rc.Close()
		cache = rc
		logger.Info("baseline cache using redis", zap.String("addr", v.GetString("baseline.redis.addr")))
	} else {
		cache = baseline.NewMemoryCache(cacheTTL)
	}
	baselines := baseline.NewManager(cache, logger.Named("baseline"))

	// Text generation is optional; without it anomalies are still enriched
	// with impact classification, just not with generated causes.
	var gen textgen.Generator
	if v.GetBool("textgen.enabled") {
		provider, err := ollama.New(ollama.Config{
			URL:     v.GetString("textgen.url"),
			Model:   v.GetString("textgen.model"),
			Timeout: v.GetDuration("textgen.timeout"),
		}, logger.Named("textgen"))
		if err != nil {
			logger.Fatal("failed to create text generator", zap.Error(err))
		}
		if err := provider.Heartbeat(ctx); err != nil {
			logger.Warn("text generator unreachable, continuing without it", zap.Error(err))
		}
		gen = provider
	}
	enricher := enrich.New(gen, v.GetDuration("textgen.timeout"), logger.Named("enrich"))

	alerts := alerting.NewGenerator(bus, v.GetInt("alerting.throttle_per_minute"), logger.Named("alerting"))
	go alerts.Run(ctx, v.GetDuration("alerting.escalation_interval"))

	eng := engine.New(
		detector.DefaultRegistry(),
		baselines,
		enricher,
		alerts,
		results,
		bus,
		logger.Named("engine"),
		engine.Options{
			PersistTimeout: v.GetDuration("engine.persist_timeout"),
			ContextWindow:  v.GetInt("engine.context_window"),
		},
	)

	streams := stream.NewManager(eng, baselines, bus, v.GetInt("stream.queue_capacity"), logger.Named("stream"))
	defer streams.StopAll()

	logger.Info("DriftWatch ready")

	// Wait for shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))
	cancel()
}
