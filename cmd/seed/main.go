package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/db"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/syncer"
	"github.com/steemit/pulse/pkg/config"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

func main() {
	force := flag.Bool("force", false, "reseed even when the heat index already exists")
	rescan := flag.Bool("rescan", false, "run a full heat rescan after seeding")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Pulse seeder", zap.Bool("force", *force))

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	heatEngine := heat.NewEngine(redisCache, heat.WeightsFromConfig(&cfg.Heat),
		heat.WithWorkers(cfg.Heat.RescanWorkers))
	checkinEngine := checkin.NewEngine(redisCache,
		checkin.NewRules(cfg.CheckIn.BasePoints, checkin.DefaultTiers()),
		checkin.WithCalendar(cfg.CheckIn.CalendarLocation()),
		checkin.WithLocationTTL(cfg.Location.TTL))
	worker := syncer.NewWorker(cfg.Sync, db.NewStore(database), heatEngine, checkinEngine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := worker.SeedFromStore(ctx, *force)
	if err != nil {
		logger.Fatal("Seeding failed", zap.Error(err))
	}
	logger.Info("Seeding finished",
		zap.Int("content", report.Content),
		zap.Int("users", report.Users),
		zap.Int("cached_users", report.Cached),
		zap.Int("skipped", report.Skipped))

	if *rescan {
		n, err := heatEngine.Rescan(ctx)
		if err != nil {
			logger.Fatal("Rescan failed", zap.Error(err))
		}
		logger.Info("Rescan finished", zap.Int("rescored", n))
	}
}
