package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steemit/pulse/internal/api"
	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/db"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/location"
	"github.com/steemit/pulse/internal/ranking"
	"github.com/steemit/pulse/internal/syncer"
	"github.com/steemit/pulse/pkg/config"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

func main() {
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
	logger.Info("Starting Pulse API Server")

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

	if err := database.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	geo, geoCloser, err := location.NewGeolocator(&cfg.Location)
	if err != nil {
		logger.Fatal("Failed to initialize geolocation", zap.Error(err))
	}
	defer geoCloser.Close()

	heatEngine := heat.NewEngine(redisCache, heat.WeightsFromConfig(&cfg.Heat),
		heat.WithWorkers(cfg.Heat.RescanWorkers))
	checkinEngine := checkin.NewEngine(redisCache,
		checkin.NewRules(cfg.CheckIn.BasePoints, checkin.DefaultTiers()),
		checkin.WithCalendar(cfg.CheckIn.CalendarLocation()),
		checkin.WithLocationTTL(cfg.Location.TTL))

	worker := syncer.NewWorker(cfg.Sync, db.NewStore(database), heatEngine, checkinEngine)
	heatEngine.SetNotifier(worker)
	checkinEngine.SetNotifier(worker)

	if cfg.Sync.SeedOnStart {
		seedCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if _, err := worker.SeedFromStore(seedCtx, false); err != nil {
			logger.Error("Cold start seeding failed, serving from the current cache", zap.Error(err))
		}
		cancel()
	}

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api.NewRouter(api.Deps{
		Engagement: heatEngine,
		Ranking:    ranking.NewService(redisCache, heatEngine),
		CheckIns:   checkinEngine,
		Locator:    location.NewCache(redisCache, geo, cfg.Location.TTL),
		Seeder:     worker,
		Cache:      redisCache,
		DB:         database,
		AdminToken: cfg.Server.AdminToken,
	}).SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return worker.RunRescan(gctx, cfg.Heat.RescanInterval) })
	g.Go(func() error {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.PrometheusPort),
			Handler: mux,
		}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := g.Wait(); err != nil {
		logger.Error("Background task failed", zap.Error(err))
	}

	drained := worker.Drain(shutdownCtx)
	logger.Info("Server exited", zap.Int("drained_sync_tasks", drained))
}
