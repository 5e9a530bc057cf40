package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gavelworks/marketplace-backend/internal/api/rest"
	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/auth"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/cache"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/config"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/database"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/repository"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/telemetry"
	"github.com/gavelworks/marketplace-backend/internal/metrics"
	"github.com/gavelworks/marketplace-backend/internal/service/auction"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	infraLogger, err := telemetry.SetupInfraLogger(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure logger: %v", err)
	}
	defer func() { _ = infraLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		listings    auction.ListingStore
		bids        auction.BidStore
		healthCheck func(context.Context) error
	)

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := database.NewConnectionPool(cfg.Storage, infraLogger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		listings = repository.NewListingRepository(pool.Pool(), infraLogger)
		bids = repository.NewBidRepository(pool.Pool(), infraLogger)
		healthCheck = pool.HealthCheck

	case "memory":
		logger.Warn("using in-memory storage, data will not survive restarts")
		listings = repository.NewMemoryListingStore()
		bids = repository.NewMemoryBidStore()
	}

	var limiter cache.RateLimiter
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisClient(cfg.Redis, infraLogger)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer func() { _ = redisClient.Close() }()
		limiter = cache.NewRedisRateLimiter(redisClient, infraLogger)
	} else {
		limiter = cache.NewLocalRateLimiter(cfg.Security.RateLimit.BurstSize)
	}

	registry := metrics.NewRegistry()
	gate := auth.NewJWTGate(cfg.Security.JWTSecret, cfg.Security.TokenExpiry, listing.RealClock{})
	engine := auction.NewEngine(listings, bids, listing.RealClock{}, logger, registry)

	router := rest.NewRouter(rest.RouterConfig{
		Engine:            engine,
		Bids:              bids,
		Gate:              gate,
		Logger:            logger,
		Metrics:           registry,
		RateLimiter:       limiter,
		RequestsPerMinute: cfg.Security.RateLimit.RequestsPerMinute,
		HealthCheck:       healthCheck,
	})

	server := rest.NewServer(cfg.Server, router, logger)

	logger.Info("starting marketplace api",
		slog.String("version", cfg.Version),
		slog.String("environment", cfg.Environment),
		slog.String("storage_driver", cfg.Storage.Driver),
	)

	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
