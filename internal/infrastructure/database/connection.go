package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gavelworks/marketplace-backend/internal/infrastructure/config"
)

// ConnectionPool wraps pgxpool with lifecycle management and a periodic
// health probe.
type ConnectionPool struct {
	pool            *pgxpool.Pool
	logger          *zap.Logger
	healthCheckStop chan struct{}
}

// NewConnectionPool connects to PostgreSQL and verifies the connection
// before returning. The pool is sized from configuration.
func NewConnectionPool(cfg config.StorageConfig, logger *zap.Logger) (*ConnectionPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MinIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cp := &ConnectionPool{
		pool:            pool,
		logger:          logger,
		healthCheckStop: make(chan struct{}),
	}
	go cp.healthCheckRoutine()

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Int32("min_connections", poolConfig.MinConns))

	return cp, nil
}

// Pool exposes the underlying pgx pool for repositories.
func (cp *ConnectionPool) Pool() *pgxpool.Pool {
	return cp.pool
}

// HealthCheck pings the database with a short deadline.
func (cp *ConnectionPool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return cp.pool.Ping(ctx)
}

func (cp *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cp.healthCheckStop:
			return
		case <-ticker.C:
			if err := cp.HealthCheck(context.Background()); err != nil {
				cp.logger.Warn("database health check failed", zap.Error(err))
			}
		}
	}
}

// Close stops the health probe and drains the pool.
func (cp *ConnectionPool) Close() {
	close(cp.healthCheckStop)
	cp.pool.Close()
	cp.logger.Info("database connection pool closed")
}
