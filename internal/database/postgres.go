package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // Драйвер для PostgreSQL
	_ "github.com/golang-migrate/migrate/v4/source/file"       // Источник миграций - файлы
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"thumbforge/internal/config"
)

// NewPgxPool создает пул соединений PostgreSQL и проверяет подключение.
func NewPgxPool(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
		zap.Int32("maxConns", cfg.MaxConns),
	)
	return pool, nil
}

// RunMigrations применяет миграции из указанной директории.
// Отсутствие новых миграций (ErrNoChange) не считается ошибкой.
func RunMigrations(cfg config.PostgresConfig, migrationsPath string, logger *zap.Logger) error {
	sourceURL := "file://" + migrationsPath

	m, err := migrate.New(sourceURL, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to init migrations from %s: %w", migrationsPath, err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migration handles", zap.Errors("errors", []error{srcErr, dbErr}))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Migrations are up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info("Migrations applied successfully", zap.String("source", sourceURL))
	return nil
}
