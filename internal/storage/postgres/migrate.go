package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending schema migration to the database at dsn.
func Migrate(dsn string, logger *zap.Logger) error {
	return withMigrator(dsn, logger, func(m *migrate.Migrate, logger *zap.Logger) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("no pending migrations")
				return nil
			}
			return fmt.Errorf("run migrations: %w", err)
		}
		return logVersion(m, logger, "migrations applied")
	})
}

// Rollback reverts the last steps migrations.
func Rollback(dsn string, steps int, logger *zap.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be > 0")
	}
	return withMigrator(dsn, logger, func(m *migrate.Migrate, logger *zap.Logger) error {
		if err := m.Steps(-steps); err != nil {
			return fmt.Errorf("roll back migrations: %w", err)
		}
		logger.Info("migrations rolled back", zap.Int("steps", steps))
		return nil
	})
}

func withMigrator(dsn string, logger *zap.Logger, fn func(*migrate.Migrate, *zap.Logger) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := migrateURL(dsn)
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("migrate close failed", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()
	return fn(m, logger)
}

func logVersion(m *migrate.Migrate, logger *zap.Logger, msg string) error {
	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info(msg, zap.Uint("version", version))
	return nil
}

// migrateURL rewrites a postgres:// DSN to the pgx5:// scheme golang-migrate expects.
func migrateURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("migrations need a URL-form DSN (postgres://...)")
}
