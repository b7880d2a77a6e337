// Package database provides the SQLite connection used for motion history.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/models"
)

// DB wraps the GORM connection.
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// New opens (or creates) the SQLite database at the configured path and
// runs migrations. Use ":memory:" for tests.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", cfg.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	// SQLite: a single writer connection avoids SQLITE_BUSY under load.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	d := &DB{DB: db, logger: log.With(slog.String("component", "database"))}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	d.logger.Info("database ready", slog.String("path", cfg.Path))
	return d, nil
}

func (d *DB) migrate() error {
	if err := d.AutoMigrate(&models.MotionEvent{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
