// Package postgres stores devices and login attempts in PostgreSQL through the
// pgx database/sql driver. Row locks use SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// Manager implements the StorageManager interface for PostgreSQL
type Manager struct {
	db      *sql.DB
	device  interfaces.DeviceStorage
	attempt interfaces.AttemptStorage
	logger  arbor.ILogger
}

// NewManager opens the database and applies pending migrations
func NewManager(logger arbor.ILogger, config *common.PostgresConfig) (*Manager, error) {
	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	logger.Info().Msg("Postgres storage manager initialized")

	return &Manager{
		db:      db,
		device:  NewDeviceStorage(db, logger),
		attempt: NewAttemptStorage(db),
		logger:  logger,
	}, nil
}

// RunMigrations sets up goose with the embedded migrations and runs them
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// DeviceStorage returns the Device storage interface
func (m *Manager) DeviceStorage() interfaces.DeviceStorage {
	return m.device
}

// AttemptStorage returns the LoginAttempt storage interface
func (m *Manager) AttemptStorage() interfaces.AttemptStorage {
	return m.attempt
}

// Conn exposes the connection pool
func (m *Manager) Conn() *sql.DB {
	return m.db
}

// Close closes the connection pool
func (m *Manager) Close() error {
	return m.db.Close()
}
