package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
)

const deviceColumns = `id, company_id, operator, sim_number, password_hash, sim_pin, balance, status, session_data, created_at, updated_at`

// DeviceStorage implements interfaces.DeviceStorage for PostgreSQL
type DeviceStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewDeviceStorage creates a new DeviceStorage instance
func NewDeviceStorage(db *sql.DB, logger arbor.ILogger) *DeviceStorage {
	return &DeviceStorage{db: db, logger: logger}
}

func scanDevice(row rowScanner) (*models.Device, error) {
	device := &models.Device{}
	var operator, status string
	err := row.Scan(
		&device.ID, &device.CompanyID, &operator, &device.SimNumber, &device.PasswordHash,
		&device.SimPIN, &device.Balance, &status, &device.SessionData, &device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	device.Operator = models.Operator(operator)
	device.Status = models.DeviceStatus(status)
	return device, nil
}

func getDevice(ctx context.Context, db DBTX, id string, forUpdate bool) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	device, err := scanDevice(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return device, nil
}

func (s *DeviceStorage) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	return getDevice(ctx, s.db, id, false)
}

func (s *DeviceStorage) SaveDevice(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		return fmt.Errorf("device ID is required")
	}

	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query :=
		`INSERT INTO devices (` + deviceColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		     company_id = EXCLUDED.company_id,
		     operator = EXCLUDED.operator,
		     sim_number = EXCLUDED.sim_number,
		     password_hash = EXCLUDED.password_hash,
		     sim_pin = EXCLUDED.sim_pin,
		     balance = EXCLUDED.balance,
		     status = EXCLUDED.status,
		     session_data = EXCLUDED.session_data,
		     updated_at = EXCLUDED.updated_at
		 `

	_, err := s.db.ExecContext(ctx, query,
		device.ID, device.CompanyID, string(device.Operator), device.SimNumber, device.PasswordHash,
		device.SimPIN, device.Balance, string(device.Status), device.SessionData, device.CreatedAt, device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *DeviceStorage) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// WithDeviceLock locks the row with SELECT ... FOR UPDATE, runs fn and writes
// the mutable columns back before commit. Any error rolls the transaction back.
func (s *DeviceStorage) WithDeviceLock(ctx context.Context, id string, fn interfaces.DeviceFunc) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		device, err := getDevice(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if err := fn(device); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE devices SET balance = $2, status = $3, session_data = $4, updated_at = $5
			 WHERE id = $1`,
			id, device.Balance, string(device.Status), device.SessionData, time.Now())
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		s.logger.Debug().Str("device_id", id).Msg("Device updated under row lock")
		return nil
	})
}
