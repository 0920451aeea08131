package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
)

const attemptColumns = `id, device_id, operator_url, phone_number, phase, status, attempt, max_attempts, reason, message, balance, started_at, updated_at, finished_at`

// AttemptStorage implements interfaces.AttemptStorage for PostgreSQL
type AttemptStorage struct {
	db DBTX
}

// NewAttemptStorage creates a new AttemptStorage instance
func NewAttemptStorage(db DBTX) *AttemptStorage {
	return &AttemptStorage{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*models.LoginAttempt, error) {
	attempt := &models.LoginAttempt{}
	var phase, status string
	var balance decimal.NullDecimal
	var finishedAt sql.NullTime

	err := row.Scan(
		&attempt.ID, &attempt.DeviceID, &attempt.OperatorURL, &attempt.PhoneNumber, &phase, &status,
		&attempt.Attempt, &attempt.MaxAttempts, &attempt.Reason, &attempt.Message, &balance,
		&attempt.StartedAt, &attempt.UpdatedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	attempt.Phase = models.LoginPhase(phase)
	attempt.Status = models.AttemptStatus(status)
	if balance.Valid {
		attempt.Balance = &balance.Decimal
	}
	if finishedAt.Valid {
		attempt.FinishedAt = &finishedAt.Time
	}
	return attempt, nil
}

func (s *AttemptStorage) SaveAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID is required")
	}
	attempt.UpdatedAt = time.Now()

	var balance decimal.NullDecimal
	if attempt.Balance != nil {
		balance = decimal.NewNullDecimal(*attempt.Balance)
	}
	var finishedAt sql.NullTime
	if attempt.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *attempt.FinishedAt, Valid: true}
	}

	query :=
		`INSERT INTO login_attempts (` + attemptColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		     phase = EXCLUDED.phase,
		     status = EXCLUDED.status,
		     attempt = EXCLUDED.attempt,
		     reason = EXCLUDED.reason,
		     message = EXCLUDED.message,
		     balance = EXCLUDED.balance,
		     updated_at = EXCLUDED.updated_at,
		     finished_at = EXCLUDED.finished_at
		 `

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID, attempt.DeviceID, attempt.OperatorURL, attempt.PhoneNumber, string(attempt.Phase), string(attempt.Status),
		attempt.Attempt, attempt.MaxAttempts, attempt.Reason, attempt.Message, balance,
		attempt.StartedAt, attempt.UpdatedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *AttemptStorage) GetAttempt(ctx context.Context, id string) (*models.LoginAttempt, error) {
	attempt, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM login_attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrAttemptNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStorage) ListAttemptsByDevice(ctx context.Context, deviceID string) ([]*models.LoginAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM login_attempts WHERE device_id = $1 ORDER BY started_at DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var attempts []*models.LoginAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (s *AttemptStorage) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE status IN ('succeeded', 'failed') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}
