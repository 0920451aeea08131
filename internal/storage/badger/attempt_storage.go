package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AttemptStorage implements interfaces.AttemptStorage for Badger
type AttemptStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAttemptStorage creates a new AttemptStorage instance
func NewAttemptStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AttemptStorage {
	return &AttemptStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AttemptStorage) SaveAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID is required")
	}
	attempt.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(attempt.ID, attempt); err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

func (s *AttemptStorage) GetAttempt(ctx context.Context, id string) (*models.LoginAttempt, error) {
	var attempt models.LoginAttempt
	if err := s.db.Store().Get(id, &attempt); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrAttemptNotFound, id)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

// ListAttemptsByDevice returns the device's attempts, newest first
func (s *AttemptStorage) ListAttemptsByDevice(ctx context.Context, deviceID string) ([]*models.LoginAttempt, error) {
	var attempts []models.LoginAttempt
	query := badgerhold.Where("DeviceID").Eq(deviceID).SortBy("StartedAt").Reverse()
	if err := s.db.Store().Find(&attempts, query); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	result := make([]*models.LoginAttempt, len(attempts))
	for i := range attempts {
		result[i] = &attempts[i]
	}
	return result, nil
}

func (s *AttemptStorage) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var attempts []models.LoginAttempt
	query := badgerhold.Where("Status").In(models.AttemptSucceeded, models.AttemptFailed)
	if err := s.db.Store().Find(&attempts, query); err != nil {
		return 0, fmt.Errorf("failed to find finished attempts: %w", err)
	}

	deleted := 0
	for _, attempt := range attempts {
		if attempt.FinishedAt == nil || !attempt.FinishedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(attempt.ID, &models.LoginAttempt{}); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete attempt %s: %w", attempt.ID, err)
		}
		deleted++
	}

	return deleted, nil
}
