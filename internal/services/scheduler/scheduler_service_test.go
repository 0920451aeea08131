package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/storage/badger"
)

func TestPruneAttempts(t *testing.T) {
	ctx := context.Background()
	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	attempts := badger.NewAttemptStorage(db, logger)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	require.NoError(t, attempts.SaveAttempt(ctx, &models.LoginAttempt{ID: "att_old", DeviceID: "d1", Status: models.AttemptFailed, FinishedAt: &old}))
	require.NoError(t, attempts.SaveAttempt(ctx, &models.LoginAttempt{ID: "att_recent", DeviceID: "d1", Status: models.AttemptSucceeded, FinishedAt: &recent}))
	require.NoError(t, attempts.SaveAttempt(ctx, &models.LoginAttempt{ID: "att_running", DeviceID: "d1", Status: models.AttemptConnecting}))

	svc := NewService(attempts, &common.MaintenanceConfig{Schedule: "0 0 * * * *", AttemptRetention: "168h"}, logger)
	svc.now = func() time.Time { return now }

	removed, err := svc.PruneAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = attempts.GetAttempt(ctx, "att_old")
	assert.Error(t, err)
	_, err = attempts.GetAttempt(ctx, "att_recent")
	assert.NoError(t, err)
	_, err = attempts.GetAttempt(ctx, "att_running")
	assert.NoError(t, err)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := NewService(nil, &common.MaintenanceConfig{Schedule: "not a schedule"}, arbor.NewLogger())
	assert.Error(t, svc.Start())
}

func TestStartStop(t *testing.T) {
	svc := NewService(nil, &common.MaintenanceConfig{Schedule: "0 0 * * * *"}, arbor.NewLogger())
	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())
	assert.NoError(t, svc.Stop())
	assert.NoError(t, svc.Stop())
}
