package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
)

func TestAttemptStorage_SaveGetList(t *testing.T) {
	ctx := context.Background()
	storage := NewAttemptStorage(newTestDB(t), arbor.NewLogger())

	start := time.Now()
	require.NoError(t, storage.SaveAttempt(ctx, &models.LoginAttempt{
		ID: "att_1", DeviceID: "d1", Status: models.AttemptQueued, Phase: models.PhaseInit, StartedAt: start,
	}))
	require.NoError(t, storage.SaveAttempt(ctx, &models.LoginAttempt{
		ID: "att_2", DeviceID: "d1", Status: models.AttemptQueued, Phase: models.PhaseInit, StartedAt: start.Add(time.Second),
	}))
	require.NoError(t, storage.SaveAttempt(ctx, &models.LoginAttempt{
		ID: "att_3", DeviceID: "d2", Status: models.AttemptQueued, Phase: models.PhaseInit, StartedAt: start,
	}))

	attempt, err := storage.GetAttempt(ctx, "att_1")
	require.NoError(t, err)
	assert.Equal(t, "d1", attempt.DeviceID)

	attempts, err := storage.ListAttemptsByDevice(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "att_2", attempts[0].ID)

	_, err = storage.GetAttempt(ctx, "att_missing")
	assert.ErrorIs(t, err, interfaces.ErrAttemptNotFound)
}

func TestAttemptStorage_DeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	storage := NewAttemptStorage(newTestDB(t), arbor.NewLogger())

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	require.NoError(t, storage.SaveAttempt(ctx, &models.LoginAttempt{ID: "old", DeviceID: "d1", Status: models.AttemptFailed, FinishedAt: &old}))
	require.NoError(t, storage.SaveAttempt(ctx, &models.LoginAttempt{ID: "recent", DeviceID: "d1", Status: models.AttemptSucceeded, FinishedAt: &recent}))
	require.NoError(t, storage.SaveAttempt(ctx, &models.LoginAttempt{ID: "running", DeviceID: "d1", Status: models.AttemptConnecting}))

	deleted, err := storage.DeleteFinishedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = storage.GetAttempt(ctx, "old")
	assert.ErrorIs(t, err, interfaces.ErrAttemptNotFound)
	_, err = storage.GetAttempt(ctx, "recent")
	assert.NoError(t, err)
	_, err = storage.GetAttempt(ctx, "running")
	assert.NoError(t, err)
}
