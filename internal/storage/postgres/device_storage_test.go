package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
)

// Set URBIX_TEST_POSTGRES_DSN to a disposable database to run these tests
func setupManager(t *testing.T) *Manager {
	t.Helper()

	dsn := os.Getenv("URBIX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("URBIX_TEST_POSTGRES_DSN not set")
	}

	manager, err := NewManager(arbor.NewLogger(), &common.PostgresConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	_, err = manager.Conn().Exec(`TRUNCATE devices, login_attempts`)
	require.NoError(t, err)
	return manager
}

func TestDeviceStorage_WithDeviceLock(t *testing.T) {
	ctx := context.Background()
	manager := setupManager(t)
	devices := manager.DeviceStorage()

	require.NoError(t, devices.SaveDevice(ctx, &models.Device{
		ID: "d1", CompanyID: "acme", Operator: models.OperatorGrameenphone,
		SimNumber: "01712345678", Status: models.DeviceStatusInactive, Balance: decimal.Zero,
	}))

	t.Run("commit", func(t *testing.T) {
		err := devices.WithDeviceLock(ctx, "d1", func(device *models.Device) error {
			device.SessionData = `{"cookies":[]}`
			device.Balance = decimal.RequireFromString("1234.56")
			device.Status = models.DeviceStatusActive
			return nil
		})
		require.NoError(t, err)

		device, err := devices.GetDevice(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, models.DeviceStatusActive, device.Status)
		assert.True(t, device.Balance.Equal(decimal.RequireFromString("1234.56")))
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := devices.WithDeviceLock(ctx, "d1", func(device *models.Device) error {
			device.Status = models.DeviceStatusBlocked
			return boom
		})
		assert.ErrorIs(t, err, boom)

		device, err := devices.GetDevice(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, models.DeviceStatusActive, device.Status)
	})

	t.Run("serializes", func(t *testing.T) {
		require.NoError(t, devices.WithDeviceLock(ctx, "d1", func(device *models.Device) error {
			device.Balance = decimal.Zero
			return nil
		}))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, devices.WithDeviceLock(ctx, "d1", func(device *models.Device) error {
					device.Balance = device.Balance.Add(decimal.NewFromInt(1))
					return nil
				}))
			}()
		}
		wg.Wait()

		device, err := devices.GetDevice(ctx, "d1")
		require.NoError(t, err)
		assert.True(t, device.Balance.Equal(decimal.NewFromInt(10)))
	})

	t.Run("missing", func(t *testing.T) {
		err := devices.WithDeviceLock(ctx, "nope", func(device *models.Device) error { return nil })
		assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)
	})
}
