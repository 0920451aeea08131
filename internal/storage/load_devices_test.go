package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/storage/badger"
	"golang.org/x/crypto/bcrypt"
)

const devicesTOML = `
[[devices]]
id = "d1"
company_id = "acme"
operator = "robi"
sim_number = "01812345678"
password = "s3cret"
balance = "12.50"

[[devices]]
id = "d2"
company_id = "acme"
operator = "gp"
sim_number = "01712345678"
status = "Blocked"
`

func TestLoadDevicesFromFile(t *testing.T) {
	ctx := context.Background()
	logger := arbor.NewLogger()

	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()
	devices := badger.NewDeviceStorage(db, logger)

	path := filepath.Join(t.TempDir(), "devices.toml")
	require.NoError(t, os.WriteFile(path, []byte(devicesTOML), 0644))

	require.NoError(t, LoadDevicesFromFile(ctx, devices, path, logger))

	d1, err := devices.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.OperatorRobi, d1.Operator)
	assert.Equal(t, models.DeviceStatusInactive, d1.Status)
	assert.Equal(t, "12.5", d1.Balance.String())
	assert.NotEqual(t, "s3cret", d1.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(d1.PasswordHash), []byte("s3cret")))

	d2, err := devices.GetDevice(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusBlocked, d2.Status)

	// Reloading keeps runtime state
	require.NoError(t, devices.WithDeviceLock(ctx, "d1", func(device *models.Device) error {
		device.SessionData = "{}"
		device.Status = models.DeviceStatusActive
		return nil
	}))
	require.NoError(t, LoadDevicesFromFile(ctx, devices, path, logger))

	d1, err = devices.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusActive, d1.Status)
	assert.Equal(t, "{}", d1.SessionData)
}

func TestLoadDevicesFromFile_Invalid(t *testing.T) {
	ctx := context.Background()
	logger := arbor.NewLogger()

	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()
	devices := badger.NewDeviceStorage(db, logger)

	path := filepath.Join(t.TempDir(), "devices.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[devices]]
id = "d1"
company_id = "acme"
operator = "vodafone"
sim_number = "01812345678"
`), 0644))

	assert.Error(t, LoadDevicesFromFile(ctx, devices, path, logger))
	assert.NoError(t, LoadDevicesFromFile(ctx, devices, filepath.Join(t.TempDir(), "absent.toml"), logger))
}
