// Package sessions writes captured browser sessions onto device rows.
package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
)

// Writer implements interfaces.SessionWriter on top of DeviceStorage row locks
type Writer struct {
	devices interfaces.DeviceStorage
	logger  arbor.ILogger
}

// NewWriter creates a session writer
func NewWriter(devices interfaces.DeviceStorage, logger arbor.ILogger) *Writer {
	return &Writer{devices: devices, logger: logger}
}

// Commit stores the session blob, balance and Active status in one locked
// transaction. On error the device row is left untouched.
func (w *Writer) Commit(ctx context.Context, deviceID string, artifact *models.SessionArtifact) error {
	if artifact == nil {
		return fmt.Errorf("session artifact is required")
	}

	blob, err := artifact.State.Marshal()
	if err != nil {
		return err
	}

	err = w.devices.WithDeviceLock(ctx, deviceID, func(device *models.Device) error {
		device.SessionData = blob
		device.Balance = artifact.Balance.Round(2)
		device.Status = models.DeviceStatusActive
		return nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrDeviceNotFound) {
			w.logger.Error().Str("device_id", deviceID).Msg("Device not found while committing session")
		}
		return fmt.Errorf("failed to commit session: %w", err)
	}

	w.logger.Info().
		Str("device_id", deviceID).
		Str("balance", artifact.Balance.StringFixed(2)).
		Int("cookies", len(artifact.State.Cookies)).
		Msg("Session committed")
	return nil
}

// Clear drops the stored session and sets status, used by logout and disconnect
func (w *Writer) Clear(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	if status == "" {
		status = models.DeviceStatusInactive
	}

	err := w.devices.WithDeviceLock(ctx, deviceID, func(device *models.Device) error {
		device.SessionData = ""
		device.Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	w.logger.Info().Str("device_id", deviceID).Str("status", string(status)).Msg("Session cleared")
	return nil
}
