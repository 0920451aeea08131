package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/urbix/internal/models"
)

var (
	// ErrDeviceNotFound is returned when no device row matches the id
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAttemptNotFound is returned when no login attempt matches the id
	ErrAttemptNotFound = errors.New("login attempt not found")
	// ErrLeaseHeld is returned when another attempt already holds the device lease
	ErrLeaseHeld = errors.New("device lease is held by another attempt")
)

// DeviceFunc mutates a device inside a locked section
type DeviceFunc func(device *models.Device) error

// DeviceStorage - interface for device persistence
type DeviceStorage interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	SaveDevice(ctx context.Context, device *models.Device) error
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// WithDeviceLock loads the device under an exclusive row lock and runs fn.
	// Changes fn makes to the device are written in the same transaction, and
	// only when fn returns nil. Concurrent callers for the same device serialize.
	WithDeviceLock(ctx context.Context, id string, fn DeviceFunc) error
}

// AttemptStorage - interface for login attempt bookkeeping
type AttemptStorage interface {
	SaveAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	GetAttempt(ctx context.Context, id string) (*models.LoginAttempt, error)
	ListAttemptsByDevice(ctx context.Context, deviceID string) ([]*models.LoginAttempt, error)
	// DeleteFinishedBefore removes terminal attempts that finished before cutoff
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// LeaseStorage grants a per-device exclusive lease with a TTL
type LeaseStorage interface {
	// Acquire takes the lease for holder, returning ErrLeaseHeld when someone else owns it
	Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) error
	// Release drops the lease if holder still owns it
	Release(ctx context.Context, deviceID, holder string) error
}

// StorageManager - composite interface for the record stores
type StorageManager interface {
	DeviceStorage() DeviceStorage
	AttemptStorage() AttemptStorage
	Close() error
}
